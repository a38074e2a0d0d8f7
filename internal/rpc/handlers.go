package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/config"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/dex"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/portfolio"
)

// Version of the daemon
const Version = "0.1.0-dev"

// decodeParams unmarshals params into v. Missing params leave v unchanged.
func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}

// ========================================
// Node handlers
// ========================================

// NodeStatusResult is the response for node_status.
type NodeStatusResult struct {
	*dex.Status
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	WSClients int    `json:"ws_clients"`
}

func (s *Server) nodeStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return &NodeStatusResult{
		Status:    s.dex.Status(ctx),
		Version:   Version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		WSClients: s.wsHub.ClientCount(),
	}, nil
}

// ========================================
// Portfolio handlers
// ========================================

// PortfolioListResult is the response for portfolio_list.
type PortfolioListResult struct {
	Portfolios []portfolio.Info `json:"portfolios"`
	Unlocked   *portfolio.Info  `json:"unlocked,omitempty"`
}

func (s *Server) portfolioList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	list, err := s.dex.ListPortfolios()
	if err != nil {
		return nil, err
	}
	return &PortfolioListResult{
		Portfolios: list,
		Unlocked:   s.dex.Unlocked(),
	}, nil
}

// PortfolioCreateParams is the parameters for portfolio_create.
type PortfolioCreateParams struct {
	Name     string `json:"name"`
	Mnemonic string `json:"mnemonic,omitempty"` // Generated when empty
	Password string `json:"password"`
}

// PortfolioCreateResult is the response for portfolio_create.
type PortfolioCreateResult struct {
	Portfolio *portfolio.Info `json:"portfolio"`
	Mnemonic  string          `json:"mnemonic,omitempty"` // Only set when generated
}

func (s *Server) portfolioCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p PortfolioCreateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	generated := ""
	if p.Mnemonic == "" {
		m, err := portfolio.NewMnemonic()
		if err != nil {
			return nil, err
		}
		p.Mnemonic = m
		generated = m
	}

	info, err := s.dex.CreatePortfolio(p.Name, p.Mnemonic, p.Password)
	if err != nil {
		return nil, err
	}
	return &PortfolioCreateResult{Portfolio: info, Mnemonic: generated}, nil
}

// PortfolioUnlockParams is the parameters for portfolio_unlock.
type PortfolioUnlockParams struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

func (s *Server) portfolioUnlock(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p PortfolioUnlockParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, invalidParams("id is required")
	}

	info, err := s.dex.Unlock(ctx, p.ID, p.Password)
	if err != nil {
		return nil, err
	}

	s.wsHub.Broadcast(EventPortfolioUnlocked, info)
	return info, nil
}

func (s *Server) portfolioLock(ctx context.Context, params json.RawMessage) (interface{}, error) {
	info := s.dex.Unlocked()
	if err := s.dex.Lock(ctx); err != nil {
		return nil, err
	}

	s.wsHub.Broadcast(EventPortfolioLocked, info)
	return map[string]interface{}{"success": true}, nil
}

// PortfolioDeleteParams is the parameters for portfolio_delete.
type PortfolioDeleteParams struct {
	ID string `json:"id"`
}

func (s *Server) portfolioDelete(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p PortfolioDeleteParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, invalidParams("id is required")
	}

	wasUnlocked := s.dex.Unlocked()
	if err := s.dex.DeletePortfolio(ctx, p.ID); err != nil {
		return nil, err
	}
	if wasUnlocked != nil && wasUnlocked.ID == p.ID {
		s.wsHub.Broadcast(EventPortfolioLocked, wasUnlocked)
	}

	return map[string]interface{}{"success": true, "id": p.ID}, nil
}

// ========================================
// Currency handlers
// ========================================

// CurrencyInfo describes a supported currency.
type CurrencyInfo struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

func (s *Server) currenciesList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	symbols := config.ListCurrencies()
	result := make([]CurrencyInfo, 0, len(symbols))
	for _, symbol := range symbols {
		c := config.Currencies[symbol]
		result = append(result, CurrencyInfo{Symbol: c.Symbol, Name: c.Name, Decimals: c.Decimals})
	}
	return map[string]interface{}{"currencies": result}, nil
}

// SymbolParams is the parameters for methods taking one currency.
type SymbolParams struct {
	Symbol string `json:"symbol"`
}

func (p *SymbolParams) decode(params json.RawMessage) error {
	if err := decodeParams(params, p); err != nil {
		return err
	}
	if p.Symbol == "" {
		return invalidParams("symbol is required")
	}
	return nil
}

func (s *Server) currenciesEnable(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SymbolParams
	if err := p.decode(params); err != nil {
		return nil, err
	}
	if err := s.dex.EnableCurrency(ctx, p.Symbol); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "symbol": p.Symbol}, nil
}

func (s *Server) currenciesDisable(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SymbolParams
	if err := p.decode(params); err != nil {
		return nil, err
	}
	if err := s.dex.DisableCurrency(ctx, p.Symbol); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "symbol": p.Symbol}, nil
}

func (s *Server) feesGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SymbolParams
	if err := p.decode(params); err != nil {
		return nil, err
	}
	fee, err := s.dex.GetFee(ctx, p.Symbol)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"symbol": p.Symbol, "fee": fee}, nil
}
