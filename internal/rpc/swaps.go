package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/dex"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swap"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swapdb"
)

// SwapsListParams is the parameters for swaps_list.
type SwapsListParams struct {
	Since *time.Time `json:"since,omitempty"`
	Limit int        `json:"limit,omitempty"`
}

// SwapsListResult is the response for swaps_list.
type SwapsListResult struct {
	Swaps []*swap.Projected `json:"swaps"`
	Count int               `json:"count"`
}

func (s *Server) swapsList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapsListParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Limit < 0 {
		return nil, invalidParams("limit cannot be negative")
	}

	opts := swapdb.GetSwapsOptions{Limit: p.Limit}
	if p.Since != nil {
		opts.Since = *p.Since
	}

	swaps, err := s.dex.GetSwaps(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &SwapsListResult{Swaps: swaps, Count: len(swaps)}, nil
}

// UUIDParams is the parameters for methods taking one swap.
type UUIDParams struct {
	UUID string `json:"uuid"`
}

func (p *UUIDParams) decode(params json.RawMessage) error {
	if err := decodeParams(params, p); err != nil {
		return err
	}
	if p.UUID == "" {
		return invalidParams("uuid is required")
	}
	return nil
}

func (s *Server) swapsGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p UUIDParams
	if err := p.decode(params); err != nil {
		return nil, err
	}
	return s.dex.GetSwap(ctx, p.UUID)
}

func (s *Server) swapsCount(ctx context.Context, params json.RawMessage) (interface{}, error) {
	count, err := s.dex.GetSwapCount(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"count": count}, nil
}

// SwapsStatsParams is the parameters for swaps_stats. Without since the
// stats cover the last month.
type SwapsStatsParams struct {
	Since *time.Time `json:"since,omitempty"`
}

func (s *Server) swapsStats(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SwapsStatsParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	var since time.Time
	if p.Since != nil {
		since = *p.Since
	}
	return s.dex.Stats(ctx, since)
}

func (s *Server) swapsForceFailure(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p UUIDParams
	if err := p.decode(params); err != nil {
		return nil, err
	}
	if err := s.dex.ForceSwapFailure(ctx, p.UUID); err != nil {
		return nil, err
	}
	return s.dex.GetSwap(ctx, p.UUID)
}

// ========================================
// Order handlers
// ========================================

// OrderParams is the parameters for orders_buy and orders_sell.
type OrderParams struct {
	BaseCurrency  string          `json:"baseCurrency"`
	QuoteCurrency string          `json:"quoteCurrency"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	Private       bool            `json:"private,omitempty"`
}

func (s *Server) ordersBuy(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.placeOrder(ctx, swap.SideBuy, params)
}

func (s *Server) ordersSell(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.placeOrder(ctx, swap.SideSell, params)
}

func (s *Server) placeOrder(ctx context.Context, side swap.Side, params json.RawMessage) (interface{}, error) {
	var p OrderParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	return s.dex.PlaceOrder(ctx, dex.Order{
		Side:          side,
		BaseCurrency:  p.BaseCurrency,
		QuoteCurrency: p.QuoteCurrency,
		Amount:        p.Amount,
		Price:         p.Price,
		Private:       p.Private,
	})
}
