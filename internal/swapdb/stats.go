package swapdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swap"
)

// ErrNoPriceLookup is returned by stats queries on a database opened without
// a price lookup.
var ErrNoPriceLookup = errors.New("no price lookup configured")

// PriceLookup supplies reference prices in a fiat currency.
type PriceLookup interface {
	// Price returns the fiat price of one unit of symbol.
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	// Fiat returns the fiat currency prices are expressed in.
	Fiat() string
}

// Stats summarises completed swaps.
type Stats struct {
	SwapCount     int             `json:"swapCount"`
	CurrencyCount int             `json:"currencyCount"`
	Currencies    []string        `json:"currencies"`
	TotalFiat     decimal.Decimal `json:"totalFiat"`
	Fiat          string          `json:"fiat"`
}

// StatsSince summarises swaps started after since that completed. The fiat
// total values each swap's quote amount at the quote currency's current
// reference price.
func (db *DB) StatsSince(ctx context.Context, since time.Time) (*Stats, error) {
	if db.cfg.Prices == nil {
		return nil, ErrNoPriceLookup
	}

	swaps, err := db.GetSwaps(ctx, GetSwapsOptions{Since: since})
	if err != nil {
		return nil, err
	}

	var completed []*swap.Projected
	currencies := make(map[string]struct{})
	quotes := make(map[string]struct{})
	for _, s := range swaps {
		if s.Status != swap.StatusCompleted {
			continue
		}
		completed = append(completed, s)
		currencies[s.BaseCurrency] = struct{}{}
		currencies[s.QuoteCurrency] = struct{}{}
		quotes[s.QuoteCurrency] = struct{}{}
	}

	prices, err := db.fetchPrices(ctx, quotes)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, s := range completed {
		total = total.Add(s.QuoteCurrencyAmount.Mul(prices[s.QuoteCurrency]))
	}

	stats := &Stats{
		SwapCount:     len(completed),
		CurrencyCount: len(currencies),
		Currencies:    make([]string, 0, len(currencies)),
		TotalFiat:     total.Round(2),
		Fiat:          db.cfg.Prices.Fiat(),
	}
	for c := range currencies {
		stats.Currencies = append(stats.Currencies, c)
	}
	sort.Strings(stats.Currencies)

	return stats, nil
}

// StatsSinceLastMonth summarises the last 30 days.
func (db *DB) StatsSinceLastMonth(ctx context.Context) (*Stats, error) {
	return db.StatsSince(ctx, db.cfg.Now().AddDate(0, 0, -30))
}

// fetchPrices looks up every symbol concurrently.
func (db *DB) fetchPrices(ctx context.Context, symbols map[string]struct{}) (map[string]decimal.Decimal, error) {
	var mu sync.Mutex
	prices := make(map[string]decimal.Decimal, len(symbols))

	g, ctx := errgroup.WithContext(ctx)
	for symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			price, err := db.cfg.Prices.Price(ctx, symbol)
			if err != nil {
				return fmt.Errorf("failed to get %s price: %w", symbol, err)
			}
			mu.Lock()
			prices[symbol] = price
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return prices, nil
}
