// Package price provides reference fiat prices for currencies.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/pkg/logging"
)

// Errors
var (
	ErrNoPrice = errors.New("no price available")
)

// DefaultURL is a pricemulti style endpoint: ?fsyms=A,B&tsyms=USD returns
// {"A":{"USD":1.2},"B":{"USD":3.4}}.
const DefaultURL = "https://min-api.cryptocompare.com/data/pricemulti"

// Config configures the price service.
type Config struct {
	URL      string
	Fiat     string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// DefaultConfig returns the default price service configuration.
func DefaultConfig() Config {
	return Config{
		URL:      DefaultURL,
		Fiat:     "USD",
		CacheTTL: 5 * time.Minute,
		Timeout:  10 * time.Second,
	}
}

type cached struct {
	price   decimal.Decimal
	fetched time.Time
}

// Service fetches prices over HTTP and caches them per symbol.
type Service struct {
	cfg    Config
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	log    *logging.Logger

	mu    sync.Mutex
	cache map[string]cached
}

// New creates a price service. Zero config fields take their defaults.
func New(cfg Config) *Service {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Fiat == "" {
		cfg.Fiat = def.Fiat
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	log := logging.GetDefault().Component("price")

	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cb:     newCircuitBreaker(log),
		log:    log,
		cache:  make(map[string]cached),
	}
}

// Fiat returns the fiat currency prices are expressed in.
func (s *Service) Fiat() string {
	return s.cfg.Fiat
}

// Price returns the fiat price of one unit of symbol.
func (s *Service) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := s.Prices(ctx, []string{symbol})
	if err != nil {
		return decimal.Zero, err
	}
	return prices[strings.ToUpper(symbol)], nil
}

// Prices returns fiat prices for all symbols, keyed by upper-case symbol.
// Cached prices younger than the TTL are not refetched.
func (s *Service) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(symbols))
	var missing []string

	s.mu.Lock()
	now := time.Now()
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		if c, ok := s.cache[sym]; ok && now.Sub(c.fetched) < s.cfg.CacheTTL {
			result[sym] = c.price
			continue
		}
		missing = append(missing, sym)
	}
	s.mu.Unlock()

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := s.fetch(ctx, missing)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, sym := range missing {
		price, ok := fetched[sym]
		if !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w for %s in %s", ErrNoPrice, sym, s.cfg.Fiat)
		}
		s.cache[sym] = cached{price: price, fetched: now}
		result[sym] = price
	}
	s.mu.Unlock()

	return result, nil
}

func (s *Service) fetch(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	q := url.Values{}
	q.Set("fsyms", strings.Join(sorted, ","))
	q.Set("tsyms", s.cfg.Fiat)
	endpoint := s.cfg.URL + "?" + q.Encode()

	out, err := s.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("price service returned %s", resp.Status)
		}

		var body map[string]map[string]decimal.Decimal
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("failed to decode price response: %w", err)
		}
		return body, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(symbols))
	for sym, byFiat := range out.(map[string]map[string]decimal.Decimal) {
		if price, ok := byFiat[s.cfg.Fiat]; ok {
			prices[strings.ToUpper(sym)] = price
		}
	}

	s.log.Debug("Fetched prices", "symbols", strings.Join(sorted, ","), "fiat", s.cfg.Fiat)
	return prices, nil
}

func newCircuitBreaker(log *logging.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "price",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				log.Warn("Price service seems down, stop allowing requests")
			}
			if from == gobreaker.StateOpen && to == gobreaker.StateHalfOpen {
				log.Info("Checking price service status")
			}
			if from == gobreaker.StateHalfOpen && to == gobreaker.StateClosed {
				log.Info("Price service seems ok, restart allowing requests")
			}
		},
	})
}

// Static serves fixed prices. Useful offline and in tests.
type Static struct {
	fiat   string
	prices map[string]decimal.Decimal
}

// NewStatic creates a static price lookup.
func NewStatic(fiat string, prices map[string]decimal.Decimal) *Static {
	upper := make(map[string]decimal.Decimal, len(prices))
	for sym, p := range prices {
		upper[strings.ToUpper(sym)] = p
	}
	return &Static{fiat: fiat, prices: upper}
}

// Fiat returns the fiat currency prices are expressed in.
func (s *Static) Fiat() string {
	return s.fiat
}

// Price returns the configured price of symbol.
func (s *Static) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := s.prices[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w for %s in %s", ErrNoPrice, symbol, s.fiat)
	}
	return p, nil
}
