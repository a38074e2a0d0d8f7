// Package marketmaker talks to the trading daemon: synchronous RPC calls over
// HTTP and the asynchronous push channel over WebSocket.
package marketmaker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/ratelimit"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swap"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/pkg/logging"
)

// Errors
var (
	ErrNoPendingSwap = errors.New("daemon response has no pending swap")
	ErrNoServers     = errors.New("no electrum servers configured")
)

// RPCError is an error reported by the daemon.
type RPCError struct {
	Method  string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("marketmaker %s: %s", e.Method, e.Message)
}

// Config configures the daemon client.
type Config struct {
	URL       string        // RPC endpoint, e.g. http://127.0.0.1:17445
	UserPass  string        // Daemon user password hash
	RateLimit int           // Calls per second (default: 10)
	Timeout   time.Duration // Per-call timeout (default: 30s)
}

// ElectrumServer is a light wallet server the daemon can use for a coin.
type ElectrumServer struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// Client calls the daemon's RPC API.
type Client struct {
	url        string
	userpass   string
	httpClient *http.Client
	limiter    ratelimit.Limiter
	log        *logging.Logger
}

// NewClient creates a daemon client.
func NewClient(cfg Config) *Client {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		url:      cfg.URL,
		userpass: cfg.UserPass,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: ratelimit.New(cfg.RateLimit),
		log:     logging.GetDefault().Component("marketmaker"),
	}
}

// Buy places a buy order for base paying with rel and returns the daemon's
// acknowledgment of the pending swap.
func (c *Client) Buy(ctx context.Context, base, rel string, relVolume, price decimal.Decimal) (*swap.Response, error) {
	return c.order(ctx, "buy", map[string]interface{}{
		"base":      base,
		"rel":       rel,
		"relvolume": json.Number(relVolume.String()),
		"price":     json.Number(price.String()),
	})
}

// Sell places a sell order of base for rel.
func (c *Client) Sell(ctx context.Context, base, rel string, baseVolume, price decimal.Decimal) (*swap.Response, error) {
	return c.order(ctx, "sell", map[string]interface{}{
		"base":       base,
		"rel":        rel,
		"basevolume": json.Number(baseVolume.String()),
		"price":      json.Number(price.String()),
	})
}

func (c *Client) order(ctx context.Context, method string, params map[string]interface{}) (*swap.Response, error) {
	var result struct {
		Pending *swap.Response `json:"pending"`
	}
	if err := c.call(ctx, method, params, &result); err != nil {
		return nil, err
	}
	if result.Pending == nil || result.Pending.UUID == "" {
		return nil, ErrNoPendingSwap
	}

	c.log.Info("Order placed",
		"method", method,
		"uuid", result.Pending.UUID,
		"base", result.Pending.Base,
		"rel", result.Pending.Rel,
	)
	return result.Pending, nil
}

// EnableCurrency enables a coin in electrum mode. Every server is tried; the
// coin is enabled if at least one of them was accepted.
func (c *Client) EnableCurrency(ctx context.Context, symbol string, servers []ElectrumServer) error {
	if len(servers) == 0 {
		return fmt.Errorf("%w for %s", ErrNoServers, symbol)
	}

	var lastErr error
	enabled := 0
	for _, srv := range servers {
		err := c.call(ctx, "electrum", map[string]interface{}{
			"coin":   symbol,
			"ipaddr": srv.Host,
			"port":   srv.Port,
		}, nil)
		if err != nil {
			c.log.Warn("Electrum server rejected", "coin", symbol, "host", srv.Host, "port", srv.Port, "error", err)
			lastErr = err
			continue
		}
		enabled++
	}

	if enabled == 0 {
		return fmt.Errorf("failed to enable %s: %w", symbol, lastErr)
	}
	c.log.Info("Currency enabled", "coin", symbol, "servers", enabled)
	return nil
}

// DisableCurrency disables a coin.
func (c *Client) DisableCurrency(ctx context.Context, symbol string) error {
	return c.call(ctx, "disable", map[string]interface{}{"coin": symbol}, nil)
}

// GetFee returns the transaction fee of a coin.
func (c *Client) GetFee(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var result struct {
		TxFee decimal.Decimal `json:"txfee"`
	}
	if err := c.call(ctx, "getfee", map[string]interface{}{"coin": symbol}, &result); err != nil {
		return decimal.Zero, err
	}
	return result.TxFee, nil
}

// Version returns the daemon version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var result struct {
		Result string `json:"result"`
	}
	if err := c.call(ctx, "version", nil, &result); err != nil {
		return "", err
	}
	return result.Result, nil
}

// call posts {userpass, method, params...} and decodes the reply into out.
// A reply with an "error" field becomes an *RPCError.
func (c *Client) call(ctx context.Context, method string, params map[string]interface{}, out interface{}) error {
	request := map[string]interface{}{
		"userpass": c.userpass,
		"method":   method,
	}
	for k, v := range params {
		request[k] = v
	}

	data, err := json.Marshal(request)
	if err != nil {
		return err
	}

	c.limiter.Take()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("marketmaker %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var status struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	if len(status.Error) > 0 && string(status.Error) != "null" {
		var msg string
		if err := json.Unmarshal(status.Error, &msg); err != nil {
			msg = string(status.Error)
		}
		return &RPCError{Method: method, Message: msg}
	}
	if resp.StatusCode != http.StatusOK {
		return &RPCError{Method: method, Message: resp.Status}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	return nil
}
