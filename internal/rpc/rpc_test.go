package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/config"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/dex"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/marketmaker"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/portfolio"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/storage"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swap"
)

const testPassword = "Correct-Horse-9"

type fakeDaemon struct {
	next int
}

func (d *fakeDaemon) order(base, rel string) (*swap.Response, error) {
	d.next++
	return &swap.Response{
		UUID:      fmt.Sprintf("swap-%d", d.next),
		Base:      base,
		Rel:       rel,
		BaseValue: decimal.NewFromInt(1),
		RelValue:  decimal.NewFromInt(100),
	}, nil
}

func (d *fakeDaemon) Buy(_ context.Context, base, rel string, _, _ decimal.Decimal) (*swap.Response, error) {
	return d.order(base, rel)
}

func (d *fakeDaemon) Sell(_ context.Context, base, rel string, _, _ decimal.Decimal) (*swap.Response, error) {
	return d.order(base, rel)
}

func (d *fakeDaemon) EnableCurrency(context.Context, string, []marketmaker.ElectrumServer) error {
	return nil
}

func (d *fakeDaemon) DisableCurrency(context.Context, string) error { return nil }

func (d *fakeDaemon) GetFee(context.Context, string) (decimal.Decimal, error) {
	return decimal.RequireFromString("0.0001"), nil
}

func (d *fakeDaemon) Version(context.Context) (string, error) { return "1.0.0", nil }

type rawResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	store, err := portfolio.NewStore(t.TempDir())
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	svc := dex.NewService(dex.Config{
		DataDir:         t.TempDir(),
		ElectrumServers: cfg.ElectrumServers,
	}, &fakeDaemon{}, store)

	s := NewServer(svc)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop(context.Background())
		svc.Close(context.Background())
	})
	return s, ts
}

func post(t *testing.T, ts *httptest.Server, body []byte) *rawResponse {
	t.Helper()

	resp, err := http.Post(ts.URL+"/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out rawResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return &out
}

func call(t *testing.T, ts *httptest.Server, method string, params interface{}) *rawResponse {
	t.Helper()

	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = params
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return post(t, ts, body)
}

func mustCall(t *testing.T, ts *httptest.Server, method string, params, result interface{}) {
	t.Helper()

	resp := call(t, ts, method, params)
	require.Nil(t, resp.Error, "%s: unexpected error", method)
	if result != nil {
		require.NoError(t, json.Unmarshal(resp.Result, result), method)
	}
}

func expectCode(t *testing.T, ts *httptest.Server, method string, params interface{}, code int) {
	t.Helper()

	resp := call(t, ts, method, params)
	require.NotNil(t, resp.Error, "%s: expected error %d, got result %s", method, code, resp.Result)
	require.Equal(t, code, resp.Error.Code, "%s: %s", method, resp.Error.Message)
}

func createAndUnlock(t *testing.T, ts *httptest.Server) string {
	t.Helper()

	var created PortfolioCreateResult
	mustCall(t, ts, "portfolio_create", map[string]string{"name": "Main", "password": testPassword}, &created)
	mustCall(t, ts, "portfolio_unlock", map[string]string{"id": created.Portfolio.ID, "password": testPassword}, nil)
	return created.Portfolio.ID
}

func TestProtocolErrors(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{not json`, ParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"node_status","id":1}`, InvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"nope","id":1}`, MethodNotFound},
		{"bad params", `{"jsonrpc":"2.0","method":"swaps_get","params":[1],"id":1}`, InvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := post(t, ts, []byte(tt.body))
			require.NotNil(t, out.Error)
			require.Equal(t, tt.code, out.Error.Code)
		})
	}
}

func TestErrorCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{dex.ErrLocked, PortfolioLocked},
		{fmt.Errorf("wrapped: %w", portfolio.ErrIncorrectPassword), IncorrectPassword},
		{portfolio.ErrNotFound, NotFound},
		{storage.ErrSwapNotFound, NotFound},
		{dex.ErrInvalidOrder, InvalidParams},
		{portfolio.ErrWeakPassword, InvalidParams},
		{invalidParams("x"), InvalidParams},
		{&marketmaker.RPCError{Method: "buy", Message: "no"}, DaemonError},
		{errors.New("boom"), InternalError},
	}

	for _, tt := range tests {
		require.Equal(t, tt.code, errorCode(tt.err), "error %v", tt.err)
	}
}

func TestPortfolioAndSwapFlow(t *testing.T) {
	_, ts := newTestServer(t)

	var created PortfolioCreateResult
	mustCall(t, ts, "portfolio_create", map[string]string{"name": "Main", "password": testPassword}, &created)
	require.NotEmpty(t, created.Mnemonic)
	id := created.Portfolio.ID

	var list PortfolioListResult
	mustCall(t, ts, "portfolio_list", nil, &list)
	require.Len(t, list.Portfolios, 1)
	require.Nil(t, list.Unlocked)

	expectCode(t, ts, "swaps_count", nil, PortfolioLocked)
	expectCode(t, ts, "portfolio_unlock", map[string]string{"id": id, "password": "Wrong-Pass-1"}, IncorrectPassword)
	expectCode(t, ts, "portfolio_unlock", map[string]string{"id": "missing", "password": testPassword}, NotFound)
	mustCall(t, ts, "portfolio_unlock", map[string]string{"id": id, "password": testPassword}, nil)

	var placed swap.Projected
	mustCall(t, ts, "orders_buy", map[string]interface{}{
		"baseCurrency": "BTC", "quoteCurrency": "RES", "amount": "1", "price": "100",
	}, &placed)
	require.Equal(t, "swap-1", placed.UUID)
	require.Equal(t, swap.StatusPending, placed.Status)

	expectCode(t, ts, "orders_sell", map[string]interface{}{
		"baseCurrency": "BTC", "quoteCurrency": "RES", "amount": "0", "price": "100",
	}, InvalidParams)

	var swaps SwapsListResult
	mustCall(t, ts, "swaps_list", map[string]interface{}{"limit": 10}, &swaps)
	require.Equal(t, 1, swaps.Count)
	require.Equal(t, "swap-1", swaps.Swaps[0].UUID)

	var count struct {
		Count int `json:"count"`
	}
	mustCall(t, ts, "swaps_count", nil, &count)
	require.Equal(t, 1, count.Count)

	var failed swap.Projected
	mustCall(t, ts, "swaps_forceFailure", map[string]string{"uuid": "swap-1"}, &failed)
	require.Equal(t, swap.StatusFailed, failed.Status)

	expectCode(t, ts, "swaps_get", map[string]string{"uuid": "nope"}, NotFound)
	expectCode(t, ts, "swaps_get", nil, InvalidParams)

	mustCall(t, ts, "portfolio_lock", nil, nil)
	expectCode(t, ts, "portfolio_lock", nil, PortfolioLocked)
	expectCode(t, ts, "swaps_list", nil, PortfolioLocked)

	mustCall(t, ts, "portfolio_delete", map[string]string{"id": id}, nil)
	mustCall(t, ts, "portfolio_list", nil, &list)
	require.Empty(t, list.Portfolios)
}

func TestPortfolioDeleteUnknown(t *testing.T) {
	_, ts := newTestServer(t)

	expectCode(t, ts, "portfolio_delete", map[string]string{"id": "missing"}, NotFound)
	expectCode(t, ts, "portfolio_delete", nil, InvalidParams)
}

func TestSwapsStatsRequirePrices(t *testing.T) {
	_, ts := newTestServer(t)
	createAndUnlock(t, ts)

	// No price lookup is configured.
	expectCode(t, ts, "swaps_stats", nil, InternalError)
}

func TestCurrencyMethods(t *testing.T) {
	_, ts := newTestServer(t)

	var currencies struct {
		Currencies []CurrencyInfo `json:"currencies"`
	}
	mustCall(t, ts, "currencies_list", nil, &currencies)
	require.Len(t, currencies.Currencies, len(config.Currencies))

	mustCall(t, ts, "currencies_enable", map[string]string{"symbol": "RES"}, nil)
	mustCall(t, ts, "currencies_disable", map[string]string{"symbol": "RES"}, nil)
	expectCode(t, ts, "currencies_enable", map[string]string{"symbol": "NOPE"}, InvalidParams)
	expectCode(t, ts, "currencies_enable", nil, InvalidParams)

	var fee struct {
		Symbol string          `json:"symbol"`
		Fee    decimal.Decimal `json:"fee"`
	}
	mustCall(t, ts, "fees_get", map[string]string{"symbol": "BTC"}, &fee)
	require.True(t, fee.Fee.Equal(decimal.RequireFromString("0.0001")), fee.Fee.String())
}

func TestNodeStatus(t *testing.T) {
	_, ts := newTestServer(t)

	var status struct {
		DaemonVersion string `json:"daemonVersion"`
		Version       string `json:"version"`
	}
	mustCall(t, ts, "node_status", nil, &status)
	require.Equal(t, "1.0.0", status.DaemonVersion)
	require.Equal(t, Version, status.Version)
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "app://resistance")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "app://resistance", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocketSwapEvents(t *testing.T) {
	s, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// Only swap updates.
	sub, err := json.Marshal(WSSubscription{Action: "subscribe", Events: []string{string(EventSwapUpdated)}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, sub))

	require.Eventually(t, func() bool { return s.WSHub().ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	// Give the read pump time to apply the subscription.
	time.Sleep(50 * time.Millisecond)

	createAndUnlock(t, ts)
	mustCall(t, ts, "orders_buy", map[string]interface{}{
		"baseCurrency": "BTC", "quoteCurrency": "RES", "amount": "1", "price": "100",
	}, nil)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event struct {
		Type EventType      `json:"type"`
		Data swap.Projected `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &event))
	require.Equal(t, EventSwapUpdated, event.Type)
	require.Equal(t, "swap-1", event.Data.UUID)
}

func TestWebSocketHubStop(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	hub.Broadcast(EventSwapsTick, nil)
	hub.Stop()
	hub.Stop()

	require.Zero(t, hub.ClientCount())
}
