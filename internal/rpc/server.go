// Package rpc provides the JSON-RPC 2.0 and WebSocket API used by the wallet UI.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/dex"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/marketmaker"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/portfolio"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/storage"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swap"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/pkg/logging"
)

// Server is a JSON-RPC 2.0 server.
type Server struct {
	dex     *dex.Service
	log     *logging.Logger
	wsHub   *WSHub
	started time.Time

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Application error codes.
const (
	PortfolioLocked   = -32001
	IncorrectPassword = -32002
	NotFound          = -32004
	DaemonError       = -32010
)

var errInvalidParams = errors.New("invalid params")

func invalidParams(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errInvalidParams, fmt.Sprintf(format, args...))
}

// errorCode maps handler errors to JSON-RPC error codes.
func errorCode(err error) int {
	var daemonErr *marketmaker.RPCError
	switch {
	case errors.Is(err, errInvalidParams),
		errors.Is(err, dex.ErrInvalidOrder),
		errors.Is(err, dex.ErrUnsupportedCurrency),
		errors.Is(err, dex.ErrPrivacyUnavailable),
		errors.Is(err, swap.ErrInvalidSide),
		errors.Is(err, swap.ErrEmptyUUID),
		errors.Is(err, portfolio.ErrInvalidMnemonic),
		errors.Is(err, portfolio.ErrWeakPassword),
		errors.Is(err, portfolio.ErrEmptyName):
		return InvalidParams
	case errors.Is(err, dex.ErrLocked):
		return PortfolioLocked
	case errors.Is(err, portfolio.ErrIncorrectPassword):
		return IncorrectPassword
	case errors.Is(err, portfolio.ErrNotFound), errors.Is(err, storage.ErrSwapNotFound):
		return NotFound
	case errors.As(err, &daemonErr):
		return DaemonError
	}
	return InternalError
}

// NewServer creates a new JSON-RPC server and registers it as the receiver
// of the service's swap events.
func NewServer(svc *dex.Service) *Server {
	s := &Server{
		dex:      svc,
		log:      logging.GetDefault().Component("rpc"),
		wsHub:    NewWSHub(),
		started:  time.Now(),
		handlers: make(map[string]Handler),
	}

	s.registerHandlers()
	go s.wsHub.Run()
	svc.SetEventHandler(s)

	return s
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	// Node methods
	s.handlers["node_status"] = s.nodeStatus

	// Portfolio methods
	s.handlers["portfolio_list"] = s.portfolioList
	s.handlers["portfolio_create"] = s.portfolioCreate
	s.handlers["portfolio_unlock"] = s.portfolioUnlock
	s.handlers["portfolio_lock"] = s.portfolioLock
	s.handlers["portfolio_delete"] = s.portfolioDelete

	// Swap history methods
	s.handlers["swaps_list"] = s.swapsList
	s.handlers["swaps_get"] = s.swapsGet
	s.handlers["swaps_count"] = s.swapsCount
	s.handlers["swaps_stats"] = s.swapsStats
	s.handlers["swaps_forceFailure"] = s.swapsForceFailure

	// Order methods
	s.handlers["orders_buy"] = s.ordersBuy
	s.handlers["orders_sell"] = s.ordersSell

	// Currency methods
	s.handlers["currencies_list"] = s.currenciesList
	s.handlers["currencies_enable"] = s.currenciesEnable
	s.handlers["currencies_disable"] = s.currenciesDisable
	s.handlers["fees_get"] = s.feesGet
}

// Handler returns the HTTP handler serving JSON-RPC on / and WebSocket on /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)
	return corsMiddleware(mux)
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", listener.Addr().String(), "ws", "ws://"+listener.Addr().String()+"/ws")
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the RPC server and the WebSocket hub.
func (s *Server) Stop(ctx context.Context) error {
	s.wsHub.Stop()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// SwapUpdated broadcasts a changed swap to WebSocket clients.
func (s *Server) SwapUpdated(p *swap.Projected) {
	s.wsHub.Broadcast(EventSwapUpdated, p)
}

// SwapsTick asks WebSocket clients to refresh time dependent swap state.
func (s *Server) SwapsTick() {
	s.wsHub.Broadcast(EventSwapsTick, nil)
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		code := errorCode(err)
		if code == InternalError {
			s.log.Warn("RPC method failed", "method", req.Method, "error", err)
		}
		s.writeError(w, req.ID, code, err.Error(), nil)
		return
	}

	s.writeResult(w, req.ID, result)
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// handleCORS handles CORS preflight requests.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The UI runs in Electron and may send any origin.
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
