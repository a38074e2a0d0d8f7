// Package dex binds an unlocked portfolio to its swap database, the trading
// daemon and the push message ingestor.
package dex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/marketmaker"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/portfolio"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/storage"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swap"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swapdb"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/pkg/logging"
)

// Errors
var (
	ErrLocked              = errors.New("no portfolio is unlocked")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrPrivacyUnavailable  = errors.New("private trading is not configured")
)

// PrivacyProcessName identifies swaps routed through the privacy daemon.
const PrivacyProcessName = "resdex-private"

// Daemon is the trading daemon API used by the service.
type Daemon interface {
	Buy(ctx context.Context, base, rel string, relVolume, price decimal.Decimal) (*swap.Response, error)
	Sell(ctx context.Context, base, rel string, baseVolume, price decimal.Decimal) (*swap.Response, error)
	EnableCurrency(ctx context.Context, symbol string, servers []marketmaker.ElectrumServer) error
	DisableCurrency(ctx context.Context, symbol string) error
	GetFee(ctx context.Context, symbol string) (decimal.Decimal, error)
	Version(ctx context.Context) (string, error)
}

// Portfolios stores portfolio credentials.
type Portfolios interface {
	Create(name, mnemonic, password string) (*portfolio.Info, error)
	List() ([]portfolio.Info, error)
	Get(id string) (*portfolio.Portfolio, error)
	Unlock(id, password string) (*portfolio.Unlocked, error)
	Delete(id string) error
}

// EventHandler receives swap changes of the unlocked portfolio.
type EventHandler interface {
	SwapUpdated(p *swap.Projected)
	SwapsTick()
}

// Config configures the service.
type Config struct {
	// DataDir holds the per-portfolio swap stores.
	DataDir string

	// Swaps is the template for every opened swap database. DataDir,
	// PortfolioID and ProcessStarted are set by the service.
	Swaps swapdb.Config

	// ElectrumServers returns the servers used to enable a currency, or
	// nil when the currency is unsupported.
	ElectrumServers func(symbol string) []marketmaker.ElectrumServer

	// PrivateDaemon routes private orders. Optional.
	PrivateDaemon Daemon
}

type session struct {
	info        portfolio.Info
	db          *swapdb.DB
	unsubscribe func()
	bridgeDone  chan struct{}
}

// Service is the DEX session orchestrator.
type Service struct {
	cfg        Config
	daemon     Daemon
	portfolios Portfolios
	ingestor   *marketmaker.Ingestor
	started    time.Time
	log        *logging.Logger

	mu      sync.RWMutex
	session *session

	// Separate from mu: Lock waits for the bridge while holding mu.
	handlerMu sync.RWMutex
	handler   EventHandler
}

// NewService creates a service. Swap records started before this call and
// still pending are reported as orphaned.
func NewService(cfg Config, daemon Daemon, portfolios Portfolios) *Service {
	return &Service{
		cfg:        cfg,
		daemon:     daemon,
		portfolios: portfolios,
		ingestor:   marketmaker.NewIngestor(),
		started:    time.Now(),
		log:        logging.GetDefault().Component("dex"),
	}
}

// HandlePushMessage routes one raw frame from the daemon push channel.
func (s *Service) HandlePushMessage(raw []byte) {
	s.ingestor.Handle(raw)
}

// Await waits for the next push message carrying queueID.
func (s *Service) Await(ctx context.Context, queueID uint64) (json.RawMessage, error) {
	return s.ingestor.Await(ctx, queueID)
}

// SetEventHandler sets the receiver of swap change events.
func (s *Service) SetEventHandler(h EventHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = h
}

// CreatePortfolio creates a new portfolio.
func (s *Service) CreatePortfolio(name, mnemonic, password string) (*portfolio.Info, error) {
	return s.portfolios.Create(name, mnemonic, password)
}

// ListPortfolios lists all portfolios.
func (s *Service) ListPortfolios() ([]portfolio.Info, error) {
	return s.portfolios.List()
}

// Unlocked returns the unlocked portfolio, or nil.
func (s *Service) Unlocked() *portfolio.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return nil
	}
	info := s.session.info
	return &info
}

// Unlock decrypts a portfolio and opens its swap database. Any previously
// unlocked portfolio is locked first.
func (s *Service) Unlock(ctx context.Context, id, password string) (*portfolio.Info, error) {
	unlocked, err := s.portfolios.Unlock(id, password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lockLocked(ctx); err != nil {
		return nil, err
	}

	db, err := swapdb.Open(s.swapsConfig(id))
	if err != nil {
		return nil, fmt.Errorf("failed to open swap database: %w", err)
	}

	uuids, err := db.TrackedUUIDs(ctx)
	if err != nil {
		if closeErr := db.Close(ctx); closeErr != nil {
			s.log.Warn("Swap database did not close cleanly", "id", id, "error", closeErr)
		}
		return nil, fmt.Errorf("failed to load tracked swaps: %w", err)
	}

	events, unsubscribe := db.Subscribe()
	sess := &session{
		info:        unlocked.Info,
		db:          db,
		unsubscribe: unsubscribe,
		bridgeDone:  make(chan struct{}),
	}
	s.session = sess
	s.ingestor.Attach(db, uuids)
	go s.bridge(sess, events)

	s.log.Info("Portfolio unlocked", "id", id, "name", unlocked.Name, "swaps", len(uuids))
	return &sess.info, nil
}

// bridge keeps the ingestor's tracked set current and forwards events.
func (s *Service) bridge(sess *session, events <-chan swapdb.ChangeEvent) {
	defer close(sess.bridgeDone)

	projector := sess.db.Projector()
	for ev := range events {
		s.handlerMu.RLock()
		h := s.handler
		s.handlerMu.RUnlock()

		if ev.Tick {
			if h != nil {
				h.SwapsTick()
			}
			continue
		}
		if ev.Swap == nil {
			continue
		}

		s.ingestor.Track(ev.Swap.UUID)
		if h != nil {
			h.SwapUpdated(projector.Project(ev.Swap))
		}
	}
}

// Lock closes the unlocked portfolio's swap database.
func (s *Service) Lock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return ErrLocked
	}
	return s.lockLocked(ctx)
}

func (s *Service) lockLocked(ctx context.Context) error {
	sess := s.session
	if sess == nil {
		return nil
	}

	s.ingestor.Attach(nil, nil)
	s.session = nil

	err := sess.db.Close(ctx)
	sess.unsubscribe()
	<-sess.bridgeDone

	if err != nil {
		s.log.Warn("Swap database did not close cleanly", "id", sess.info.ID, "error", err)
		return err
	}
	s.log.Info("Portfolio locked", "id", sess.info.ID)
	return nil
}

// DeletePortfolio removes a portfolio and then its swap store. An unknown
// portfolio is rejected before any store is touched.
func (s *Service) DeletePortfolio(ctx context.Context, id string) error {
	if _, err := s.portfolios.Get(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.portfolios.Delete(id); err != nil {
		return err
	}

	if s.session != nil && s.session.info.ID == id {
		sess := s.session
		s.ingestor.Attach(nil, nil)
		s.session = nil

		err := sess.db.Destroy(ctx)
		sess.unsubscribe()
		<-sess.bridgeDone
		if err != nil {
			return fmt.Errorf("failed to destroy swap store: %w", err)
		}
		return nil
	}

	if _, err := os.Stat(storage.Path(s.cfg.DataDir, id)); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	db, err := swapdb.Open(s.swapsConfig(id))
	if err != nil {
		return fmt.Errorf("failed to open swap store: %w", err)
	}
	if err := db.Destroy(ctx); err != nil {
		return fmt.Errorf("failed to destroy swap store: %w", err)
	}
	return nil
}

func (s *Service) swapsConfig(id string) swapdb.Config {
	cfg := s.cfg.Swaps
	cfg.DataDir = s.cfg.DataDir
	cfg.PortfolioID = id
	cfg.ProcessStarted = s.started
	return cfg
}

func (s *Service) db() (*swapdb.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return nil, ErrLocked
	}
	return s.session.db, nil
}

// Order is a buy or sell order from the UI.
type Order struct {
	Side          swap.Side       `json:"type"`
	BaseCurrency  string          `json:"baseCurrency"`
	QuoteCurrency string          `json:"quoteCurrency"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	Private       bool            `json:"private"`
}

func (o *Order) validate() error {
	if !o.Side.Valid() {
		return swap.ErrInvalidSide
	}
	if o.BaseCurrency == "" || o.QuoteCurrency == "" || o.BaseCurrency == o.QuoteCurrency {
		return fmt.Errorf("%w: currencies %q/%q", ErrInvalidOrder, o.BaseCurrency, o.QuoteCurrency)
	}
	if !o.Amount.IsPositive() || !o.Price.IsPositive() {
		return fmt.Errorf("%w: amount and price must be positive", ErrInvalidOrder)
	}
	return nil
}

// PlaceOrder sends an order to the daemon and records the pending swap.
func (s *Service) PlaceOrder(ctx context.Context, o Order) (*swap.Projected, error) {
	o.BaseCurrency = strings.ToUpper(o.BaseCurrency)
	o.QuoteCurrency = strings.ToUpper(o.QuoteCurrency)
	if err := o.validate(); err != nil {
		return nil, err
	}

	db, err := s.db()
	if err != nil {
		return nil, err
	}

	daemon := s.daemon
	var privacy *swap.Privacy
	if o.Private {
		if s.cfg.PrivateDaemon == nil {
			return nil, ErrPrivacyUnavailable
		}
		daemon = s.cfg.PrivateDaemon
		privacy = &swap.Privacy{ProcessName: PrivacyProcessName, Status: "pending"}
	}

	total := o.Amount.Mul(o.Price)

	var resp *swap.Response
	if o.Side == swap.SideBuy {
		resp, err = daemon.Buy(ctx, o.BaseCurrency, o.QuoteCurrency, total, o.Price)
	} else {
		resp, err = daemon.Sell(ctx, o.BaseCurrency, o.QuoteCurrency, o.Amount, o.Price)
	}
	if err != nil {
		return nil, err
	}

	// Track first so push messages racing the insert are queued behind it.
	s.ingestor.Track(resp.UUID)

	request := swap.Request{
		BaseCurrency:  o.BaseCurrency,
		QuoteCurrency: o.QuoteCurrency,
		Amount:        o.Amount,
		Price:         o.Price,
		Total:         total,
		Side:          o.Side,
	}
	if err := db.InsertSwapData(ctx, *resp, request, privacy); err != nil {
		return nil, fmt.Errorf("failed to record swap %s: %w", resp.UUID, err)
	}

	return db.GetSwap(ctx, resp.UUID)
}

// GetSwaps lists projected swaps, newest first.
func (s *Service) GetSwaps(ctx context.Context, opts swapdb.GetSwapsOptions) ([]*swap.Projected, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	return db.GetSwaps(ctx, opts)
}

// GetSwap returns one projected swap.
func (s *Service) GetSwap(ctx context.Context, uuid string) (*swap.Projected, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	return db.GetSwap(ctx, uuid)
}

// GetSwapCount returns the number of stored swaps.
func (s *Service) GetSwapCount(ctx context.Context) (int, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}
	return db.GetSwapCount(ctx)
}

// Stats returns trading statistics since the given time, or for the last
// month when since is zero.
func (s *Service) Stats(ctx context.Context, since time.Time) (*swapdb.Stats, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	if since.IsZero() {
		return db.StatsSinceLastMonth(ctx)
	}
	return db.StatsSince(ctx, since)
}

// ForceSwapFailure marks a swap as failed by the user.
func (s *Service) ForceSwapFailure(ctx context.Context, uuid string) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	return db.ForceSwapFailure(ctx, uuid)
}

// EnableCurrency enables a currency with its electrum servers.
func (s *Service) EnableCurrency(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(symbol)

	var servers []marketmaker.ElectrumServer
	if s.cfg.ElectrumServers != nil {
		servers = s.cfg.ElectrumServers(symbol)
	}
	if len(servers) == 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedCurrency, symbol)
	}
	return s.daemon.EnableCurrency(ctx, symbol, servers)
}

// DisableCurrency disables a currency.
func (s *Service) DisableCurrency(ctx context.Context, symbol string) error {
	return s.daemon.DisableCurrency(ctx, strings.ToUpper(symbol))
}

// GetFee returns the daemon's transaction fee for a currency.
func (s *Service) GetFee(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return s.daemon.GetFee(ctx, strings.ToUpper(symbol))
}

// Status describes the daemon connection and the session.
type Status struct {
	DaemonVersion string          `json:"daemonVersion,omitempty"`
	DaemonError   string          `json:"daemonError,omitempty"`
	Portfolio     *portfolio.Info `json:"portfolio,omitempty"`
	PendingWrites int             `json:"pendingWrites"`
}

// Status reports the daemon version and the unlocked portfolio.
func (s *Service) Status(ctx context.Context) *Status {
	st := &Status{Portfolio: s.Unlocked()}

	if version, err := s.daemon.Version(ctx); err != nil {
		st.DaemonError = err.Error()
	} else {
		st.DaemonVersion = version
	}

	if db, err := s.db(); err == nil {
		st.PendingWrites = db.Pending()
	}
	return st
}

// Close locks the unlocked portfolio, if any.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockLocked(ctx)
}
