// Package swapdb is the swap lifecycle layer over the per-portfolio store.
//
// All writes go through a single FIFO queue drained by one goroutine, so an
// insert racing a message append for the same swap is applied in submission
// order. Reads bypass the queue and project records on every call; they may
// or may not observe writes that are still queued.
package swapdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/storage"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swap"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/pkg/logging"
)

// Errors
var (
	ErrClosed = errors.New("swap database is closed")
)

// DefaultTickInterval is how often subscribers are asked to re-evaluate
// tracked swaps.
const DefaultTickInterval = time.Minute

// Config configures a swap database.
type Config struct {
	DataDir     string
	PortfolioID string

	// TickInterval defaults to DefaultTickInterval.
	TickInterval time.Duration
	Retry        RetryConfig

	// Prices is required by the stats queries only.
	Prices PriceLookup

	// ProcessStarted defaults to the time Open is called.
	ProcessStarted time.Time
	Labels         swap.Labels

	// Now defaults to time.Now.
	Now func() time.Time
}

// DB is one portfolio's swap database.
type DB struct {
	cfg       Config
	store     *storage.Storage
	projector *swap.Projector
	log       *logging.Logger

	queue     *queue
	queueDone chan struct{}
	abort     chan struct{}

	notifier   *notifier
	tickerStop chan struct{}
	tickerDone chan struct{}
}

// Open opens the swap database of a portfolio, removes records left by an
// older schema and starts the write queue.
func Open(cfg Config) (*DB, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	cfg.Retry = cfg.Retry.withDefaults()
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ProcessStarted.IsZero() {
		cfg.ProcessStarted = cfg.Now()
	}
	// Start times are stored with millisecond precision.
	cfg.ProcessStarted = cfg.ProcessStarted.Truncate(time.Millisecond)
	if cfg.Labels == nil {
		cfg.Labels = swap.DefaultLabels
	}

	log := logging.GetDefault().Component("swapdb")

	store, err := storage.New(&storage.Config{DataDir: cfg.DataDir, PortfolioID: cfg.PortfolioID})
	if err != nil {
		return nil, err
	}

	db := &DB{
		cfg:        cfg,
		store:      store,
		projector:  &swap.Projector{ProcessStarted: cfg.ProcessStarted, Labels: cfg.Labels},
		log:        log,
		queue:      newQueue(),
		queueDone:  make(chan struct{}),
		abort:      make(chan struct{}),
		notifier:   newNotifier(log),
		tickerStop: make(chan struct{}),
		tickerDone: make(chan struct{}),
	}

	if err := db.migrate(); err != nil {
		store.Close()
		return nil, err
	}

	go db.runQueue()
	go db.notifier.runTicker(cfg.TickInterval, db.tickerStop, db.tickerDone)

	log.Info("Swap database opened", "path", store.DBPath())
	return db, nil
}

// migrate deletes records stored with string amounts by an older schema.
func (db *DB) migrate() error {
	deleted, err := db.store.DeleteLegacySwaps()
	if err != nil {
		return fmt.Errorf("failed to delete legacy swaps: %w", err)
	}
	if deleted > 0 {
		db.log.Info("Deleted legacy swap records", "count", deleted)
	}
	return nil
}

// Projector returns the projector used for reads.
func (db *DB) Projector() *swap.Projector {
	return db.projector
}

// Subscribe returns a channel of change events and a function that cancels
// the subscription. The channel is closed when the subscription is
// cancelled or the database is closed.
func (db *DB) Subscribe() (<-chan ChangeEvent, func()) {
	return db.notifier.subscribe()
}

// Pending returns the number of queued writes.
func (db *DB) Pending() int {
	return db.queue.len()
}

// submit queues o and waits for it to run. A cancelled ctx stops the wait,
// not the write.
func (db *DB) submit(ctx context.Context, o *op) error {
	o.done = make(chan error, 1)
	if err := db.queue.push(o); err != nil {
		return err
	}

	select {
	case err := <-o.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InsertSwapData queues creation of a swap record from the daemon's order
// acknowledgment and the request that produced it.
func (db *DB) InsertSwapData(ctx context.Context, response swap.Response, request swap.Request, privacy *swap.Privacy) error {
	if response.UUID == "" {
		return swap.ErrEmptyUUID
	}
	if !request.Side.Valid() {
		return fmt.Errorf("%w: %q", swap.ErrInvalidSide, request.Side)
	}

	rec := &swap.Record{
		UUID:        response.UUID,
		TimeStarted: db.cfg.Now().Truncate(time.Millisecond),
		Request:     request,
		Response:    response,
		Messages:    []json.RawMessage{},
		Privacy:     privacy,
		RequestID:   response.RequestID,
		QuoteID:     response.QuoteID,
	}

	return db.submit(ctx, &op{
		name: "insert",
		uuid: rec.UUID,
		run: func() (*swap.Record, error) {
			if err := db.store.InsertSwap(rec); err != nil {
				return nil, err
			}
			return rec, nil
		},
	})
}

// UpdateSwapData queues appending a daemon message to the swap named by its
// uuid and waits for the write. A message for an unknown swap is dropped
// without error.
func (db *DB) UpdateSwapData(ctx context.Context, raw json.RawMessage) error {
	o, err := db.appendOp(raw)
	if err != nil {
		return err
	}
	return db.submit(ctx, o)
}

// EnqueueSwapMessage queues appending a daemon message without waiting.
func (db *DB) EnqueueSwapMessage(raw json.RawMessage) error {
	o, err := db.appendOp(raw)
	if err != nil {
		return err
	}
	return db.queue.push(o)
}

func (db *DB) appendOp(raw json.RawMessage) (*op, error) {
	env, err := swap.ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	if env.UUID == "" {
		return nil, swap.ErrEmptyUUID
	}

	// The caller's buffer may be reused after we return.
	msg := append(json.RawMessage(nil), raw...)

	return &op{
		name: "append",
		uuid: env.UUID,
		run: func() (*swap.Record, error) {
			rec, err := db.store.AppendSwapMessage(env.UUID, msg)
			if errors.Is(err, storage.ErrSwapNotFound) {
				db.log.Debug("Dropping message for unknown swap", "uuid", env.UUID, "method", env.Method)
				return nil, nil
			}
			return rec, err
		},
	}, nil
}

// ForceSwapFailure marks a swap as failed by appending a local failure
// message. It is a no-op for swaps whose projection is already terminal.
func (db *DB) ForceSwapFailure(ctx context.Context, uuid string) error {
	if uuid == "" {
		return swap.ErrEmptyUUID
	}

	return db.submit(ctx, &op{
		name: "force-failure",
		uuid: uuid,
		run: func() (*swap.Record, error) {
			rec, err := db.store.GetSwap(uuid)
			if err != nil {
				return nil, err
			}
			if db.projector.Project(rec).Status.IsTerminal() {
				db.log.Debug("Swap already terminal, not forcing failure", "uuid", uuid)
				return nil, nil
			}
			return db.store.AppendSwapMessage(uuid, swap.NewForcedFailure(uuid))
		},
	})
}

// GetSwapsOptions filters GetSwaps.
type GetSwapsOptions struct {
	// Since excludes swaps started at or before it. Zero means all swaps.
	Since time.Time
	// Limit caps the number of swaps. Zero means no limit.
	Limit int
}

// GetSwaps returns projected swaps, newest first.
func (db *DB) GetSwaps(ctx context.Context, opts GetSwapsOptions) ([]*swap.Projected, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := db.store.ListSwaps(opts.Since, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list swaps: %w", err)
	}

	swaps := make([]*swap.Projected, 0, len(records))
	for _, rec := range records {
		swaps = append(swaps, db.projector.Project(rec))
	}
	return swaps, nil
}

// GetSwap returns one projected swap.
func (db *DB) GetSwap(ctx context.Context, uuid string) (*swap.Projected, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := db.store.GetSwap(uuid)
	if err != nil {
		return nil, err
	}
	return db.projector.Project(rec), nil
}

// GetSwapCount returns the number of stored swaps.
func (db *DB) GetSwapCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return db.store.CountSwaps()
}

// TrackedUUIDs returns the uuids of all stored swaps.
func (db *DB) TrackedUUIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return db.store.ListSwapUUIDs()
}

// Close stops accepting writes, waits for queued writes and closes the
// store. If ctx ends first, writes still waiting on unavailable storage are
// abandoned.
func (db *DB) Close(ctx context.Context) error {
	if err := db.shutdown(ctx); err != nil {
		return err
	}
	if err := db.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	db.log.Info("Swap database closed")
	return nil
}

// Destroy stops accepting writes, waits for queued writes and deletes the
// store.
func (db *DB) Destroy(ctx context.Context) error {
	if err := db.shutdown(ctx); err != nil {
		return err
	}
	if err := db.store.Destroy(); err != nil {
		return fmt.Errorf("failed to destroy store: %w", err)
	}
	db.log.Info("Swap database destroyed", "path", db.store.DBPath())
	return nil
}

func (db *DB) shutdown(ctx context.Context) error {
	if !db.queue.close() {
		return ErrClosed
	}

	close(db.tickerStop)
	<-db.tickerDone

	select {
	case <-db.queueDone:
	case <-ctx.Done():
		db.log.Warn("Abandoning queued swap writes", "pending", db.queue.len())
		close(db.abort)
		<-db.queueDone
	}

	db.notifier.close()
	return nil
}
