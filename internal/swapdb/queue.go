package swapdb

import (
	"fmt"
	"sync"
	"time"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/storage"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swap"
)

// RetryConfig configures how queued writes are retried while storage is
// unavailable.
type RetryConfig struct {
	InitialInterval time.Duration // First retry delay (default: 10s)
	MaxInterval     time.Duration // Maximum retry delay (default: 10m)
	Multiplier      float64       // Backoff multiplier (default: 2.0)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 10 * time.Second,
		MaxInterval:     10 * time.Minute,
		Multiplier:      2.0,
	}
}

// withDefaults fills zero fields from DefaultRetryConfig, treats a
// multiplier of 1 or less as 2 and caps InitialInterval at MaxInterval.
func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.InitialInterval <= 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	if c.Multiplier <= 1 {
		c.Multiplier = def.Multiplier
	}
	if c.InitialInterval > c.MaxInterval {
		c.InitialInterval = c.MaxInterval
	}
	return c
}

// backoff returns the delay before retry number attempt (0-based).
// 10s -> 20s -> 40s -> 80s -> 160s -> 320s -> 600s (10m max)
func (c RetryConfig) backoff(attempt int) time.Duration {
	c = c.withDefaults()

	delay := c.InitialInterval
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.Multiplier)
		if delay > c.MaxInterval {
			return c.MaxInterval
		}
	}
	return delay
}

// op is one queued storage mutation. run returns the changed record, or nil
// when nothing was written.
type op struct {
	name string
	uuid string
	run  func() (*swap.Record, error)
	done chan error // nil for fire-and-forget ops
}

// queue is an unbounded FIFO of storage ops.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ops    []*op
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(o *op) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.ops = append(q.ops, o)
	q.cond.Signal()
	return nil
}

// pop blocks until an op is available. It returns false once the queue is
// closed and empty.
func (q *queue) pop() (*op, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.ops) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.ops) == 0 {
		return nil, false
	}
	o := q.ops[0]
	q.ops[0] = nil
	q.ops = q.ops[1:]
	return o, true
}

// close stops accepting ops. Queued ops are still handed out by pop. It
// returns false if the queue was already closed.
func (q *queue) close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	q.cond.Broadcast()
	return true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// runQueue executes queued ops one at a time, in submission order.
func (db *DB) runQueue() {
	defer close(db.queueDone)

	for {
		o, ok := db.queue.pop()
		if !ok {
			return
		}
		db.execute(o)
	}
}

func (db *DB) execute(o *op) {
	rec, err := db.runWithRetry(o)
	if err != nil {
		db.log.Error("Swap database operation failed", "op", o.name, "uuid", o.uuid, "error", err)
	} else if rec != nil {
		db.notifier.publish(ChangeEvent{Swap: rec})
	}

	if o.done != nil {
		o.done <- err
	}
}

// runWithRetry runs o until it succeeds, fails permanently or the database
// gives up on draining. Later ops wait behind it.
func (db *DB) runWithRetry(o *op) (*swap.Record, error) {
	for attempt := 0; ; attempt++ {
		rec, err := o.run()
		if err == nil || !storage.IsTransient(err) {
			return rec, err
		}

		delay := db.cfg.Retry.backoff(attempt)
		db.log.Warn("Storage unavailable, retrying",
			"op", o.name,
			"uuid", o.uuid,
			"attempt", attempt+1,
			"retry_in", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-db.abort:
			timer.Stop()
			return nil, fmt.Errorf("%s abandoned: %w", o.name, err)
		}
	}
}
