package marketmaker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swap"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/pkg/logging"
)

// MessageSink persists messages for known swaps. EnqueueSwapMessage must not
// block on storage.
type MessageSink interface {
	EnqueueSwapMessage(raw json.RawMessage) error
}

// Ingestor routes push messages. Messages for tracked swap uuids go to the
// sink; any other message is offered to one-shot listeners waiting on its
// queue id and is otherwise dropped.
type Ingestor struct {
	mu        sync.RWMutex
	sink      MessageSink
	tracked   map[string]struct{}
	listeners map[uint64][]chan json.RawMessage
	log       *logging.Logger
}

// NewIngestor creates an ingestor with no sink and no tracked swaps.
func NewIngestor() *Ingestor {
	return &Ingestor{
		tracked:   make(map[string]struct{}),
		listeners: make(map[uint64][]chan json.RawMessage),
		log:       logging.GetDefault().Component("ingest"),
	}
}

// Attach replaces the sink and the tracked set, as when a portfolio is
// unlocked. A nil sink detaches.
func (i *Ingestor) Attach(sink MessageSink, uuids []string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.sink = sink
	i.tracked = make(map[string]struct{}, len(uuids))
	for _, uuid := range uuids {
		i.tracked[uuid] = struct{}{}
	}
}

// Track adds swap uuids to the tracked set.
func (i *Ingestor) Track(uuids ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, uuid := range uuids {
		if uuid != "" {
			i.tracked[uuid] = struct{}{}
		}
	}
}

// IsTracked reports whether uuid is tracked.
func (i *Ingestor) IsTracked(uuid string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()

	_, ok := i.tracked[uuid]
	return ok
}

// Handle routes one raw push message. It never blocks on persistence.
func (i *Ingestor) Handle(raw []byte) {
	env, err := swap.ParseHeader(raw)
	if err != nil {
		i.log.Debug("Ignoring undecodable push message", "error", err)
		return
	}

	i.mu.RLock()
	sink := i.sink
	_, tracked := i.tracked[env.UUID]
	i.mu.RUnlock()

	if tracked && sink != nil {
		msg := append(json.RawMessage(nil), raw...)
		if err := sink.EnqueueSwapMessage(msg); err != nil {
			i.log.Warn("Failed to queue swap message", "uuid", env.UUID, "method", env.Method, "error", err)
		}
		return
	}

	if env.QueueID != 0 && i.deliver(env.QueueID, raw) {
		return
	}

	i.log.Debug("Dropping push message", "uuid", env.UUID, "method", env.Method, "queueid", env.QueueID)
}

func (i *Ingestor) deliver(queueID uint64, raw []byte) bool {
	i.mu.Lock()
	waiting := i.listeners[queueID]
	delete(i.listeners, queueID)
	i.mu.Unlock()

	for _, ch := range waiting {
		ch <- append(json.RawMessage(nil), raw...)
	}
	return len(waiting) > 0
}

// Listen registers a one-shot listener for the next message with queueID.
// The returned cancel function unregisters it.
func (i *Ingestor) Listen(queueID uint64) (<-chan json.RawMessage, func()) {
	ch := make(chan json.RawMessage, 1)

	i.mu.Lock()
	i.listeners[queueID] = append(i.listeners[queueID], ch)
	i.mu.Unlock()

	return ch, func() {
		i.mu.Lock()
		defer i.mu.Unlock()

		waiting := i.listeners[queueID]
		for j, c := range waiting {
			if c == ch {
				waiting = append(waiting[:j], waiting[j+1:]...)
				break
			}
		}
		if len(waiting) == 0 {
			delete(i.listeners, queueID)
		} else {
			i.listeners[queueID] = waiting
		}
	}
}

// Await waits for the next message with queueID.
func (i *Ingestor) Await(ctx context.Context, queueID uint64) (json.RawMessage, error) {
	ch, cancel := i.Listen(queueID)
	defer cancel()

	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
