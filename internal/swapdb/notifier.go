package swapdb

import (
	"sync"
	"time"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swap"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/pkg/logging"
)

// ChangeEvent is delivered to subscribers when a swap record changes or when
// the periodic tick fires. A tick has no swap: subscribers should re-project
// every swap they track, since swaps can time out without new messages.
type ChangeEvent struct {
	Swap *swap.Record
	Tick bool
}

const subscriberBuffer = 64

// notifier fans change events out to subscribers without blocking the
// writer. Events for a full subscriber are dropped.
type notifier struct {
	mu     sync.Mutex
	subs   map[int]chan ChangeEvent
	nextID int
	closed bool
	log    *logging.Logger
}

func newNotifier(log *logging.Logger) *notifier {
	return &notifier{
		subs: make(map[int]chan ChangeEvent),
		log:  log,
	}
}

func (n *notifier) subscribe() (<-chan ChangeEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan ChangeEvent, subscriberBuffer)
	if n.closed {
		close(ch)
		return ch, func() {}
	}

	id := n.nextID
	n.nextID++
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if sub, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(sub)
			}
		})
	}
}

func (n *notifier) publish(ev ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			n.log.Warn("Subscriber is not keeping up, dropping change event", "subscriber", id, "tick", ev.Tick)
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}

// runTicker publishes a tick every interval until stop is closed.
func (n *notifier) runTicker(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n.publish(ChangeEvent{Tick: true})
		}
	}
}
