package marketmaker

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/pkg/logging"
)

// DefaultReconnectDelay is how long Socket waits before redialing.
const DefaultReconnectDelay = 5 * time.Second

// Socket reads the daemon's push channel and hands every frame to a handler.
// The handler runs on the read goroutine and must not block.
type Socket struct {
	url            string
	handler        func([]byte)
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	log            *logging.Logger
}

// NewSocket creates a push channel reader for url.
func NewSocket(url string, handler func([]byte)) *Socket {
	return &Socket{
		url:            url,
		handler:        handler,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: DefaultReconnectDelay,
		log:            logging.GetDefault().Component("mm-socket"),
	}
}

// SetReconnectDelay changes the delay between connection attempts.
func (s *Socket) SetReconnectDelay(d time.Duration) {
	s.reconnectDelay = d
}

// Run connects and reads until ctx is cancelled, redialing after errors.
func (s *Socket) Run(ctx context.Context) error {
	for {
		err := s.readOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("Push channel disconnected", "url", s.url, "error", err, "retry_in", s.reconnectDelay)

		timer := time.NewTimer(s.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Socket) readOnce(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.log.Info("Push channel connected", "url", s.url)

	// Unblock ReadMessage on shutdown.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handler(data)
	}
}
