package marketmaker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestSocketDeliversAndReconnects(t *testing.T) {
	var connections int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&connections, 1)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"method":"connected","uuid":"a"}`))
		// Drop the connection to force a redial.
		conn.Close()
	}))
	defer srv.Close()

	frames := make(chan []byte, 16)
	sock := NewSocket("ws"+strings.TrimPrefix(srv.URL, "http"), func(data []byte) {
		select {
		case frames <- data:
		default:
		}
	})
	sock.SetReconnectDelay(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sock.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case data := <-frames:
			require.JSONEq(t, `{"method":"connected","uuid":"a"}`, string(data))
		case <-time.After(5 * time.Second):
			t.Fatal("no frame received")
		}
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&connections), int32(2))

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("socket did not stop")
	}
}
