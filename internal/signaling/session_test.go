package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/wire"
)

// acceptedConn returns the server side of a fresh loopback WebSocket.
func acceptedConn(t *testing.T) *websocket.Conn {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- c
	}))
	t.Cleanup(ts.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case c := <-connCh:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("server never accepted the connection")
		return nil
	}
}

func TestWritePump_CountsWriteFailures(t *testing.T) {
	hub := relay.NewHub(relay.Config{})
	srv := NewServer(Config{Hub: hub})

	conn := acceptedConn(t)
	_ = conn.Close()

	wss := &wsSession{
		srv:   srv,
		conn:  conn,
		codec: wire.JSON,
		log:   srv.log,
		send:  make(chan wire.Event, 1),
		done:  make(chan struct{}),
	}
	if !wss.Deliver(wire.Welcome("a")) {
		t.Fatalf("Deliver refused the first event")
	}

	finished := make(chan struct{})
	go func() {
		wss.writePump()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("writePump did not return after a failed write")
	}

	m := hub.Metrics()
	if got := m.Get(metrics.DropReasonWriteFailed); got != 1 {
		t.Fatalf("write_failed=%d, want 1", got)
	}
	if got := m.Get(metrics.DropReasonSendQueueFull); got != 0 {
		t.Fatalf("delivery_dropped=%d, want 0", got)
	}
	if wss.Deliver(wire.Welcome("a")) {
		t.Fatalf("Deliver accepted an event after the session closed")
	}
}
