package signaling_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/wire"
)

func newTestServer(t *testing.T, cfg signaling.Config) (*httptest.Server, *signaling.Server) {
	t.Helper()

	srv := signaling.NewServer(cfg)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts, srv
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/webrtc/signal"
}

func dial(t *testing.T, ts *httptest.Server, subprotocols ...string) *websocket.Conn {
	t.Helper()

	d := websocket.Dialer{Subprotocols: subprotocols, HandshakeTimeout: 2 * time.Second}
	c, _, err := d.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// dialWelcome dials, consumes the welcome and returns the connection id.
func dialWelcome(t *testing.T, ts *httptest.Server, subprotocols ...string) (*websocket.Conn, string) {
	t.Helper()
	c := dial(t, ts, subprotocols...)
	ev := readEvent(t, c)
	if ev.Type != wire.KindWelcome || ev.ID == "" {
		t.Fatalf("first event=%+v, want welcome with id", ev)
	}
	return c, ev.ID
}

func readEvent(t *testing.T, c *websocket.Conn) wire.Event {
	t.Helper()

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	frameType, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	raw, err := wire.ForSubprotocol(c.Subprotocol()).DecodeToJSON(frameType, data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	var ev wire.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal event %s: %v", raw, err)
	}
	return ev
}

func send(t *testing.T, c *websocket.Conn, msg string) {
	t.Helper()
	_ = c.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// fence sends a ping and expects the very next event to be its pong, proving
// nothing else was queued for c.
func fence(t *testing.T, c *websocket.Conn) {
	t.Helper()
	send(t, c, `{"type":"ping"}`)
	if ev := readEvent(t, c); ev.Type != wire.KindPong {
		t.Fatalf("unexpected event before pong: %+v", ev)
	}
}

func readCloseCode(t *testing.T, c *websocket.Conn) int {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("read err=%v, want close frame", err)
		}
		return closeErr.Code
	}
}
