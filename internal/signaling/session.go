package signaling

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/wire"
)

const wsWriteWait = 1 * time.Second

// wsSession is one client connection. It is the hub's Sink for that client.
type wsSession struct {
	srv   *Server
	conn  *websocket.Conn
	codec wire.Codec
	log   *slog.Logger
	id    string

	limiter *ratelimit.TokenBucket

	send chan wire.Event
	done chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Deliver queues ev for the write pump. It never blocks; a full queue or a
// closed session drops the event.
func (wss *wsSession) Deliver(ev wire.Event) bool {
	select {
	case <-wss.done:
		return false
	default:
	}
	select {
	case wss.send <- ev:
		return true
	default:
		return false
	}
}

func (wss *wsSession) readPump() {
	defer func() {
		wss.srv.hub.Disconnect(wss.id)
		wss.Close()
		wss.log.Debug("signaling connection closed")
	}()

	wss.conn.SetReadLimit(wss.srv.maxMessageBytes)
	_ = wss.conn.SetReadDeadline(time.Now().Add(wss.srv.idleTimeout))
	wss.conn.SetPongHandler(func(string) error {
		return wss.conn.SetReadDeadline(time.Now().Add(wss.srv.idleTimeout))
	})

	metricsSink := wss.srv.hub.Metrics()
	for {
		frameType, data, err := wss.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				metricsSink.Inc(metrics.DropReasonMessageTooLarge)
				wss.closeWith(websocket.CloseMessageTooBig, "message too large")
			case isTimeout(err):
				wss.closeWith(websocket.CloseNormalClosure, "idle timeout")
			}
			return
		}
		_ = wss.conn.SetReadDeadline(time.Now().Add(wss.srv.idleTimeout))

		// Rate limit after reading so the frame is consumed and the client
		// reliably sees the close code instead of a reset.
		if !wss.limiter.Allow(1) {
			metricsSink.Inc(metrics.DropReasonRateLimited)
			wss.fail(codeRateLimited, "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if err := wss.handleFrame(frameType, data); err != nil {
			var protoErr *protocolError
			if !errors.As(err, &protoErr) {
				protoErr = &protocolError{Code: codeInternal, Message: "internal error"}
				wss.log.Error("failed to handle signaling message", "err", err)
			}
			if protoErr.Code == codeBadMessage {
				metricsSink.Inc(metrics.DropReasonBadMessage)
			}
			wss.Deliver(wire.Error(protoErr.Code, protoErr.Message))
		}
	}
}

func (wss *wsSession) handleFrame(frameType int, data []byte) error {
	raw, err := wss.codec.DecodeToJSON(frameType, data)
	if err != nil {
		return badMessage("%v", err)
	}
	msg, err := parseClientMessage(raw, wss.srv.maxRoomIDLength)
	if err != nil {
		return err
	}

	hub := wss.srv.hub
	switch msg.Type {
	case messageTypeJoin:
		err := hub.Join(wss.id, msg.RoomID, msg.Role)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, relay.ErrHostTaken):
			return &protocolError{Code: codeHostTaken, Message: "room already has a host"}
		case errors.Is(err, relay.ErrInvalidRoom):
			return badMessage("%v", err)
		}
		return err

	case messageTypeLeave:
		return hub.Leave(wss.id, msg.RoomID)

	case messageTypeOffer, messageTypeAnswer, messageTypeICECandidate:
		err := hub.Signal(wss.id, msg.signal())
		if errors.Is(err, registry.ErrNotFound) {
			wss.log.Debug("dropped signaling message", "type", msg.Type, "target_id", msg.TargetID, "reason", err)
			return nil
		}
		return err

	case messageTypePing:
		wss.Deliver(wire.Event{Type: wire.KindPong})
		return nil
	}
	return badMessage("unsupported message type %q", msg.Type)
}

func (wss *wsSession) writePump() {
	ticker := time.NewTicker(wss.srv.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wss.done:
			return
		case ev := <-wss.send:
			if err := wss.write(ev); err != nil {
				wss.log.Debug("signaling write failed", "err", err)
				wss.srv.hub.Metrics().Inc(metrics.DropReasonWriteFailed)
				wss.Close()
				return
			}
		case <-ticker.C:
			if err := wss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				wss.Close()
				return
			}
		}
	}
}

func (wss *wsSession) write(ev wire.Event) error {
	data, err := wss.codec.Encode(ev)
	if err != nil {
		return err
	}

	wss.writeMu.Lock()
	defer wss.writeMu.Unlock()
	_ = wss.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return wss.conn.WriteMessage(wss.codec.FrameType(), data)
}

// fail writes an error event ahead of the close frame.
func (wss *wsSession) fail(code, message string, closeCode int, closeReason string) {
	_ = wss.write(wire.Error(code, message))
	wss.closeWith(closeCode, closeReason)
}

func (wss *wsSession) closeWith(code int, reason string) {
	wss.writeMu.Lock()
	defer wss.writeMu.Unlock()
	_ = wss.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (wss *wsSession) Close() {
	wss.closeOnce.Do(func() {
		close(wss.done)
		_ = wss.conn.Close()
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
