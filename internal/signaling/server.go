package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/wire"
)

const (
	defaultIdleTimeout          = 60 * time.Second
	defaultPingInterval         = 20 * time.Second
	defaultMaxMessageBytes      = 64 * 1024
	defaultMaxMessagesPerSecond = 50
	defaultSendQueueSize        = 64
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	// Hub owns the registry. If nil, NewServer creates a private one.
	Hub    *relay.Hub
	Logger *slog.Logger

	// AllowedOrigins is checked before upgrading; empty means same host only.
	AllowedOrigins []string

	// WebSocket keepalive. The connection is closed when nothing (including
	// pongs) has been read for IdleTimeout.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	// Inbound hardening.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	MaxRoomIDLength      int

	// SendQueueSize bounds each connection's outbound queue. Events that do
	// not fit are dropped.
	SendQueueSize int
}

// Server implements the relay's WebSocket signaling surface.
//
// Endpoints:
//   - GET /webrtc/signal       : WebSocket signaling
//   - GET /api/rooms           : live rooms
//   - GET /api/rooms/{roomId}  : one room
type Server struct {
	hub     *relay.Hub
	log     *slog.Logger
	origins origin.Policy

	idleTimeout          time.Duration
	pingInterval         time.Duration
	maxMessageBytes      int64
	maxMessagesPerSecond int
	maxRoomIDLength      int
	sendQueueSize        int

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*wsSession]struct{}
	closed   bool
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Hub == nil {
		cfg.Hub = relay.NewHub(relay.Config{Logger: cfg.Logger})
	}

	s := &Server{
		hub:                  cfg.Hub,
		log:                  cfg.Logger,
		origins:              origin.Policy{AllowedOrigins: cfg.AllowedOrigins},
		idleTimeout:          orDefault(cfg.IdleTimeout, defaultIdleTimeout),
		pingInterval:         orDefault(cfg.PingInterval, defaultPingInterval),
		maxMessageBytes:      orDefault(cfg.MaxMessageBytes, defaultMaxMessageBytes),
		maxMessagesPerSecond: orDefault(cfg.MaxMessagesPerSecond, defaultMaxMessagesPerSecond),
		maxRoomIDLength:      cfg.MaxRoomIDLength,
		sendQueueSize:        orDefault(cfg.SendQueueSize, defaultSendQueueSize),
		sessions:             make(map[*wsSession]struct{}),
	}
	if s.pingInterval >= s.idleTimeout {
		s.pingInterval = s.idleTimeout / 2
	}
	s.upgrader = websocket.Upgrader{
		Subprotocols: wire.Subprotocols,
		CheckOrigin:  s.checkOrigin,
	}
	return s
}

func orDefault[T int | int64 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

func (s *Server) Hub() *relay.Hub { return s.hub }

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /webrtc/signal", s.handleWebSocketSignal)
	mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	mux.HandleFunc("GET /api/rooms/{roomId}", s.handleGetRoom)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Close ends every live WebSocket with a going-away close frame. New upgrades
// are refused afterwards. The hub is left to its owner.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*wsSession, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = nil
	s.closed = true
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.closeWith(websocket.CloseGoingAway, "server shutting down")
		sess.Close()
	}
}

func (s *Server) track(sess *wsSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *wsSession) {
	s.mu.Lock()
	if s.sessions != nil {
		delete(s.sessions, sess)
	}
	s.mu.Unlock()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if _, err := s.origins.Check(r); err != nil {
		s.hub.Metrics().Inc(metrics.OriginRejected)
		s.log.Debug("rejected websocket origin", "origin", r.Header.Get("Origin"), "err", err)
		return false
	}
	return true
}

func (s *Server) handleWebSocketSignal(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error response.
		return
	}

	codec := wire.ForSubprotocol(conn.Subprotocol())
	wss := &wsSession{
		srv:   s,
		conn:  conn,
		codec: codec,
		limiter: ratelimit.NewTokenBucket(
			ratelimit.RealClock{},
			int64(s.maxMessagesPerSecond),
			int64(s.maxMessagesPerSecond),
		),
		send: make(chan wire.Event, s.sendQueueSize),
		done: make(chan struct{}),
	}

	if !s.track(wss) {
		wss.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = conn.Close()
		return
	}
	defer s.untrack(wss)

	id, err := s.hub.Connect(wss)
	if err != nil {
		switch {
		case errors.Is(err, relay.ErrTooManyConnections):
			wss.closeWith(websocket.CloseTryAgainLater, "too many connections")
		case errors.Is(err, relay.ErrHubClosed):
			wss.closeWith(websocket.CloseGoingAway, "server shutting down")
		default:
			s.log.Error("failed to register connection", "err", err)
			wss.closeWith(websocket.CloseInternalServerErr, "internal error")
		}
		_ = conn.Close()
		return
	}
	wss.id = id
	wss.log = s.log.With("conn_id", id, "remote_addr", r.RemoteAddr, "subprotocol", codec.Subprotocol())
	wss.log.Debug("signaling connection opened")

	wss.Deliver(wire.Welcome(id))
	go wss.writePump()
	wss.readPump()
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.hub.Rooms()
	if rooms == nil {
		rooms = []registry.RoomInfo{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	info, ok := s.hub.Room(r.PathValue("roomId"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found", "room not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type httpErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, httpErrorResponse{Code: code, Message: message})
}
