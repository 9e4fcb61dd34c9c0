package relay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/presence"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/router"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/wire"
)

// Sink is the outbound side of one client connection.
type Sink interface {
	// Deliver queues ev without blocking. It returns false when the event was
	// dropped.
	Deliver(ev wire.Event) bool
}

type HostPolicy string

const (
	HostPolicyMultiple  HostPolicy = "multiple"
	HostPolicyExclusive HostPolicy = "exclusive"
)

type Config struct {
	// MaxConnections caps concurrent connections (0 = unlimited).
	MaxConnections int
	HostPolicy     HostPolicy

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// NewID allocates connection ids. Defaults to random UUIDs.
	NewID func() string
}

// Hub is the session lifecycle controller. It owns the registry and applies
// every connect, join, leave, signal and disconnect under a single lock;
// deliveries are resolved under the lock and sent after it is released so a
// slow connection never stalls the registry.
type Hub struct {
	log        *slog.Logger
	metrics    *metrics.Metrics
	maxConns   int
	hostPolicy HostPolicy
	newID      func() string

	mu       sync.Mutex
	reg      *registry.Registry
	notifier *presence.Notifier
	router   *router.Router
	sinks    map[string]Sink
	closed   bool
}

func NewHub(cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.HostPolicy == "" {
		cfg.HostPolicy = HostPolicyMultiple
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	reg := registry.New()
	return &Hub{
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		maxConns:   cfg.MaxConnections,
		hostPolicy: cfg.HostPolicy,
		newID:      cfg.NewID,
		reg:        reg,
		notifier:   presence.NewNotifier(reg),
		router:     router.New(reg),
		sinks:      make(map[string]Sink),
	}
}

func (h *Hub) Metrics() *metrics.Metrics { return h.metrics }

// Connect registers a new connection and returns its id.
func (h *Hub) Connect(sink Sink) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return "", ErrHubClosed
	}
	if h.maxConns > 0 && h.reg.Conns.Len() >= h.maxConns {
		h.metrics.Inc(metrics.DropReasonTooManyConnections)
		return "", ErrTooManyConnections
	}

	for attempt := 0; attempt < 3; attempt++ {
		id := h.newID()
		if _, taken := h.reg.Conns.Lookup(id); taken || id == "" {
			continue
		}
		h.reg.Conns.Register(id)
		h.sinks[id] = sink
		h.metrics.Inc(metrics.ConnectionsOpened)
		return id, nil
	}
	return "", errors.New("failed to allocate unique connection id")
}

// Join moves id into roomID with the given role. Joining the room and role
// already held is a no-op; joining anything else first leaves the current
// room, notifying its remaining members.
func (h *Hub) Join(id, roomID string, role registry.Role) error {
	if roomID == "" {
		return ErrInvalidRoom
	}

	err := h.apply(func() ([]wire.Delivery, error) {
		conn, ok := h.reg.Conns.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: connection %q", registry.ErrNotFound, id)
		}
		if conn.RoomID == roomID && conn.Role == role {
			return nil, nil
		}
		if role == registry.RoleHost && h.hostPolicy == HostPolicyExclusive {
			for _, hostID := range h.reg.Rooms.MembersWithRole(roomID, registry.RoleHost) {
				if hostID != id {
					return nil, ErrHostTaken
				}
			}
		}

		var out []wire.Delivery
		if conn.Joined() {
			out = append(out, h.leaveLocked(conn)...)
			h.metrics.Inc(metrics.ImplicitLeaves)
		}
		if err := h.reg.Conns.SetMembership(id, roomID, role); err != nil {
			return out, err
		}
		h.reg.Rooms.Join(roomID, id)
		h.metrics.Inc(metrics.Joins)

		joined, _ := h.reg.Conns.Lookup(id)
		return append(out, h.notifier.OnJoin(joined)...), nil
	})
	if errors.Is(err, ErrHostTaken) {
		h.metrics.Inc(metrics.DropReasonHostTaken)
	}
	if err == nil {
		h.log.Debug("connection joined room", "conn_id", id, "room_id", roomID, "role", role)
	}
	return err
}

// Leave takes id out of its room. It is a no-op when id is not joined or
// roomID names a different room.
func (h *Hub) Leave(id, roomID string) error {
	return h.apply(func() ([]wire.Delivery, error) {
		conn, ok := h.reg.Conns.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: connection %q", registry.ErrNotFound, id)
		}
		if !conn.Joined() || (roomID != "" && roomID != conn.RoomID) {
			return nil, nil
		}
		h.metrics.Inc(metrics.Leaves)
		h.log.Debug("connection left room", "conn_id", id, "room_id", conn.RoomID)
		return h.leaveLocked(conn), nil
	})
}

// Signal forwards an offer, answer or candidate from id. Errors wrapping
// registry.ErrNotFound mean the message was dropped because the sender,
// room or target is gone.
func (h *Hub) Signal(id string, msg router.Message) error {
	var n int
	err := h.apply(func() ([]wire.Delivery, error) {
		out, err := h.router.Route(id, msg)
		n = len(out)
		return out, err
	})
	switch {
	case err == nil:
		h.metrics.Add(metrics.SignalsForwarded, uint64(n))
	case errors.Is(err, registry.ErrNotFound):
		h.metrics.Inc(metrics.DropReasonNotFound)
	}
	return err
}

// Disconnect implies leave and then destroys the connection record. Unknown
// ids are ignored, so the departure is announced at most once.
func (h *Hub) Disconnect(id string) {
	_ = h.apply(func() ([]wire.Delivery, error) {
		conn, ok := h.reg.Conns.Lookup(id)
		if !ok {
			return nil, nil
		}
		var out []wire.Delivery
		if conn.Joined() {
			out = h.leaveLocked(conn)
		}
		h.reg.Conns.Unregister(id)
		delete(h.sinks, id)
		h.metrics.Inc(metrics.ConnectionsClosed)
		return out, nil
	})
}

func (h *Hub) Lookup(id string) (registry.Connection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reg.Conns.Lookup(id)
}

func (h *Hub) Members(roomID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reg.Rooms.Members(roomID)
}

func (h *Hub) Rooms() []registry.RoomInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reg.Rooms.List()
}

func (h *Hub) Room(roomID string) (registry.RoomInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reg.Rooms.Info(roomID)
}

func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reg.Conns.Len()
}

func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reg.Rooms.Len()
}

// Close clears all state. Later Connect calls fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.reg.Reset()
	h.sinks = make(map[string]Sink)
}

// leaveLocked removes conn from its room and returns the leave notifications.
// conn must be the record as it was before the call.
func (h *Hub) leaveLocked(conn registry.Connection) []wire.Delivery {
	h.reg.Rooms.Leave(conn.RoomID, conn.ID)
	h.reg.Conns.ClearMembership(conn.ID)
	return h.notifier.OnLeave(conn)
}

type outbound struct {
	to   string
	sink Sink
	ev   wire.Event
}

func (h *Hub) apply(fn func() ([]wire.Delivery, error)) error {
	h.mu.Lock()
	deliveries, err := fn()
	out := make([]outbound, 0, len(deliveries))
	for _, d := range deliveries {
		sink, ok := h.sinks[d.To]
		if !ok || sink == nil {
			continue
		}
		out = append(out, outbound{to: d.To, sink: sink, ev: d.Event})
	}
	h.mu.Unlock()

	for _, o := range out {
		if o.sink.Deliver(o.ev) {
			h.metrics.Inc(metrics.EventsDelivered)
			continue
		}
		h.metrics.Inc(metrics.DropReasonSendQueueFull)
		h.log.Debug("dropped event for slow connection", "conn_id", o.to, "event", o.ev.Type)
	}
	return err
}
