package metrics

import "sync"

// Event names.
const (
	ConnectionsOpened  = "connections_opened"
	ConnectionsClosed  = "connections_closed"
	Joins              = "joins"
	Leaves             = "leaves"
	ImplicitLeaves     = "implicit_leaves"
	SignalsForwarded   = "signals_forwarded"
	EventsDelivered    = "events_delivered"
	OriginRejected     = "origin_rejected"
	TURNRESTIssued     = "turn_rest_credentials_issued"
	TURNRESTIssueError = "turn_rest_credentials_error"
)

// Drop reasons.
const (
	DropReasonRateLimited        = "rate_limited"
	DropReasonBadMessage         = "bad_message"
	DropReasonMessageTooLarge    = "message_too_large"
	DropReasonNotFound           = "signal_dropped_not_found"
	DropReasonSendQueueFull      = "delivery_dropped"
	DropReasonWriteFailed        = "write_failed"
	DropReasonTooManyConnections = "too_many_connections"
	DropReasonHostTaken          = "host_taken"
)

// Metrics is a concurrency-safe counter registry exported by
// PrometheusHandler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
