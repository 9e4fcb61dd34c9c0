// Package signaling is the WebSocket transport in front of the relay hub.
//
// Each client gets one wsSession: a read pump that decodes, validates and
// dispatches inbound messages to the hub, and a write pump that drains a
// bounded send queue. The package also serves the read-only room listing.
package signaling
