// Package registry holds the in-memory connection and room tables.
//
// None of the types here are safe for concurrent use. The relay hub owns a
// single Registry and guards every call with its own lock so that compound
// transitions (leave + join, leave + unregister) are applied atomically.
package registry

import "errors"

// ErrNotFound is returned (or wrapped) when an operation references an
// unknown connection or room.
var ErrNotFound = errors.New("not found")

type Role string

const (
	RoleNone   Role = ""
	RoleHost   Role = "host"
	RoleViewer Role = "viewer"
)

// ParseRole accepts the roles a client may declare at join time.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleNone, RoleHost, RoleViewer:
		return Role(raw), true
	default:
		return RoleNone, false
	}
}

// Registry bundles the connection table with the room table derived from it.
type Registry struct {
	Conns *Connections
	Rooms *Rooms
}

func New() *Registry {
	conns := NewConnections()
	return &Registry{
		Conns: conns,
		Rooms: NewRooms(conns),
	}
}

// Reset drops every connection and room.
func (r *Registry) Reset() {
	r.Conns.m = make(map[string]*Connection)
	r.Rooms.m = make(map[string]map[string]struct{})
}
