package relay

import "errors"

var (
	ErrTooManyConnections = errors.New("too many connections")
	// ErrHostTaken is returned by Join under HostPolicyExclusive when the room
	// already has a different host.
	ErrHostTaken   = errors.New("room already has a host")
	ErrInvalidRoom = errors.New("room id must not be empty")
	ErrHubClosed   = errors.New("hub closed")
)
