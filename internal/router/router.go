// Package router resolves the recipients of offer, answer and ICE candidate
// messages.
package router

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/wire"
)

var (
	ErrNotJoined     = fmt.Errorf("%w: sender has not joined a room", registry.ErrNotFound)
	ErrRoomMismatch  = fmt.Errorf("%w: sender is not in the named room", registry.ErrNotFound)
	ErrUnknownTarget = fmt.Errorf("%w: target is not a member of the sender's room", registry.ErrNotFound)

	ErrNotSignal = errors.New("not a signaling message kind")
)

// Message is an inbound handshake message. The sender is implicit.
type Message struct {
	Kind     wire.Kind
	RoomID   string
	TargetID string
	Payload  json.RawMessage
}

type Router struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Router {
	return &Router{reg: reg}
}

// Route returns the deliveries for msg sent by senderID. With a TargetID the
// message goes to that connection only; otherwise it is broadcast to every
// other member of the sender's room. Every delivery is tagged with senderID
// and carries the payload untouched.
//
// Signaling is scoped to rooms: the sender must have joined one, and a target
// must be a member of that same room. A target that is connected but in
// another room is treated like an unknown one (ErrUnknownTarget), and a
// sender outside any room gets ErrNotJoined. Both wrap registry.ErrNotFound.
func (r *Router) Route(senderID string, msg Message) ([]wire.Delivery, error) {
	if !msg.Kind.IsSignal() {
		return nil, fmt.Errorf("%w: %q", ErrNotSignal, msg.Kind)
	}

	sender, ok := r.reg.Conns.Lookup(senderID)
	if !ok {
		return nil, fmt.Errorf("%w: connection %q", registry.ErrNotFound, senderID)
	}
	if !sender.Joined() {
		return nil, ErrNotJoined
	}
	if msg.RoomID != "" && msg.RoomID != sender.RoomID {
		return nil, ErrRoomMismatch
	}

	ev := wire.Signal(msg.Kind, senderID, sender.RoomID, msg.Payload)

	if msg.TargetID != "" {
		if !r.reg.Rooms.Contains(sender.RoomID, msg.TargetID) {
			return nil, ErrUnknownTarget
		}
		return []wire.Delivery{{To: msg.TargetID, Event: ev}}, nil
	}

	members := r.reg.Rooms.Members(sender.RoomID)
	out := make([]wire.Delivery, 0, len(members))
	for _, id := range members {
		if id == senderID {
			continue
		}
		out = append(out, wire.Delivery{To: id, Event: ev})
	}
	return out, nil
}
