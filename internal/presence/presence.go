// Package presence computes the membership notifications for join and leave
// transitions.
//
// The Notifier only reads the registry; callers apply the transition first
// and then ask for the notifications while still holding the registry lock.
package presence

import (
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/wire"
)

type Notifier struct {
	reg *registry.Registry
}

func NewNotifier(reg *registry.Registry) *Notifier {
	return &Notifier{reg: reg}
}

// OnJoin returns the notifications for conn having just joined conn.RoomID.
//
// Symmetric joins announce the newcomer to every other member. In host/viewer
// rooms a viewer is announced to the hosts only, and a host is announced to
// the whole room and is told about every viewer that is already waiting.
func (n *Notifier) OnJoin(conn registry.Connection) []wire.Delivery {
	if !conn.Joined() {
		return nil
	}
	rooms := n.reg.Rooms

	switch conn.Role {
	case registry.RoleViewer:
		ev := wire.Event{Type: wire.KindUserJoined, ID: conn.ID, RoomID: conn.RoomID, Role: string(conn.Role)}
		return fanOut(rooms.MembersWithRole(conn.RoomID, registry.RoleHost), conn.ID, ev)

	case registry.RoleHost:
		ev := wire.Event{Type: wire.KindHostJoined, ID: conn.ID, RoomID: conn.RoomID}
		out := fanOut(rooms.Members(conn.RoomID), conn.ID, ev)
		for _, viewerID := range rooms.MembersWithRole(conn.RoomID, registry.RoleViewer) {
			out = append(out, wire.Delivery{
				To: conn.ID,
				Event: wire.Event{
					Type:   wire.KindUserJoined,
					ID:     viewerID,
					RoomID: conn.RoomID,
					Role:   string(registry.RoleViewer),
				},
			})
		}
		return out

	default:
		ev := wire.Event{Type: wire.KindUserJoined, ID: conn.ID, RoomID: conn.RoomID}
		return fanOut(rooms.Members(conn.RoomID), conn.ID, ev)
	}
}

// OnLeave returns the notifications for conn having just left conn.RoomID.
// conn is the record as it was before membership was cleared.
func (n *Notifier) OnLeave(conn registry.Connection) []wire.Delivery {
	if !conn.Joined() {
		return nil
	}
	ev := wire.Event{Type: wire.KindUserLeft, ID: conn.ID, RoomID: conn.RoomID, Role: string(conn.Role)}
	return fanOut(n.reg.Rooms.Members(conn.RoomID), conn.ID, ev)
}

func fanOut(recipients []string, exclude string, ev wire.Event) []wire.Delivery {
	out := make([]wire.Delivery, 0, len(recipients))
	for _, id := range recipients {
		if id == exclude {
			continue
		}
		out = append(out, wire.Delivery{To: id, Event: ev})
	}
	return out
}
