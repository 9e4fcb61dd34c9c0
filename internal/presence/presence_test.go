package presence

import (
	"sort"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/wire"
)

func join(t *testing.T, reg *registry.Registry, id, room string, role registry.Role) registry.Connection {
	t.Helper()
	if _, ok := reg.Conns.Lookup(id); !ok {
		reg.Conns.Register(id)
	}
	if err := reg.Conns.SetMembership(id, room, role); err != nil {
		t.Fatalf("SetMembership(%s): %v", id, err)
	}
	reg.Rooms.Join(room, id)
	conn, _ := reg.Conns.Lookup(id)
	return conn
}

func leave(reg *registry.Registry, id string) registry.Connection {
	conn, _ := reg.Conns.Lookup(id)
	reg.Rooms.Leave(conn.RoomID, id)
	reg.Conns.ClearMembership(id)
	return conn
}

func recipients(ds []wire.Delivery) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.To)
	}
	sort.Strings(out)
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOnJoin_SymmetricNotifiesOthers(t *testing.T) {
	reg := registry.New()
	n := NewNotifier(reg)

	if got := n.OnJoin(join(t, reg, "a", "math101", registry.RoleNone)); len(got) != 0 {
		t.Fatalf("first join notified %v, want nobody", recipients(got))
	}
	join(t, reg, "b", "math101", registry.RoleNone)
	got := n.OnJoin(join(t, reg, "c", "math101", registry.RoleNone))

	if r := recipients(got); !equal(r, []string{"a", "b"}) {
		t.Fatalf("recipients=%v, want [a b]", r)
	}
	for _, d := range got {
		if d.Event.Type != wire.KindUserJoined || d.Event.ID != "c" || d.Event.RoomID != "math101" {
			t.Fatalf("unexpected event %+v", d.Event)
		}
	}
}

func TestOnJoin_ViewerNotifiesHostsOnly(t *testing.T) {
	reg := registry.New()
	n := NewNotifier(reg)

	join(t, reg, "h", "class", registry.RoleHost)
	join(t, reg, "v1", "class", registry.RoleViewer)
	got := n.OnJoin(join(t, reg, "v2", "class", registry.RoleViewer))

	if r := recipients(got); !equal(r, []string{"h"}) {
		t.Fatalf("recipients=%v, want [h]", r)
	}
	if got[0].Event.Type != wire.KindUserJoined || got[0].Event.ID != "v2" || got[0].Event.Role != "viewer" {
		t.Fatalf("unexpected event %+v", got[0].Event)
	}
}

func TestOnJoin_ViewerWithoutHostNotifiesNobody(t *testing.T) {
	reg := registry.New()
	n := NewNotifier(reg)

	join(t, reg, "v1", "class", registry.RoleViewer)
	if got := n.OnJoin(join(t, reg, "v2", "class", registry.RoleViewer)); len(got) != 0 {
		t.Fatalf("recipients=%v, want none", recipients(got))
	}
}

func TestOnJoin_LateHostLearnsEveryViewer(t *testing.T) {
	const viewers = 5

	reg := registry.New()
	n := NewNotifier(reg)

	var viewerIDs []string
	for i := 0; i < viewers; i++ {
		id := string(rune('a' + i))
		viewerIDs = append(viewerIDs, id)
		join(t, reg, id, "class", registry.RoleViewer)
	}

	got := n.OnJoin(join(t, reg, "host", "class", registry.RoleHost))

	var broadcast []string
	seen := map[string]bool{}
	for _, d := range got {
		switch d.Event.Type {
		case wire.KindHostJoined:
			if d.Event.ID != "host" {
				t.Fatalf("host-joined id=%q, want host", d.Event.ID)
			}
			broadcast = append(broadcast, d.To)
		case wire.KindUserJoined:
			if d.To != "host" {
				t.Fatalf("user-joined sent to %q, want host", d.To)
			}
			if seen[d.Event.ID] {
				t.Fatalf("duplicate user-joined for %q", d.Event.ID)
			}
			seen[d.Event.ID] = true
		default:
			t.Fatalf("unexpected event %+v", d.Event)
		}
	}

	if len(seen) != viewers {
		t.Fatalf("host received %d user-joined, want %d", len(seen), viewers)
	}
	sort.Strings(broadcast)
	if !equal(broadcast, viewerIDs) {
		t.Fatalf("host-joined recipients=%v, want %v", broadcast, viewerIDs)
	}
}

func TestOnLeave_NotifiesRemainingMembers(t *testing.T) {
	reg := registry.New()
	n := NewNotifier(reg)

	join(t, reg, "h", "class", registry.RoleHost)
	join(t, reg, "v1", "class", registry.RoleViewer)
	join(t, reg, "v2", "class", registry.RoleViewer)

	got := n.OnLeave(leave(reg, "v1"))
	if r := recipients(got); !equal(r, []string{"h", "v2"}) {
		t.Fatalf("recipients=%v, want [h v2]", r)
	}
	for _, d := range got {
		if d.Event.Type != wire.KindUserLeft || d.Event.ID != "v1" || d.Event.Role != "viewer" {
			t.Fatalf("unexpected event %+v", d.Event)
		}
	}
}

func TestOnLeave_NotJoinedIsSilent(t *testing.T) {
	reg := registry.New()
	n := NewNotifier(reg)
	reg.Conns.Register("a")
	conn, _ := reg.Conns.Lookup("a")

	if got := n.OnLeave(conn); len(got) != 0 {
		t.Fatalf("got %d notifications, want none", len(got))
	}
	if got := n.OnJoin(conn); len(got) != 0 {
		t.Fatalf("got %d notifications, want none", len(got))
	}
}
