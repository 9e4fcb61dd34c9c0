package router

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/wire"
)

func newRegistry(t *testing.T, rooms map[string][]string) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for room, ids := range rooms {
		for _, id := range ids {
			reg.Conns.Register(id)
			if err := reg.Conns.SetMembership(id, room, registry.RoleNone); err != nil {
				t.Fatalf("SetMembership: %v", err)
			}
			reg.Rooms.Join(room, id)
		}
	}
	return reg
}

func TestRoute_TargetedReachesOnlyTarget(t *testing.T) {
	reg := newRegistry(t, map[string][]string{"math101": {"s", "t", "u"}})
	r := New(reg)

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	got, err := r.Route("s", Message{Kind: wire.KindOffer, TargetID: "t", Payload: payload})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(got) != 1 || got[0].To != "t" {
		t.Fatalf("deliveries=%+v, want only t", got)
	}
	ev := got[0].Event
	if ev.Type != wire.KindOffer || ev.SenderID != "s" || string(ev.Payload()) != string(payload) {
		t.Fatalf("event=%+v", ev)
	}
}

func TestRoute_BroadcastExcludesSenderAndOtherRooms(t *testing.T) {
	reg := newRegistry(t, map[string][]string{
		"r":     {"s", "a", "b"},
		"other": {"x"},
	})
	r := New(reg)

	got, err := r.Route("s", Message{Kind: wire.KindICECandidate, Payload: json.RawMessage(`{"candidate":""}`)})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	var to []string
	for _, d := range got {
		to = append(to, d.To)
		if d.Event.SenderID != "s" || d.Event.Type != wire.KindICECandidate || d.Event.RoomID != "r" {
			t.Fatalf("event=%+v", d.Event)
		}
	}
	sort.Strings(to)
	if len(to) != 2 || to[0] != "a" || to[1] != "b" {
		t.Fatalf("recipients=%v, want [a b]", to)
	}
}

func TestRoute_NotFoundCases(t *testing.T) {
	reg := newRegistry(t, map[string][]string{
		"r":     {"s", "a"},
		"other": {"x"},
	})
	reg.Conns.Register("lonely")
	r := New(reg)

	for _, tc := range []struct {
		name   string
		sender string
		msg    Message
		want   error
	}{
		{"unknown sender", "ghost", Message{Kind: wire.KindOffer}, registry.ErrNotFound},
		{"not joined", "lonely", Message{Kind: wire.KindOffer}, ErrNotJoined},
		{"room mismatch", "s", Message{Kind: wire.KindOffer, RoomID: "other"}, ErrRoomMismatch},
		{"unknown target", "s", Message{Kind: wire.KindAnswer, TargetID: "gone"}, ErrUnknownTarget},
		{"target in another room", "s", Message{Kind: wire.KindAnswer, TargetID: "x"}, ErrUnknownTarget},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Route(tc.sender, tc.msg)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
			if !errors.Is(err, registry.ErrNotFound) {
				t.Fatalf("err=%v should classify as not found", err)
			}
			if len(got) != 0 {
				t.Fatalf("deliveries=%+v, want none", got)
			}
		})
	}
}

func TestRoute_ExplicitMatchingRoomIsAccepted(t *testing.T) {
	reg := newRegistry(t, map[string][]string{"r": {"s", "a"}})
	got, err := New(reg).Route("s", Message{Kind: wire.KindAnswer, RoomID: "r", Payload: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(got) != 1 || got[0].To != "a" {
		t.Fatalf("deliveries=%+v", got)
	}
}

func TestRoute_RejectsNonSignalKinds(t *testing.T) {
	reg := newRegistry(t, map[string][]string{"r": {"s"}})
	if _, err := New(reg).Route("s", Message{Kind: wire.KindUserJoined}); !errors.Is(err, ErrNotSignal) {
		t.Fatalf("err=%v, want ErrNotSignal", err)
	}
}
