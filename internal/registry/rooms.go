package registry

import "sort"

// RoomInfo is a point-in-time view of one room.
type RoomInfo struct {
	RoomID  string   `json:"roomId"`
	Members []string `json:"members"`
	Hosts   []string `json:"hosts"`
	Viewers []string `json:"viewers"`
}

type Rooms struct {
	conns *Connections
	m     map[string]map[string]struct{}
}

func NewRooms(conns *Connections) *Rooms {
	return &Rooms{
		conns: conns,
		m:     make(map[string]map[string]struct{}),
	}
}

func (r *Rooms) Join(roomID, id string) {
	members, ok := r.m[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.m[roomID] = members
	}
	members[id] = struct{}{}
}

// Leave removes id from the room and prunes the room once it is empty.
func (r *Rooms) Leave(roomID, id string) {
	members, ok := r.m[roomID]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.m, roomID)
	}
}

// Members returns the sorted member ids of roomID, or nil for an unknown room.
func (r *Rooms) Members(roomID string) []string {
	members := r.m[roomID]
	if len(members) == 0 {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Rooms) MembersWithRole(roomID string, role Role) []string {
	var out []string
	for _, id := range r.Members(roomID) {
		conn, ok := r.conns.Lookup(id)
		if ok && conn.Role == role {
			out = append(out, id)
		}
	}
	return out
}

func (r *Rooms) Contains(roomID, id string) bool {
	_, ok := r.m[roomID][id]
	return ok
}

func (r *Rooms) Len() int { return len(r.m) }

func (r *Rooms) Info(roomID string) (RoomInfo, bool) {
	members := r.Members(roomID)
	if len(members) == 0 {
		return RoomInfo{}, false
	}
	info := RoomInfo{
		RoomID:  roomID,
		Members: members,
		Hosts:   []string{},
		Viewers: []string{},
	}
	for _, id := range members {
		conn, _ := r.conns.Lookup(id)
		switch conn.Role {
		case RoleHost:
			info.Hosts = append(info.Hosts, id)
		case RoleViewer:
			info.Viewers = append(info.Viewers, id)
		}
	}
	return info, true
}

// List returns every non-empty room sorted by id.
func (r *Rooms) List() []RoomInfo {
	ids := make([]string, 0, len(r.m))
	for id := range r.m {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]RoomInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := r.Info(id); ok {
			out = append(out, info)
		}
	}
	return out
}
