package registry

import "fmt"

// Connection is the per-channel record. RoomID is a lookup key into Rooms,
// not an ownership edge.
type Connection struct {
	ID     string
	RoomID string
	Role   Role
}

func (c Connection) Joined() bool { return c.RoomID != "" }

type Connections struct {
	m map[string]*Connection
}

func NewConnections() *Connections {
	return &Connections{m: make(map[string]*Connection)}
}

// Register creates a record with no room and no role. Registering an id that
// already exists resets its membership.
func (c *Connections) Register(id string) {
	c.m[id] = &Connection{ID: id}
}

func (c *Connections) SetMembership(id, roomID string, role Role) error {
	conn, ok := c.m[id]
	if !ok {
		return fmt.Errorf("%w: connection %q", ErrNotFound, id)
	}
	conn.RoomID = roomID
	conn.Role = role
	return nil
}

func (c *Connections) ClearMembership(id string) {
	if conn, ok := c.m[id]; ok {
		conn.RoomID = ""
		conn.Role = RoleNone
	}
}

func (c *Connections) Lookup(id string) (Connection, bool) {
	conn, ok := c.m[id]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

func (c *Connections) Unregister(id string) {
	delete(c.m, id)
}

func (c *Connections) Len() int { return len(c.m) }
