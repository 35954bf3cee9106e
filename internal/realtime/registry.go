package realtime

import "sync"

// SubscribeResult reports what Subscribe did.
type SubscribeResult string

const (
	Subscribed        SubscribeResult = "subscribed"
	AlreadySubscribed SubscribeResult = "already_subscribed"
	UnknownConnection SubscribeResult = "unknown_connection"
)

type connection struct {
	client *Client
	userID string
	roomID string
}

// Registry maps live connections to users and rooms. A connection is
// subscribed to at most one room at a time.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
	rooms map[string]map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*connection),
		rooms: make(map[string]map[string]*Client),
	}
}

// Register records a new connection for userID.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = &connection{client: c, userID: c.UserID}
}

// Subscribe points connID at roomID. Switching rooms drops the previous
// subscription, which is returned so the caller can notify that room.
func (r *Registry) Subscribe(connID, roomID string) (previous string, res SubscribeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return "", UnknownConnection
	}
	if conn.roomID == roomID {
		return roomID, AlreadySubscribed
	}
	previous = conn.roomID
	r.detach(conn)
	conn.roomID = roomID
	members := r.rooms[roomID]
	if members == nil {
		members = make(map[string]*Client)
		r.rooms[roomID] = members
	}
	members[connID] = conn.client
	return previous, Subscribed
}

// Unsubscribe removes connID from roomID. An empty roomID matches any room.
func (r *Registry) Unsubscribe(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok || conn.roomID == "" || (roomID != "" && conn.roomID != roomID) {
		return false
	}
	r.detach(conn)
	return true
}

// OnDisconnect forgets connID and returns the room and user it was bound to.
// Room seats are not touched here; the caller tells the room.
func (r *Registry) OnDisconnect(connID string) (roomID, userID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, found := r.conns[connID]
	if !found {
		return "", "", false
	}
	roomID, userID = conn.roomID, conn.userID
	r.detach(conn)
	delete(r.conns, connID)
	return roomID, userID, true
}

// DropRoom unsubscribes every connection from roomID and returns their ids.
func (r *Registry) DropRoom(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[roomID]
	ids := make([]string, 0, len(members))
	for id := range members {
		if conn, ok := r.conns[id]; ok {
			conn.roomID = ""
		}
		ids = append(ids, id)
	}
	delete(r.rooms, roomID)
	return ids
}

// Subscribers returns the clients subscribed to roomID right now.
func (r *Registry) Subscribers(roomID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Client returns the live client for connID.
func (r *Registry) Client(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return conn.client, true
}

// RoomOf returns the room connID is subscribed to, or "".
func (r *Registry) RoomOf(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if conn, ok := r.conns[connID]; ok {
		return conn.roomID
	}
	return ""
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// detach must be called with mu held.
func (r *Registry) detach(conn *connection) {
	if conn.roomID == "" {
		return
	}
	if members, ok := r.rooms[conn.roomID]; ok {
		delete(members, conn.client.ID)
		if len(members) == 0 {
			delete(r.rooms, conn.roomID)
		}
	}
	conn.roomID = ""
}
