package websocket

import (
	"sort"
	"sync"

	"chatgate/pkg/interfaces"
)

// Registry tracks live connections and their room subscriptions
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic.
// Rooms are a delivery concept only; who may join one is decided by the caller.
type Registry struct {
	mu          sync.RWMutex                                 // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy fan-out lookups
	connections map[string]interfaces.Connection             // connID -> Connection
	rooms       map[string]map[string]interfaces.Connection  // room -> connID -> Connection
	memberships map[string]map[string]struct{}               // connID -> rooms
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		rooms:       make(map[string]map[string]interfaces.Connection),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Register adds a connection
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	r.memberships[conn.ID()] = make(map[string]struct{})
	return nil
}

// Unregister removes a connection from every room and returns those rooms.
// Idempotent.
func (r *Registry) Unregister(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := r.memberships[connID]
	left := make([]string, 0, len(rooms))
	for room := range rooms {
		r.leaveLocked(connID, room)
		left = append(left, room)
	}
	delete(r.memberships, connID)
	delete(r.connections, connID)

	sort.Strings(left)
	return left
}

// Join subscribes a registered connection to room. Returns false if it already was.
func (r *Registry) Join(connID, room string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[connID]
	if !exists {
		return false, ErrUnknownConnection
	}
	if _, joined := r.memberships[connID][room]; joined {
		return false, nil
	}

	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]interfaces.Connection)
	}
	r.rooms[room][connID] = conn
	r.memberships[connID][room] = struct{}{}
	return true, nil
}

// Leave unsubscribes a connection from room. Returns false if it was not subscribed.
func (r *Registry) Leave(connID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(connID, room)
}

func (r *Registry) leaveLocked(connID, room string) bool {
	members, exists := r.rooms[room]
	if !exists {
		return false
	}
	if _, subscribed := members[connID]; !subscribed {
		return false
	}

	delete(members, connID)
	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if rooms, ok := r.memberships[connID]; ok {
		delete(rooms, room)
	}
	return true
}

// Get returns a registered connection
func (r *Registry) Get(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[connID]
	return conn, exists
}

// IsSubscribed reports whether connID is in room
func (r *Registry) IsSubscribed(connID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.memberships[connID][room]
	return ok
}

// Members returns a snapshot of the connections subscribed to room
func (r *Registry) Members(room string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]interfaces.Connection, 0, len(members))
	for _, conn := range members {
		out = append(out, conn)
	}
	return out
}

// Rooms returns the rooms a connection is subscribed to, sorted
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.memberships[connID]))
	for room := range r.memberships[connID] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// UserConnections returns every registered connection authenticated as userID
func (r *Registry) UserConnections(userID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []interfaces.Connection
	for _, conn := range r.connections {
		if identity, ok := conn.Identity(); ok && identity.UserID == userID {
			out = append(out, conn)
		}
	}
	return out
}

// All returns a snapshot of every registered connection
func (r *Registry) All() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		out = append(out, conn)
	}
	return out
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"active_rooms":      len(r.rooms),
	}
}
