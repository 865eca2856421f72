// Package registry tracks live connections, their room memberships, and
// per-connection counters.
//
// The registry is the only mutable shared structure on the server; every
// component goes through Join/Leave/MembersOf and the counter accessors,
// never touching membership directly.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Connection is the registry's record of one live transport session.
type Connection struct {
	ID                string
	CreatedAt         time.Time
	rooms             map[string]struct{}
	adminJoinAttempts int
}

// Registry tracks every live connection. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add creates a record for a new transport session. Called the instant the
// transport reports the session; the counter starts at zero.
func (r *Registry) Add(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = &Connection{
		ID:        connID,
		CreatedAt: time.Now(),
		rooms:     make(map[string]struct{}),
	}
}

// OnDisconnect destroys the record and with it every room membership.
// No broadcast or persistence side effect accompanies removal.
func (r *Registry) OnDisconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connID)
}

// Join adds the connection to a room. Returns false if the connection is
// not registered (already disconnected).
func (r *Registry) Join(connID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return false
	}
	conn.rooms[room] = struct{}{}
	return true
}

// Leave removes the connection from a room.
func (r *Registry) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connID]; ok {
		delete(conn.rooms, room)
	}
}

// InRoom reports whether the connection is currently a member of the room.
func (r *Registry) InRoom(connID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, member := conn.rooms[room]
	return member
}

// MembersOf returns the IDs of every connection in the room, sorted for
// deterministic iteration in tests.
func (r *Registry) MembersOf(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var members []string
	for id, conn := range r.conns {
		if _, ok := conn.rooms[room]; ok {
			members = append(members, id)
		}
	}
	sort.Strings(members)
	return members
}

// IncrementJoinAttempts bumps the connection's privileged-join counter and
// returns the new value. The counter is monotonic for the connection's
// lifetime; it is never reset. Returns false if the connection is unknown.
func (r *Registry) IncrementJoinAttempts(connID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return 0, false
	}
	conn.adminJoinAttempts++
	return conn.adminJoinAttempts, true
}

// JoinAttempts returns the current counter value.
func (r *Registry) JoinAttempts(connID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if conn, ok := r.conns[connID]; ok {
		return conn.adminJoinAttempts
	}
	return 0
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stats is a point-in-time snapshot for the health endpoint.
type Stats struct {
	Connections int
	Rooms       map[string]int
}

// Snapshot returns current registry statistics.
func (r *Registry) Snapshot() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make(map[string]int)
	for _, conn := range r.conns {
		for room := range conn.rooms {
			rooms[room]++
		}
	}
	return Stats{Connections: len(r.conns), Rooms: rooms}
}
