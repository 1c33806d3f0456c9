// Package registry tracks which sessions are connected to which ride room.
package registry

import (
	"sort"
	"sync"
)

// Session is a connected participant that can receive frames.
type Session interface {
	ID() string
	Deliver(frame []byte) error
}

// Registry maps room IDs to their connected sessions.
// A room exists only while at least one session is registered under it.
type Registry struct {
	rooms map[string]map[string]Session // roomID -> sessionID -> Session
	mu    sync.RWMutex
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]Session),
	}
}

// Join adds a session to a room, creating the room if needed.
// It reports whether the session was added. An empty room ID is ignored,
// and joining twice with the same session ID does not duplicate it.
func (r *Registry) Join(roomID string, s Session) bool {
	if roomID == "" || s == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Session)
		r.rooms[roomID] = members
	}
	if _, exists := members[s.ID()]; exists {
		return false
	}
	members[s.ID()] = s
	return true
}

// Leave removes a session from a room and drops the room once it is empty.
// It reports whether the session was a member.
func (r *Registry) Leave(roomID string, s Session) bool {
	if s == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, exists := members[s.ID()]; !exists {
		return false
	}
	delete(members, s.ID())
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// Members returns a snapshot of the sessions in a room, ordered by ID.
// The slice is safe to use while other goroutines join or leave.
func (r *Registry) Members(roomID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Size returns the number of sessions in a room.
func (r *Registry) Size(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// RoomCount returns the number of rooms with at least one session.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// SessionCount returns the number of registered sessions across all rooms.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, members := range r.rooms {
		n += len(members)
	}
	return n
}

// Sessions returns a snapshot of every registered session.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Session
	for _, members := range r.rooms {
		for _, s := range members {
			out = append(out, s)
		}
	}
	return out
}
