package chat

import (
	"sync"
)

// RoomRegistry is the process-lifetime mapping from room name to the set
// of connection ids currently joined. It never touches durable storage;
// the coordinator keeps store rows consistent with it.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]map[string]struct{})}
}

// Join adds a connection to a room's member set.
func (r *RoomRegistry) Join(room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[connID] = struct{}{}
}

// Leave removes a connection from a room. An emptied set stays in place;
// room metadata persists with zero live members.
func (r *RoomRegistry) Leave(room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.rooms[room]; ok {
		delete(members, connID)
	}
}

// Members returns a snapshot of the connection ids in a room.
func (r *RoomRegistry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		members = append(members, id)
	}
	return members
}

// Has reports whether the registry has seen a room.
func (r *RoomRegistry) Has(room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room]
	return ok
}

// ActiveRooms returns the rooms with at least one live member.
func (r *RoomRegistry) ActiveRooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := make([]string, 0, len(r.rooms))
	for room, members := range r.rooms {
		if len(members) > 0 {
			active = append(active, room)
		}
	}
	return active
}

// Count returns the number of tracked rooms, empty ones included.
func (r *RoomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
