// Package websocket is the connection layer: it upgrades HTTP requests,
// pumps frames for each client, and fans coordinator events out to the
// connections in a room.
package websocket

import (
	"encoding/json"
	"log"
	"sync"
)

// Resolver maps a room name to the connection ids currently joined. The
// chat registry satisfies it.
type Resolver interface {
	Members(room string) []string
}

// Envelope is the framing for every websocket message in both
// directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub tracks active clients by socket id and delivers events to them.
// It implements chat.Emitter.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	resolver Resolver

	register   chan *Client
	unregister chan *Client
}

// NewHub creates a hub that resolves room membership through the given
// resolver.
func NewHub(resolver Resolver) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		resolver:   resolver,
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes registration and unregistration. Call in its own
// goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("client %s connected, %d active", client.id, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("client %s disconnected, %d active", client.id, total)
		}
	}
}

// ActiveConnections returns the number of registered clients.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ToConnection sends an event to a single connection.
func (h *Hub) ToConnection(connID, event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		log.Printf("encoding %s event: %v", event, err)
		return
	}
	h.mu.RLock()
	client := h.clients[connID]
	h.mu.RUnlock()
	if client != nil {
		h.deliver(client, data)
	}
}

// ToRoom sends an event to every connection in a room.
func (h *Hub) ToRoom(room, event string, payload any) {
	h.toRoom(room, "", event, payload)
}

// ToRoomExcept sends an event to a room, skipping one connection.
func (h *Hub) ToRoomExcept(room, exceptID, event string, payload any) {
	h.toRoom(room, exceptID, event, payload)
}

// ToAll sends an event to every registered connection.
func (h *Hub) ToAll(event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		log.Printf("encoding %s event: %v", event, err)
		return
	}
	for _, client := range h.snapshot() {
		h.deliver(client, data)
	}
}

func (h *Hub) toRoom(room, exceptID, event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		log.Printf("encoding %s event: %v", event, err)
		return
	}
	for _, id := range h.resolver.Members(room) {
		if id == exceptID {
			continue
		}
		h.mu.RLock()
		client := h.clients[id]
		h.mu.RUnlock()
		if client != nil {
			h.deliver(client, data)
		}
	}
}

// deliver queues a frame without blocking; a client whose buffer is full
// is dropped rather than stalling the broadcast. The read lock is held
// across the send so the channel cannot be closed mid-send.
func (h *Hub) deliver(client *Client, data []byte) {
	h.mu.RLock()
	_, registered := h.clients[client.id]
	if !registered {
		h.mu.RUnlock()
		return
	}
	select {
	case client.send <- data:
		h.mu.RUnlock()
		return
	default:
	}
	h.mu.RUnlock()

	h.mu.Lock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		close(client.send)
	}
	h.mu.Unlock()
	log.Printf("client %s dropped: send buffer full", client.id)
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
