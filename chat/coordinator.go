// Package chat implements the session coordination layer: the in-memory
// room registry and the protocol state machine that drives join, send,
// room switching and disconnect.
package chat

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cipherchat/chat_backend/crypto"
	"github.com/cipherchat/chat_backend/database"
	"github.com/cipherchat/chat_backend/models"
)

const maxNameLength = 20

// User is the ephemeral session state for one live connection, owned
// exclusively by the coordinator.
type User struct {
	ID       string
	Username string
	Room     string
	JoinedAt time.Time
}

// Coordinator orchestrates the key manager, store, registry and emitter
// for every connection event. Handlers for different connections run
// concurrently; shared state sits behind the coordinator's own mutex.
type Coordinator struct {
	mu    sync.RWMutex
	users map[string]*User

	registry     *RoomRegistry
	store        *database.Store
	keys         *crypto.KeyManager
	emit         Emitter
	historyLimit int
}

func NewCoordinator(store *database.Store, keys *crypto.KeyManager, registry *RoomRegistry, emit Emitter, historyLimit int) *Coordinator {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Coordinator{
		users:        make(map[string]*User),
		registry:     registry,
		store:        store,
		keys:         keys,
		emit:         emit,
		historyLimit: historyLimit,
	}
}

// Join registers a connection under a username and room, issues its
// keypair, and delivers the key exchange, welcome notice and room
// history. A store failure aborts the join.
func (c *Coordinator) Join(connID, username, room string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return validationErr("username", "must not be empty")
	}
	if utf8.RuneCountInString(username) > maxNameLength {
		return validationErr("username", fmt.Sprintf("longer than %d characters", maxNameLength))
	}
	room = strings.TrimSpace(room)
	if room == "" {
		room = database.DefaultRoom
	}

	pair, err := c.keys.IssueUserKeys(connID)
	if err != nil {
		return err
	}

	created, err := c.store.CreateRoom(room, username, false, "", "")
	if err != nil {
		c.keys.Revoke(connID)
		return err
	}
	if err := c.store.UpsertSession(connID, username, room, pair.PublicKey); err != nil {
		c.keys.Revoke(connID)
		return err
	}

	user := &User{ID: connID, Username: username, Room: room, JoinedAt: time.Now()}
	c.mu.Lock()
	c.users[connID] = user
	c.mu.Unlock()
	c.registry.Join(room, connID)

	if created && room != database.DefaultRoom {
		c.emit.ToAll(EventNewRoomCreated, NewRoomNotice{RoomName: room, CreatedBy: username})
	}

	exchange, err := c.keys.RoomKeyExchange(room, pair.PublicKey)
	if err != nil {
		log.Printf("room key exchange failed for %s: %v", connID, err)
	}
	c.emit.ToConnection(connID, EventKeyExchange, KeyExchange{UserKeys: pair, RoomKeyData: exchange})

	welcome := fmt.Sprintf("Welcome to %s chat room! End-to-end encryption is enabled.", room)
	c.emit.ToConnection(connID, EventMessage, systemMessage(welcome))
	c.emit.ToRoomExcept(room, connID, EventMessage, systemMessage(username+" joined the chat"))

	c.broadcastRoomUsers(room)
	c.deliverHistory(connID, room)
	return nil
}

// SendMessage persists and broadcasts a user message. Persistence is
// best-effort: a store failure is logged and the live broadcast still
// goes out, with the receipt reporting Stored=false.
func (c *Coordinator) SendMessage(connID, text string) (*SendReceipt, error) {
	user, ok := c.session(connID)
	if !ok {
		return nil, ErrNotJoined
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		Username:  user.Username,
		Message:   text,
		Timestamp: time.Now(),
		Room:      user.Room,
		Type:      models.MessageTypeUser,
	}

	packet, err := c.keys.CreateEncryptedMessage(msg, user.Room, connID)
	if err != nil {
		log.Printf("encryption packet failed for %s, sending without: %v", connID, err)
		packet = nil
	}

	stored := true
	if _, err := c.store.StoreMessage(msg); err != nil {
		log.Printf("message storage failed for %s: %v", connID, err)
		stored = false
	}

	c.emit.ToRoom(user.Room, EventEncryptedMessage, EncryptedBroadcast{ChatMessage: msg, EncryptedPacket: packet})
	return &SendReceipt{Success: true, MessageID: msg.ID, Stored: stored}, nil
}

// Typing relays a transient typing indicator to the rest of the room.
func (c *Coordinator) Typing(connID string, isTyping bool) {
	user, ok := c.session(connID)
	if !ok {
		return
	}
	c.emit.ToRoomExcept(user.Room, connID, EventUserTyping, TypingNotice{Username: user.Username, IsTyping: isTyping})
}

// SwitchRoom moves a connection to another room, enforcing private-room
// passwords. Store updates run before any in-memory mutation, so a store
// failure leaves the connection in its current room.
func (c *Coordinator) SwitchRoom(connID, newRoom, password string) error {
	user, ok := c.session(connID)
	if !ok {
		return ErrNotJoined
	}
	newRoom = strings.TrimSpace(newRoom)
	if newRoom == "" || utf8.RuneCountInString(newRoom) > maxNameLength {
		return validationErr("room name", fmt.Sprintf("must be 1-%d characters", maxNameLength))
	}

	access, err := c.store.VerifyRoomPassword(newRoom, password)
	if err != nil {
		return err
	}
	if access.Exists && access.IsPrivate && !access.Authorized {
		return ErrUnauthorized
	}

	created := false
	if !access.Exists {
		created, err = c.store.CreateRoom(newRoom, user.Username, false, "", "")
		if err != nil {
			return err
		}
	}

	pair, err := c.keys.UserKeys(connID)
	if err != nil {
		return err
	}
	if err := c.store.UpsertSession(connID, user.Username, newRoom, pair.PublicKey); err != nil {
		return err
	}

	oldRoom := user.Room
	c.registry.Leave(oldRoom, connID)
	c.registry.Join(newRoom, connID)
	c.mu.Lock()
	user.Room = newRoom
	c.mu.Unlock()

	if created {
		c.emit.ToAll(EventNewRoomCreated, NewRoomNotice{RoomName: newRoom, CreatedBy: user.Username})
	}

	exchange, err := c.keys.RoomKeyExchange(newRoom, pair.PublicKey)
	if err != nil {
		log.Printf("room key exchange failed for %s: %v", connID, err)
	} else {
		c.emit.ToConnection(connID, EventRoomKeyExchange, exchange)
	}

	c.broadcastRoomUsers(oldRoom)
	c.broadcastRoomUsers(newRoom)
	c.deliverHistory(connID, newRoom)
	c.emit.ToConnection(connID, EventRoomChanged, newRoom)
	return nil
}

// CreateRoom persists a room, announces it system-wide, and switches the
// creator into it. Private rooms require a non-empty password.
func (c *Coordinator) CreateRoom(connID string, req CreateRoomRequest) error {
	user, ok := c.session(connID)
	if !ok {
		return ErrNotJoined
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return validationErr("room name", fmt.Sprintf("must be 1-%d characters", maxNameLength))
	}
	if req.IsPrivate && strings.TrimSpace(req.Password) == "" {
		return validationErr("password", "private rooms require a password")
	}

	if _, err := c.store.CreateRoom(name, user.Username, req.IsPrivate, req.Password, req.Description); err != nil {
		return err
	}

	c.emit.ToAll(EventRoomCreated, RoomCreatedNotice{
		Name:        name,
		Description: req.Description,
		IsPrivate:   req.IsPrivate,
		CreatedBy:   user.Username,
	})

	return c.SwitchRoom(connID, name, req.Password)
}

// JoinPrivateRoom verifies a private room's password and switches the
// connection into it. Failures are reported only to the caller.
func (c *Coordinator) JoinPrivateRoom(connID, room, password string) error {
	access, err := c.store.VerifyRoomPassword(room, password)
	if err != nil {
		return err
	}
	if !access.Exists {
		return ErrRoomNotFound
	}
	if !access.Authorized {
		return ErrUnauthorized
	}
	return c.SwitchRoom(connID, room, password)
}

// RequestHistory re-delivers a room's history to the connection. An
// empty room name means the connection's current room.
func (c *Coordinator) RequestHistory(connID, room string) error {
	user, ok := c.session(connID)
	if !ok {
		return ErrNotJoined
	}
	if room == "" {
		room = user.Room
	}
	c.deliverHistory(connID, room)
	return nil
}

// Disconnect tears down a connection's session: registry membership,
// session row, keypair. A no-op for unknown connections.
func (c *Coordinator) Disconnect(connID string) {
	c.mu.Lock()
	user, ok := c.users[connID]
	if ok {
		delete(c.users, connID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.registry.Leave(user.Room, connID)
	c.emit.ToRoom(user.Room, EventMessage, systemMessage(user.Username+" left the chat"))
	c.broadcastRoomUsers(user.Room)

	if err := c.store.DeleteSession(connID); err != nil {
		log.Printf("session cleanup failed for %s: %v", connID, err)
	}
	c.keys.Revoke(connID)
}

// SweepRoomKeys discards key material for rooms with no live members.
func (c *Coordinator) SweepRoomKeys() {
	removed := c.keys.Sweep(c.registry.ActiveRooms())
	if removed > 0 {
		log.Printf("maintenance: removed %d idle room keys", removed)
	}
}

// RunMaintenance runs the periodic sweep until the context is cancelled.
func (c *Coordinator) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SweepRoomKeys()
		}
	}
}

// Session returns a copy of a connection's session state.
func (c *Coordinator) Session(connID string) (User, bool) {
	user, ok := c.session(connID)
	if !ok {
		return User{}, false
	}
	return *user, true
}

// ActiveConnections returns the number of live sessions.
func (c *Coordinator) ActiveConnections() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}

func (c *Coordinator) session(connID string) (*User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	user, ok := c.users[connID]
	return user, ok
}

func (c *Coordinator) broadcastRoomUsers(room string) {
	ids := c.registry.Members(room)
	users := make([]UserInfo, 0, len(ids))
	c.mu.RLock()
	for _, id := range ids {
		if user, ok := c.users[id]; ok {
			users = append(users, UserInfo{Username: user.Username, JoinedAt: user.JoinedAt})
		}
	}
	c.mu.RUnlock()
	sort.Slice(users, func(i, j int) bool { return users[i].JoinedAt.Before(users[j].JoinedAt) })
	c.emit.ToRoom(room, EventUpdateUsers, users)
}

func (c *Coordinator) deliverHistory(connID, room string) {
	history, err := c.store.MessageHistory(room, c.historyLimit, 0)
	if err != nil {
		log.Printf("history retrieval failed for room %s: %v", room, err)
		history = nil
	}
	if history == nil {
		history = []models.ChatMessage{}
	}
	c.emit.ToConnection(connID, EventMessageHistory, history)
}

func systemMessage(text string) models.ChatMessage {
	return models.ChatMessage{
		ID:        uuid.NewString(),
		Username:  "System",
		Message:   text,
		Timestamp: time.Now(),
		Type:      models.MessageTypeSystem,
	}
}
