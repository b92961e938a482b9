package chat

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherchat/chat_backend/crypto"
	"github.com/cipherchat/chat_backend/database"
	"github.com/cipherchat/chat_backend/models"
)

type emitted struct {
	scope  string // "conn", "room", "roomExcept", "all"
	target string
	except string
	event  string
	payload any
}

// fakeEmitter records every emission for assertions.
type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) ToConnection(connID, event string, payload any) {
	f.record(emitted{scope: "conn", target: connID, event: event, payload: payload})
}

func (f *fakeEmitter) ToRoom(room, event string, payload any) {
	f.record(emitted{scope: "room", target: room, event: event, payload: payload})
}

func (f *fakeEmitter) ToRoomExcept(room, exceptID, event string, payload any) {
	f.record(emitted{scope: "roomExcept", target: room, except: exceptID, event: event, payload: payload})
}

func (f *fakeEmitter) ToAll(event string, payload any) {
	f.record(emitted{scope: "all", event: event, payload: payload})
}

func (f *fakeEmitter) record(e emitted) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeEmitter) connEvents(connID, event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var payloads []any
	for _, e := range f.events {
		if e.scope == "conn" && e.target == connID && e.event == event {
			payloads = append(payloads, e.payload)
		}
	}
	return payloads
}

func (f *fakeEmitter) roomEvents(room, event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var payloads []any
	for _, e := range f.events {
		if (e.scope == "room" || e.scope == "roomExcept") && e.target == room && e.event == event {
			payloads = append(payloads, e.payload)
		}
	}
	return payloads
}

func (f *fakeEmitter) allEvents(event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var payloads []any
	for _, e := range f.events {
		if e.scope == "all" && e.event == event {
			payloads = append(payloads, e.payload)
		}
	}
	return payloads
}

func (f *fakeEmitter) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

type testEnv struct {
	coordinator *Coordinator
	store       *database.Store
	keys        *crypto.KeyManager
	registry    *RoomRegistry
	emitter     *fakeEmitter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	key, err := crypto.DeriveKey("coordinator-test")
	require.NoError(t, err)
	codec, err := crypto.NewCodec(key)
	require.NoError(t, err)

	store, err := database.Open(filepath.Join(t.TempDir(), "chat.db"), codec)
	require.NoError(t, err)
	require.NoError(t, store.Initialize())
	t.Cleanup(func() { store.Close() })

	keys := crypto.NewKeyManager()
	registry := NewRoomRegistry()
	emitter := &fakeEmitter{}
	return &testEnv{
		coordinator: NewCoordinator(store, keys, registry, emitter, 50),
		store:       store,
		keys:        keys,
		registry:    registry,
		emitter:     emitter,
	}
}

func TestJoinDeliversKeysWelcomeAndEmptyHistory(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.coordinator.Join("conn-x", "alice", ""))

	exchanges := env.emitter.connEvents("conn-x", EventKeyExchange)
	require.Len(t, exchanges, 1)
	keyExchange := exchanges[0].(KeyExchange)
	require.NotNil(t, keyExchange.UserKeys)
	assert.Contains(t, keyExchange.UserKeys.PublicKey, "PUBLIC KEY")
	assert.Contains(t, keyExchange.UserKeys.PrivateKey, "PRIVATE KEY")
	require.NotNil(t, keyExchange.RoomKeyData)
	assert.Equal(t, database.DefaultRoom, keyExchange.RoomKeyData.RoomName)

	welcomes := env.emitter.connEvents("conn-x", EventMessage)
	require.Len(t, welcomes, 1)
	welcome := welcomes[0].(models.ChatMessage)
	assert.Equal(t, models.MessageTypeSystem, welcome.Type)
	assert.Contains(t, welcome.Message, "Welcome to general")

	histories := env.emitter.connEvents("conn-x", EventMessageHistory)
	require.Len(t, histories, 1)
	assert.Empty(t, histories[0].([]models.ChatMessage))

	session, ok := env.coordinator.Session("conn-x")
	require.True(t, ok)
	assert.Equal(t, "alice", session.Username)
	assert.Equal(t, database.DefaultRoom, session.Room)
	assert.Contains(t, env.registry.Members(database.DefaultRoom), "conn-x")
}

func TestJoinValidatesUsername(t *testing.T) {
	env := newTestEnv(t)

	var validation *ValidationError
	err := env.coordinator.Join("conn-x", "   ", "")
	assert.ErrorAs(t, err, &validation)

	err = env.coordinator.Join("conn-x", "this-username-is-far-too-long-to-accept", "")
	assert.ErrorAs(t, err, &validation)

	assert.Equal(t, 0, env.coordinator.ActiveConnections())
}

func TestJoinNotifiesRoomAndSystem(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.coordinator.Join("conn-x", "alice", ""))
	env.emitter.reset()

	require.NoError(t, env.coordinator.Join("conn-y", "bob", "hideout"))

	// A fresh non-default room announces itself system-wide.
	created := env.emitter.allEvents(EventNewRoomCreated)
	require.Len(t, created, 1)
	notice := created[0].(NewRoomNotice)
	assert.Equal(t, "hideout", notice.RoomName)
	assert.Equal(t, "bob", notice.CreatedBy)

	// Member list refresh went to the joined room.
	updates := env.emitter.roomEvents("hideout", EventUpdateUsers)
	require.NotEmpty(t, updates)
	users := updates[len(updates)-1].([]UserInfo)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)
}

func TestSendMessageBroadcastsAndPersists(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.coordinator.Join("conn-x", "alice", ""))
	require.NoError(t, env.coordinator.Join("conn-y", "bob", ""))
	env.emitter.reset()

	receipt, err := env.coordinator.SendMessage("conn-x", "hello")
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.True(t, receipt.Stored)
	assert.NotEmpty(t, receipt.MessageID)

	broadcasts := env.emitter.roomEvents(database.DefaultRoom, EventEncryptedMessage)
	require.Len(t, broadcasts, 1)
	broadcast := broadcasts[0].(EncryptedBroadcast)
	assert.Equal(t, "alice", broadcast.Username)
	assert.Equal(t, "hello", broadcast.Message)
	assert.Equal(t, models.MessageTypeUser, broadcast.Type)
	require.NotNil(t, broadcast.EncryptedPacket)

	history, err := env.store.MessageHistory(database.DefaultRoom, 50, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Message)
	assert.Equal(t, "alice", history[0].Username)
}

func TestSendMessageValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.coordinator.SendMessage("ghost", "hello")
	assert.ErrorIs(t, err, ErrNotJoined)

	require.NoError(t, env.coordinator.Join("conn-x", "alice", ""))
	_, err = env.coordinator.SendMessage("conn-x", "   ")
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestPrivateRoomFlow(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.coordinator.Join("conn-x", "alice", ""))
	require.NoError(t, env.coordinator.CreateRoom("conn-x", CreateRoomRequest{
		Name:      "secret",
		IsPrivate: true,
		Password:  "pw123",
	}))

	session, _ := env.coordinator.Session("conn-x")
	assert.Equal(t, "secret", session.Room)

	require.NoError(t, env.coordinator.Join("conn-z", "zoe", ""))

	err := env.coordinator.JoinPrivateRoom("conn-z", "secret", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)
	session, _ = env.coordinator.Session("conn-z")
	assert.Equal(t, database.DefaultRoom, session.Room)
	assert.Contains(t, env.registry.Members(database.DefaultRoom), "conn-z")

	err = env.coordinator.JoinPrivateRoom("conn-z", "no-such-room", "pw123")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	require.NoError(t, env.coordinator.JoinPrivateRoom("conn-z", "secret", "pw123"))
	session, _ = env.coordinator.Session("conn-z")
	assert.Equal(t, "secret", session.Room)
	assert.Contains(t, env.registry.Members("secret"), "conn-z")
	assert.NotContains(t, env.registry.Members(database.DefaultRoom), "conn-z")
}

func TestCreateRoomValidation(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.coordinator.Join("conn-x", "alice", ""))

	var validation *ValidationError
	err := env.coordinator.CreateRoom("conn-x", CreateRoomRequest{Name: ""})
	assert.ErrorAs(t, err, &validation)

	err = env.coordinator.CreateRoom("conn-x", CreateRoomRequest{Name: "way-too-long-room-name-for-the-limit"})
	assert.ErrorAs(t, err, &validation)

	err = env.coordinator.CreateRoom("conn-x", CreateRoomRequest{Name: "vault", IsPrivate: true})
	assert.ErrorAs(t, err, &validation)
}

func TestSwitchRoomDeliversHistoryAndRoomChange(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.coordinator.Join("conn-x", "alice", ""))
	_, err := env.coordinator.SendMessage("conn-x", "before the switch")
	require.NoError(t, err)
	require.NoError(t, env.coordinator.SwitchRoom("conn-x", "lounge", ""))
	env.emitter.reset()

	require.NoError(t, env.coordinator.SwitchRoom("conn-x", database.DefaultRoom, ""))

	histories := env.emitter.connEvents("conn-x", EventMessageHistory)
	require.Len(t, histories, 1)
	history := histories[0].([]models.ChatMessage)
	require.Len(t, history, 1)
	assert.Equal(t, "before the switch", history[0].Message)

	changes := env.emitter.connEvents("conn-x", EventRoomChanged)
	require.Len(t, changes, 1)
	assert.Equal(t, database.DefaultRoom, changes[0].(string))

	rekeys := env.emitter.connEvents("conn-x", EventRoomKeyExchange)
	require.Len(t, rekeys, 1)
}

func TestDisconnectCleansUp(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.coordinator.Join("conn-x", "alice", ""))
	require.NoError(t, env.coordinator.Join("conn-y", "bob", ""))
	env.emitter.reset()

	env.coordinator.Disconnect("conn-x")

	assert.NotContains(t, env.registry.Members(database.DefaultRoom), "conn-x")
	assert.Equal(t, 1, env.coordinator.ActiveConnections())

	_, err := env.keys.UserKeys("conn-x")
	assert.ErrorIs(t, err, crypto.ErrKeyNotFound)

	sessions, err := env.store.UsersInRoom(database.DefaultRoom)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "bob", sessions[0].Username)

	notices := env.emitter.roomEvents(database.DefaultRoom, EventMessage)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].(models.ChatMessage).Message, "alice left the chat")

	// Idempotent.
	env.coordinator.Disconnect("conn-x")
	assert.Equal(t, 1, env.coordinator.ActiveConnections())
}

func TestTypingRelaysToRoom(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.coordinator.Join("conn-x", "alice", ""))
	env.emitter.reset()

	env.coordinator.Typing("conn-x", true)

	notices := env.emitter.roomEvents(database.DefaultRoom, EventUserTyping)
	require.Len(t, notices, 1)
	notice := notices[0].(TypingNotice)
	assert.Equal(t, "alice", notice.Username)
	assert.True(t, notice.IsTyping)

	// Unknown connections are ignored.
	env.coordinator.Typing("ghost", true)
}

func TestSweepRoomKeysDropsIdleRooms(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.coordinator.Join("conn-x", "alice", ""))

	// Key for a room nobody occupies.
	_, err := env.keys.RoomKey("abandoned")
	require.NoError(t, err)
	require.Equal(t, 2, env.keys.Stats().ActiveRoomKeys)

	env.coordinator.SweepRoomKeys()

	stats := env.keys.Stats()
	assert.Equal(t, 1, stats.ActiveRoomKeys)

	// The occupied room's key survives the sweep.
	exchanges := env.emitter.connEvents("conn-x", EventKeyExchange)
	require.Len(t, exchanges, 1)
	keyExchange := exchanges[0].(KeyExchange)
	roomKey, err := env.keys.RoomKey(database.DefaultRoom)
	require.NoError(t, err)
	decrypted, err := crypto.DecryptRoomKey(keyExchange.RoomKeyData.EncryptedRoomKey, keyExchange.UserKeys.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, roomKey, decrypted)
}

func TestRequestHistoryDefaultsToCurrentRoom(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.coordinator.Join("conn-x", "alice", ""))
	_, err := env.coordinator.SendMessage("conn-x", "hello again")
	require.NoError(t, err)
	env.emitter.reset()

	require.NoError(t, env.coordinator.RequestHistory("conn-x", ""))

	histories := env.emitter.connEvents("conn-x", EventMessageHistory)
	require.Len(t, histories, 1)
	history := histories[0].([]models.ChatMessage)
	require.Len(t, history, 1)
	assert.Equal(t, "hello again", history[0].Message)

	assert.ErrorIs(t, env.coordinator.RequestHistory("ghost", ""), ErrNotJoined)
}
