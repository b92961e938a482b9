package chat

import (
	"time"

	"github.com/cipherchat/chat_backend/crypto"
	"github.com/cipherchat/chat_backend/models"
)

// Outbound event names. These are wire contract with clients.
const (
	EventKeyExchange      = "keyExchange"
	EventRoomKeyExchange  = "roomKeyExchange"
	EventMessage          = "message"
	EventEncryptedMessage = "encryptedMessage"
	EventMessageHistory   = "messageHistory"
	EventUpdateUsers      = "updateUsers"
	EventRoomCreated      = "roomCreated"
	EventNewRoomCreated   = "newRoomCreated"
	EventRoomChanged      = "roomChanged"
	EventUserTyping       = "userTyping"
	EventError            = "error"
	EventMessageAck       = "messageAck"
)

// Emitter delivers events to connections. The websocket hub implements
// it; tests substitute a recorder. Delivery is fire-and-forget.
type Emitter interface {
	ToConnection(connID, event string, payload any)
	ToRoom(room, event string, payload any)
	ToRoomExcept(room, exceptID, event string, payload any)
	ToAll(event string, payload any)
}

// KeyExchange is sent to a connection right after it joins: its own
// keypair plus the room key encrypted under its public key.
type KeyExchange struct {
	UserKeys    *crypto.UserKeyPair    `json:"userKeys"`
	RoomKeyData *crypto.RoomKeyExchange `json:"roomKeyData"`
}

// UserInfo is one entry of a room member list.
type UserInfo struct {
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

// RoomCreatedNotice announces an explicitly created room system-wide.
type RoomCreatedNotice struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"isPrivate"`
	CreatedBy   string `json:"createdBy"`
}

// NewRoomNotice announces a room auto-created by a join or switch.
type NewRoomNotice struct {
	RoomName  string `json:"roomName"`
	CreatedBy string `json:"createdBy"`
}

// TypingNotice is the transient typing indicator relayed to a room.
type TypingNotice struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// EncryptedBroadcast is a user message as broadcast to a room: the
// plaintext record plus, when the sender's keys were available, the
// end-to-end packet.
type EncryptedBroadcast struct {
	models.ChatMessage
	EncryptedPacket *crypto.EncryptedPacket `json:"encryptedPacket,omitempty"`
}

// SendReceipt acknowledges a sent message to its author, distinct from
// the room broadcast. Stored is false when persistence failed and the
// message was delivered live only.
type SendReceipt struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Stored    bool   `json:"stored"`
}

// ErrorNotice is the error event payload.
type ErrorNotice struct {
	Message string `json:"message"`
}

// CreateRoomRequest carries the createRoom event's fields.
type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"isPrivate"`
	Password    string `json:"password"`
}
