package models

import (
	"time"
)

// Message kinds. Only user messages persist across restarts; system
// notices are delivered live and pruned on startup.
const (
	MessageTypeUser   = "user"
	MessageTypeSystem = "system"
)

// Message is an immutable stored chat message. The content column holds
// the sealed blob produced by the codec, never plaintext.
type Message struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	MessageID        string    `gorm:"size:64;uniqueIndex;not null" json:"message_id"`
	RoomName         string    `gorm:"size:255;index:idx_messages_room;not null" json:"room_name"`
	Username         string    `gorm:"size:255;not null" json:"username"`
	EncryptedContent []byte    `gorm:"not null" json:"-"`
	MessageType      string    `gorm:"size:10;default:'user'" json:"message_type"`
	CompressedSize   int       `json:"compressed_size"`
	OriginalSize     int       `json:"original_size"`
	CreatedAt        time.Time `gorm:"index:idx_messages_created_at" json:"created_at"`
}

// ChatMessage is the wire-format record exchanged with clients and the
// canonical payload the codec seals. Field names are part of the wire
// contract; the codec's substitution table depends on them.
type ChatMessage struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Message          string    `json:"message"`
	Timestamp        time.Time `json:"timestamp"`
	Room             string    `json:"room,omitempty"`
	Type             string    `json:"type"`
	CompressionRatio string    `json:"compressionRatio,omitempty"`
}
