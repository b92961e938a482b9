package models

import (
	"time"
)

// Room is a durable named channel. Rooms are created on first join and
// never deleted; a private room always carries a password hash.
type Room struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	Name         string    `gorm:"size:255;uniqueIndex;not null" json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	CreatedBy    string    `gorm:"size:255" json:"createdBy"`
	IsPrivate    bool      `gorm:"default:false" json:"isPrivate"`
	PasswordHash string    `gorm:"size:255" json:"-"`
	Description  string    `gorm:"type:text" json:"description"`
}

// RoomAccess is the result of a password check against a room.
type RoomAccess struct {
	Exists     bool `json:"exists"`
	IsPrivate  bool `json:"isPrivate"`
	Authorized bool `json:"authorized"`
}
