package models

import (
	"time"
)

// UserSession is the durable row backing one live connection. The whole
// table is cleared on startup; no session survives a restart.
type UserSession struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SocketID  string    `gorm:"size:64;uniqueIndex:idx_sessions_socket;not null" json:"socket_id"`
	Username  string    `gorm:"size:255;not null" json:"username"`
	RoomName  string    `gorm:"size:255;not null" json:"room_name"`
	PublicKey string    `gorm:"type:text" json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}
