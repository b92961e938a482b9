// Package database implements the durable store for rooms, sealed
// messages and ephemeral connection sessions on SQLite.
package database

import (
	"log"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cipherchat/chat_backend/crypto"
	"github.com/cipherchat/chat_backend/models"
)

// DefaultRoom always exists and is never private.
const DefaultRoom = "general"

// Store owns the database handle and the at-rest codec. All operations
// are safe for concurrent use; SQLite serializes writes on the handle.
type Store struct {
	db    *gorm.DB
	codec *crypto.Codec

	closeOnce sync.Once
}

// Open connects to the SQLite database at path, creating it if absent.
func Open(path string, codec *crypto.Codec) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, storeErr("open", err)
	}
	return &Store{db: db, codec: codec}, nil
}

// Initialize migrates the schema and resets connection-lifetime state:
// all session rows and all system messages are deleted, while user
// messages and rooms are preserved. The default room is created if
// missing.
func (s *Store) Initialize() error {
	if err := s.db.AutoMigrate(&models.Room{}, &models.Message{}, &models.UserSession{}); err != nil {
		return storeErr("migrate", err)
	}

	if err := s.db.Exec("DELETE FROM user_sessions").Error; err != nil {
		return storeErr("clear sessions", err)
	}
	if err := s.db.Where("message_type = ?", models.MessageTypeSystem).
		Delete(&models.Message{}).Error; err != nil {
		return storeErr("prune system messages", err)
	}

	room := models.Room{
		Name:        DefaultRoom,
		CreatedBy:   "system",
		IsPrivate:   false,
		Description: "Main public chat room for everyone",
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&room).Error; err != nil {
		return storeErr("ensure default room", err)
	}

	log.Println("Database initialized - user messages preserved, system messages and sessions cleared")
	return nil
}

// Close releases the underlying handle. Safe to call multiple times.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		sqlDB, dbErr := s.db.DB()
		if dbErr != nil {
			err = dbErr
			return
		}
		err = sqlDB.Close()
	})
	return err
}
