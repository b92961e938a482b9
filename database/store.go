package database

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cipherchat/chat_backend/models"
	"github.com/cipherchat/chat_backend/utils"
)

// CreateRoom inserts a room if the name is unused. A password is hashed
// only for private rooms. Returns whether the room was newly created;
// a duplicate name is not an error.
func (s *Store) CreateRoom(name, createdBy string, isPrivate bool, password, description string) (bool, error) {
	passwordHash := ""
	if isPrivate && password != "" {
		hashed, err := utils.HashPassword(password)
		if err != nil {
			return false, storeErr("create room", err)
		}
		passwordHash = hashed
	}

	room := models.Room{
		Name:         name,
		CreatedBy:    createdBy,
		IsPrivate:    isPrivate,
		PasswordHash: passwordHash,
		Description:  description,
	}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&room)
	if result.Error != nil {
		return false, storeErr("create room", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// VerifyRoomPassword checks whether the supplied password grants access.
// Public rooms authorize unconditionally; private rooms only on a hash
// match.
func (s *Store) VerifyRoomPassword(name, password string) (models.RoomAccess, error) {
	var room models.Room
	err := s.db.Where("name = ?", name).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.RoomAccess{}, nil
	}
	if err != nil {
		return models.RoomAccess{}, storeErr("verify room password", err)
	}

	if !room.IsPrivate {
		return models.RoomAccess{Exists: true, IsPrivate: false, Authorized: true}, nil
	}
	authorized := password != "" && utils.CheckPassword(password, room.PasswordHash)
	return models.RoomAccess{Exists: true, IsPrivate: true, Authorized: authorized}, nil
}

// ListRooms returns all rooms, oldest first.
func (s *Store) ListRooms() ([]models.Room, error) {
	var rooms []models.Room
	if err := s.db.Order("created_at ASC").Find(&rooms).Error; err != nil {
		return nil, storeErr("list rooms", err)
	}
	return rooms, nil
}

// StoreMessage seals the record through the codec and inserts one
// immutable row. Fails if the room is unknown or the codec fails.
func (s *Store) StoreMessage(msg models.ChatMessage) (uint, error) {
	var count int64
	if err := s.db.Model(&models.Room{}).Where("name = ?", msg.Room).Count(&count).Error; err != nil {
		return 0, storeErr("store message", err)
	}
	if count == 0 {
		return 0, storeErrf("store message", "unknown room %q", msg.Room)
	}

	sealed, err := s.codec.Seal(msg)
	if err != nil {
		return 0, storeErr("store message", err)
	}

	messageType := msg.Type
	if messageType == "" {
		messageType = models.MessageTypeUser
	}
	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	row := models.Message{
		MessageID:        msg.ID,
		RoomName:         msg.Room,
		Username:         msg.Username,
		EncryptedContent: sealed.Blob,
		MessageType:      messageType,
		CompressedSize:   sealed.CompressedSize,
		OriginalSize:     sealed.OriginalSize,
		CreatedAt:        timestamp,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return 0, storeErr("store message", err)
	}
	return row.ID, nil
}

// MessageHistory returns the room's user messages, oldest first. Rows are
// selected newest-first for cheap limiting, decrypted, then reversed. A
// row that fails to decrypt is logged and skipped; the remaining rows are
// still returned.
func (s *Store) MessageHistory(room string, limit, offset int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []models.Message
	err := s.db.Where("room_name = ? AND message_type = ?", room, models.MessageTypeUser).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("message history", err)
	}

	messages := make([]models.ChatMessage, 0, len(rows))
	for _, row := range rows {
		decoded, err := s.codec.Open(row.EncryptedContent)
		if err != nil {
			log.Printf("skipping corrupt message %s in room %s: %v", row.MessageID, room, err)
			continue
		}
		msg := models.ChatMessage{
			ID:               row.MessageID,
			Username:         row.Username,
			Message:          decoded.Message,
			Timestamp:        row.CreatedAt,
			Room:             room,
			Type:             row.MessageType,
			CompressionRatio: compressionRatio(row.OriginalSize, row.CompressedSize),
		}
		messages = append(messages, msg)
	}

	// Oldest first for delivery.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// UpsertSession records or refreshes the session row for a connection.
func (s *Store) UpsertSession(socketID, username, room, publicKey string) error {
	session := models.UserSession{
		SocketID:  socketID,
		Username:  username,
		RoomName:  room,
		PublicKey: publicKey,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "socket_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "room_name", "public_key"}),
	}).Create(&session).Error
	if err != nil {
		return storeErr("upsert session", err)
	}
	return nil
}

// DeleteSession removes a connection's session row. Idempotent.
func (s *Store) DeleteSession(socketID string) error {
	if err := s.db.Where("socket_id = ?", socketID).Delete(&models.UserSession{}).Error; err != nil {
		return storeErr("delete session", err)
	}
	return nil
}

// UsersInRoom returns the session rows for a room, oldest first.
func (s *Store) UsersInRoom(room string) ([]models.UserSession, error) {
	var sessions []models.UserSession
	err := s.db.Where("room_name = ?", room).Order("created_at ASC").Find(&sessions).Error
	if err != nil {
		return nil, storeErr("users in room", err)
	}
	return sessions, nil
}

func compressionRatio(originalSize, compressedSize int) string {
	if originalSize <= 0 {
		return "0.0"
	}
	saved := float64(originalSize-compressedSize) / float64(originalSize) * 100
	return fmt.Sprintf("%.1f", saved)
}
