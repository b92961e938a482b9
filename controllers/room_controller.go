// Package controllers exposes the read-only HTTP query surface: rooms,
// statistics and health.
package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cipherchat/chat_backend/database"
)

// RoomController serves room listings.
type RoomController struct {
	store *database.Store
}

func NewRoomController(store *database.Store) *RoomController {
	return &RoomController{store: store}
}

// GetRooms returns all rooms with privacy information, oldest first.
func (rc *RoomController) GetRooms(c *gin.Context) {
	rooms, err := rc.store.ListRooms()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch rooms"})
		return
	}
	c.JSON(http.StatusOK, rooms)
}
