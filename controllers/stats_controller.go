package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cipherchat/chat_backend/chat"
	"github.com/cipherchat/chat_backend/crypto"
	"github.com/cipherchat/chat_backend/database"
)

// StatsController aggregates storage, encryption and server metrics.
type StatsController struct {
	store       *database.Store
	keys        *crypto.KeyManager
	coordinator *chat.Coordinator
	registry    *chat.RoomRegistry
	startedAt   time.Time
}

func NewStatsController(store *database.Store, keys *crypto.KeyManager, coordinator *chat.Coordinator, registry *chat.RoomRegistry) *StatsController {
	return &StatsController{
		store:       store,
		keys:        keys,
		coordinator: coordinator,
		registry:    registry,
		startedAt:   time.Now(),
	}
}

// GetStats returns database, encryption and server statistics.
func (sc *StatsController) GetStats(c *gin.Context) {
	dbStats, err := sc.store.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch statistics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"database":   dbStats,
		"encryption": sc.keys.Stats(),
		"server": gin.H{
			"activeConnections": sc.coordinator.ActiveConnections(),
			"totalRooms":        sc.registry.Count(),
		},
	})
}

// Health reports liveness for deployment monitoring.
func (sc *StatsController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(sc.startedAt).Seconds(),
	})
}
