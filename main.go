package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cipherchat/chat_backend/chat"
	"github.com/cipherchat/chat_backend/config"
	"github.com/cipherchat/chat_backend/controllers"
	"github.com/cipherchat/chat_backend/crypto"
	"github.com/cipherchat/chat_backend/database"
	"github.com/cipherchat/chat_backend/websocket"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	cfg := config.Load()

	// At-rest encryption key: explicit hex key or derived from the secret
	key, err := cfg.EncryptionKey()
	if err != nil {
		log.Fatalf("Invalid encryption key: %v", err)
	}
	if key == nil {
		key, err = crypto.DeriveKey(cfg.EncryptionSecret)
		if err != nil {
			log.Fatalf("Failed to derive encryption key: %v", err)
		}
	}
	codec, err := crypto.NewCodec(key)
	if err != nil {
		log.Fatalf("Failed to initialize codec: %v", err)
	}

	// Durable store: migrate, prune sessions and system messages, ensure
	// the default room
	store, err := database.Open(cfg.DatabasePath, codec)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	if err := store.Initialize(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Coordination layer
	keys := crypto.NewKeyManager()
	registry := chat.NewRoomRegistry()
	hub := websocket.NewHub(registry)
	coordinator := chat.NewCoordinator(store, keys, registry, hub, cfg.HistoryLimit)

	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coordinator.RunMaintenance(ctx, cfg.MaintenanceInterval)

	roomController := controllers.NewRoomController(store)
	statsController := controllers.NewStatsController(store, keys, coordinator, registry)

	// Set up router
	router := gin.Default()

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/api/rooms", roomController.GetRooms)
	router.GET("/api/stats", statsController.GetStats)
	router.GET("/health", statsController.Health)
	router.GET("/ws", websocket.HandleConnection(hub, coordinator))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Secure chat server running on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting, close the store
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := store.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}
	log.Println("Server closed.")
}
