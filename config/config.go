// Package config collects the runtime settings of the chat service from
// environment variables, with working defaults for local development.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the service settings.
type Config struct {
	Port                string
	DatabasePath        string
	EncryptionKeyHex    string
	EncryptionSecret    string
	HistoryLimit        int
	MaintenanceInterval time.Duration
}

const defaultEncryptionSecret = "chat-app-secret"

// Load builds a Config from the environment. Missing variables fall back
// to defaults.
func Load() *Config {
	cfg := &Config{
		Port:                "3000",
		DatabasePath:        "chat.db",
		EncryptionSecret:    defaultEncryptionSecret,
		HistoryLimit:        50,
		MaintenanceInterval: time.Hour,
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		cfg.DatabasePath = path
	}
	if key := os.Getenv("DB_ENCRYPTION_KEY"); key != "" {
		cfg.EncryptionKeyHex = key
	}
	if secret := os.Getenv("DB_ENCRYPTION_SECRET"); secret != "" {
		cfg.EncryptionSecret = secret
	}
	if limit := os.Getenv("HISTORY_LIMIT"); limit != "" {
		if parsed, err := strconv.Atoi(limit); err == nil && parsed > 0 {
			cfg.HistoryLimit = parsed
		}
	}
	if interval := os.Getenv("MAINTENANCE_INTERVAL"); interval != "" {
		if parsed, err := time.ParseDuration(interval); err == nil && parsed > 0 {
			cfg.MaintenanceInterval = parsed
		}
	}
	return cfg
}

// EncryptionKey returns the 32-byte at-rest key: either the hex-encoded
// key from the environment or nil, meaning the key should be derived
// from the secret.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.EncryptionKeyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.EncryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("DB_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("DB_ENCRYPTION_KEY must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
