// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// ServerURL is the websocket endpoint of the chat server.
	ServerURL string
	// DBPath is the SQLite database file for session persistence.
	DBPath string
	// IdentityURL is the base URL of the identity service. Empty disables
	// the login/registration flows.
	IdentityURL string
	// ReconnectInterval controls the engine's reconnect timer. Zero
	// disables automatic reconnection.
	ReconnectInterval time.Duration
	// Port is the listen port for the echo development server.
	Port string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ServerURL:         getEnv("SERVER_URL", "ws://localhost:1337/ws"),
		DBPath:            getEnv("DB_PATH", "./data/chat.db"),
		IdentityURL:       getEnv("IDENTITY_URL", ""),
		ReconnectInterval: getEnvDuration("RECONNECT_INTERVAL", 5*time.Second),
		Port:              getEnv("PORT", "1337"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SERVER_URL cannot be empty")
	}
	if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		return fmt.Errorf("SERVER_URL must be a ws:// or wss:// URL")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.ReconnectInterval < 0 {
		return fmt.Errorf("RECONNECT_INTERVAL cannot be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
