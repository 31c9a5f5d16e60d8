// Package config provides configuration management for BotForge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the BotForge server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7080").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// Slack ops notifications (optional).
	// SlackBotToken is the Bot User OAuth Token (xoxb-...).
	SlackBotToken string
	// SlackOpsChannel is the channel session lifecycle events go to.
	SlackOpsChannel string

	// RevealChunk is how many runes each typewriter step reveals.
	RevealChunk int
	// RevealDelay is the pause between typewriter steps.
	RevealDelay time.Duration
}

// Load creates a Config from environment variables with sensible defaults.
func Load() (*Config, error) {
	dataDir := envOr("BOTFORGE_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:      envOr("BOTFORGE_ADDR", ":7080"),
		DataDir:         dataDir,
		DatabasePath:    filepath.Join(dataDir, "botforge.db"),
		SlackBotToken:   os.Getenv("SLACK_BOT_TOKEN"),
		SlackOpsChannel: os.Getenv("SLACK_OPS_CHANNEL"),
		RevealChunk:     envOrInt("BOTFORGE_REVEAL_CHUNK", 24),
		RevealDelay:     time.Duration(envOrInt("BOTFORGE_REVEAL_DELAY_MS", 200)) * time.Millisecond,
	}

	return cfg, nil
}

// SlackEnabled returns true if ops notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackOpsChannel != ""
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".botforge"
	}
	return filepath.Join(home, ".botforge")
}
