package botforge

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/botforgehq/botforge/aibridge"
	"github.com/botforgehq/botforge/messenger/telegram"
	sqliteStore "github.com/botforgehq/botforge/store/sqlite"
)

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	// Config defaults.
	if b.config.ServerAddr == "" {
		b.config.ServerAddr = ":7080"
	}
	if b.config.DataDir == "" {
		b.config.DataDir = defaultDataDir()
	}
	if b.config.DatabasePath == "" {
		b.config.DatabasePath = filepath.Join(b.config.DataDir, "botforge.db")
	}
	if b.config.RevealChunk == 0 {
		b.config.RevealChunk = 24
	}
	if b.config.RevealDelay == 0 {
		b.config.RevealDelay = 200 * time.Millisecond
	}

	// Ensure data dir exists.
	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Store.
	if b.store == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Messenger dialer.
	if b.dialer == nil {
		b.dialer = &telegram.Dialer{
			RevealChunk: b.config.RevealChunk,
			RevealDelay: b.config.RevealDelay,
		}
	}

	// AI completer.
	if b.ai == nil {
		b.ai = aibridge.New()
	}

	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".botforge"
	}
	return filepath.Join(home, ".botforge")
}
