package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	botforge "github.com/botforgehq/botforge"
	"github.com/botforgehq/botforge/internal/config"
	"github.com/botforgehq/botforge/notify"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the BotForge server",
	Long:  "Start the BotForge API server that manages bots and their Telegram sessions.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load config file into environment (non-destructive).
	loadConfigFileIntoEnv()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	builder := botforge.NewBuilder().WithConfig(botforge.Config{
		ServerAddr:   cfg.ServerAddr,
		DataDir:      cfg.DataDir,
		DatabasePath: cfg.DatabasePath,
		RevealChunk:  cfg.RevealChunk,
		RevealDelay:  cfg.RevealDelay,
	})

	// Ops notifications if configured.
	if cfg.SlackEnabled() {
		if n := notify.NewSlack(cfg.SlackBotToken, cfg.SlackOpsChannel); n != nil {
			builder.WithNotifier(n)
			fmt.Println("Slack ops notifications enabled")
		}
	}

	app, err := builder.Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	return app.Start(ctx)
}

// loadConfigFileIntoEnv reads ~/.botforge/config.env and sets any values not
// already present in the environment.
func loadConfigFileIntoEnv() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, ".botforge", "config.env")
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
