// BotForge
//
// A self-hosted Telegram bot builder: define a conversation graph,
// press start, and the platform runs the bot for you.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "botforge",
	Short: "BotForge - Telegram bot builder",
	Long: `BotForge is a self-hosted Telegram bot builder. Define a conversation
graph, press start, and the platform runs the bot for you.

  botforge serve             Start the server
  botforge bots              List registered bots
  botforge sessions          List running bot sessions`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("BOTFORGE_SERVER", "http://localhost:7080"), "BotForge server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
