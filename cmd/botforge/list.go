package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var botsCmd = &cobra.Command{
	Use:   "bots",
	Short: "List registered bots",
	RunE:  runBots,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List running bot sessions",
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(botsCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runBots(cmd *cobra.Command, args []string) error {
	var bots []struct {
		Token     string `json:"token"`
		Name      string `json:"name"`
		CreatedAt string `json:"created_at"`
	}
	if err := getJSON("/api/bots", &bots); err != nil {
		return err
	}

	if len(bots) == 0 {
		fmt.Println("No bots registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTOKEN\tCREATED")
	for _, b := range bots {
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.Name, maskToken(b.Token), b.CreatedAt)
	}
	return w.Flush()
}

func runSessions(cmd *cobra.Command, args []string) error {
	var sessions []struct {
		Token     string `json:"token"`
		Name      string `json:"name"`
		State     string `json:"state"`
		StartedAt string `json:"started_at"`
	}
	if err := getJSON("/api/sessions", &sessions); err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions running.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTOKEN\tSTATE\tSTARTED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, maskToken(s.Token), stateIcon(s.State), s.StartedAt)
	}
	return w.Flush()
}

func getJSON(path string, v any) error {
	resp, err := http.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: botforge serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}

func stateIcon(state string) string {
	switch state {
	case "starting":
		return "⏳ starting"
	case "running":
		return "🔄 running"
	case "stopping":
		return "⏹ stopping"
	case "stopped":
		return "✅ stopped"
	default:
		return state
	}
}
