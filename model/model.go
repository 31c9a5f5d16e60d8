// Package model defines the core domain types shared across all BotForge
// packages. It has zero dependencies on other BotForge packages.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Node is one step of a scripted conversation: a reply text, an optional
// follow-up node, and an optional list of choice labels rendered as a menu.
type Node struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Next    string   `json:"next,omitempty"`
	Options []string `json:"options"`
}

// nodeJSON mirrors Node but accepts Options as either a JSON array or a
// comma-separated string, which is how the web editor submits them.
type nodeJSON struct {
	ID      string          `json:"id"`
	Text    string          `json:"text"`
	Next    string          `json:"next,omitempty"`
	Options json.RawMessage `json:"options"`
}

// UnmarshalJSON normalizes node data on ingestion: a missing or null
// options field becomes an empty slice, and a comma-separated string is
// split into individual labels.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n.ID = raw.ID
	n.Text = raw.Text
	n.Next = raw.Next
	n.Options = []string{}

	if len(raw.Options) == 0 || string(raw.Options) == "null" {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw.Options, &list); err == nil {
		n.Options = normalizeOptions(list)
		return nil
	}

	var joined string
	if err := json.Unmarshal(raw.Options, &joined); err == nil {
		n.Options = normalizeOptions(strings.Split(joined, ","))
		return nil
	}

	return fmt.Errorf("node %q: options must be a list or a comma-separated string", raw.ID)
}

func normalizeOptions(opts []string) []string {
	out := []string{}
	for _, opt := range opts {
		if opt = strings.TrimSpace(opt); opt != "" {
			out = append(out, opt)
		}
	}
	return out
}

// Graph is the ordered node collection belonging to one bot token.
// It is replaced wholesale on save and never mutated by readers.
type Graph []Node

// Find returns the node with the given id. Lookup is case-insensitive.
func (g Graph) Find(id string) (Node, bool) {
	for _, n := range g {
		if strings.EqualFold(n.ID, id) {
			return n, true
		}
	}
	return Node{}, false
}

// FindByOption returns the first node whose options contain a
// case-insensitive match for label.
func (g Graph) FindByOption(label string) (Node, bool) {
	for _, n := range g {
		for _, opt := range n.Options {
			if strings.EqualFold(opt, label) {
				return n, true
			}
		}
	}
	return Node{}, false
}

// ResolveNext returns the node n.Next points to. A dangling or empty Next
// reference resolves to nothing rather than an error.
func (g Graph) ResolveNext(n Node) (Node, bool) {
	if n.Next == "" {
		return Node{}, false
	}
	return g.Find(n.Next)
}

// Provider identifies a third-party AI completion backend.
type Provider string

const (
	ProviderNone      Provider = ""
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderCustom    Provider = "custom"
)

// AIConfig is the AI provider configuration attached to one bot token.
// Exactly one config is in effect per token (replace-on-save).
type AIConfig struct {
	Provider   Provider `json:"provider"`
	APIKey     string   `json:"api_key"`
	CustomName string   `json:"custom_ai_name,omitempty"`
	CustomURL  string   `json:"custom_ai_url,omitempty"`
}

// Validate enforces configuration-time invariants. The custom provider
// requires both a name and a URL; use-time behavior never re-checks this.
func (c *AIConfig) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic:
		return nil
	case ProviderCustom:
		if c.CustomName == "" || c.CustomURL == "" {
			return fmt.Errorf("custom AI name and URL are required for the custom provider")
		}
		return nil
	default:
		return fmt.Errorf("unknown AI provider %q", c.Provider)
	}
}

// Bot is one user-created bot identity: a display name plus the Telegram
// API token that keys everything else (nodes, AI config, sessions).
type Bot struct {
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a registered builder account.
type User struct {
	ID               int64     `json:"id"`
	Username         string    `json:"username"`
	Password         string    `json:"-"`
	Email            string    `json:"email"`
	VerificationCode string    `json:"-"`
	Verified         bool      `json:"verified"`
	Role             string    `json:"role"`
	CreatedAt        time.Time `json:"created_at"`
}

// SessionState is the lifecycle state of one running bot session.
type SessionState string

const (
	SessionStarting SessionState = "starting"
	SessionRunning  SessionState = "running"
	SessionStopping SessionState = "stopping"
	SessionStopped  SessionState = "stopped"
)

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
