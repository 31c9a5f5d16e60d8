// Package messenger defines the abstract messaging-client contract the
// session registry runs against. The Telegram implementation lives in the
// telegram subpackage; tests substitute fakes.
package messenger

import (
	"context"
	"fmt"
	"time"
)

// UpdateKind distinguishes the inbound event types a client delivers.
type UpdateKind string

const (
	// KindCommand is a slash command ("/start").
	KindCommand UpdateKind = "command"
	// KindText is ordinary typed text.
	KindText UpdateKind = "text"
	// KindCallback is a menu button press.
	KindCallback UpdateKind = "callback"
)

// Update is one inbound event from the messaging provider, already
// reduced to what the dialog layer needs.
type Update struct {
	Kind      UpdateKind
	ChatID    int64
	MessageID int
	// Command holds the command name without the slash (KindCommand).
	Command string
	// Text holds the message body (KindText).
	Text string
	// Data holds the routing key of the pressed button (KindCallback).
	Data string
}

// Button is one inline-menu entry: a user-facing label and the callback
// data sent back when pressed.
type Button struct {
	Label string
	Data  string
}

// Handler processes one inbound update. Clients call it sequentially, so
// replies within one session keep arrival order.
type Handler func(ctx context.Context, u Update)

// Client is one open connection to the messaging provider, bound to a
// single bot token.
type Client interface {
	// Name returns the bot's username for logs.
	Name() string

	// Run blocks in the long-poll dispatch loop, invoking h for each
	// update, until ctx is canceled.
	Run(ctx context.Context, h Handler) error

	// Send delivers text to a chat, attaching menu as an inline keyboard
	// when non-empty.
	Send(ctx context.Context, chatID int64, text string, menu []Button) error

	// EditMenu replaces the inline keyboard of an existing message.
	EditMenu(ctx context.Context, chatID int64, messageID int, menu []Button) error

	// Close releases the provider session. It may fail with a
	// *RateLimitError carrying the provider's retry-after hint.
	Close() error
}

// Dialer opens clients. The registry holds a Dialer so session creation
// stays testable without the real provider.
type Dialer interface {
	Open(token string) (Client, error)
}

// RateLimitError is the provider's "retry after N" condition surfaced
// from Close, consumed by the registry's close-retry policy.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
