// Package telegram implements messenger.Client on the Telegram Bot API.
//
// Uses long polling -- no public URL or webhook needed. Replies are
// delivered with a typewriter effect: the message is posted with the
// first chunk of text and then edited until the full text is revealed.
package telegram

import (
	"context"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/botforgehq/botforge/messenger"
)

// Dialer opens Telegram clients. The zero value uses DefaultRevealChunk
// and DefaultRevealDelay; set RevealDelay to 0 to disable the typewriter
// effect (tests do).
type Dialer struct {
	RevealChunk int
	RevealDelay time.Duration
}

const (
	DefaultRevealChunk = 24
	DefaultRevealDelay = 200 * time.Millisecond

	pollTimeout = 30 // seconds, long-poll hold time
)

// Open authorizes against the Bot API with the given token.
func (d Dialer) Open(token string) (messenger.Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("authorizing Telegram bot: %w", err)
	}

	chunk := d.RevealChunk
	if chunk == 0 {
		chunk = DefaultRevealChunk
	}

	log.Printf("Telegram bot authorized as @%s", api.Self.UserName)

	return &Client{
		api:         api,
		revealChunk: chunk,
		revealDelay: d.RevealDelay,
	}, nil
}

// Client is one authorized Telegram bot connection.
type Client struct {
	api         *tgbotapi.BotAPI
	revealChunk int
	revealDelay time.Duration
}

// Name returns the bot's Telegram username.
func (c *Client) Name() string {
	return c.api.Self.UserName
}

// Run starts the long-polling loop. Updates are handled one at a time so
// replies within a chat keep arrival order. Blocks until ctx is canceled.
func (c *Client) Run(ctx context.Context, h messenger.Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout

	updates := c.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if mu, ok := c.translate(update); ok {
				h(ctx, mu)
			}
		}
	}
}

// translate reduces a raw Telegram update to a messenger.Update.
// Callback queries are acknowledged here so the client-side spinner
// clears even if the handler takes a while.
func (c *Client) translate(update tgbotapi.Update) (messenger.Update, bool) {
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if _, err := c.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			log.Printf("Telegram: callback ack failed: %v", err)
		}
		if cq.Message == nil {
			return messenger.Update{}, false
		}
		return messenger.Update{
			Kind:      messenger.KindCallback,
			ChatID:    cq.Message.Chat.ID,
			MessageID: cq.Message.MessageID,
			Data:      cq.Data,
		}, true

	case update.Message != nil && update.Message.IsCommand():
		return messenger.Update{
			Kind:      messenger.KindCommand,
			ChatID:    update.Message.Chat.ID,
			MessageID: update.Message.MessageID,
			Command:   update.Message.Command(),
		}, true

	case update.Message != nil && strings.TrimSpace(update.Message.Text) != "":
		return messenger.Update{
			Kind:      messenger.KindText,
			ChatID:    update.Message.Chat.ID,
			MessageID: update.Message.MessageID,
			Text:      strings.TrimSpace(update.Message.Text),
		}, true
	}
	return messenger.Update{}, false
}

// Send delivers text to a chat with the typewriter effect and attaches
// menu as an inline keyboard on the final message.
func (c *Client) Send(ctx context.Context, chatID int64, text string, menu []messenger.Button) error {
	chunks := revealChunks(text, c.revealChunk)

	if c.revealDelay <= 0 || len(chunks) == 1 {
		msg := tgbotapi.NewMessage(chatID, renderHTML(text))
		msg.ParseMode = tgbotapi.ModeHTML
		if len(menu) > 0 {
			msg.ReplyMarkup = keyboard(menu)
		}
		return c.sendWithFallback(msg, text)
	}

	// Progressive reveal: post the first chunk plain, then edit with the
	// growing prefix, ending on the fully formatted text.
	first := tgbotapi.NewMessage(chatID, chunks[0])
	sent, err := c.api.Send(first)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}

	for _, prefix := range chunks[1:] {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.revealDelay):
		}
		edit := tgbotapi.NewEditMessageText(chatID, sent.MessageID, prefix)
		if _, err := c.api.Send(edit); err != nil {
			log.Printf("Telegram: reveal edit failed: %v", err)
		}
	}

	final := tgbotapi.NewEditMessageText(chatID, sent.MessageID, renderHTML(text))
	final.ParseMode = tgbotapi.ModeHTML
	if _, err := c.api.Send(final); err != nil {
		log.Printf("Telegram: final edit failed: %v", err)
	}

	if len(menu) > 0 {
		return c.EditMenu(ctx, chatID, sent.MessageID, menu)
	}
	return nil
}

// EditMenu replaces the inline keyboard of an existing message.
func (c *Client) EditMenu(_ context.Context, chatID int64, messageID int, menu []messenger.Button) error {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, keyboard(menu))
	if _, err := c.api.Send(edit); err != nil {
		return fmt.Errorf("editing menu: %w", err)
	}
	return nil
}

// Close releases the bot session on Telegram's side. A rate-limit reply
// is surfaced as *messenger.RateLimitError for the registry's retry
// policy.
func (c *Client) Close() error {
	if _, err := c.api.MakeRequest("close", nil); err != nil {
		if tgErr, ok := err.(*tgbotapi.Error); ok && tgErr.RetryAfter > 0 {
			return &messenger.RateLimitError{
				RetryAfter: time.Duration(tgErr.RetryAfter) * time.Second,
			}
		}
		return fmt.Errorf("closing bot session: %w", err)
	}
	return nil
}

// sendWithFallback retries a failed HTML send as plain text, since user
// node text can break HTML parsing.
func (c *Client) sendWithFallback(msg tgbotapi.MessageConfig, plain string) error {
	if _, err := c.api.Send(msg); err != nil {
		log.Printf("Telegram: HTML send failed, retrying plain: %v", err)
		msg.ParseMode = ""
		msg.Text = plain
		if _, err := c.api.Send(msg); err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
	}
	return nil
}

// keyboard builds a one-button-per-row inline keyboard.
func keyboard(menu []messenger.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(menu))
	for _, b := range menu {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// renderHTML escapes the text for Telegram HTML mode and bolds the
// heading line (the node id).
func renderHTML(text string) string {
	head, rest, found := strings.Cut(text, "\n\n")
	if !found {
		return html.EscapeString(text)
	}
	return "<b>" + html.EscapeString(head) + "</b>\n\n" + html.EscapeString(rest)
}

// revealChunks returns the cumulative prefixes of text in steps of size
// runes. The last element is always the full text.
func revealChunks(text string, size int) []string {
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}
	var chunks []string
	for i := size; i < len(runes); i += size {
		chunks = append(chunks, string(runes[:i]))
	}
	return append(chunks, text)
}
