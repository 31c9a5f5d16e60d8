// Package notify delivers operational notifications about bot sessions.
package notify

import (
	"log"

	"github.com/slack-go/slack"
)

// SlackNotifier posts session lifecycle events to a Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlack creates a notifier posting to the given channel. Returns nil
// when the token is empty so callers can pass it straight to the
// registry, which treats a nil notifier as "no notifications".
func NewSlack(botToken, channel string) *SlackNotifier {
	if botToken == "" || channel == "" {
		return nil
	}
	return &SlackNotifier{client: slack.New(botToken), channel: channel}
}

// Notify posts the text to the configured channel. Delivery failures
// are logged and never surfaced; notifications are best effort.
func (n *SlackNotifier) Notify(text string) {
	_, _, err := n.client.PostMessage(n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("notify: posting to slack channel %s: %v", n.channel, err)
	}
}
