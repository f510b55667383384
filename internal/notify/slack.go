package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/sandloft/sandloft/internal/session"
)

// Slack posts terminal-session messages to a Slack channel.
type Slack struct {
	client  *slack.Client
	channel string
}

// NewSlack creates a Slack notifier from a bot token and channel ID.
func NewSlack(token, channel string) *Slack {
	return &Slack{
		client:  slack.New(token),
		channel: channel,
	}
}

// SessionTerminal posts the session summary.
func (s *Slack) SessionTerminal(ctx context.Context, sess *session.Session) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(summarize(sess), false))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	return nil
}
