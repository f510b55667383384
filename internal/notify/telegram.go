package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sandloft/sandloft/internal/session"
)

// Telegram sends terminal-session messages to a chat. Send-only; no long
// polling.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a Telegram notifier from a bot token and chat ID.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// SessionTerminal sends the session summary. The bot API has no
// context-aware send; ctx cancellation is checked up front.
func (t *Telegram) SessionTerminal(ctx context.Context, sess *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, summarize(sess))); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}
