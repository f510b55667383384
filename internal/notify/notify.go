// Package notify delivers session lifecycle notifications to external
// channels. Notifiers are invoked when a session reaches a terminal status.
package notify

import (
	"context"
	"fmt"

	"github.com/sandloft/sandloft/internal/session"
)

// Notifier receives terminal-session notifications.
type Notifier interface {
	SessionTerminal(ctx context.Context, sess *session.Session) error
}

// summarize builds the one-line message shared by all channels.
func summarize(sess *session.Session) string {
	msg := fmt.Sprintf("Session %s finished: %s", sess.ID, sess.Status)
	if sess.Config.RepoURL != "" {
		msg += fmt.Sprintf(" (%s)", sess.Config.RepoURL)
	}
	if sess.PRUrl != "" {
		msg += "\n" + sess.PRUrl
	}
	return msg
}
