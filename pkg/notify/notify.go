// Package notify implements the off-core notification-sender contract:
// a thin Slack-backed stub that the worker pool posts terminal run
// outcomes into. Notification content and delivery reliability are an
// external collaborator's concern; this package only dispatches a summary
// line, best-effort and without retries. Post runs synchronously in the
// caller's goroutine.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/supercheck-io/supercheck/pkg/run"
)

// Sender posts a one-line summary of a terminal run to a configured
// channel. A zero-value Sender (no bot token) is a no-op.
type Sender struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewSender creates a Sender. If botToken is empty, Post is a no-op.
func NewSender(botToken, channel string, logger *slog.Logger) *Sender {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Sender{client: client, channel: channel, logger: logger}
}

// Enabled reports whether this Sender will actually deliver anything.
func (s *Sender) Enabled() bool {
	return s.client != nil && s.channel != ""
}

// Post sends a terminal run's outcome to the configured channel. Failures
// are logged and swallowed — a notification delivery problem must never
// fail the run it is reporting on.
func (s *Sender) Post(ctx context.Context, r run.Run) {
	if !s.Enabled() {
		return
	}

	emoji := "✅"
	if r.Status != run.StatusPassed {
		emoji = "❌"
	}
	text := fmt.Sprintf("%s run `%s` finished: *%s*", emoji, r.ID, r.Status)

	if _, _, err := s.client.PostMessageContext(ctx, s.channel, goslack.MsgOptionText(text, false)); err != nil {
		s.logger.Warn("notify: post run outcome", "run_id", r.ID, "error", err)
	}
}
