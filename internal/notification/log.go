package notification

import (
	"context"
	"log/slog"
)

// LogSender writes notifications to the structured log. It is the default
// sink when no external channel is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log-backed sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, msg *Message) error {
	s.logger.InfoContext(ctx, "notification",
		slog.String("kind", msg.Kind),
		slog.String("user_id", msg.UserID),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body),
	)
	return nil
}
