package email

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of sending them.
// Used when Postmark is not configured.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{log: log}
}

func (s *LogSender) SendEmail(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "email suppressed",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("tag", msg.Tag),
	)
	return nil
}

// New picks the Postmark sender when credentials are configured and the
// log sender otherwise.
func New(cfg Config, log *slog.Logger) (Sender, error) {
	if !cfg.Enabled() {
		return NewLogSender(log), nil
	}
	return NewPostmarkSender(cfg)
}
