package notify

import (
	"context"

	"github.com/leadwatch/core/pkg/logger"
)

// LogNotifier writes messages to the log instead of delivering them
type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(l *logger.Logger) *LogNotifier {
	if l == nil {
		l = logger.New("notifier")
	}
	return &LogNotifier{logger: l}
}

func (n *LogNotifier) Send(ctx context.Context, address, subject, body string) error {
	n.logger.Info().
		Str("action", "notification_dry_run").
		Str("to", address).
		Str("subject", subject).
		Str("body", body).
		Msg("Notification not delivered (dry run)")
	return nil
}
