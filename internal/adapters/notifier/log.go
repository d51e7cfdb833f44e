package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

// LogNotifier writes events to the log; used when no broker is configured
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new log notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the event
func (n *LogNotifier) Notify(ctx context.Context, event core.Event) error {
	n.logger.Info("Event",
		zap.String("type", event.Type),
		zap.String("user_id", event.UserID),
		zap.String("channel", string(event.Channel)),
		zap.Any("data", event.Data))
	return nil
}
