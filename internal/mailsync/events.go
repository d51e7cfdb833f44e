package mailsync

import (
	"context"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

// emit delivers an event; failures are logged and otherwise ignored
func (o *Orchestrator) emit(ctx context.Context, userID string, channel core.Channel, eventType string, data map[string]any) {
	if o.Notifier == nil {
		return
	}
	event := core.Event{
		Type:      eventType,
		UserID:    userID,
		Channel:   channel,
		Data:      data,
		Timestamp: o.now(),
	}
	if err := o.Notifier.Notify(ctx, event); err != nil {
		o.logger.Warn("Failed to deliver event",
			zap.String("type", eventType),
			zap.String("user", userID),
			zap.Error(err))
	}
}

func (o *Orchestrator) notifyNewMessage(ctx context.Context, userID string, account *core.Account, msg *core.Message) {
	data := map[string]any{
		"account_id": account.ID.String(),
		"message_id": msg.ProviderMessageID,
		"subject":    msg.Subject,
		"sender":     msg.Sender,
		"category":   string(msg.Category),
		"priority":   msg.Priority,
		"confidence": msg.Confidence,
	}
	o.emit(ctx, userID, core.ChannelNotifications, "new_email", data)
	if msg.Category == core.CategoryUrgent {
		o.emit(ctx, userID, core.ChannelNotifications, "urgent_email", data)
	}
}
