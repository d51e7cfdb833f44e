package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/adapters/notifier"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
)

// NotifierFactory creates event notifiers based on configuration
type NotifierFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewNotifierFactory creates a new notifier factory
func NewNotifierFactory(cfg *config.Config, logger *zap.Logger) *NotifierFactory {
	return &NotifierFactory{cfg: cfg, logger: logger}
}

// CreateNotifier creates the configured notifier
func (f *NotifierFactory) CreateNotifier() (core.Notifier, error) {
	notifierCfg := f.cfg.GetNotifier()

	switch notifierCfg.Type {
	case "log":
		return notifier.NewLogNotifier(f.logger), nil
	case "amqp":
		return notifier.NewAMQPNotifier(notifierCfg.AMQPURL, notifierCfg.Exchange, f.logger)
	default:
		return nil, fmt.Errorf("unsupported notifier type: %s", notifierCfg.Type)
	}
}
