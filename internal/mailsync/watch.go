package mailsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

// WatchConfig configures push subscription maintenance
type WatchConfig struct {
	// Topic is the Gmail Pub/Sub topic
	Topic string
	// Labels restricts Gmail pushes to these labels
	Labels []string
	// NotificationURL is the Outlook webhook endpoint
	NotificationURL string
	// RenewThreshold renews watches expiring within this duration
	RenewThreshold time.Duration
}

// WatchMaintainer keeps push subscriptions alive for every active account
type WatchMaintainer struct {
	accounts  core.AccountStore
	providers core.ProviderFactory
	cfg       WatchConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewWatchMaintainer creates a watch maintainer
func NewWatchMaintainer(accounts core.AccountStore, providers core.ProviderFactory, cfg WatchConfig, logger *zap.Logger) *WatchMaintainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RenewThreshold <= 0 {
		cfg.RenewThreshold = 24 * time.Hour
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = []string{"INBOX"}
	}
	return &WatchMaintainer{
		accounts:  accounts,
		providers: providers,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (w *WatchMaintainer) topicFor(p core.Provider) string {
	switch p {
	case core.ProviderGmail:
		return w.cfg.Topic
	case core.ProviderOutlook:
		return w.cfg.NotificationURL
	}
	return ""
}

// RenewExpiring starts or renews the watch of every active account whose watch is missing or
// expires within the threshold. It returns the number of renewed watches.
func (w *WatchMaintainer) RenewExpiring(ctx context.Context) (int, error) {
	deadline := w.now().Add(w.cfg.RenewThreshold)
	renewed := 0
	var errs []error

	for _, p := range []core.Provider{core.ProviderGmail, core.ProviderOutlook} {
		topic := w.topicFor(p)
		if topic == "" {
			continue
		}
		accounts, err := w.accounts.ListActiveAccounts(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("listing %s accounts: %w", p, err))
			continue
		}
		for i := range accounts {
			account := &accounts[i]
			if !account.WatchExpiration.IsZero() && account.WatchExpiration.After(deadline) {
				continue
			}
			if err := w.renew(ctx, account, topic); err != nil {
				w.logger.Error("Failed to renew watch", zap.String("account", account.Email), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", account.Email, err))
				continue
			}
			renewed++
		}
	}
	return renewed, errors.Join(errs...)
}

func (w *WatchMaintainer) renew(ctx context.Context, account *core.Account, topic string) error {
	client, err := w.providers.ClientFor(ctx, account)
	if err != nil {
		return err
	}
	info, err := client.StartWatch(ctx, topic, w.cfg.Labels)
	if errors.Is(err, core.ErrUnsupported) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := w.accounts.SetWatch(ctx, account.ID, info.Expiration); err != nil {
		return err
	}
	if info.HistoryID > 0 {
		if err := w.accounts.AdvanceCursor(ctx, account.ID, core.Cursor{HistoryID: info.HistoryID}); err != nil {
			return err
		}
	}
	w.logger.Info("Watch renewed",
		zap.String("account", account.Email),
		zap.Time("expiration", info.Expiration),
		zap.Uint64("history_id", info.HistoryID))
	return nil
}

// Disconnect stops the account's watch and deactivates it. A failing stop is logged; the
// account is deactivated regardless.
func (w *WatchMaintainer) Disconnect(ctx context.Context, accountID uuid.UUID) error {
	account, err := w.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if client, err := w.providers.ClientFor(ctx, account); err != nil {
		w.logger.Warn("Cannot stop watch", zap.String("account", account.Email), zap.Error(err))
	} else if err := client.StopWatch(ctx); err != nil && !errors.Is(err, core.ErrUnsupported) {
		w.logger.Warn("Failed to stop watch", zap.String("account", account.Email), zap.Error(err))
	}
	return w.accounts.Deactivate(ctx, accountID)
}
