package mailsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/metrics"
)

// DefaultPushDedupTTL is how long a delivered push notification is remembered
const DefaultPushDedupTTL = 24 * time.Hour

// OutlookNotification is one Graph change notification
type OutlookNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
	ResourceData   struct {
		ID string `json:"id"`
	} `json:"resourceData"`
}

// PushHandler ingests mail announced by provider push notifications
type PushHandler struct {
	orch     *Orchestrator
	cache    core.CacheRepository
	dedupTTL time.Duration
	logger   *zap.Logger
}

// NewPushHandler creates a push handler. A nil cache disables deduplication.
func NewPushHandler(orch *Orchestrator, cache core.CacheRepository, dedupTTL time.Duration, logger *zap.Logger) *PushHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedupTTL <= 0 {
		dedupTTL = DefaultPushDedupTTL
	}
	return &PushHandler{orch: orch, cache: cache, dedupTTL: dedupTTL, logger: logger}
}

// claim marks key as seen. It returns false when the key was already claimed.
func (h *PushHandler) claim(ctx context.Context, key string) bool {
	if h.cache == nil {
		return true
	}
	ok, err := h.cache.SetNX(ctx, key, []byte("1"), h.dedupTTL)
	if err != nil {
		h.logger.Warn("Push dedup unavailable", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

// release forgets a claim so a redelivery of a failed notification is processed again
func (h *PushHandler) release(ctx context.Context, key string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Delete(context.WithoutCancel(ctx), key); err != nil {
		h.logger.Warn("Failed to release push claim", zap.String("key", key), zap.Error(err))
	}
}

// HandleGmailPush processes a Gmail notification that the mailbox of email changed up to
// historyID. Duplicate deliveries are ignored. It returns the number of new messages stored.
func (h *PushHandler) HandleGmailPush(ctx context.Context, email string, historyID uint64) (int, error) {
	if email == "" || historyID == 0 {
		metrics.IncrementWebhookEvent(string(core.ProviderGmail), "invalid")
		return 0, fmt.Errorf("incomplete gmail notification")
	}

	key := fmt.Sprintf("push:gmail:%s:%d", strings.ToLower(email), historyID)
	if !h.claim(ctx, key) {
		h.logger.Debug("Duplicate Gmail push ignored", zap.String("email", email), zap.Uint64("history_id", historyID))
		metrics.IncrementWebhookEvent(string(core.ProviderGmail), "duplicate")
		return 0, nil
	}

	account, err := h.orch.Accounts.FindAccountByEmail(ctx, core.ProviderGmail, email)
	if err != nil {
		metrics.IncrementWebhookEvent(string(core.ProviderGmail), "unknown_account")
		return 0, fmt.Errorf("no account for %s: %w", email, err)
	}
	if !account.Syncable() {
		metrics.IncrementWebhookEvent(string(core.ProviderGmail), "inactive")
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.orch.cfg.TaskTimeout)
	defer cancel()

	processed, err := h.ingestGmail(ctx, account)
	if err != nil {
		h.release(ctx, key)
		metrics.IncrementWebhookEvent(string(core.ProviderGmail), "error")
		return processed, err
	}
	metrics.IncrementWebhookEvent(string(core.ProviderGmail), "success")
	return processed, nil
}

func (h *PushHandler) ingestGmail(ctx context.Context, account *core.Account) (int, error) {
	if account.Cursor.HistoryID == 0 {
		return h.syncAccount(ctx, account)
	}

	client, err := h.orch.Providers.ClientFor(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("failed to create provider client: %w", err)
	}
	fetched, next, err := client.FetchSince(ctx, account.Cursor.HistoryID, h.orch.cfg.MaxResults)
	if err != nil {
		if core.IsAuthError(err) {
			return 0, err
		}
		h.logger.Warn("History fetch failed, running account sync",
			zap.String("account", account.Email),
			zap.Error(err))
		return h.syncAccount(ctx, account)
	}

	processed, err := h.orch.ingest(ctx, account.UserID, account, client, fetched)
	if err != nil {
		return processed, err
	}
	cursor := core.Cursor{LastSync: h.orch.now(), HistoryID: next}
	if err := h.orch.Accounts.AdvanceCursor(ctx, account.ID, cursor); err != nil {
		return processed, fmt.Errorf("failed to advance cursor: %w", err)
	}
	h.logger.Info("Push ingested",
		zap.String("account", account.Email),
		zap.Int("fetched", len(fetched)),
		zap.Int("processed", processed),
		zap.Uint64("history_id", next))
	return processed, nil
}

func (h *PushHandler) syncAccount(ctx context.Context, account *core.Account) (int, error) {
	result := h.orch.SyncAccount(ctx, account.UserID, *account, false)
	if !result.Succeeded() {
		return result.Processed, errors.New(result.Error)
	}
	return result.Processed, nil
}

// HandleOutlookNotification processes a Graph change notification. The subscription's client
// state carries the account id.
func (h *PushHandler) HandleOutlookNotification(ctx context.Context, n OutlookNotification) (int, error) {
	accountID, err := uuid.Parse(n.ClientState)
	if err != nil {
		metrics.IncrementWebhookEvent(string(core.ProviderOutlook), "invalid")
		return 0, fmt.Errorf("invalid client state %q: %w", n.ClientState, err)
	}
	account, err := h.orch.Accounts.GetAccount(ctx, accountID)
	if err != nil {
		metrics.IncrementWebhookEvent(string(core.ProviderOutlook), "unknown_account")
		return 0, fmt.Errorf("no account %s: %w", accountID, err)
	}
	if account.Provider != core.ProviderOutlook || !account.Syncable() {
		metrics.IncrementWebhookEvent(string(core.ProviderOutlook), "inactive")
		return 0, nil
	}

	ref := n.ResourceData.ID
	if ref == "" {
		ref = n.Resource
	}
	key := fmt.Sprintf("push:outlook:%s:%s", accountID, ref)
	if !h.claim(ctx, key) {
		metrics.IncrementWebhookEvent(string(core.ProviderOutlook), "duplicate")
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.orch.cfg.TaskTimeout)
	defer cancel()

	processed, err := h.syncAccount(ctx, account)
	if err != nil {
		h.release(ctx, key)
		metrics.IncrementWebhookEvent(string(core.ProviderOutlook), "error")
		return processed, err
	}
	metrics.IncrementWebhookEvent(string(core.ProviderOutlook), "success")
	return processed, nil
}
