package mailsync

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

// recentWindow bounds the "recent" message count of a status report
const recentWindow = 7 * 24 * time.Hour

// RecategorizeResult summarizes a recategorization pass
type RecategorizeResult struct {
	Processed int            `json:"processed"`
	Updated   int            `json:"updated"`
	Changes   map[string]int `json:"changes"`
}

// CategoryStat is the share of one category over a period
type CategoryStat struct {
	Category   core.Category `json:"category"`
	Count      int           `json:"count"`
	Percentage float64       `json:"percentage"`
}

// CategoryStats is a per-category breakdown of a user's recent mail
type CategoryStats struct {
	UserID     string         `json:"user_id"`
	Days       int            `json:"days"`
	Total      int            `json:"total"`
	Categories []CategoryStat `json:"categories"`
}

// ownedAccount loads an account and checks it belongs to the user
func (o *Orchestrator) ownedAccount(ctx context.Context, userID string, accountID uuid.UUID) (*core.Account, error) {
	account, err := o.Accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, core.ErrNotFound
	}
	return account, nil
}

// RecategorizeAccount re-runs categorization over the stored messages of an account.
// Messages with a manual override are left untouched. An empty category matches every message.
func (o *Orchestrator) RecategorizeAccount(ctx context.Context, userID string, accountID uuid.UUID, category core.Category) (*RecategorizeResult, error) {
	account, err := o.ownedAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	msgs, err := o.Messages.ListMessages(ctx, account.ID, core.MessageFilter{Category: category})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	profile := o.loadProfile(ctx, userID)
	result := &RecategorizeResult{Changes: make(map[string]int)}
	for i := range msgs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		msg := &msgs[i]
		if msg.ManualOverride {
			continue
		}
		result.Processed++

		c := o.Categorizer.Categorize(ctx, msg.Email(), profile)
		if c.Category == msg.Category {
			continue
		}
		applied, err := o.Messages.UpdateCategorization(ctx, account.ID, msg.ProviderMessageID, c)
		if err != nil {
			return result, fmt.Errorf("failed to update %s: %w", msg.ProviderMessageID, err)
		}
		if applied {
			result.Updated++
			result.Changes[fmt.Sprintf("%s -> %s", msg.Category, c.Category)]++
		}
	}

	o.logger.Info("Account recategorized",
		zap.String("account", account.Email),
		zap.Int("processed", result.Processed),
		zap.Int("updated", result.Updated))
	return result, nil
}

// SetManualCategory records the user's choice of category for a message. The sender's domain
// is learned immediately and, when actions are enabled, provider labels are replaced.
func (o *Orchestrator) SetManualCategory(ctx context.Context, userID string, accountID uuid.UUID, providerMessageID string, category core.Category) (*core.Message, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	account, err := o.ownedAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	msg, err := o.Messages.SetManualCategory(ctx, account.ID, providerMessageID, category)
	if err != nil {
		return nil, err
	}

	if err := o.LearnFromUserAction(ctx, userID, msg.Sender, msg.Subject, category); err != nil {
		o.logger.Warn("Failed to learn from manual category", zap.String("user", userID), zap.Error(err))
	}

	if o.cfg.ApplyActions {
		o.relabel(ctx, account, msg)
	}
	return msg, nil
}

func (o *Orchestrator) relabel(ctx context.Context, account *core.Account, msg *core.Message) {
	client, err := o.Providers.ClientFor(ctx, account)
	if err != nil {
		o.logger.Warn("Cannot relabel message", zap.String("account", account.Email), zap.Error(err))
		return
	}
	if err := o.Planner.Undo(ctx, account, client, msg.ProviderMessageID); err != nil {
		o.logger.Warn("Failed to remove previous labels",
			zap.String("account", account.Email),
			zap.String("message", msg.ProviderMessageID),
			zap.Error(err))
	}
	res := o.Planner.Apply(ctx, account, client, []core.Message{*msg})
	if len(res.Errors) > 0 {
		o.logger.Warn("Failed to apply manual category",
			zap.String("account", account.Email),
			zap.Strings("errors", res.Errors))
	}
}

// Status reports the sync state of every account of a user
func (o *Orchestrator) Status(ctx context.Context, userID string) ([]core.AccountStatus, error) {
	accounts, err := o.Accounts.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	recentSince := o.now().Add(-recentWindow)

	out := make([]core.AccountStatus, 0, len(accounts))
	for _, a := range accounts {
		recent, err := o.Messages.CountMessages(ctx, a.ID, recentSince)
		if err != nil {
			return nil, fmt.Errorf("failed to count messages: %w", err)
		}
		total, err := o.Messages.CountMessages(ctx, a.ID, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("failed to count messages: %w", err)
		}
		out = append(out, core.AccountStatus{
			AccountID:       a.ID,
			Email:           a.Email,
			Provider:        a.Provider,
			Active:          a.Active,
			LastSync:        a.Cursor.LastSync,
			WatchExpiration: a.WatchExpiration,
			RecentMessages:  recent,
			TotalMessages:   total,
		})
	}
	return out, nil
}

// CategoryStats breaks down the user's mail of the last days by category
func (o *Orchestrator) CategoryStats(ctx context.Context, userID string, days int) (*CategoryStats, error) {
	if days <= 0 {
		days = 30
	}
	counts, err := o.Messages.CategoryCounts(ctx, userID, o.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}

	stats := &CategoryStats{UserID: userID, Days: days}
	for _, n := range counts {
		stats.Total += n
	}
	for _, c := range append(append([]core.Category{}, core.RankedCategories...), core.CategoryOther) {
		n := counts[c]
		if n == 0 {
			continue
		}
		pct := float64(n) * 100 / float64(stats.Total)
		stats.Categories = append(stats.Categories, CategoryStat{
			Category:   c,
			Count:      n,
			Percentage: math.Round(pct*100) / 100,
		})
	}
	return stats, nil
}
