package mailsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikey/mail-triage/internal/actions"
	"github.com/mikey/mail-triage/internal/categorize"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/metrics"
)

// Config tunes sync behavior
type Config struct {
	WorkerPoolSize int
	TaskTimeout    time.Duration
	FullLookback   time.Duration
	Overlap        time.Duration
	MaxResults     int
	LearningWindow time.Duration
	IncludeBodies  bool
	ApplyActions   bool
}

// DefaultConfig returns the standard sync tuning
func DefaultConfig() Config {
	return Config{
		WorkerPoolSize: 3,
		TaskTimeout:    5 * time.Minute,
		FullLookback:   30 * 24 * time.Hour,
		Overlap:        time.Hour,
		MaxResults:     100,
		LearningWindow: 60 * 24 * time.Hour,
		IncludeBodies:  true,
		ApplyActions:   true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = def.WorkerPoolSize
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = def.TaskTimeout
	}
	if c.FullLookback <= 0 {
		c.FullLookback = def.FullLookback
	}
	if c.Overlap < 0 {
		c.Overlap = def.Overlap
	}
	if c.MaxResults <= 0 {
		c.MaxResults = def.MaxResults
	}
	if c.LearningWindow <= 0 {
		c.LearningWindow = def.LearningWindow
	}
	return c
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Accounts    core.AccountStore
	Messages    core.MessageStore
	Profiles    core.ProfileStore
	Providers   core.ProviderFactory
	Categorizer *categorize.Service
	Planner     *actions.Planner
	Notifier    core.Notifier
}

// Orchestrator syncs a user's accounts on a bounded worker pool
type Orchestrator struct {
	Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Planner == nil {
		deps.Planner = actions.NewPlanner(nil, true, logger)
	}
	return &Orchestrator{
		Deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// SyncAll syncs every active account of a user. It fails only when the user has no
// active accounts; per-account failures are reported in the returned report.
func (o *Orchestrator) SyncAll(ctx context.Context, userID string, forceFull bool) (*core.SyncReport, error) {
	accounts, err := o.Accounts.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, core.ErrNoAccounts
	}

	report := &core.SyncReport{
		RunID:         uuid.New(),
		UserID:        userID,
		TotalAccounts: len(accounts),
		StartedAt:     o.now(),
		Errors:        []string{},
	}
	o.logger.Info("Starting sync",
		zap.String("user", userID),
		zap.Int("accounts", len(accounts)),
		zap.Bool("force_full", forceFull))
	o.emit(ctx, userID, core.ChannelSync, "sync_started", map[string]any{
		"run_id":         report.RunID.String(),
		"total_accounts": len(accounts),
		"force_full":     forceFull,
	})

	results := make([]core.SyncResult, len(accounts))
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.WorkerPoolSize)
	for i := range accounts {
		i := i
		g.Go(func() error {
			results[i] = o.runTask(ctx, userID, accounts[i], forceFull)
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results
	for _, r := range results {
		if r.Succeeded() {
			report.AccountsSynced++
			report.TotalProcessed += r.Processed
			continue
		}
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", r.AccountEmail, r.Error))
	}
	report.Success = report.AccountsSynced == report.TotalAccounts

	if report.TotalProcessed > 0 {
		if err := o.ApplyLearning(ctx, userID); err != nil {
			o.logger.Error("Learning pass failed", zap.String("user", userID), zap.Error(err))
			report.Errors = append(report.Errors, fmt.Sprintf("learning: %v", err))
		} else {
			report.LearningApplied = true
			o.emit(ctx, userID, core.ChannelSync, "learning_applied", map[string]any{
				"run_id": report.RunID.String(),
			})
		}
	}

	report.FinishedAt = o.now()
	status := "success"
	if !report.Success {
		status = "partial"
	}
	metrics.RecordSyncDuration("all", status, report.FinishedAt.Sub(report.StartedAt))

	o.logger.Info("Sync completed",
		zap.String("user", userID),
		zap.Int("accounts_synced", report.AccountsSynced),
		zap.Int("total_accounts", report.TotalAccounts),
		zap.Int("processed", report.TotalProcessed),
		zap.Bool("learning_applied", report.LearningApplied))
	o.emit(ctx, userID, core.ChannelSync, "sync_completed", map[string]any{
		"run_id":           report.RunID.String(),
		"success":          report.Success,
		"accounts_synced":  report.AccountsSynced,
		"total_accounts":   report.TotalAccounts,
		"total_processed":  report.TotalProcessed,
		"errors":           report.Errors,
		"learning_applied": report.LearningApplied,
	})
	return report, nil
}

// runTask syncs one account under the task timeout. A task that overruns is reported as
// timed out and its late outcome is discarded.
func (o *Orchestrator) runTask(ctx context.Context, userID string, account core.Account, forceFull bool) core.SyncResult {
	taskCtx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
	defer cancel()

	start := o.now()
	done := make(chan core.SyncResult, 1)
	go func() {
		done <- o.syncAccount(taskCtx, userID, account, forceFull)
	}()

	var r core.SyncResult
	select {
	case r = <-done:
	case <-taskCtx.Done():
		o.logger.Warn("Account sync timed out",
			zap.String("account", account.Email),
			zap.Duration("timeout", o.cfg.TaskTimeout))
		r = core.SyncResult{
			AccountID:    account.ID,
			AccountEmail: account.Email,
			Status:       core.TaskTimeout,
			Error:        fmt.Sprintf("timed out after %s", o.cfg.TaskTimeout),
			Duration:     o.now().Sub(start),
		}
		if ctx.Err() != nil {
			r.Status = core.TaskError
			r.Error = ctx.Err().Error()
		}
	}
	o.report(ctx, userID, account, r)
	return r
}

// SyncAccount fetches, categorizes and stores new messages of one account
func (o *Orchestrator) SyncAccount(ctx context.Context, userID string, account core.Account, forceFull bool) core.SyncResult {
	result := o.syncAccount(ctx, userID, account, forceFull)
	o.report(ctx, userID, account, result)
	return result
}

// report records the outcome metric and emits the terminal event of an account sync
func (o *Orchestrator) report(ctx context.Context, userID string, account core.Account, result core.SyncResult) {
	metrics.RecordSyncDuration(string(account.Provider), string(result.Status), result.Duration)
	if result.Succeeded() {
		o.emit(ctx, userID, core.ChannelSync, "account_sync_completed", map[string]any{
			"account_id": account.ID.String(),
			"email":      account.Email,
			"processed":  result.Processed,
			"fetched":    result.Fetched,
			"full_sync":  result.FullSync,
		})
		return
	}
	o.emit(ctx, userID, core.ChannelSync, "account_sync_error", map[string]any{
		"account_id":   account.ID.String(),
		"email":        account.Email,
		"error":        result.Error,
		"auth_failure": result.AuthFailure,
	})
}

func (o *Orchestrator) syncAccount(ctx context.Context, userID string, account core.Account, forceFull bool) (result core.SyncResult) {
	start := o.now()
	result = core.SyncResult{
		AccountID:    account.ID,
		AccountEmail: account.Email,
	}
	defer func() {
		if r := recover(); r != nil {
			result.Status = core.TaskError
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.Duration = o.now().Sub(start)
	}()

	o.emit(ctx, userID, core.ChannelSync, "account_sync_started", map[string]any{
		"account_id": account.ID.String(),
		"email":      account.Email,
	})

	fail := func(err error) core.SyncResult {
		result.Status = core.TaskError
		result.Error = err.Error()
		result.AuthFailure = core.IsAuthError(err)
		o.logger.Error("Account sync failed",
			zap.String("account", account.Email),
			zap.Bool("auth_failure", result.AuthFailure),
			zap.Error(err))
		return result
	}

	client, err := o.Providers.ClientFor(ctx, &account)
	if err != nil {
		return fail(fmt.Errorf("failed to create provider client: %w", err))
	}

	now := o.now()
	cursor := core.Cursor{LastSync: now}
	var fetched []core.FetchedMessage
	incremental := false

	if !forceFull && account.Cursor.HistoryID > 0 {
		msgs, next, err := client.FetchSince(ctx, account.Cursor.HistoryID, o.cfg.MaxResults)
		switch {
		case err == nil:
			fetched, incremental = msgs, true
			cursor.HistoryID = next
			result.WindowStart = account.Cursor.LastSync
		case core.IsAuthError(err):
			return fail(err)
		case !errors.Is(err, core.ErrUnsupported):
			o.logger.Warn("Incremental fetch failed, using time window",
				zap.String("account", account.Email),
				zap.Error(err))
		}
	}

	if !incremental {
		since, full := Window(account, forceFull, now, o.cfg.FullLookback, o.cfg.Overlap)
		result.WindowStart, result.FullSync = since, full
		msgs, err := client.FetchMessages(ctx, since, o.cfg.MaxResults, o.cfg.IncludeBodies)
		if err != nil {
			return fail(fmt.Errorf("failed to fetch messages: %w", err))
		}
		fetched = msgs
		// seeds the incremental path for providers without push subscriptions
		cursor.HistoryID = highestCursor(fetched)
	}
	result.Fetched = len(fetched)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	processed, err := o.ingest(ctx, userID, &account, client, fetched)
	result.Processed = processed
	if err != nil {
		return fail(err)
	}

	// an abandoned task must not move the cursor past messages it never stored
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if err := o.Accounts.AdvanceCursor(ctx, account.ID, cursor); err != nil {
		return fail(fmt.Errorf("failed to advance cursor: %w", err))
	}

	result.Status = core.TaskSuccess
	o.logger.Info("Account synced",
		zap.String("account", account.Email),
		zap.Int("fetched", result.Fetched),
		zap.Int("processed", processed),
		zap.Bool("incremental", incremental))
	return result
}

func highestCursor(fetched []core.FetchedMessage) uint64 {
	var highest uint64
	for _, m := range fetched {
		if m.Cursor > highest {
			highest = m.Cursor
		}
	}
	return highest
}

// ingest categorizes and stores fetched messages, then applies provider actions to the new
// ones. Messages already stored are skipped.
func (o *Orchestrator) ingest(ctx context.Context, userID string, account *core.Account, client core.ProviderClient, fetched []core.FetchedMessage) (int, error) {
	if len(fetched) == 0 {
		return 0, nil
	}
	profile := o.loadProfile(ctx, userID)

	var created []core.Message
	for _, fm := range fetched {
		if err := ctx.Err(); err != nil {
			return len(created), err
		}
		if _, err := o.Messages.GetMessage(ctx, account.ID, fm.ID); err == nil {
			continue
		}

		msg := core.NewMessage(account.ID, account.Email, fm)
		msg.Apply(o.Categorizer.Categorize(ctx, msg.Email(), profile))

		ok, err := o.Messages.UpsertMessage(ctx, msg)
		if err != nil {
			metrics.IncrementMessagesProcessed(string(account.Provider), "error")
			return len(created), fmt.Errorf("failed to store message %s: %w", fm.ID, err)
		}
		if !ok {
			continue
		}
		metrics.IncrementMessagesProcessed(string(account.Provider), "success")
		created = append(created, *msg)
		o.notifyNewMessage(ctx, userID, account, msg)
	}

	if o.cfg.ApplyActions && len(created) > 0 {
		res := o.Planner.Apply(ctx, account, client, created)
		if len(res.Errors) > 0 {
			o.logger.Warn("Some provider actions failed",
				zap.String("account", account.Email),
				zap.Strings("errors", res.Errors))
		}
	}
	return len(created), nil
}

func (o *Orchestrator) loadProfile(ctx context.Context, userID string) *core.LearningProfile {
	if o.Profiles == nil {
		return nil
	}
	profile, err := o.Profiles.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			o.logger.Warn("Failed to load learning profile", zap.String("user", userID), zap.Error(err))
		}
		return nil
	}
	return profile
}
