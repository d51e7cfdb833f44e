package mailsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

// Scheduler runs periodic full reconciliation and watch renewal in the background
type Scheduler struct {
	orch              *Orchestrator
	watches           *WatchMaintainer
	reconcileInterval time.Duration
	checkInterval     time.Duration
	logger            *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. A zero interval disables that job.
func NewScheduler(orch *Orchestrator, watches *WatchMaintainer, reconcileInterval, checkInterval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		orch:              orch,
		watches:           watches,
		reconcileInterval: reconcileInterval,
		checkInterval:     checkInterval,
		logger:            logger,
	}
}

// Start launches the periodic jobs
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.watches != nil && s.checkInterval > 0 {
		s.every(ctx, s.checkInterval, "watch renewal", func(ctx context.Context) {
			n, err := s.watches.RenewExpiring(ctx)
			if err != nil {
				s.logger.Error("Watch renewal incomplete", zap.Int("renewed", n), zap.Error(err))
			}
		})
	}
	if s.reconcileInterval > 0 {
		s.every(ctx, s.reconcileInterval, "reconciliation", s.Reconcile)
	}
	s.logger.Info("Scheduler started",
		zap.Duration("reconcile_interval", s.reconcileInterval),
		zap.Duration("check_interval", s.checkInterval))
	return nil
}

// Stop cancels the jobs and waits for a running one to return
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, name string, job func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.logger.Debug("Running scheduled job", zap.String("job", name))
				job(ctx)
			}
		}
	}()
}

// Reconcile runs a forced full sync for every user owning an active account
func (s *Scheduler) Reconcile(ctx context.Context) {
	users, err := s.activeUsers(ctx)
	if err != nil {
		s.logger.Error("Failed to list users for reconciliation", zap.Error(err))
		return
	}
	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		report, err := s.orch.SyncAll(ctx, userID, true)
		if err != nil {
			if !errors.Is(err, core.ErrNoAccounts) {
				s.logger.Error("Reconciliation failed", zap.String("user", userID), zap.Error(err))
			}
			continue
		}
		if !report.Success {
			s.logger.Warn("Reconciliation partially failed",
				zap.String("user", userID),
				zap.Strings("errors", report.Errors))
		}
	}
}

func (s *Scheduler) activeUsers(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var users []string
	for _, p := range []core.Provider{core.ProviderGmail, core.ProviderOutlook, core.ProviderIMAP} {
		accounts, err := s.orch.Accounts.ListActiveAccounts(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, a := range accounts {
			if !seen[a.UserID] {
				seen[a.UserID] = true
				users = append(users, a.UserID)
			}
		}
	}
	return users, nil
}
