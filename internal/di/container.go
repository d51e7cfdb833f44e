package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/actions"
	"github.com/mikey/mail-triage/internal/adapters/httpapi"
	"github.com/mikey/mail-triage/internal/categorize"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/factory"
	"github.com/mikey/mail-triage/internal/logging"
	"github.com/mikey/mail-triage/internal/mailsync"
	"github.com/mikey/mail-triage/internal/ports"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer(cfg *config.Config) (*dig.Container, error) {
	container := dig.New()

	providers := []any{
		// Configuration and logging
		func() *config.Config { return cfg },
		func() context.Context { return context.Background() },
		logging.InitLogger,
		factory.CreateTextProcessor,

		// Factories
		factory.NewLLMFactory,
		factory.NewCacheFactory,
		factory.NewStoreFactory,
		factory.NewNotifierFactory,

		// Adapters
		func(ctx context.Context, f *factory.CacheFactory) (core.CacheRepository, error) {
			return f.CreateCacheRepository(ctx)
		},
		func(ctx context.Context, f *factory.StoreFactory) (factory.Store, error) {
			return f.CreateStore(ctx)
		},
		func(f *factory.NotifierFactory) (core.Notifier, error) {
			return f.CreateNotifier()
		},
		provideCredentialStore,
		func(cfg *config.Config, creds core.CredentialStore, logger *zap.Logger) core.ProviderFactory {
			return factory.NewProviderFactory(cfg, creds, logger)
		},

		// Domain services
		func(ctx context.Context, cfg *config.Config, f *factory.LLMFactory, cache core.CacheRepository, logger *zap.Logger) (*categorize.Service, error) {
			return factory.CreateCategorizer(ctx, cfg, f, cache, logger)
		},
		providePlanner,
		provideOrchestrator,
		provideWatchMaintainer,
		func(cfg *config.Config, orch *mailsync.Orchestrator, cache core.CacheRepository, logger *zap.Logger) *mailsync.PushHandler {
			return mailsync.NewPushHandler(orch, cache, cfg.GetWatch().PushDedupTTL, logger)
		},
		func(cfg *config.Config, orch *mailsync.Orchestrator, w *mailsync.WatchMaintainer, logger *zap.Logger) *mailsync.Scheduler {
			return mailsync.NewScheduler(orch, w, cfg.GetSync().ReconcileInterval, cfg.GetWatch().CheckInterval, logger)
		},
		func(cfg *config.Config, push *mailsync.PushHandler, orch *mailsync.Orchestrator, logger *zap.Logger) *httpapi.Server {
			return httpapi.NewServer(cfg.GetServer().ListenAddress, push, orch, logger)
		},
		func(srv *httpapi.Server, sched *mailsync.Scheduler) []ports.BackgroundService {
			return []ports.BackgroundService{srv, sched}
		},
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return nil, err
		}
	}
	return container, nil
}

// provideCredentialStore opens the keyring. Without a secret key no store is configured and
// provider clients fail with an auth error.
func provideCredentialStore(cfg *config.Config, logger *zap.Logger) (core.CredentialStore, error) {
	if cfg.GetCredentials().SecretKey == "" {
		logger.Warn("No credentials.secret_key configured; provider access is disabled")
		return nil, nil
	}
	return factory.CreateCredentialStore(cfg, logger)
}

func providePlanner(cfg *config.Config, cache core.CacheRepository, logger *zap.Logger) *actions.Planner {
	actionsCfg := cfg.GetActions()
	labels := actions.NewLabelResolver(cache, actionsCfg.LabelCacheTTL, actionsCfg.LabelPrefix, logger)
	return actions.NewPlanner(labels, actionsCfg.Batch, logger)
}

func provideOrchestrator(
	cfg *config.Config,
	store factory.Store,
	providers core.ProviderFactory,
	categorizer *categorize.Service,
	planner *actions.Planner,
	notifier core.Notifier,
	logger *zap.Logger,
) *mailsync.Orchestrator {
	syncCfg := cfg.GetSync()
	return mailsync.NewOrchestrator(mailsync.Deps{
		Accounts:    store,
		Messages:    store,
		Profiles:    store,
		Providers:   providers,
		Categorizer: categorizer,
		Planner:     planner,
		Notifier:    notifier,
	}, mailsync.Config{
		WorkerPoolSize: syncCfg.WorkerPoolSize,
		TaskTimeout:    syncCfg.TaskTimeout,
		FullLookback:   syncCfg.FullLookback,
		Overlap:        syncCfg.Overlap,
		MaxResults:     syncCfg.MaxResults,
		LearningWindow: syncCfg.LearningWindow,
		IncludeBodies:  syncCfg.IncludeBodies,
		ApplyActions:   syncCfg.ApplyActions,
	}, logger)
}

func provideWatchMaintainer(cfg *config.Config, store factory.Store, providers core.ProviderFactory, logger *zap.Logger) *mailsync.WatchMaintainer {
	watchCfg := cfg.GetWatch()
	return mailsync.NewWatchMaintainer(store, providers, mailsync.WatchConfig{
		Topic:           watchCfg.Topic,
		Labels:          watchCfg.Labels,
		NotificationURL: watchCfg.OutlookNotificationURL,
		RenewThreshold:  watchCfg.RenewThreshold,
	}, logger)
}
