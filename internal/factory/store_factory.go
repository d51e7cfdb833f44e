package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/adapters/store"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
)

// Store is a backend serving accounts, messages and learning profiles
type Store interface {
	core.AccountStore
	core.MessageStore
	core.ProfileStore
}

// StoreFactory creates stores based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{cfg: cfg, logger: logger}
}

// CreateStore creates the configured store
func (f *StoreFactory) CreateStore(ctx context.Context) (Store, error) {
	storeCfg := f.cfg.GetStore()

	switch storeCfg.Type {
	case "memory":
		f.logger.Warn("Using in-memory store; accounts and messages are lost on restart")
		return store.NewMemoryStore(), nil
	case "postgres":
		pool, err := store.NewConnection(ctx, storeCfg.PostgresDSN, f.logger)
		if err != nil {
			return nil, err
		}
		return store.NewPostgresStore(ctx, pool, f.logger)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeCfg.Type)
	}
}
