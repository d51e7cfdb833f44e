package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

// DefaultLabelCacheTTL is how long resolved label ids are reused
const DefaultLabelCacheTTL = time.Hour

// LabelResolver resolves taxonomy label ids per account, creating them on first use.
// Results are kept in the shared TTL cache keyed by account identity.
type LabelResolver struct {
	cache  core.CacheRepository
	ttl    time.Duration
	specs  []core.LabelSpec
	logger *zap.Logger
}

// NewLabelResolver creates a resolver. A nil cache resolves through the provider every time.
func NewLabelResolver(cache core.CacheRepository, ttl time.Duration, prefix string, logger *zap.Logger) *LabelResolver {
	if ttl <= 0 {
		ttl = DefaultLabelCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LabelResolver{
		cache:  cache,
		ttl:    ttl,
		specs:  LabelSpecs(prefix),
		logger: logger,
	}
}

func labelCacheKey(account *core.Account) string {
	return fmt.Sprintf("labels:%s:%s", account.Provider, strings.ToLower(account.Email))
}

// Resolve returns label ids by category for the account
func (r *LabelResolver) Resolve(ctx context.Context, account *core.Account, client core.ProviderClient) (map[core.Category]string, error) {
	key := labelCacheKey(account)
	if r.cache != nil {
		data, err := r.cache.Get(ctx, key)
		switch {
		case err == nil:
			var ids map[core.Category]string
			if jerr := json.Unmarshal(data, &ids); jerr == nil && len(ids) == len(r.specs) {
				return ids, nil
			}
		case !errors.Is(err, core.ErrCacheMiss):
			r.logger.Warn("Label cache lookup failed", zap.String("account", account.Email), zap.Error(err))
		}
	}

	ids, err := client.EnsureLabels(ctx, r.specs)
	if err != nil {
		return nil, fmt.Errorf("failed to set up labels: %w", err)
	}

	if r.cache != nil {
		if data, err := json.Marshal(ids); err == nil {
			if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
				r.logger.Warn("Failed to cache label ids", zap.String("account", account.Email), zap.Error(err))
			}
		}
	}
	return ids, nil
}

// Invalidate drops the cached ids of an account
func (r *LabelResolver) Invalidate(ctx context.Context, account *core.Account) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, labelCacheKey(account))
}
