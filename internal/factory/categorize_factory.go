package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/categorize"
	"github.com/mikey/mail-triage/internal/circuitbreaker"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/whitelist"
)

// CreateEngine builds the rule engine from the categorize section. Entries under
// categorize.rules replace the built-in rule of their category.
func CreateEngine(cfg *config.Config, logger *zap.Logger) (*categorize.Engine, error) {
	catCfg := cfg.GetCategorize()
	opts := categorize.DefaultOptions()
	opts.LowConfidenceFloor = catCfg.LowConfidenceFloor
	opts.FallbackConfidence = catCfg.FallbackConfidence
	opts.LearningCap = catCfg.LearningCap
	if len(catCfg.TrustedDomains) > 0 {
		opts.Trusted = whitelist.NewChecker(catCfg.TrustedDomains, logger)
	}

	rules := categorize.DefaultRules()
	if v := cfg.GetViper(); v.IsSet("categorize.rules") {
		var overrides []categorize.Rule
		if err := v.UnmarshalKey("categorize.rules", &overrides); err != nil {
			return nil, fmt.Errorf("failed to read categorize.rules: %w", err)
		}
		rules = categorize.WithOverrides(rules, overrides)
		logger.Info("Loaded categorization rule overrides", zap.Int("rules", len(overrides)))
	}
	rs, err := categorize.NewRuleSet(rules)
	if err != nil {
		return nil, fmt.Errorf("invalid categorization rules: %w", err)
	}
	return categorize.NewEngine(rs, opts), nil
}

// CreateCategorizer builds the categorization service. A failing LLM setup is logged and the
// service runs on rules alone.
func CreateCategorizer(ctx context.Context, cfg *config.Config, llm *LLMFactory, cache core.CacheRepository, logger *zap.Logger) (*categorize.Service, error) {
	engine, err := CreateEngine(cfg, logger)
	if err != nil {
		return nil, err
	}

	catCfg := cfg.GetCategorize()
	client, err := llm.CreateLLMClient(ctx)
	if err != nil {
		logger.Error("LLM categorizer unavailable, using rules only", zap.Error(err))
		client = nil
	}
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: catCfg.BreakerFailureThreshold,
		Timeout:          catCfg.BreakerTimeout,
	})
	return categorize.NewService(engine, client, cache, breaker, logger, true, catCfg.LLMCacheTTL), nil
}
