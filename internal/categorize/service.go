package categorize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/circuitbreaker"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/metrics"
)

// Service is the categorization entry point used by sync. It prefers an optional model-backed
// categorizer and falls back to the rule engine whenever the model is unavailable or fails.
type Service struct {
	engine       *Engine
	llmClient    core.LLMClient
	cache        core.CacheRepository
	breaker      *circuitbreaker.CircuitBreaker
	logger       *zap.Logger
	cacheEnabled bool
	cacheTTL     time.Duration
}

// NewService creates a new categorization service. llmClient and cache may be nil.
func NewService(
	engine *Engine,
	llmClient core.LLMClient,
	cache core.CacheRepository,
	breaker *circuitbreaker.CircuitBreaker,
	logger *zap.Logger,
	cacheEnabled bool,
	cacheTTL time.Duration,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.DefaultConfig())
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Service{
		engine:       engine,
		llmClient:    llmClient,
		cache:        cache,
		breaker:      breaker,
		logger:       logger,
		cacheEnabled: cacheEnabled && cache != nil,
		cacheTTL:     cacheTTL,
	}
}

// Engine returns the underlying rule engine
func (s *Service) Engine() *Engine {
	return s.engine
}

// Categorize assigns a category to an email. It never fails: a panicking or failing
// categorizer degrades to the fallback category with low confidence.
func (s *Service) Categorize(ctx context.Context, email *core.Email, profile *core.LearningProfile) (result *core.Categorization) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Categorization panicked, using fallback",
				zap.String("sender", email.From),
				zap.Any("panic", r))
			result = s.fallback(fmt.Sprintf("categorization failed: %v", r))
		}
		metrics.IncrementCategorization(string(result.Category), result.Source)
	}()

	if s.llmClient != nil {
		c, err := s.categorizeWithModel(ctx, email)
		switch {
		case err != nil:
			s.logger.Warn("Model categorization unavailable, using rules",
				zap.String("sender", email.From),
				zap.Error(err))
		case c.Category == core.CategorySpam && s.engine.IsTrusted(email.From):
			// trusted senders never score as spam
			s.logger.Debug("Model flagged trusted sender as spam, using rules",
				zap.String("sender", email.From))
		default:
			return c
		}
	}

	return s.engine.Categorize(email, profile)
}

// CategorizeMessage categorizes a stored message. A manual override is returned as is.
func (s *Service) CategorizeMessage(ctx context.Context, msg *core.Message, profile *core.LearningProfile) *core.Categorization {
	if msg.ManualOverride {
		return &core.Categorization{
			Category:    msg.Category,
			Confidence:  1.0,
			Priority:    msg.Category.Priority(),
			Explanation: "Category set manually",
			Source:      core.SourceManual,
			AnalyzedAt:  time.Now(),
		}
	}
	return s.Categorize(ctx, msg.Email(), profile)
}

func (s *Service) categorizeWithModel(ctx context.Context, email *core.Email) (*core.Categorization, error) {
	key := cacheKey(email)

	if s.cacheEnabled {
		if data, err := s.cache.Get(ctx, key); err == nil {
			var cached core.Categorization
			if err := json.Unmarshal(data, &cached); err == nil {
				s.logger.Debug("Cache hit for message", zap.String("sender", email.From))
				cached.Source = core.SourceCache
				return &cached, nil
			}
		} else if !errors.Is(err, core.ErrCacheMiss) {
			s.logger.Warn("Failed to read categorization cache", zap.Error(err))
		}
	}

	var result *core.Categorization
	err := s.breaker.Execute(func() error {
		c, err := s.llmClient.CategorizeEmail(ctx, email)
		if err != nil {
			return err
		}
		if c == nil {
			return errors.New("model returned no categorization")
		}
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	result = normalize(result)

	if s.cacheEnabled {
		data, err := json.Marshal(result)
		if err == nil {
			err = s.cache.Set(ctx, key, data, s.cacheTTL)
		}
		if err != nil {
			s.logger.Error("Failed to update cache", zap.Error(err))
		}
	}
	return result, nil
}

func (s *Service) fallback(reason string) *core.Categorization {
	return &core.Categorization{
		Category:    core.CategoryOther,
		Confidence:  0.1,
		Priority:    core.OtherPriority,
		Explanation: reason,
		Source:      core.SourceFallback,
		AnalyzedAt:  time.Now(),
	}
}

// normalize coerces model output into the categorization contract
func normalize(c *core.Categorization) *core.Categorization {
	out := *c
	category, ok := core.ParseCategory(string(c.Category))
	if !ok {
		category = core.CategoryOther
	}
	out.Category = category
	out.Confidence = clamp01(c.Confidence)
	if math.IsNaN(c.Confidence) {
		out.Confidence = 0
	}
	if out.Priority < 1 || out.Priority > 5 {
		out.Priority = category.Priority()
	}
	if out.Explanation == "" {
		out.Explanation = fmt.Sprintf("Categorized as '%s'. %s.", category, category.Description())
	}
	out.Source = core.SourceLLM
	if out.AnalyzedAt.IsZero() {
		out.AnalyzedAt = time.Now()
	}
	return &out
}

func cacheKey(email *core.Email) string {
	h := sha256.New()
	h.Write([]byte(email.From))
	h.Write([]byte{0})
	h.Write([]byte(email.Subject))
	h.Write([]byte{0})
	h.Write([]byte(email.Body))
	return "categorization:" + hex.EncodeToString(h.Sum(nil))
}
