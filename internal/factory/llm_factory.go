package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/utils"
)

// LLMFactory creates LLM clients
type LLMFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *LLMFactory {
	return &LLMFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateLLMClient creates a new LLM client based on the configuration. It returns nil when
// model-backed categorization is disabled.
func (f *LLMFactory) CreateLLMClient(ctx context.Context) (core.LLMClient, error) {
	if !f.cfg.GetCategorize().UseLLM {
		return nil, nil
	}
	return f.CreateProviderClient(ctx)
}

// CreateProviderClient creates the configured LLM client regardless of categorize.use_llm
func (f *LLMFactory) CreateProviderClient(ctx context.Context) (core.LLMClient, error) {
	llmConfig := f.cfg.GetLLM()

	switch llmConfig.Provider {
	case "bedrock":
		return NewBedrockFactory(f.cfg, f.logger, f.textProcessor).CreateLLMClient(ctx)
	case "gemini":
		return NewGeminiFactory(f.cfg, f.logger, f.textProcessor).CreateLLMClient(ctx)
	case "openai":
		return NewOpenAIFactory(f.cfg, f.logger, f.textProcessor).CreateLLMClient()
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", llmConfig.Provider)
	}
}
