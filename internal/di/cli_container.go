package di

import (
	"context"
	"flag"
	"strings"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/categorize"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/factory"
	"github.com/mikey/mail-triage/internal/logging"
)

// CLIFlags contains all command line flags for the triage CLI
type CLIFlags struct {
	// Categorizer flags
	UseLLM         bool
	TrustedDomains string

	// LLM provider flags
	Provider    string
	MaxTokens   int
	Temperature float64
	TopP        float64
	MaxBodySize int

	// Bedrock flags
	BedrockRegion  string
	BedrockModelID string

	// Gemini flags
	GeminiAPIKey    string
	GeminiModelName string

	// OpenAI flags
	OpenAIAPIKey    string
	OpenAIModelName string
	OpenAIBaseURL   string

	// Input flags
	InputFile  string
	Scores     bool
	Verbose    bool
	JSONLog    bool
	ConfigFile string
}

// ParseFlags parses command line flags and returns a CLIFlags struct
func ParseFlags() *CLIFlags {
	flags := registerFlags(flag.CommandLine)
	flag.Parse()
	return flags
}

// ParseArgs parses an explicit argument list
func ParseArgs(args []string) (*CLIFlags, error) {
	fs := flag.NewFlagSet("triage-cli", flag.ContinueOnError)
	flags := registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return flags, nil
}

func registerFlags(fs *flag.FlagSet) *CLIFlags {
	flags := &CLIFlags{}

	fs.BoolVar(&flags.UseLLM, "use-llm", false, "Ask the LLM first and fall back to rules")
	fs.StringVar(&flags.TrustedDomains, "trusted", "", "Comma-separated list of trusted sender domains")

	fs.StringVar(&flags.Provider, "provider", "openai", "LLM provider (bedrock, gemini, openai)")
	fs.IntVar(&flags.MaxTokens, "max-tokens", 1000, "Maximum tokens for LLM response")
	fs.Float64Var(&flags.Temperature, "temperature", 0.1, "Temperature for LLM generation")
	fs.Float64Var(&flags.TopP, "top-p", 0.9, "Top-p for LLM generation")
	fs.IntVar(&flags.MaxBodySize, "max-body-size", 4096, "Maximum email body size to send to LLM")

	fs.StringVar(&flags.BedrockRegion, "bedrock-region", "us-east-1", "AWS region for Bedrock")
	fs.StringVar(&flags.BedrockModelID, "bedrock-model", "anthropic.claude-v2", "Bedrock model ID")

	fs.StringVar(&flags.GeminiAPIKey, "gemini-api-key", "", "API key for Google Gemini")
	fs.StringVar(&flags.GeminiModelName, "gemini-model", "gemini-pro", "Gemini model name")

	fs.StringVar(&flags.OpenAIAPIKey, "openai-api-key", "", "API key for OpenAI")
	fs.StringVar(&flags.OpenAIModelName, "openai-model", "gpt-4", "OpenAI model name")
	fs.StringVar(&flags.OpenAIBaseURL, "openai-base-url", "", "OpenAI compatible endpoint")

	fs.StringVar(&flags.InputFile, "file", "", "Input email file (use stdin if not specified)")
	fs.BoolVar(&flags.Scores, "scores", false, "Print the per-category rule scores")
	fs.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	fs.StringVar(&flags.ConfigFile, "config", "", "Path to config file (overrides command line flags)")

	return flags
}

// BuildCLIContainer creates a container for categorizing single messages from the command line
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	providers := []interface{}{
		func() *CLIFlags { return flags },
		func() context.Context { return context.Background() },
		func(flags *CLIFlags) (*zap.Logger, error) {
			return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
		},
		func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
			if flags.ConfigFile != "" {
				cfg, err := config.NewFromFile(flags.ConfigFile)
				if err != nil {
					return nil, err
				}
				logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
				return cfg, nil
			}
			return createConfigFromFlags(flags), nil
		},
		factory.CreateTextProcessor,
		factory.NewLLMFactory,
		// No cache for single messages
		func(ctx context.Context, cfg *config.Config, llm *factory.LLMFactory, logger *zap.Logger) (*categorize.Service, error) {
			return factory.CreateCategorizer(ctx, cfg, llm, nil, logger)
		},
	}
	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return nil, err
		}
	}
	return container, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags(flags *CLIFlags) *config.Config {
	v := config.NewEmptyViper()

	v.Set("logging.level", "info")
	if flags.Verbose {
		v.Set("logging.level", "debug")
	}

	v.Set("categorize.use_llm", flags.UseLLM)
	if flags.TrustedDomains != "" {
		domains := strings.Split(flags.TrustedDomains, ",")
		for i, domain := range domains {
			domains[i] = strings.TrimSpace(domain)
		}
		v.Set("categorize.trusted_domains", domains)
	}

	v.Set("llm.provider", flags.Provider)

	switch flags.Provider {
	case "bedrock":
		v.Set("bedrock.region", flags.BedrockRegion)
		v.Set("bedrock.model_id", flags.BedrockModelID)
		v.Set("bedrock.max_tokens", flags.MaxTokens)
		v.Set("bedrock.temperature", flags.Temperature)
		v.Set("bedrock.top_p", flags.TopP)
		v.Set("bedrock.max_body_size", flags.MaxBodySize)
	case "gemini":
		v.Set("gemini.api_key", flags.GeminiAPIKey)
		v.Set("gemini.model_name", flags.GeminiModelName)
		v.Set("gemini.max_tokens", flags.MaxTokens)
		v.Set("gemini.temperature", flags.Temperature)
		v.Set("gemini.top_p", flags.TopP)
		v.Set("gemini.max_body_size", flags.MaxBodySize)
	case "openai":
		v.Set("openai.api_key", flags.OpenAIAPIKey)
		v.Set("openai.model_name", flags.OpenAIModelName)
		v.Set("openai.base_url", flags.OpenAIBaseURL)
		v.Set("openai.max_tokens", flags.MaxTokens)
		v.Set("openai.temperature", flags.Temperature)
		v.Set("openai.top_p", flags.TopP)
		v.Set("openai.max_body_size", flags.MaxBodySize)
	}

	return config.NewFromViper(v)
}
