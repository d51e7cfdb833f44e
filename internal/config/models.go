package config

import "time"

// SyncConfig tunes the sync orchestrator
type SyncConfig struct {
	WorkerPoolSize    int
	TaskTimeout       time.Duration
	FullLookback      time.Duration
	Overlap           time.Duration
	MaxResults        int
	LearningWindow    time.Duration
	IncludeBodies     bool
	ReconcileInterval time.Duration
	ApplyActions      bool
}

// WatchConfig configures push subscriptions
type WatchConfig struct {
	Topic                  string
	Labels                 []string
	RenewThreshold         time.Duration
	CheckInterval          time.Duration
	OutlookNotificationURL string
	PushDedupTTL           time.Duration
}

// CategorizeConfig tunes the rule engine and the optional model-backed categorizer
type CategorizeConfig struct {
	LowConfidenceFloor      float64
	LearningCap             float64
	FallbackConfidence      float64
	UseLLM                  bool
	LLMCacheTTL             time.Duration
	TrustedDomains          []string
	BreakerFailureThreshold int
	BreakerTimeout          time.Duration
}

// ActionsConfig controls provider-side mutations
type ActionsConfig struct {
	Batch         bool
	LabelPrefix   string
	LabelCacheTTL time.Duration
}

// ProviderConfig is shared by every provider client
type ProviderConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	BodyLimit      int
}

// OAuthConfig holds an OAuth application registration
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     string
}

// OutlookConfig represents the configuration for Microsoft Graph mailboxes
type OutlookConfig struct {
	OAuthConfig
	Tenant           string
	PromotionsFolder string
}

// IMAPConfig represents the configuration for generic IMAP mailboxes
type IMAPConfig struct {
	Host             string
	Port             int
	TLS              bool
	JunkFolder       string
	PromotionsFolder string
}

// CacheConfig selects the TTL cache backend
type CacheConfig struct {
	Type             string
	CleanupFrequency time.Duration
	SQLitePath       string
	MySQLDSN         string
}

// RedisConfig represents the Redis connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Type        string
	PostgresDSN string
}

// NotifierConfig selects the event sink
type NotifierConfig struct {
	Type     string
	AMQPURL  string
	Exchange string
}

// CredentialsConfig configures the token keyring
type CredentialsConfig struct {
	Backend      string
	FileDir      string
	FilePassword string
	SecretKey    string
}

// ServerConfig represents the HTTP server
type ServerConfig struct {
	ListenAddress string
}

// LoggingConfig represents logger settings
type LoggingConfig struct {
	Level  string
	Format string
}

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Provider string
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

func (c *Config) duration(key string) time.Duration {
	return c.v.GetDuration(key)
}

// GetSync returns the sync configuration
func (c *Config) GetSync() SyncConfig {
	return SyncConfig{
		WorkerPoolSize:    c.GetInt("sync.worker_pool_size"),
		TaskTimeout:       c.duration("sync.task_timeout"),
		FullLookback:      c.duration("sync.full_lookback"),
		Overlap:           c.duration("sync.overlap"),
		MaxResults:        c.GetInt("sync.max_results"),
		LearningWindow:    c.duration("sync.learning_window"),
		IncludeBodies:     c.GetBool("sync.include_bodies"),
		ReconcileInterval: c.duration("sync.reconcile_interval"),
		ApplyActions:      c.GetBool("sync.apply_actions"),
	}
}

// GetWatch returns the push subscription configuration
func (c *Config) GetWatch() WatchConfig {
	return WatchConfig{
		Topic:                  c.GetString("watch.topic"),
		Labels:                 c.GetStringSlice("watch.labels"),
		RenewThreshold:         c.duration("watch.renew_threshold"),
		CheckInterval:          c.duration("watch.check_interval"),
		OutlookNotificationURL: c.GetString("watch.outlook_notification_url"),
		PushDedupTTL:           c.duration("watch.push_dedup_ttl"),
	}
}

// GetCategorize returns the categorization configuration
func (c *Config) GetCategorize() CategorizeConfig {
	return CategorizeConfig{
		LowConfidenceFloor:      c.GetFloat64("categorize.low_confidence_floor"),
		LearningCap:             c.GetFloat64("categorize.learning_cap"),
		FallbackConfidence:      c.GetFloat64("categorize.fallback_confidence"),
		UseLLM:                  c.GetBool("categorize.use_llm"),
		LLMCacheTTL:             c.duration("categorize.llm_cache_ttl"),
		TrustedDomains:          c.GetStringSlice("categorize.trusted_domains"),
		BreakerFailureThreshold: c.GetInt("categorize.breaker.failure_threshold"),
		BreakerTimeout:          c.duration("categorize.breaker.timeout"),
	}
}

// GetActions returns the provider action configuration
func (c *Config) GetActions() ActionsConfig {
	return ActionsConfig{
		Batch:         c.GetBool("actions.batch"),
		LabelPrefix:   c.GetString("actions.label_prefix"),
		LabelCacheTTL: c.duration("actions.label_cache_ttl"),
	}
}

// GetProvider returns the shared provider client configuration
func (c *Config) GetProvider() ProviderConfig {
	return ProviderConfig{
		MaxRetries:     c.GetInt("provider.max_retries"),
		InitialBackoff: c.duration("provider.initial_backoff"),
		BodyLimit:      c.GetInt("provider.body_limit"),
	}
}

// GetGmail returns the Gmail OAuth configuration
func (c *Config) GetGmail() OAuthConfig {
	return OAuthConfig{
		ClientID:     c.GetString("gmail.client_id"),
		ClientSecret: c.GetString("gmail.client_secret"),
		RedirectURL:  c.GetString("gmail.redirect_url"),
		Endpoint:     c.GetString("gmail.endpoint"),
	}
}

// GetOutlook returns the Outlook configuration
func (c *Config) GetOutlook() OutlookConfig {
	return OutlookConfig{
		OAuthConfig: OAuthConfig{
			ClientID:     c.GetString("outlook.client_id"),
			ClientSecret: c.GetString("outlook.client_secret"),
			RedirectURL:  c.GetString("outlook.redirect_url"),
			Endpoint:     c.GetString("outlook.endpoint"),
		},
		Tenant:           c.GetString("outlook.tenant"),
		PromotionsFolder: c.GetString("outlook.promotions_folder"),
	}
}

// GetIMAP returns the IMAP configuration
func (c *Config) GetIMAP() IMAPConfig {
	return IMAPConfig{
		Host:             c.GetString("imap.host"),
		Port:             c.GetInt("imap.port"),
		TLS:              c.GetBool("imap.tls"),
		JunkFolder:       c.GetString("imap.junk_folder"),
		PromotionsFolder: c.GetString("imap.promotions_folder"),
	}
}

// GetCache returns the cache configuration
func (c *Config) GetCache() CacheConfig {
	return CacheConfig{
		Type:             c.GetString("cache.type"),
		CleanupFrequency: c.duration("cache.cleanup_frequency"),
		SQLitePath:       c.GetString("cache.sqlite_path"),
		MySQLDSN:         c.GetString("cache.mysql_dsn"),
	}
}

// GetRedis returns the Redis configuration
func (c *Config) GetRedis() RedisConfig {
	return RedisConfig{
		Addr:     c.GetString("redis.addr"),
		Password: c.GetString("redis.password"),
		DB:       c.GetInt("redis.db"),
	}
}

// GetStore returns the store configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type:        c.GetString("store.type"),
		PostgresDSN: c.GetString("store.postgres_dsn"),
	}
}

// GetNotifier returns the notifier configuration
func (c *Config) GetNotifier() NotifierConfig {
	return NotifierConfig{
		Type:     c.GetString("notifier.type"),
		AMQPURL:  c.GetString("notifier.amqp_url"),
		Exchange: c.GetString("notifier.exchange"),
	}
}

// GetCredentials returns the credential store configuration
func (c *Config) GetCredentials() CredentialsConfig {
	return CredentialsConfig{
		Backend:      c.GetString("credentials.backend"),
		FileDir:      c.GetString("credentials.file_dir"),
		FilePassword: c.GetString("credentials.file_password"),
		SecretKey:    c.GetString("credentials.secret_key"),
	}
}

// GetServer returns the HTTP server configuration
func (c *Config) GetServer() ServerConfig {
	return ServerConfig{
		ListenAddress: c.GetString("server.listen_address"),
	}
}

// GetLogging returns the logger configuration
func (c *Config) GetLogging() LoggingConfig {
	return LoggingConfig{
		Level:  c.GetString("logging.level"),
		Format: c.GetString("logging.format"),
	}
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider: c.GetString("llm.provider"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		BaseURL:     c.GetString("openai.base_url"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}
