package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Oracle     OracleConfig     `yaml:"oracle" mapstructure:"oracle"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Chunker    ChunkerConfig    `yaml:"chunker" mapstructure:"chunker"`
	Scorer     ScorerConfig     `yaml:"scorer" mapstructure:"scorer"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Actors     ActorsConfig     `yaml:"actors" mapstructure:"actors"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	HaikuModel        string  `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel       string  `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// OpenAIConfig holds settings for an OpenAI-compatible chat endpoint.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// OracleConfig selects and guards the Tier-1 classifier.
type OracleConfig struct {
	Provider         string `yaml:"provider" mapstructure:"provider"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int    `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// PipelineConfig configures stage batches, retries and the Tier-1 gate.
type PipelineConfig struct {
	BatchSize         int             `yaml:"batch_size" mapstructure:"batch_size"`
	MaxRetries        int             `yaml:"max_retries" mapstructure:"max_retries"`
	LockTimeoutMins   int             `yaml:"lock_timeout_mins" mapstructure:"lock_timeout_mins"`
	ClassifyThreshold float64         `yaml:"classify_threshold" mapstructure:"classify_threshold"`
	MinLength         MinLengthConfig `yaml:"min_length" mapstructure:"min_length"`
}

// LockTimeout returns the claim timeout as a duration.
func (p PipelineConfig) LockTimeout() time.Duration {
	return time.Duration(p.LockTimeoutMins) * time.Minute
}

// MinLengthConfig is the minimum cleaned text length, in characters, per
// source type. Shorter records are never materialized.
type MinLengthConfig struct {
	Email      int `yaml:"email" mapstructure:"email"`
	Chat       int `yaml:"chat" mapstructure:"chat"`
	Transcript int `yaml:"transcript" mapstructure:"transcript"`
	Other      int `yaml:"other" mapstructure:"other"`
}

// For returns the minimum for a source type name.
func (m MinLengthConfig) For(sourceType string) int {
	switch sourceType {
	case "email":
		return m.Email
	case "chat":
		return m.Chat
	case "transcript":
		return m.Transcript
	default:
		return m.Other
	}
}

// ChunkerConfig sizes semantic chunks, in estimated tokens.
type ChunkerConfig struct {
	TargetTokens      int `yaml:"target_tokens" mapstructure:"target_tokens"`
	MinTokens         int `yaml:"min_tokens" mapstructure:"min_tokens"`
	MaxTokens         int `yaml:"max_tokens" mapstructure:"max_tokens"`
	ChatMinMessages   int `yaml:"chat_min_messages" mapstructure:"chat_min_messages"`
	ChatMaxMessages   int `yaml:"chat_max_messages" mapstructure:"chat_max_messages"`
	TranscriptMinSecs int `yaml:"transcript_min_secs" mapstructure:"transcript_min_secs"`
	TranscriptMaxSecs int `yaml:"transcript_max_secs" mapstructure:"transcript_max_secs"`
}

// ScorerConfig configures the heuristic signal scorer.
type ScorerConfig struct {
	BaseScore     float64 `yaml:"base_score" mapstructure:"base_score"`
	SkipThreshold float64 `yaml:"skip_threshold" mapstructure:"skip_threshold"`
	LexiconPath   string  `yaml:"lexicon_path" mapstructure:"lexicon_path"`
}

// WorkerConfig configures stage trigger delivery.
type WorkerConfig struct {
	Transport         string `yaml:"transport" mapstructure:"transport"`
	Concurrency       int    `yaml:"concurrency" mapstructure:"concurrency"`
	QueueSize         int    `yaml:"queue_size" mapstructure:"queue_size"`
	SweepIntervalSecs int    `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
}

// TemporalConfig configures the Temporal task scheduler.
type TemporalConfig struct {
	HostPort            string `yaml:"host_port" mapstructure:"host_port"`
	Namespace           string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue           string `yaml:"task_queue" mapstructure:"task_queue"`
	MaxAttempts         int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	ActivityTimeoutSecs int    `yaml:"activity_timeout_secs" mapstructure:"activity_timeout_secs"`
}

// RetryConfig configures outer task retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// ActorsConfig configures actor role resolution.
type ActorsConfig struct {
	InternalDomains []string `yaml:"internal_domains" mapstructure:"internal_domains"`
	CacheSize       int      `yaml:"cache_size" mapstructure:"cache_size"`
}

// NotionConfig holds Notion API credentials for roadmap sync.
type NotionConfig struct {
	Token     string `yaml:"token" mapstructure:"token"`
	RoadmapDB string `yaml:"roadmap_db" mapstructure:"roadmap_db"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures pipeline health alerts.
type MonitoringConfig struct {
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	IntervalSecs        int    `yaml:"interval_secs" mapstructure:"interval_secs"`
	DeadLetterThreshold int    `yaml:"dead_letter_threshold" mapstructure:"dead_letter_threshold"`
	StaleLockThreshold  int    `yaml:"stale_lock_threshold" mapstructure:"stale_lock_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.requests_per_second", 5.0)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("oracle.provider", "anthropic")
	v.SetDefault("oracle.timeout_secs", 30)
	v.SetDefault("oracle.failure_threshold", 5)
	v.SetDefault("oracle.reset_timeout_secs", 30)
	v.SetDefault("pipeline.batch_size", 25)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.lock_timeout_mins", 30)
	v.SetDefault("pipeline.classify_threshold", 6.0)
	v.SetDefault("pipeline.min_length.email", 40)
	v.SetDefault("pipeline.min_length.chat", 15)
	v.SetDefault("pipeline.min_length.transcript", 80)
	v.SetDefault("pipeline.min_length.other", 25)
	v.SetDefault("chunker.target_tokens", 400)
	v.SetDefault("chunker.min_tokens", 150)
	v.SetDefault("chunker.max_tokens", 600)
	v.SetDefault("chunker.chat_min_messages", 3)
	v.SetDefault("chunker.chat_max_messages", 5)
	v.SetDefault("chunker.transcript_min_secs", 30)
	v.SetDefault("chunker.transcript_max_secs", 60)
	v.SetDefault("scorer.base_score", 0.3)
	v.SetDefault("scorer.skip_threshold", 0.2)
	v.SetDefault("worker.transport", "memory")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_size", 256)
	v.SetDefault("worker.sweep_interval_secs", 60)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "signal-pipeline")
	v.SetDefault("temporal.max_attempts", 5)
	v.SetDefault("temporal.activity_timeout_secs", 600)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("actors.cache_size", 1024)
	v.SetDefault("monitoring.interval_secs", 300)
	v.SetDefault("monitoring.dead_letter_threshold", 25)
	v.SetDefault("monitoring.stale_lock_threshold", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
