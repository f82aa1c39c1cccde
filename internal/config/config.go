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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Session   SessionConfig   `yaml:"session" mapstructure:"session"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Broadcast BroadcastConfig `yaml:"broadcast" mapstructure:"broadcast"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// QueueConfig configures the job queue and worker pool.
type QueueConfig struct {
	Workers     int           `yaml:"workers" mapstructure:"workers"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`
	MaxBackoff  time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	JobTimeout  time.Duration `yaml:"job_timeout" mapstructure:"job_timeout"`
}

// PipelineConfig configures stage behavior and the quality gate.
type PipelineConfig struct {
	OCRSufficientThreshold float64 `yaml:"ocr_sufficient_threshold" mapstructure:"ocr_sufficient_threshold"`
	WorkDir                string  `yaml:"work_dir" mapstructure:"work_dir"`
	PdftoppmPath           string  `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
}

// SessionConfig configures the session settings store.
type SessionConfig struct {
	DefaultTTL      time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	JanitorInterval time.Duration `yaml:"janitor_interval" mapstructure:"janitor_interval"`
}

// CacheConfig configures the write-through result cache.
type CacheConfig struct {
	RedisURL   string        `yaml:"redis_url" mapstructure:"redis_url"`
	ResultTTL  time.Duration `yaml:"result_ttl" mapstructure:"result_ttl"`
	MaxEntries int           `yaml:"max_entries" mapstructure:"max_entries"`
}

// BroadcastConfig configures the progress event broadcaster.
type BroadcastConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	CloseGrace        time.Duration `yaml:"close_grace" mapstructure:"close_grace"`
	SubscriberBuffer  int           `yaml:"subscriber_buffer" mapstructure:"subscriber_buffer"`
}

// OCRConfig configures text extraction.
type OCRConfig struct {
	Engine        string `yaml:"engine" mapstructure:"engine"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
}

// AnthropicConfig holds Anthropic API settings used when a session does
// not override the provider.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int    `yaml:"port" mapstructure:"port"`
	UploadDir string `yaml:"upload_dir" mapstructure:"upload_dir"`
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
	v.SetEnvPrefix("DOCPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "docpipe.db")
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base", "2s")
	v.SetDefault("queue.max_backoff", "1m")
	v.SetDefault("queue.job_timeout", "10m")
	v.SetDefault("pipeline.ocr_sufficient_threshold", 0.98)
	v.SetDefault("pipeline.work_dir", "/tmp/docpipe")
	v.SetDefault("pipeline.pdftoppm_path", "pdftoppm")
	v.SetDefault("session.default_ttl", "30m")
	v.SetDefault("session.janitor_interval", "1m")
	v.SetDefault("cache.result_ttl", "2m")
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("broadcast.heartbeat_interval", "30s")
	v.SetDefault("broadcast.close_grace", "500ms")
	v.SetDefault("broadcast.subscriber_buffer", 16)
	v.SetDefault("ocr.engine", "tesseract")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.upload_dir", "/tmp/docpipe/uploads")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
