// Package config provides application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Model providers.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderGrpc   = "grpc"
	ProviderStatic = "static"
)

// Config holds all application configuration.
type Config struct {
	Port             string        `env:"PORT"              envDefault:"8080"`
	FrontendURL      string        `env:"FRONTEND_URL"`
	AutosaveInterval time.Duration `env:"AUTOSAVE_INTERVAL" envDefault:"1m"`

	Store           StoreConfig
	Model           ModelConfig
	ConversationLog ConversationLogConfig
	RateLimit       RateLimitConfig
	Telemetry       TelemetryConfig
}

// StoreConfig selects and locates the storage driver.
type StoreConfig struct {
	Driver        string `env:"STORE_DRIVER"   envDefault:"sqlite"`
	SQLitePath    string `env:"DB_PATH"        envDefault:"./data/lumi.db"`
	MongoURI      string `env:"MONGODB_URI"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"lumi"`
}

// ModelConfig selects the language model adapter.
type ModelConfig struct {
	Provider     string        `env:"MODEL_PROVIDER" envDefault:"ollama"`
	Timeout      time.Duration `env:"MODEL_TIMEOUT"  envDefault:"2m"`
	GeminiAPIKey string        `env:"GEMINI_API_KEY"`
	GeminiModel  string        `env:"GEMINI_MODEL"   envDefault:"gemini-2.5-flash"`
	OllamaURL    string        `env:"OLLAMA_URL"     envDefault:"http://localhost:11434"`
	OllamaModel  string        `env:"OLLAMA_MODEL"   envDefault:"dolphin-llama3:8b"`
	GrpcAddr     string        `env:"MODEL_GRPC_ADDR" envDefault:"localhost:50051"`
}

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `env:"CONVERSATION_LOG_ENABLED"        envDefault:"true"`
	Dir           string `env:"CONVERSATION_LOG_DIR"            envDefault:"./data/logs/conversations"`
	GlobalEnabled bool   `env:"CONVERSATION_LOG_GLOBAL_ENABLED" envDefault:"false"`
	GlobalPath    string `env:"CONVERSATION_LOG_GLOBAL_PATH"    envDefault:"./data/logs/conversations/all.ndjson"`
	QueueSize     int    `env:"CONVERSATION_LOG_QUEUE_SIZE"     envDefault:"1000"`
}

// RateLimitConfig bounds model-backed requests per user.
type RateLimitConfig struct {
	Requests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"30"`
	Window   time.Duration `env:"RATE_LIMIT_WINDOW"   envDefault:"1m"`
}

// TelemetryConfig controls trace export. An empty endpoint disables export.
type TelemetryConfig struct {
	ServiceName  string `env:"OTEL_SERVICE_NAME"            envDefault:"lumi"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.AutosaveInterval <= 0 {
		return fmt.Errorf("AUTOSAVE_INTERVAL must be > 0")
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for the mongo driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Model.Provider {
	case ProviderGemini:
		if c.Model.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	case ProviderOllama:
		if c.Model.OllamaURL == "" || c.Model.OllamaModel == "" {
			return fmt.Errorf("OLLAMA_URL and OLLAMA_MODEL cannot be empty")
		}
	case ProviderGrpc:
		if c.Model.GrpcAddr == "" {
			return fmt.Errorf("MODEL_GRPC_ADDR cannot be empty")
		}
	case ProviderStatic:
	default:
		return fmt.Errorf("unknown MODEL_PROVIDER %q", c.Model.Provider)
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be > 0")
	}

	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
