package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "static")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Port)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.SQLitePath != "./data/lumi.db" {
		t.Fatalf("unexpected store defaults %+v", cfg.Store)
	}
	if cfg.Model.Timeout != 2*time.Minute {
		t.Fatalf("expected 2m model timeout, got %s", cfg.Model.Timeout)
	}
	if cfg.AutosaveInterval != time.Minute {
		t.Fatalf("expected 1m autosave, got %s", cfg.AutosaveInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "grpc")
	t.Setenv("MODEL_GRPC_ADDR", "model:9000")
	t.Setenv("MODEL_TIMEOUT", "30s")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.GrpcAddr != "model:9000" || cfg.Model.Timeout != 30*time.Second {
		t.Fatalf("unexpected model config %+v", cfg.Model)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("unexpected driver %q", cfg.Store.Driver)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() Config {
		return Config{
			Port:             "8080",
			AutosaveInterval: time.Minute,
			Store:            StoreConfig{Driver: "memory"},
			Model:            ModelConfig{Provider: ProviderStatic, Timeout: time.Minute},
			ConversationLog:  ConversationLogConfig{QueueSize: 10},
			RateLimit:        RateLimitConfig{Requests: 1, Window: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty port", mutate: func(c *Config) { c.Port = "" }, wantErr: "PORT"},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "redis" }, wantErr: "STORE_DRIVER"},
		{name: "mongo without uri", mutate: func(c *Config) { c.Store.Driver = "mongo" }, wantErr: "MONGODB_URI"},
		{name: "gemini without key", mutate: func(c *Config) { c.Model.Provider = ProviderGemini }, wantErr: "GEMINI_API_KEY"},
		{name: "unknown provider", mutate: func(c *Config) { c.Model.Provider = "gpt" }, wantErr: "MODEL_PROVIDER"},
		{name: "zero timeout", mutate: func(c *Config) { c.Model.Timeout = 0 }, wantErr: "MODEL_TIMEOUT"},
		{name: "zero queue", mutate: func(c *Config) { c.ConversationLog.QueueSize = 0 }, wantErr: "QUEUE_SIZE"},
		{name: "zero rate limit", mutate: func(c *Config) { c.RateLimit.Requests = 0 }, wantErr: "RATE_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Parallel()
	if !(&Config{}).IsDevelopment() {
		t.Fatal("expected empty frontend URL to be development")
	}
	if (&Config{FrontendURL: "https://lumi.example.com"}).IsDevelopment() {
		t.Fatal("expected public URL to be production")
	}
}
