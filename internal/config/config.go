// Package config implements layered configuration: a YAML file overridden
// by HOUSING_AGENT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// AuthConfig selects how bearer tokens are resolved to a user id. An empty
// JWTSecret keeps the default dev-mode identity resolver, which does not
// verify tokens; a non-empty secret selects auth.JWTResolver, which
// verifies HS256 signatures with it.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
}

// LLMConfig configures the orchestrator's LLM client.
type LLMConfig struct {
	Model      string `yaml:"model" mapstructure:"model"`
	APIKey     string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSec int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// StoreConfig configures the durable store backend.
type StoreConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"` // empty selects the in-memory store
}

// PipelineConfig configures the analysis pipeline delegate.
type PipelineConfig struct {
	ScraperEnabled   bool `yaml:"scraper_enabled" mapstructure:"scraper_enabled"`
	ScrapeTimeoutSec int  `yaml:"scrape_timeout_seconds" mapstructure:"scrape_timeout_seconds"`
}

// SSEConfig configures the streaming gateway.
type SSEConfig struct {
	HeartbeatSeconds int `yaml:"heartbeat_seconds" mapstructure:"heartbeat_seconds"`
}

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	LLM      LLMConfig      `yaml:"llm" mapstructure:"llm"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	SSE      SSEConfig      `yaml:"sse" mapstructure:"sse"`
}

// NewDefaultConfig returns a Config usable with zero external
// configuration: in-memory store, no scraper, local listener.
func NewDefaultConfig() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080"},
		LLM:      LLMConfig{Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1", TimeoutSec: 60, MaxRetries: 3},
		Store:    StoreConfig{},
		Pipeline: PipelineConfig{ScraperEnabled: false, ScrapeTimeoutSec: 30},
		SSE:      SSEConfig{HeartbeatSeconds: 30},
	}
}

// Load reads path (if non-empty and present) as YAML over the defaults,
// then applies HOUSING_AGENT_* environment overrides.
func Load(path string) (Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOUSING_AGENT_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("HOUSING_AGENT_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("HOUSING_AGENT_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("HOUSING_AGENT_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("HOUSING_AGENT_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("HOUSING_AGENT_AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("HOUSING_AGENT_PIPELINE_SCRAPER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Pipeline.ScraperEnabled = b
		}
	}
	if v := os.Getenv("HOUSING_AGENT_PIPELINE_SCRAPE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pipeline.ScrapeTimeoutSec = n
		}
	}
}
