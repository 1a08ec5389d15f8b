// Package config holds repolens configuration: model assignments per
// phase, provider credentials, batching and runner knobs. Values load
// from YAML with environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all repolens configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Per-phase model assignments
	Models ModelsConfig `yaml:"models"`

	// Provider credentials and endpoints
	Providers ProvidersConfig `yaml:"providers"`

	// File batching
	Batching BatchingConfig `yaml:"batching"`

	// Phase runner
	Runner RunnerConfig `yaml:"runner"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ProvidersConfig configures provider access. API keys normally come
// from the environment, not the file.
type ProvidersConfig struct {
	GeminiAPIKey  string `yaml:"gemini_api_key"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
}

// BatchingConfig configures the file batcher.
type BatchingConfig struct {
	// Fixed token overhead charged per file for prompt framing.
	OverheadPerFile int `yaml:"overhead_per_file"`

	// Character budget for summaries of oversized files.
	SummaryMaxChars int `yaml:"summary_max_chars"`
}

// RunnerConfig configures the phase runner.
type RunnerConfig struct {
	// Maximum concurrent model calls within a phase.
	MaxConcurrent int `yaml:"max_concurrent"`

	// Timeout per model call, e.g. "300s".
	CallTimeout string `yaml:"call_timeout"`

	// Retry attempts per model call.
	RetryAttempts int `yaml:"retry_attempts"`
}

// CallTimeoutDuration parses CallTimeout, falling back to five minutes.
func (r RunnerConfig) CallTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(r.CallTimeout); err == nil && d > 0 {
		return d
	}
	return 5 * time.Minute
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "repolens",
		Version: "1.0.0",

		Models: DefaultModels(),

		Batching: BatchingConfig{
			OverheadPerFile: 64,
			SummaryMaxChars: 2000,
		},

		Runner: RunnerConfig{
			MaxConcurrent: 4,
			CallTimeout:   "300s",
			RetryAttempts: 3,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides pulls secrets from the environment. Environment
// values win over file values.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Providers.GeminiAPIKey = key
	} else if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.Providers.GeminiAPIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Providers.OpenAIAPIKey = key
	}
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" {
		c.Providers.OpenAIBaseURL = url
	}
}
