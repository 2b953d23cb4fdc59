// Package config loads and validates run configuration for the MRI analyzer.
// Configuration comes from an optional YAML file, with environment variables
// taking precedence for credentials.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Batch size bounds imposed by the remote vision API's per-request entity limit.
const (
	MinBatchSize = 1
	MaxBatchSize = 20
)

// Common configuration errors. These are fatal and raised before any dispatch begins.
var (
	// ErrMissingAPIKey is returned when no API credential is configured.
	ErrMissingAPIKey = errors.New("api key not provided via OPENAI_API_KEY or config file")

	// ErrInvalidBatchSize is returned when batch_size is outside [1, 20].
	ErrInvalidBatchSize = errors.New("batch_size must be between 1 and 20")
)

// OpenAI holds credentials and model selection for the inference API.
type OpenAI struct {
	// APIKey authenticates against the inference API. The OPENAI_API_KEY
	// environment variable overrides this value.
	APIKey string `yaml:"api_key"`

	// Model used for batch slice analysis.
	Model string `yaml:"model"`

	// SummaryModel used for the final narrative summary.
	SummaryModel string `yaml:"summary_model"`

	// BaseURL of the API (override for self-hosted gateways and tests).
	BaseURL string `yaml:"base_url"`
}

// Paths holds output directory locations.
type Paths struct {
	// ResultsDir receives one raw response artifact per completed batch.
	ResultsDir string `yaml:"results_dir"`

	// ReportsDir receives CSV reports and narrative summaries.
	ReportsDir string `yaml:"reports_dir"`
}

// Dispatch holds the dispatch engine budgets.
type Dispatch struct {
	// BatchSize is the maximum images per request (1-20).
	BatchSize int `yaml:"batch_size"`

	// SampleLimit truncates each series to its first N images (0 = no limit).
	SampleLimit int `yaml:"sample_limit"`

	// MaxConcurrent bounds the number of batches in flight.
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxRetries is the retry budget per batch for transient faults.
	MaxRetries int `yaml:"max_retries"`

	// RequestsPerMinute is the global request rate budget (0 = unlimited).
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// BaseBackoffSeconds is the linear backoff unit between retries.
	BaseBackoffSeconds float64 `yaml:"base_backoff_seconds"`
}

// Logging holds logger settings.
type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Metrics holds the optional Prometheus listener settings.
type Metrics struct {
	// Addr exposes /metrics when non-empty (e.g. ":9090").
	Addr string `yaml:"addr"`
}

// Config is the full run configuration.
type Config struct {
	OpenAI   OpenAI   `yaml:"openai"`
	Paths    Paths    `yaml:"paths"`
	Dispatch Dispatch `yaml:"dispatch"`
	Logging  Logging  `yaml:"logging"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Default returns a safe default configuration.
func Default() Config {
	return Config{
		OpenAI: OpenAI{
			Model:        "gpt-4o-mini",
			SummaryModel: "o3",
			BaseURL:      "https://api.openai.com",
		},
		Paths: Paths{
			ResultsDir: "results",
			ReportsDir: "reports",
		},
		Dispatch: Dispatch{
			BatchSize:          20,
			MaxConcurrent:      5,
			MaxRetries:         3,
			RequestsPerMinute:  60,
			BaseBackoffSeconds: 2,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path and merges it over the defaults.
// A missing file is not an error: the defaults are returned unchanged,
// so a config file is optional just like the credential env var is not.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides credential fields from the environment.
func (c *Config) ApplyEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.OpenAI.APIKey = key
	}
}

// Validate checks the configuration-class invariants. All violations are
// fatal; dispatch must not begin with an invalid configuration.
func (c Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Dispatch.BatchSize < MinBatchSize || c.Dispatch.BatchSize > MaxBatchSize {
		return fmt.Errorf("%w (got %d)", ErrInvalidBatchSize, c.Dispatch.BatchSize)
	}
	if c.Dispatch.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1 (got %d)", c.Dispatch.MaxConcurrent)
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0 (got %d)", c.Dispatch.MaxRetries)
	}
	if c.Dispatch.SampleLimit < 0 {
		return fmt.Errorf("sample_limit must be >= 0 (got %d)", c.Dispatch.SampleLimit)
	}
	if c.Dispatch.BaseBackoffSeconds < 0 {
		return fmt.Errorf("base_backoff_seconds must be >= 0 (got %v)", c.Dispatch.BaseBackoffSeconds)
	}
	return nil
}

// BaseBackoff returns the backoff unit as a duration.
func (c Config) BaseBackoff() time.Duration {
	return time.Duration(c.Dispatch.BaseBackoffSeconds * float64(time.Second))
}
