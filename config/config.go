package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds connector configuration.
type Config struct {
	Username  string `yaml:"username" env:"RESCUE_USERNAME"`
	Password  string `yaml:"password" env:"RESCUE_PASSWORD"`
	StartDate string `yaml:"start_date" env:"RESCUE_START_DATE"`
	UserAgent string `yaml:"user_agent" env:"RESCUE_USER_AGENT"`

	BaseURL      string        `yaml:"base_url" env:"RESCUE_BASE_URL"`
	Timeout      time.Duration `yaml:"timeout" env:"RESCUE_TIMEOUT"`
	RequestDelay time.Duration `yaml:"request_delay" env:"RESCUE_REQUEST_DELAY"`
	BaseBackoff  time.Duration `yaml:"base_backoff" env:"RESCUE_BASE_BACKOFF"`
	MaxBackoff   time.Duration `yaml:"max_backoff" env:"RESCUE_MAX_BACKOFF"`

	ReportOutput string   `yaml:"report_output" env:"RESCUE_REPORT_OUTPUT"` // xml or text
	Streams      []string `yaml:"streams" env:"RESCUE_STREAMS" envSeparator:","`

	StatePath string `yaml:"state_path" env:"RESCUE_STATE_PATH"`
	StateDB   string `yaml:"state_db" env:"RESCUE_STATE_DB"`

	OutputFile   string `yaml:"output" env:"RESCUE_OUTPUT"`
	OutputFormat string `yaml:"output_format" env:"RESCUE_OUTPUT_FORMAT"` // jsonl, csv, or dual

	MetricsAddr         string `yaml:"metrics_addr" env:"RESCUE_METRICS_ADDR"`
	TraceEndpoint       string `yaml:"trace_endpoint" env:"RESCUE_TRACE_ENDPOINT"` // OTLP/HTTP traces URL; empty disables export
	NormalizerCacheSize int    `yaml:"normalizer_cache_size" env:"RESCUE_NORMALIZER_CACHE_SIZE"`
	Verbose             bool   `yaml:"verbose" env:"RESCUE_VERBOSE"`
}

// DefaultStatePath is the checkpoint file used when no backend is configured.
const DefaultStatePath = "state.json"

// DefaultConfig returns defaults matching the upstream API's rate limits.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:             "https://secure.logmeinrescue.com",
		Timeout:             2 * time.Minute,
		RequestDelay:        0,
		BaseBackoff:         15 * time.Second,
		MaxBackoff:          120 * time.Second,
		ReportOutput:        "xml",
		StatePath:           DefaultStatePath,
		OutputFile:          "-",
		OutputFormat:        "jsonl",
		NormalizerCacheSize: 512,
	}
}

// Load builds a config from defaults, an optional YAML or JSON file, and
// RESCUE_* environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	// a configured database replaces the default state file
	if cfg.StateDB != "" && cfg.StatePath == DefaultStatePath {
		cfg.StatePath = ""
	}
	return cfg, nil
}

// LoadEnvFiles loads the dotenv files that exist and returns how many did.
func LoadEnvFiles(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// StartTime parses StartDate as RFC3339 or as a bare YYYY-MM-DD date (UTC).
func (c *Config) StartTime() (time.Time, error) {
	return ParseTimestamp(c.StartDate)
}

// ParseTimestamp accepts the timestamp layouts found in configs and state files.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if c.StartDate == "" {
		return fmt.Errorf("start date cannot be empty")
	}
	if _, err := c.StartTime(); err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}

	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RequestDelay < 0 {
		return fmt.Errorf("request delay cannot be negative")
	}
	if c.BaseBackoff <= 0 {
		return fmt.Errorf("base backoff must be positive")
	}
	if c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("base backoff (%s) cannot exceed max backoff (%s)", c.BaseBackoff, c.MaxBackoff)
	}
	if c.ReportOutput != "xml" && c.ReportOutput != "text" {
		return fmt.Errorf("report output must be xml or text")
	}
	if c.StatePath != "" && c.StateDB != "" {
		return fmt.Errorf("state path and state db are mutually exclusive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output cannot be empty")
	}
	if c.OutputFormat != "jsonl" && c.OutputFormat != "csv" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be jsonl, csv, or dual")
	}
	if c.OutputFormat != "jsonl" && c.OutputFile == "-" {
		return fmt.Errorf("output format %s needs an output directory", c.OutputFormat)
	}
	if c.NormalizerCacheSize <= 0 {
		return fmt.Errorf("normalizer cache size must be positive")
	}

	return nil
}
