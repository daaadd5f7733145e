package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Username = "ops@example.test"
	cfg.Password = "secret"
	cfg.StartDate = "2018-10-01T00:00:00Z"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "missing username",
			mutate: func(cfg *Config) {
				cfg.Username = ""
			},
			wantErr: "username",
		},
		{
			name: "missing start date",
			mutate: func(cfg *Config) {
				cfg.StartDate = ""
			},
			wantErr: "start date",
		},
		{
			name: "garbled start date",
			mutate: func(cfg *Config) {
				cfg.StartDate = "last tuesday"
			},
			wantErr: "start date",
		},
		{
			name: "invalid url format",
			mutate: func(cfg *Config) {
				cfg.BaseURL = "http://"
			},
			wantErr: "base URL",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "backoff above ceiling",
			mutate: func(cfg *Config) {
				cfg.BaseBackoff = 5 * time.Minute
			},
			wantErr: "backoff",
		},
		{
			name: "unknown report output",
			mutate: func(cfg *Config) {
				cfg.ReportOutput = "html"
			},
			wantErr: "report output",
		},
		{
			name: "csv to stdout",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "csv"
			},
			wantErr: "output directory",
		},
		{
			name: "two state backends",
			mutate: func(cfg *Config) {
				cfg.StateDB = "state.db"
			},
			wantErr: "mutually exclusive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("config should validate, got %v", err)
	}
}

func TestDefaultConfigNeedsCredentials(t *testing.T) {
	if err := DefaultConfig().Validate(); err == nil {
		t.Fatalf("default config has no credentials and must not validate")
	}
}

func TestLoadJSONFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"username": "ops@example.test", "password": "secret", "start_date": "2018-10-01", "base_backoff": "1s"}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RESCUE_PASSWORD", "from-env")
	t.Setenv("RESCUE_STREAMS", "technicians,session_report")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Username != "ops@example.test" {
		t.Fatalf("username=%q", cfg.Username)
	}
	if cfg.Password != "from-env" {
		t.Fatalf("password=%q, want env override", cfg.Password)
	}
	if cfg.BaseBackoff != time.Second {
		t.Fatalf("base backoff=%s, want 1s", cfg.BaseBackoff)
	}
	if cfg.MaxBackoff != 120*time.Second {
		t.Fatalf("max backoff=%s, want default 120s", cfg.MaxBackoff)
	}
	if len(cfg.Streams) != 2 || cfg.Streams[1] != "session_report" {
		t.Fatalf("streams=%v", cfg.Streams)
	}
	start, err := cfg.StartTime()
	if err != nil {
		t.Fatalf("start time: %v", err)
	}
	if !start.Equal(time.Date(2018, 10, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start=%s", start)
	}
}

func TestLoadEnvFilesSkipsMissing(t *testing.T) {
	n, err := LoadEnvFiles(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil || n != 0 {
		t.Fatalf("LoadEnvFiles = %d, %v; want 0, nil", n, err)
	}
}

func TestLoadStateDBReplacesDefaultStateFile(t *testing.T) {
	t.Setenv("RESCUE_STATE_DB", filepath.Join(t.TempDir(), "state.db"))

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StatePath != "" {
		t.Fatalf("state path=%q, want cleared", cfg.StatePath)
	}
	cfg.Username, cfg.Password, cfg.StartDate = "u", "p", "2018-10-01"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
