package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("default driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Matcher.AcceptThreshold != 0.85 {
		t.Errorf("default threshold = %v, want 0.85", cfg.Matcher.AcceptThreshold)
	}
	if cfg.Matcher.AutoLookback != time.Hour {
		t.Errorf("default auto lookback = %v, want 1h", cfg.Matcher.AutoLookback)
	}
	if !cfg.Sweep.Enabled {
		t.Error("sweep should be enabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  driver: postgres
  dsn: "host=localhost user=reconciler dbname=reconciler"
server:
  addr: ":9090"
matcher:
  accept_threshold: 0.9
  auto_lookback: 30m
sweep:
  enabled: false
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) = %v", path, err)
	}

	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Matcher.AcceptThreshold != 0.9 {
		t.Errorf("threshold = %v, want 0.9", cfg.Matcher.AcceptThreshold)
	}
	if cfg.Matcher.AutoLookback != 30*time.Minute {
		t.Errorf("auto lookback = %v, want 30m", cfg.Matcher.AutoLookback)
	}
	if cfg.Sweep.Enabled {
		t.Error("sweep should be disabled by the file")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format = %q, want json", cfg.Log.Format)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("RECONCILERD_DATABASE_DRIVER", "postgres")
	t.Setenv("RECONCILERD_DATABASE_DSN", "host=db.internal")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q, want postgres from environment", cfg.Database.Driver)
	}
	if cfg.Database.DSN != "host=db.internal" {
		t.Errorf("dsn = %q, want the environment value", cfg.Database.DSN)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unsupported driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = " " }},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"enabled sweep without schedule", func(c *Config) { c.Sweep.Schedule = "" }},
		{"threshold out of range", func(c *Config) { c.Matcher.AcceptThreshold = 2.0 }},
		{"bad amount bound", func(c *Config) { c.Extractor.MinPlausibleAmount = "lots" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
