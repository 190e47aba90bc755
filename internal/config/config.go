// Package config loads and validates service configuration from a
// YAML file and RECONCILERD_* environment variables, with sane
// defaults for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"payment-reconciliation-service/internal/extractor"
	"payment-reconciliation-service/internal/matcher"
	apperrors "payment-reconciliation-service/pkg/errors"
)

// Config is the full service configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Matcher   MatcherConfig   `mapstructure:"matcher"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ServerConfig bounds the HTTP listener.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MatcherConfig mirrors matcher.Config in file-friendly form.
type MatcherConfig struct {
	AcceptThreshold  float64       `mapstructure:"accept_threshold"`
	AutoLookback     time.Duration `mapstructure:"auto_lookback"`
	OperatorLookback time.Duration `mapstructure:"operator_lookback"`
	NearTimeWindow   time.Duration `mapstructure:"near_time_window"`
	FarTimeWindow    time.Duration `mapstructure:"far_time_window"`
	MaxCandidates    int           `mapstructure:"max_candidates"`
}

// ExtractorConfig bounds the amount heuristics. Amounts are strings so
// the file format stays decimal-exact.
type ExtractorConfig struct {
	MinPlausibleAmount string `mapstructure:"min_plausible_amount"`
	MaxPlausibleAmount string `mapstructure:"max_plausible_amount"`
	DefaultChannel     string `mapstructure:"default_channel"`
}

// SweepConfig controls the background matching sweep.
type SweepConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given file (or the default search
// paths when empty), overlays environment variables, and validates the
// result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/reconcilerd")
	}

	v.SetEnvPrefix("RECONCILERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperrors.ConfigurationError("config file", err)
		}
		// No file is fine; defaults plus environment carry local runs.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.ConfigurationError("config parsing", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "reconcilerd.db")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	defaults := matcher.DefaultConfig()
	v.SetDefault("matcher.accept_threshold", defaults.AcceptThreshold)
	v.SetDefault("matcher.auto_lookback", defaults.AutoLookback)
	v.SetDefault("matcher.operator_lookback", defaults.OperatorLookback)
	v.SetDefault("matcher.near_time_window", defaults.NearTimeWindow)
	v.SetDefault("matcher.far_time_window", defaults.FarTimeWindow)
	v.SetDefault("matcher.max_candidates", defaults.MaxCandidates)

	bounds := extractor.DefaultConfig()
	v.SetDefault("extractor.min_plausible_amount", bounds.MinPlausibleAmount.String())
	v.SetDefault("extractor.max_plausible_amount", bounds.MaxPlausibleAmount.String())
	v.SetDefault("extractor.default_channel", bounds.DefaultChannel)

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.schedule", "*/2 * * * *")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return apperrors.ConfigurationError("database.driver",
			fmt.Errorf("unsupported driver: %s", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return apperrors.ConfigurationError("database.dsn",
			fmt.Errorf("dsn cannot be empty"))
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return apperrors.ConfigurationError("server.addr",
			fmt.Errorf("addr cannot be empty"))
	}
	if c.Sweep.Enabled && strings.TrimSpace(c.Sweep.Schedule) == "" {
		return apperrors.ConfigurationError("sweep.schedule",
			fmt.Errorf("schedule cannot be empty when the sweep is enabled"))
	}

	if err := c.MatcherConfig().Validate(); err != nil {
		return apperrors.ConfigurationError("matcher", err)
	}
	if _, err := c.ExtractorConfig(); err != nil {
		return err
	}
	return nil
}

// MatcherConfig converts the file form into the engine configuration.
func (c *Config) MatcherConfig() *matcher.Config {
	return &matcher.Config{
		AcceptThreshold:  c.Matcher.AcceptThreshold,
		AutoLookback:     c.Matcher.AutoLookback,
		OperatorLookback: c.Matcher.OperatorLookback,
		NearTimeWindow:   c.Matcher.NearTimeWindow,
		FarTimeWindow:    c.Matcher.FarTimeWindow,
		MaxCandidates:    c.Matcher.MaxCandidates,
	}
}

// ExtractorConfig parses the amount bounds into the extractor
// configuration.
func (c *Config) ExtractorConfig() (*extractor.Config, error) {
	min, err := decimal.NewFromString(c.Extractor.MinPlausibleAmount)
	if err != nil {
		return nil, apperrors.ConfigurationError("extractor.min_plausible_amount", err)
	}
	max, err := decimal.NewFromString(c.Extractor.MaxPlausibleAmount)
	if err != nil {
		return nil, apperrors.ConfigurationError("extractor.max_plausible_amount", err)
	}
	cfg := &extractor.Config{
		MinPlausibleAmount: min,
		MaxPlausibleAmount: max,
		DefaultChannel:     c.Extractor.DefaultChannel,
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.ConfigurationError("extractor", err)
	}
	return cfg, nil
}
