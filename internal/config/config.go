// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"ironflybot/internal/scheduler"
)

// Defaults applied when optional fields are unset.
const (
	defaultTimezone          = "Asia/Kolkata"
	defaultReconcileInterval = 30 * time.Second
	defaultRepriceInterval   = time.Minute
	defaultRiskInterval      = 30 * time.Second
	defaultBrokerTimeout     = 10 * time.Second
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode string `yaml:"mode"` // paper | live
}

// BrokerConfig defines brokerage API settings. URLs left empty fall back to
// the production Upstox hosts.
type BrokerConfig struct {
	BaseURL string `yaml:"base_url"`
	HFTURL  string `yaml:"hft_url"`
	Timeout string `yaml:"timeout"`
}

// StrategyConfig defines iron fly parameters.
type StrategyConfig struct {
	Underlying string  `yaml:"underlying"`  // index trading symbol, e.g. NIFTY
	StrikeStep int     `yaml:"strike_step"` // strike grid spacing
	LotSize    int     `yaml:"lot_size"`
	StrikeBand int     `yaml:"strike_band"` // duplicate-strike half-width
	TickSize   float64 `yaml:"tick_size"`
}

// ScheduleConfig defines the session window and job cadences. Intervals use
// Go duration syntax.
type ScheduleConfig struct {
	Timezone          string `yaml:"timezone"`
	SessionStart      string `yaml:"session_start"` // "HH:MM"
	SessionEnd        string `yaml:"session_end"`   // "HH:MM"
	DeployDay         string `yaml:"deploy_day"`    // weekday name
	DeployTime        string `yaml:"deploy_time"`   // "HH:MM"
	ReconcileInterval string `yaml:"reconcile_interval"`
	RepriceInterval   string `yaml:"reprice_interval"`
	RiskInterval      string `yaml:"risk_interval"`
}

// StorageConfig defines storage settings for position data.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the read-only HTTP dashboard.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"`
}

// LoggingConfig mirrors the logger setup options.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.Timeout != "" {
		if _, err := time.ParseDuration(c.Broker.Timeout); err != nil {
			return fmt.Errorf("broker.timeout invalid: %w", err)
		}
	}

	if c.Strategy.Underlying == "" {
		return fmt.Errorf("strategy.underlying is required")
	}
	if c.Strategy.StrikeStep < 0 {
		return fmt.Errorf("strategy.strike_step must be >= 0")
	}
	if c.Strategy.LotSize < 0 {
		return fmt.Errorf("strategy.lot_size must be >= 0")
	}
	if c.Strategy.TickSize < 0 {
		return fmt.Errorf("strategy.tick_size must be >= 0")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.Dashboard.Enabled && c.Dashboard.Listen == "" {
		return fmt.Errorf("dashboard.listen is required when the dashboard is enabled")
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}

	start, err := scheduler.ParseMinuteOfDay(c.Schedule.SessionStart)
	if err != nil {
		return fmt.Errorf("schedule.session_start: %w", err)
	}
	end, err := scheduler.ParseMinuteOfDay(c.Schedule.SessionEnd)
	if err != nil {
		return fmt.Errorf("schedule.session_end: %w", err)
	}
	if start >= end {
		return fmt.Errorf("schedule session window invalid: start must be before end")
	}

	if _, err := c.DeployWeekday(); err != nil {
		return err
	}
	if _, err := scheduler.ParseMinuteOfDay(c.Schedule.DeployTime); err != nil {
		return fmt.Errorf("schedule.deploy_time: %w", err)
	}

	for name, value := range map[string]string{
		"schedule.reconcile_interval": c.Schedule.ReconcileInterval,
		"schedule.reprice_interval":   c.Schedule.RepriceInterval,
		"schedule.risk_interval":      c.Schedule.RiskInterval,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s invalid: %w", name, err)
		}
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location returns the configured exchange timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	return time.LoadLocation(tz)
}

// SessionWindow returns the session start and end as minutes from midnight.
func (c *Config) SessionWindow() (start, end int, err error) {
	start, err = scheduler.ParseMinuteOfDay(c.Schedule.SessionStart)
	if err != nil {
		return 0, 0, err
	}
	end, err = scheduler.ParseMinuteOfDay(c.Schedule.SessionEnd)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// DeployWeekday parses the configured deploy day name.
func (c *Config) DeployWeekday() (time.Weekday, error) {
	switch strings.ToLower(c.Schedule.DeployDay) {
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	default:
		return 0, fmt.Errorf("schedule.deploy_day must be a weekday name, got %q", c.Schedule.DeployDay)
	}
}

// DeploySpec returns the weekly deploy schedule.
func (c *Config) DeploySpec() (scheduler.WeeklySpec, error) {
	day, err := c.DeployWeekday()
	if err != nil {
		return scheduler.WeeklySpec{}, err
	}
	minute, err := scheduler.ParseMinuteOfDay(c.Schedule.DeployTime)
	if err != nil {
		return scheduler.WeeklySpec{}, err
	}
	return scheduler.WeeklySpec{Weekday: day, Hour: minute / 60, Minute: minute % 60}, nil
}

// BrokerTimeout returns the brokerage HTTP timeout.
func (c *Config) BrokerTimeout() time.Duration {
	return parseDurationOr(c.Broker.Timeout, defaultBrokerTimeout)
}

// ReconcileInterval returns the order reconciliation cadence.
func (c *Config) ReconcileInterval() time.Duration {
	return parseDurationOr(c.Schedule.ReconcileInterval, defaultReconcileInterval)
}

// RepriceInterval returns the short-leg re-pricing cadence.
func (c *Config) RepriceInterval() time.Duration {
	return parseDurationOr(c.Schedule.RepriceInterval, defaultRepriceInterval)
}

// RiskInterval returns the risk monitoring cadence.
func (c *Config) RiskInterval() time.Duration {
	return parseDurationOr(c.Schedule.RiskInterval, defaultRiskInterval)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
