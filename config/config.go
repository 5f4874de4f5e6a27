// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config aggregates application configuration values.
type Config struct {
	Port    int     `mapstructure:"port"`
	DBPath  string  `mapstructure:"db_path"`
	Logging Logging `mapstructure:"log"`
	Plan    Plan    `mapstructure:"plan"`
}

// Logging controls structured logging settings.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json|console
}

// Plan holds the schedule used when a request does not specify one.
type Plan struct {
	InstallmentCount int `mapstructure:"installment_count"`
	IntervalDays     int `mapstructure:"interval_days"`
}

// Defaults returns the configuration used when no variables are set.
func Defaults() Config {
	return Config{
		Port:   8080,
		DBPath: "plans.db",
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Plan: Plan{
			InstallmentCount: 4,
			IntervalDays:     14,
		},
	}
}

// Load reads PORT, DB_PATH, LOG_LEVEL, LOG_FORMAT, PLAN_INSTALLMENT_COUNT and
// PLAN_INTERVAL_DAYS, falling back to Defaults.
func Load() (Config, error) {
	d := Defaults()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", d.Port)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("log.level", d.Logging.Level)
	v.SetDefault("log.format", d.Logging.Format)
	v.SetDefault("plan.installment_count", d.Plan.InstallmentCount)
	v.SetDefault("plan.interval_days", d.Plan.IntervalDays)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", c.Logging.Format)
	}
	if c.Plan.InstallmentCount <= 0 {
		return fmt.Errorf("PLAN_INSTALLMENT_COUNT must be positive, got %d", c.Plan.InstallmentCount)
	}
	if c.Plan.IntervalDays <= 0 {
		return fmt.Errorf("PLAN_INTERVAL_DAYS must be positive, got %d", c.Plan.IntervalDays)
	}
	return nil
}
