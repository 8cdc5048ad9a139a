package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config keeps runtime settings for the service.
type Config struct {
	TelegramToken string `yaml:"telegram_token"`

	DatabaseDriver string `yaml:"database_driver"`
	DatabaseURL    string `yaml:"database_url"`
	HTTPAddr       string `yaml:"http_addr"`

	ScanInterval       time.Duration `yaml:"scan_interval"`
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	ReminderCooldown   time.Duration `yaml:"reminder_cooldown"`
	SummaryCooldown    time.Duration `yaml:"summary_cooldown"`
	DispatchWorkers    int           `yaml:"dispatch_workers"`

	DailySummaryTime string        `yaml:"daily_summary_time"`
	CleanupTime      string        `yaml:"cleanup_time"`
	CleanupAfter     time.Duration `yaml:"cleanup_after"`
	HealthInterval   time.Duration `yaml:"health_interval"`
	DefaultTimezone  string        `yaml:"default_timezone"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

const maxWorkers = 20

func defaults() Config {
	return Config{
		DatabaseDriver:     "sqlite",
		DatabaseURL:        "data/voiceplanner.db",
		HTTPAddr:           ":8080",
		ScanInterval:       time.Minute,
		StalenessThreshold: time.Hour,
		ReminderCooldown:   5 * time.Minute,
		SummaryCooldown:    time.Hour,
		DispatchWorkers:    maxWorkers,
		DailySummaryTime:   "08:00",
		CleanupTime:        "00:00",
		CleanupAfter:       30 * 24 * time.Hour,
		HealthInterval:     5 * time.Minute,
		DefaultTimezone:    "UTC",
		LogLevel:           "info",
		LogFormat:          "console",
	}
}

// Load reads .env (if present), an optional YAML file named by CONFIG_FILE
// and then environment variables, later sources winning.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config) error {
	setString(&cfg.TelegramToken, "TELEGRAM_TOKEN")
	setString(&cfg.DatabaseDriver, "DATABASE_DRIVER")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.DailySummaryTime, "DAILY_SUMMARY_TIME")
	setString(&cfg.CleanupTime, "CLEANUP_TIME")
	setString(&cfg.DefaultTimezone, "DEFAULT_TIMEZONE")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")

	durations := map[string]*time.Duration{
		"SCAN_INTERVAL":       &cfg.ScanInterval,
		"STALENESS_THRESHOLD": &cfg.StalenessThreshold,
		"REMINDER_COOLDOWN":   &cfg.ReminderCooldown,
		"SUMMARY_COOLDOWN":    &cfg.SummaryCooldown,
		"CLEANUP_AFTER":       &cfg.CleanupAfter,
		"HEALTH_INTERVAL":     &cfg.HealthInterval,
	}
	for key, dst := range durations {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if raw := strings.TrimSpace(os.Getenv("DISPATCH_WORKERS")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("DISPATCH_WORKERS: %w", err)
		}
		cfg.DispatchWorkers = n
	}
	return nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DATABASE_DRIVER: unsupported driver %q", c.DatabaseDriver)
	}
	if c.ScanInterval < time.Second {
		return fmt.Errorf("SCAN_INTERVAL: must be at least 1s")
	}
	if c.StalenessThreshold <= 0 {
		return fmt.Errorf("STALENESS_THRESHOLD: must be positive")
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("HEALTH_INTERVAL: must be positive")
	}
	if c.CleanupAfter <= 0 {
		return fmt.Errorf("CLEANUP_AFTER: must be positive")
	}
	if c.DispatchWorkers <= 0 || c.DispatchWorkers > maxWorkers {
		c.DispatchWorkers = maxWorkers
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}
