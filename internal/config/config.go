package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Dagster       DagsterConfig   `yaml:"dagster"`
	Store         StoreConfig     `yaml:"store"`
	Alerts        AlertsConfig    `yaml:"alerts"`
	Scheduler     SchedulerConfig `yaml:"scheduler"`
	Notifications Notifications   `yaml:"notifications"`
	Web           WebConfig       `yaml:"web"`
	Logging       LoggingConfig   `yaml:"logging"`
}

// DagsterConfig points at the GraphQL endpoint runs are fetched from.
type DagsterConfig struct {
	URL            string            `yaml:"url"`
	Token          string            `yaml:"token"`
	Headers        map[string]string `yaml:"headers"`
	RequestTimeout string            `yaml:"requestTimeout"`
}

func (d DagsterConfig) GetRequestTimeout() time.Duration {
	if d.RequestTimeout == "" {
		return 30 * time.Second
	}
	v, err := time.ParseDuration(d.RequestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return v
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type AlertsConfig struct {
	// FetchLimit bounds how many recent runs one evaluation looks at.
	// Conditions older than the window are invisible.
	FetchLimit    int `yaml:"fetchLimit"`
	HistoryCap    int `yaml:"historyCap"`
	RetentionDays int `yaml:"retentionDays"`
}

type SchedulerConfig struct {
	Interval string `yaml:"interval"`
}

// GetInterval returns the requested pass cadence. The scheduler enforces
// its own 15 minute floor on top of this.
func (s SchedulerConfig) GetInterval() time.Duration {
	if s.Interval == "" {
		return 15 * time.Minute
	}
	v, err := time.ParseDuration(s.Interval)
	if err != nil {
		return 15 * time.Minute
	}
	return v
}

type Notifications struct {
	Webhook WebhookConfig `yaml:"webhook"`
	NATS    NATSConfig    `yaml:"nats"`
}

type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout string            `yaml:"timeout"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// WebConfig controls the built-in HTTP surface (rule CRUD, notifications,
// manual trigger, diagnostics, metrics).
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if cfg.Dagster.URL == "" {
		return nil, fmt.Errorf("dagster.url is required")
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./data/alerts.db"
	}
	if cfg.Alerts.FetchLimit <= 0 {
		cfg.Alerts.FetchLimit = 50
	}
	if cfg.Alerts.HistoryCap <= 0 {
		cfg.Alerts.HistoryCap = 100
	}
	if cfg.Alerts.RetentionDays <= 0 {
		cfg.Alerts.RetentionDays = 7
	}
	if cfg.Notifications.NATS.Subject == "" {
		cfg.Notifications.NATS.Subject = "alerts.fired"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	// LOG_LEVEL takes precedence over the config file
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return &cfg, nil
}
