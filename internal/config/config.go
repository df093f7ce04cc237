// Package config provides YAML-based configuration loading for the
// whatsapp-service, with environment-variable overrides for deploy-time
// settings (database endpoint, notifier tokens).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration, loaded from config.yaml.
type Config struct {
	InstanceID string                  `yaml:"instance_id"`
	DB         DBConfig                `yaml:"db"`
	Queue      QueueConfig             `yaml:"queue"`
	Bot        BotConfig               `yaml:"bot"`
	Routing    RoutingConfig           `yaml:"routing"`
	Notify     NotifyConfig            `yaml:"notify"`
	Dashboard  DashboardConfig         `yaml:"dashboard"`
	Tenants    map[string]TenantConfig `yaml:"tenants"`
}

// DBConfig holds connection settings for the MySQL server.
type DBConfig struct {
	Host     string `yaml:"host" env:"WSVC_DB_HOST"`
	Port     int    `yaml:"port" env:"WSVC_DB_PORT"`
	User     string `yaml:"user" env:"WSVC_DB_USER"`
	Password string `yaml:"password" env:"WSVC_DB_PASSWORD"`
	Database string `yaml:"database" env:"WSVC_DB_NAME"`
}

// QueueConfig tunes the work queue and its worker pool.
type QueueConfig struct {
	PollIntervalMs    int `yaml:"poll_interval_ms" env:"WSVC_QUEUE_POLL_MS"`
	LeaseDurationMs   int `yaml:"lease_duration_ms" env:"WSVC_QUEUE_LEASE_MS"`
	MaxConcurrentKeys int `yaml:"max_concurrent_keys" env:"WSVC_QUEUE_MAX_KEYS"`
	MaxRetries        int `yaml:"max_retries" env:"WSVC_QUEUE_MAX_RETRIES"`
	FailedRetentionH  int `yaml:"failed_retention_hours"`
}

// BotConfig tunes automated dialog sessions.
type BotConfig struct {
	SessionTimeoutMs int `yaml:"session_timeout_ms" env:"WSVC_BOT_TIMEOUT_MS"`
	SurveyQuestions  int `yaml:"survey_questions"`
	FlushDebounceMs  int `yaml:"flush_debounce_ms"`
}

// RoutingConfig tunes the assignment pipeline.
type RoutingConfig struct {
	// MultiSectorPrompt controls whether a contact reaching a tenant with
	// more than one sector is asked to choose before any chain runs.
	MultiSectorPrompt *bool `yaml:"multi_sector_prompt"`
}

// NotifyConfig holds credentials for the broadcast adapters. Empty values
// disable the corresponding adapter.
type NotifyConfig struct {
	SlackToken     string `yaml:"slack_token" env:"WSVC_SLACK_TOKEN"`
	SlackChannel   string `yaml:"slack_channel" env:"WSVC_SLACK_CHANNEL"`
	DiscordToken   string `yaml:"discord_token" env:"WSVC_DISCORD_TOKEN"`
	DiscordChannel string `yaml:"discord_channel" env:"WSVC_DISCORD_CHANNEL"`
}

// DashboardConfig holds settings for the read-only ops dashboard.
type DashboardConfig struct {
	Port int `yaml:"port" env:"WSVC_DASHBOARD_PORT"`
}

// TenantConfig overrides service-wide tuning for a single tenant.
type TenantConfig struct {
	DefaultSector     string `yaml:"default_sector"`
	MaxRetries        int    `yaml:"max_retries"`
	SessionTimeoutMs  int    `yaml:"session_timeout_ms"`
	SurveyQuestions   int    `yaml:"survey_questions"`
	MultiSectorPrompt *bool  `yaml:"multi_sector_prompt"`
}

// Load reads a YAML config file from path, applies environment overrides,
// and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, applies environment overrides, defaults and
// validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: env overrides: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.InstanceID == "" {
		host, _ := os.Hostname()
		c.InstanceID = "wservice-" + host
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if c.Queue.PollIntervalMs == 0 {
		c.Queue.PollIntervalMs = 500
	}
	if c.Queue.LeaseDurationMs == 0 {
		c.Queue.LeaseDurationMs = 60_000
	}
	if c.Queue.MaxConcurrentKeys == 0 {
		c.Queue.MaxConcurrentKeys = 8
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.FailedRetentionH == 0 {
		c.Queue.FailedRetentionH = 24
	}
	if c.Bot.SessionTimeoutMs == 0 {
		c.Bot.SessionTimeoutMs = 300_000
	}
	if c.Bot.SurveyQuestions == 0 {
		c.Bot.SurveyQuestions = 4
	}
	if c.Bot.FlushDebounceMs == 0 {
		c.Bot.FlushDebounceMs = 2_000
	}
	if c.Routing.MultiSectorPrompt == nil {
		t := true
		c.Routing.MultiSectorPrompt = &t
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.DB.Database == "" {
		errs = append(errs, "db.database is required")
	}
	if c.Queue.MaxConcurrentKeys < 1 {
		errs = append(errs, "queue.max_concurrent_keys must be at least 1")
	}
	if c.Queue.MaxRetries < 0 {
		errs = append(errs, "queue.max_retries must not be negative")
	}
	if c.Bot.SurveyQuestions < 1 {
		errs = append(errs, "bot.survey_questions must be at least 1")
	}
	for name, t := range c.Tenants {
		if t.MaxRetries < 0 {
			errs = append(errs, fmt.Sprintf("tenants.%s.max_retries must not be negative", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PollInterval returns the worker poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalMs) * time.Millisecond
}

// LeaseDuration returns the work-item lease duration as a duration.
func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.Queue.LeaseDurationMs) * time.Millisecond
}

// TenantMaxRetries returns the retry budget for a tenant, falling back to
// the service-wide default.
func (c *Config) TenantMaxRetries(tenant string) int {
	if t, ok := c.Tenants[tenant]; ok && t.MaxRetries > 0 {
		return t.MaxRetries
	}
	return c.Queue.MaxRetries
}

// TenantSessionTimeout returns the bot inactivity timeout for a tenant.
func (c *Config) TenantSessionTimeout(tenant string) time.Duration {
	if t, ok := c.Tenants[tenant]; ok && t.SessionTimeoutMs > 0 {
		return time.Duration(t.SessionTimeoutMs) * time.Millisecond
	}
	return time.Duration(c.Bot.SessionTimeoutMs) * time.Millisecond
}

// TenantSurveyQuestions returns the survey question count for a tenant.
func (c *Config) TenantSurveyQuestions(tenant string) int {
	if t, ok := c.Tenants[tenant]; ok && t.SurveyQuestions > 0 {
		return t.SurveyQuestions
	}
	return c.Bot.SurveyQuestions
}

// TenantMultiSectorPrompt reports whether the tenant asks multi-sector
// contacts to choose a destination before the assignment chain runs.
func (c *Config) TenantMultiSectorPrompt(tenant string) bool {
	if t, ok := c.Tenants[tenant]; ok && t.MultiSectorPrompt != nil {
		return *t.MultiSectorPrompt
	}
	return *c.Routing.MultiSectorPrompt
}
