package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	MailerLite MailerLiteConfig `mapstructure:"mailerlite"`
	LiveCount  LiveCountConfig  `mapstructure:"live_count"`
	Survey     SurveyConfig     `mapstructure:"survey"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MailerLiteConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	GroupID       string        `mapstructure:"group_id"`
	SurveyGroupID string        `mapstructure:"survey_group_id"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond int           `mapstructure:"rate_per_second"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

type LiveCountConfig struct {
	Total            int           `mapstructure:"total"`
	Fallback         int           `mapstructure:"fallback"`
	Heartbeat        time.Duration `mapstructure:"heartbeat"`
	WebhookTimeout   time.Duration `mapstructure:"webhook_timeout"`
	WebSocketEnabled bool          `mapstructure:"websocket_enabled"`
}

type SurveyConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
	Title       string `mapstructure:"title"`
	// InMemory keeps responses in process memory when no database is set.
	InMemory bool `mapstructure:"in_memory"`
	// SeedFile is a JSON array of questions loaded into the in-memory store.
	SeedFile string `mapstructure:"seed_file"`
}

type NotifyConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Server        string `mapstructure:"server"`
	Topic         string `mapstructure:"topic"`
	Priority      string `mapstructure:"priority"`
	Tags          string `mapstructure:"tags"`
	Token         string `mapstructure:"token"`
	MilestoneStep int    `mapstructure:"milestone_step"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	// A missing .env is the normal case in deployed environments
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("mailerlite.base_url", "https://connect.mailerlite.com/api")
	v.SetDefault("mailerlite.api_key", "")
	v.SetDefault("mailerlite.group_id", "")
	v.SetDefault("mailerlite.survey_group_id", "")
	v.SetDefault("mailerlite.timeout", "15s")
	v.SetDefault("mailerlite.rate_per_second", 2)
	v.SetDefault("mailerlite.cache_ttl", "5m")
	v.SetDefault("live_count.total", 1000)
	v.SetDefault("live_count.fallback", 490)
	v.SetDefault("live_count.heartbeat", "30s")
	v.SetDefault("live_count.webhook_timeout", "5s")
	v.SetDefault("live_count.websocket_enabled", true)
	v.SetDefault("survey.database_url", "")
	v.SetDefault("survey.title", "Arfve Launch Survey")
	v.SetDefault("survey.in_memory", false)
	v.SetDefault("survey.seed_file", "")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.topic", "")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "headphones")
	v.SetDefault("notify.token", "")
	v.SetDefault("notify.milestone_step", 100)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("LAUNCHSITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Names the hosting platform already provides
	_ = v.BindEnv("server.port", "LAUNCHSITE_SERVER_PORT", "PORT")
	_ = v.BindEnv("mailerlite.api_key", "LAUNCHSITE_MAILERLITE_API_KEY", "MAILERLITE_API_KEY")
	_ = v.BindEnv("mailerlite.group_id", "LAUNCHSITE_MAILERLITE_GROUP_ID", "MAILERLITE_GROUP_ID")
	_ = v.BindEnv("mailerlite.survey_group_id", "LAUNCHSITE_MAILERLITE_SURVEY_GROUP_ID", "MAILERLITE_SURVEY_GROUP_ID")
	_ = v.BindEnv("survey.database_url", "LAUNCHSITE_SURVEY_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("notify.enabled", "LAUNCHSITE_NOTIFY_ENABLED", "NTFY_ENABLED")
	_ = v.BindEnv("notify.server", "LAUNCHSITE_NOTIFY_SERVER", "NTFY_SERVER")
	_ = v.BindEnv("notify.topic", "LAUNCHSITE_NOTIFY_TOPIC", "NTFY_TOPIC")
	_ = v.BindEnv("notify.token", "LAUNCHSITE_NOTIFY_TOKEN", "NTFY_TOKEN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("launchsite")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks structural sanity only. A missing MailerLite key is not an
// error here; the count fetcher reports it on first use.
func (c *Config) Validate() error {
	if c.LiveCount.Total < 1 {
		return fmt.Errorf("live_count.total must be >= 1")
	}
	if c.LiveCount.Fallback < 0 {
		return fmt.Errorf("live_count.fallback must be >= 0")
	}
	if c.LiveCount.Heartbeat <= 0 {
		return fmt.Errorf("live_count.heartbeat must be positive")
	}
	if c.LiveCount.WebhookTimeout <= 0 {
		return fmt.Errorf("live_count.webhook_timeout must be positive")
	}
	if c.MailerLite.CacheTTL <= 0 {
		return fmt.Errorf("mailerlite.cache_ttl must be positive")
	}
	if c.MailerLite.RatePerSecond < 1 {
		return fmt.Errorf("mailerlite.rate_per_second must be >= 1")
	}
	if c.Notify.Enabled {
		if c.Notify.Topic == "" {
			return fmt.Errorf("notify.topic is required when notifications are enabled (set NTFY_TOPIC)")
		}
		validPriorities := map[string]bool{
			"min": true, "low": true, "default": true, "high": true, "urgent": true,
		}
		if !validPriorities[c.Notify.Priority] {
			return fmt.Errorf("invalid notify.priority: %s (valid: min, low, default, high, urgent)", c.Notify.Priority)
		}
	}
	return nil
}

// SurveyStorageConfigured reports whether survey storage is available.
func (c *Config) SurveyStorageConfigured() bool {
	return c.Survey.DatabaseURL != "" || c.Survey.InMemory
}
