package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all FinOps Hub configuration. One value is loaded at startup
// and passed to every component.
type Config struct {
	Storage      StorageConfig      `mapstructure:"storage"`
	Source       SourceConfig       `mapstructure:"source"`
	Importer     ImporterConfig     `mapstructure:"importer"`
	Aggregation  AggregationConfig  `mapstructure:"aggregation"`
	Anomaly      AnomalyConfig      `mapstructure:"anomaly"`
	Forecast     ForecastConfig     `mapstructure:"forecast"`
	Server       ServerConfig       `mapstructure:"server"`
	Alerts       AlertsConfig       `mapstructure:"alerts"`
	Schedule     ScheduleConfig     `mapstructure:"schedule"`
	Reservations ReservationsConfig `mapstructure:"reservations"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Defaults     DefaultsConfig     `mapstructure:"defaults"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// SourceConfig selects where cost exports are read from.
type SourceConfig struct {
	Type   string      `mapstructure:"type"`
	Prefix string      `mapstructure:"prefix"`
	Azure  AzureConfig `mapstructure:"azure"`
	S3     S3Config    `mapstructure:"s3"`
	Local  LocalConfig `mapstructure:"local"`
}

// AzureConfig defines Azure Blob Storage settings.
type AzureConfig struct {
	AccountURL       string `mapstructure:"account_url"`
	Container        string `mapstructure:"container"`
	ConnectionString string `mapstructure:"connection_string"`
	TenantID         string `mapstructure:"tenant_id"`
}

// S3Config defines Amazon S3 settings.
type S3Config struct {
	Bucket  string `mapstructure:"bucket"`
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

// LocalConfig defines a directory source.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// ImporterConfig tunes cost record imports.
type ImporterConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// AggregationConfig tunes rollups.
type AggregationConfig struct {
	WindowDays int `mapstructure:"window_days"`
	TopN       int `mapstructure:"top_n"`
}

// AnomalyConfig tunes anomaly detection and notification.
type AnomalyConfig struct {
	DaysBack          int     `mapstructure:"days_back"`
	ActiveDays        int     `mapstructure:"active_days"`
	BaselineDays      int     `mapstructure:"baseline_days"`
	MinBaselineDays   int     `mapstructure:"min_baseline_days"`
	ZScoreThreshold   float64 `mapstructure:"zscore_threshold"`
	SpikeWindowDays   int     `mapstructure:"spike_window_days"`
	SpikeRatio        float64 `mapstructure:"spike_ratio"`
	NotifyMinSeverity string  `mapstructure:"notify_min_severity"`
}

// ForecastConfig tunes forecasting.
type ForecastConfig struct {
	Days           int `mapstructure:"days"`
	TrainingDays   int `mapstructure:"training_days"`
	MinHistoryDays int `mapstructure:"min_history_days"`
}

// ServerConfig defines the dashboard API server.
type ServerConfig struct {
	Listen       string   `mapstructure:"listen"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	APITokens    []string `mapstructure:"api_tokens"`
}

// AlertsConfig defines alerting integrations.
type AlertsConfig struct {
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// ScheduleConfig defines when the scheduler runs a sync.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// ReservationsConfig defines reservation amortization settings.
type ReservationsConfig struct {
	File              string `mapstructure:"file"`
	DefaultTermMonths int    `mapstructure:"default_term_months"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultsConfig defines default values.
type DefaultsConfig struct {
	Currency string `mapstructure:"currency"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".finops"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("FINOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Every key gets a default so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", filepath.Join(home, ".finops", "finops.db"))
	v.SetDefault("storage.dsn", "")

	v.SetDefault("source.type", "local")
	v.SetDefault("source.prefix", "")
	v.SetDefault("source.azure.account_url", "")
	v.SetDefault("source.azure.container", "")
	v.SetDefault("source.azure.connection_string", "")
	v.SetDefault("source.azure.tenant_id", "")
	v.SetDefault("source.s3.bucket", "")
	v.SetDefault("source.s3.region", "")
	v.SetDefault("source.s3.profile", "")
	v.SetDefault("source.local.dir", filepath.Join(home, ".finops", "exports"))

	v.SetDefault("importer.batch_size", 1000)

	v.SetDefault("aggregation.window_days", 60)
	v.SetDefault("aggregation.top_n", 5)

	v.SetDefault("anomaly.days_back", 7)
	v.SetDefault("anomaly.active_days", 90)
	v.SetDefault("anomaly.baseline_days", 30)
	v.SetDefault("anomaly.min_baseline_days", 7)
	v.SetDefault("anomaly.zscore_threshold", 2.0)
	v.SetDefault("anomaly.spike_window_days", 7)
	v.SetDefault("anomaly.spike_ratio", 1.5)
	v.SetDefault("anomaly.notify_min_severity", "high")

	v.SetDefault("forecast.days", 30)
	v.SetDefault("forecast.training_days", 90)
	v.SetDefault("forecast.min_history_days", 30)

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.api_tokens", []string{})

	v.SetDefault("alerts.slack.enabled", false)
	v.SetDefault("alerts.slack.webhook_url", "")
	v.SetDefault("alerts.slack.channel", "#finops")
	v.SetDefault("alerts.webhook.enabled", false)
	v.SetDefault("alerts.webhook.url", "")
	v.SetDefault("alerts.webhook.secret", "")

	v.SetDefault("schedule.cron", "0 6 * * *")

	v.SetDefault("reservations.file", "")
	v.SetDefault("reservations.default_term_months", 12)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("defaults.currency", "EUR")
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}

	switch c.Anomaly.NotifyMinSeverity {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("invalid anomaly.notify_min_severity %q", c.Anomaly.NotifyMinSeverity)
	}

	for _, d := range []string{c.Server.ReadTimeout, c.Server.WriteTimeout} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid server timeout %q: %w", d, err)
		}
	}

	if len(c.Defaults.Currency) != 3 {
		return fmt.Errorf("defaults.currency must be an ISO 4217 code, got %q", c.Defaults.Currency)
	}
	c.Defaults.Currency = strings.ToUpper(c.Defaults.Currency)
	return nil
}
