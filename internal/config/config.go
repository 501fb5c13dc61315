package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all Token Usage Watchdog configuration.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Alerts  AlertsConfig  `mapstructure:"alerts"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// MonitorConfig defines the monitored resource and alert threshold.
type MonitorConfig struct {
	ResourceID     string `mapstructure:"resource_id"`
	MetricName     string `mapstructure:"metric_name"`
	Dimension      string `mapstructure:"dimension"`
	Threshold      int64  `mapstructure:"threshold"`
	ThresholdsFile string `mapstructure:"thresholds_file"`
}

// AlertsConfig defines alerting integrations.
type AlertsConfig struct {
	Email   EmailConfig   `mapstructure:"email"`
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// EmailConfig defines SMTP settings for email alerts.
type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
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

// ServerConfig defines the HTTP trigger server settings.
type ServerConfig struct {
	Listen       string `mapstructure:"listen"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
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

		v.AddConfigPath(filepath.Join(home, ".watchdog"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	home, _ := os.UserHomeDir()
	v.SetDefault("storage.path", filepath.Join(home, ".watchdog", "watchdog.db"))
	v.SetDefault("monitor.metric_name", "TokenTransaction")
	v.SetDefault("monitor.dimension", "ModelDeploymentName")
	v.SetDefault("monitor.threshold", 1000)
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("alerts.email.port", 587)
	v.SetDefault("alerts.slack.channel", "#usage-alerts")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Environment variables
	v.SetEnvPrefix("WATCHDOG")
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

	return &cfg, nil
}
