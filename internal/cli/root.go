package cli

import (
	"errors"
	"log/slog"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/spf13/cobra"

	"github.com/yapay-ai/token-usage-watchdog/internal/config"
	"github.com/yapay-ai/token-usage-watchdog/pkg/alerts"
	"github.com/yapay-ai/token-usage-watchdog/pkg/source"
	"github.com/yapay-ai/token-usage-watchdog/pkg/storage"
	"github.com/yapay-ai/token-usage-watchdog/pkg/watcher"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Token Usage Watchdog - monthly per-deployment token usage alerts",
	Long: `Token Usage Watchdog polls a cloud metric API for per-deployment token
consumption over the current calendar month and sends a one-time alert the
first time a deployment crosses its configured threshold. Alert state is
persisted per deployment per month so repeated runs never duplicate alerts.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.watchdog/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// initStore creates the record store from config.
func initStore(cfg *config.Config) (storage.RecordStore, error) {
	return storage.NewSQLite(cfg.Storage.Path)
}

// initNotifiers creates alert notifiers from config.
func initNotifiers(cfg *config.Config) []alerts.Notifier {
	var notifiers []alerts.Notifier

	if cfg.Alerts.Email.Enabled && cfg.Alerts.Email.Host != "" {
		notifiers = append(notifiers, alerts.NewEmailNotifier(
			cfg.Alerts.Email.Host,
			cfg.Alerts.Email.Port,
			cfg.Alerts.Email.Username,
			cfg.Alerts.Email.Password,
			cfg.Alerts.Email.From,
			cfg.Alerts.Email.To,
		))
	}

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alerts.NewSlackNotifier(
			cfg.Alerts.Slack.WebhookURL,
			cfg.Alerts.Slack.Channel,
		))
	}

	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(
			cfg.Alerts.Webhook.URL,
			cfg.Alerts.Webhook.Secret,
		))
	}

	return notifiers
}

// initPolicy builds the alert policy, including per-deployment threshold
// overrides when a thresholds file is configured.
func initPolicy(cfg *config.Config) (watcher.AlertPolicy, error) {
	policy := watcher.AlertPolicy{Threshold: cfg.Monitor.Threshold}
	if cfg.Monitor.ThresholdsFile != "" {
		overrides, err := watcher.LoadThresholdOverrides(cfg.Monitor.ThresholdsFile)
		if err != nil {
			return watcher.AlertPolicy{}, err
		}
		policy.Overrides = overrides
	}
	return policy, nil
}

// initSource creates the Azure Monitor usage source with ambient
// credentials (environment, workload identity, managed identity, CLI).
func initSource(cfg *config.Config) (source.UsageSource, error) {
	if cfg.Monitor.ResourceID == "" {
		return nil, errors.New("monitor.resource_id is required")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	}

	return source.NewAzureMonitor(cred, source.AzureMonitorConfig{
		ResourceID: cfg.Monitor.ResourceID,
		MetricName: cfg.Monitor.MetricName,
		Dimension:  cfg.Monitor.Dimension,
	}), nil
}

// initReconciler wires the reconciler and its dependencies. The returned
// store must be closed by the caller.
func initReconciler(cfg *config.Config, logger *slog.Logger) (*watcher.Reconciler, storage.RecordStore, error) {
	store, err := initStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	policy, err := initPolicy(cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	rec := watcher.NewReconciler(store, initNotifiers(cfg), policy, logger)
	return rec, store, nil
}
