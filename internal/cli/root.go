package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/finops-hub/internal/config"
	"github.com/ogulcanaydogan/finops-hub/internal/metrics"
	"github.com/ogulcanaydogan/finops-hub/pkg/aggregator"
	"github.com/ogulcanaydogan/finops-hub/pkg/alerts"
	"github.com/ogulcanaydogan/finops-hub/pkg/anomaly"
	"github.com/ogulcanaydogan/finops-hub/pkg/forecast"
	"github.com/ogulcanaydogan/finops-hub/pkg/importer"
	"github.com/ogulcanaydogan/finops-hub/pkg/model"
	"github.com/ogulcanaydogan/finops-hub/pkg/pipeline"
	"github.com/ogulcanaydogan/finops-hub/pkg/reservations"
	"github.com/ogulcanaydogan/finops-hub/pkg/source"
	"github.com/ogulcanaydogan/finops-hub/pkg/storage"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	cfgFile  string
	currency string
)

var rootCmd = &cobra.Command{
	Use:   "finops",
	Short: "FinOps Hub - cloud cost import, aggregation, anomaly detection and forecasting",
	Long: `FinOps Hub imports FOCUS cost exports from blob storage, rolls them up into
daily and monthly aggregates, flags cost anomalies and forecasts spend.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.finops/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&currency, "currency", "", "billing currency (default from config)")
}

// app holds the process-wide dependencies built from config.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Storage
	metrics  *metrics.Pipeline
	currency string
}

// newApp loads config and opens storage. The caller closes the app.
func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	cur := cfg.Defaults.Currency
	if currency != "" {
		cur = strings.ToUpper(currency)
	}

	return &app{
		cfg:      cfg,
		logger:   newLogger(cfg),
		store:    store,
		metrics:  metrics.New(),
		currency: cur,
	}, nil
}

func (a *app) Close() error { return a.store.Close() }

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

func (a *app) source(ctx context.Context) (source.Source, error) {
	s := a.cfg.Source
	return source.New(ctx, source.Config{
		Type: s.Type,
		Azure: source.AzureConfig{
			AccountURL:       s.Azure.AccountURL,
			Container:        s.Azure.Container,
			ConnectionString: s.Azure.ConnectionString,
			TenantID:         s.Azure.TenantID,
		},
		S3: source.S3Config{
			Bucket:  s.S3.Bucket,
			Region:  s.S3.Region,
			Profile: s.S3.Profile,
		},
		Local: source.LocalConfig{Dir: s.Local.Dir},
	})
}

// importer builds an importer; withSource is false for single-file imports.
func (a *app) importer(ctx context.Context, withSource bool) (*importer.Importer, error) {
	var src source.Source
	if withSource {
		var err error
		if src, err = a.source(ctx); err != nil {
			return nil, fmt.Errorf("init source: %w", err)
		}
	}
	return importer.New(a.store, src, importer.Config{
		BatchSize: a.cfg.Importer.BatchSize,
		Prefix:    a.cfg.Source.Prefix,
	}, a.logger), nil
}

func (a *app) aggregator() *aggregator.Aggregator {
	return aggregator.New(a.store, aggregator.Config{
		WindowDays: a.cfg.Aggregation.WindowDays,
		TopN:       a.cfg.Aggregation.TopN,
	}, a.logger)
}

func (a *app) detector() *anomaly.Detector {
	c := a.cfg.Anomaly
	return anomaly.New(a.store, anomaly.Config{
		ActiveDays:      c.ActiveDays,
		BaselineDays:    c.BaselineDays,
		MinBaselineDays: c.MinBaselineDays,
		ZScoreThreshold: c.ZScoreThreshold,
		SpikeWindowDays: c.SpikeWindowDays,
		SpikeRatio:      c.SpikeRatio,
	}, a.logger)
}

func (a *app) forecaster() *forecast.Forecaster {
	c := a.cfg.Forecast
	return forecast.New(a.store, forecast.Config{
		ForecastDays:   c.Days,
		TrainingDays:   c.TrainingDays,
		MinHistoryDays: c.MinHistoryDays,
	}, a.logger)
}

// notifiers creates alert notifiers from config.
func (a *app) notifiers() []alerts.Notifier {
	var notifiers []alerts.Notifier

	if a.cfg.Alerts.Slack.Enabled && a.cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alerts.NewSlackNotifier(
			a.cfg.Alerts.Slack.WebhookURL,
			a.cfg.Alerts.Slack.Channel,
		))
	}

	if a.cfg.Alerts.Webhook.Enabled && a.cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(
			a.cfg.Alerts.Webhook.URL,
			a.cfg.Alerts.Webhook.Secret,
		))
	}

	return notifiers
}

func (a *app) dispatcher() *alerts.Dispatcher {
	return alerts.NewDispatcher(a.notifiers(), model.Severity(a.cfg.Anomaly.NotifyMinSeverity), a.logger)
}

func (a *app) reservations() (*reservations.Syncer, error) {
	overrides, err := reservations.LoadOverrides(a.cfg.Reservations.File)
	if err != nil {
		return nil, err
	}
	return reservations.New(a.store, overrides, a.cfg.Reservations.DefaultTermMonths, a.logger), nil
}

// pipeline wires every stage. A source that cannot be built only disables import.
func (a *app) pipeline(ctx context.Context) *pipeline.Pipeline {
	im, err := a.importer(ctx, true)
	if err != nil {
		a.logger.Warn("import disabled", "error", err)
		im = nil
	}
	return pipeline.New(a.store, pipeline.Components{
		Importer:   im,
		Aggregator: a.aggregator(),
		Detector:   a.detector(),
		Forecaster: a.forecaster(),
		Dispatcher: a.dispatcher(),
		Metrics:    a.metrics,
	}, a.logger)
}

func (a *app) syncOptions(skipImport bool) pipeline.Options {
	return pipeline.Options{
		Currency:     a.currency,
		SkipImport:   skipImport,
		WindowDays:   a.cfg.Aggregation.WindowDays,
		DetectDays:   a.cfg.Anomaly.DaysBack,
		ForecastDays: a.cfg.Forecast.Days,
		TrainingDays: a.cfg.Forecast.TrainingDays,
	}
}
