// Package pipeline chains import, aggregation, anomaly detection and
// forecasting into one daily sync.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/ogulcanaydogan/finops-hub/internal/metrics"
	"github.com/ogulcanaydogan/finops-hub/pkg/aggregator"
	"github.com/ogulcanaydogan/finops-hub/pkg/alerts"
	"github.com/ogulcanaydogan/finops-hub/pkg/anomaly"
	"github.com/ogulcanaydogan/finops-hub/pkg/forecast"
	"github.com/ogulcanaydogan/finops-hub/pkg/importer"
	"github.com/ogulcanaydogan/finops-hub/pkg/model"
	"github.com/ogulcanaydogan/finops-hub/pkg/storage"
)

// Stage names used in reports, logs and metrics.
const (
	StageImport    = "import"
	StageAggregate = "aggregate"
	StageDetect    = "detect"
	StageForecast  = "forecast"
)

// Options controls one sync.
type Options struct {
	Currency   string
	SkipImport bool
	Import     importer.RunOptions
	// WindowDays is the aggregation window; zero uses the aggregator default.
	WindowDays int
	// DetectDays is how many trailing days are checked for anomalies.
	DetectDays   int
	ForecastDays int
	TrainingDays int
}

// StageError is a failure of one stage.
type StageError struct {
	Stage string
	Err   error
}

func (e StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e StageError) Unwrap() error { return e.Err }

// SyncReport is the outcome of a sync. A failed stage is recorded and the
// remaining stages still run.
type SyncReport struct {
	StartedAt  time.Time
	FinishedAt time.Time

	Import            *importer.Result
	Aggregation       *aggregator.Result
	AnomaliesDetected int
	AnomaliesStored   int64
	Alerts            alerts.DispatchResult
	ForecastsWritten  int

	Errors []StageError
}

// Failed reports whether any stage failed.
func (r *SyncReport) Failed() bool { return len(r.Errors) > 0 }

// Err joins all stage errors, or returns nil.
func (r *SyncReport) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return errors.Join(lo.Map(r.Errors, func(e StageError, _ int) error { return e })...)
}

// Pipeline wires the sync stages together.
type Pipeline struct {
	store      storage.Storage
	importer   *importer.Importer
	aggregator *aggregator.Aggregator
	detector   *anomaly.Detector
	forecaster *forecast.Forecaster
	dispatcher *alerts.Dispatcher
	metrics    *metrics.Pipeline
	logger     *slog.Logger
}

// Components groups the stage implementations. Importer, Dispatcher and
// Metrics are optional.
type Components struct {
	Importer   *importer.Importer
	Aggregator *aggregator.Aggregator
	Detector   *anomaly.Detector
	Forecaster *forecast.Forecaster
	Dispatcher *alerts.Dispatcher
	Metrics    *metrics.Pipeline
}

// New creates a pipeline.
func New(store storage.Storage, c Components, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		importer:   c.Importer,
		aggregator: c.Aggregator,
		detector:   c.Detector,
		forecaster: c.Forecaster,
		dispatcher: c.Dispatcher,
		metrics:    c.Metrics,
		logger:     logger,
	}
}

// Sync runs import, aggregation, detection and forecasting in order.
// Only context cancellation stops the chain early.
func (p *Pipeline) Sync(ctx context.Context, opts Options) *SyncReport {
	report := &SyncReport{StartedAt: time.Now().UTC()}
	p.logger.Info("sync started", "currency", opts.Currency, "skip_import", opts.SkipImport)

	if !opts.SkipImport {
		p.stage(ctx, report, StageImport, func() error {
			if p.importer == nil {
				return fmt.Errorf("no importer configured")
			}
			res, err := p.importer.Run(ctx, opts.Import)
			report.Import = res
			if res != nil && p.metrics != nil {
				p.metrics.RecordsImported.Add(float64(res.RecordsImported))
				p.metrics.DuplicatesSkipped.Add(float64(res.DuplicatesSkipped))
				p.metrics.RowsFailed.Add(float64(res.RowsFailed))
				p.metrics.ExportsFailed.Add(float64(res.ExportsFailed))
			}
			return err
		})
	}

	p.stage(ctx, report, StageAggregate, func() error {
		res, err := p.aggregator.Run(ctx, opts.Currency, opts.WindowDays)
		report.Aggregation = res
		return err
	})

	p.stage(ctx, report, StageDetect, func() error {
		return p.detect(ctx, report, opts)
	})

	p.stage(ctx, report, StageForecast, func() error {
		forecasts, err := p.forecaster.ForecastActive(ctx, opts.Currency, opts.ForecastDays, opts.TrainingDays)
		if err != nil {
			return err
		}
		if err := p.store.UpsertForecasts(ctx, forecasts); err != nil {
			return err
		}
		report.ForecastsWritten = len(forecasts)
		if p.metrics != nil {
			p.metrics.ForecastsWritten.Add(float64(len(forecasts)))
		}
		return nil
	})

	report.FinishedAt = time.Now().UTC()
	if p.metrics != nil && !report.Failed() {
		p.metrics.LastSuccess.Set(float64(report.FinishedAt.Unix()))
	}

	p.logger.Info("sync finished",
		"duration", report.FinishedAt.Sub(report.StartedAt),
		"anomalies_detected", report.AnomaliesDetected,
		"anomalies_stored", report.AnomaliesStored,
		"alerts_sent", report.Alerts.Sent,
		"forecasts", report.ForecastsWritten,
		"failed_stages", len(report.Errors),
	)
	return report
}

func (p *Pipeline) stage(ctx context.Context, report *SyncReport, name string, fn func() error) {
	if err := ctx.Err(); err != nil {
		report.Errors = append(report.Errors, StageError{Stage: name, Err: err})
		return
	}

	started := time.Now()
	err := fn()
	if p.metrics != nil {
		p.metrics.ObserveStage(name, started, err)
	}
	if err != nil {
		p.logger.Error("sync stage failed", "stage", name, "error", err)
		report.Errors = append(report.Errors, StageError{Stage: name, Err: err})
		return
	}
	p.logger.Debug("sync stage complete", "stage", name, "duration", time.Since(started))
}

func (p *Pipeline) detect(ctx context.Context, report *SyncReport, opts Options) error {
	found, err := p.detector.DetectDaily(ctx, opts.Currency, opts.DetectDays)
	if err != nil {
		return err
	}
	report.AnomaliesDetected = len(found)

	report.AnomaliesStored, report.Alerts, err = p.RecordAnomalies(ctx, found)
	return err
}

// RecordAnomalies stores anomalies, ignoring ones already stored, and
// notifies only about the new ones.
func (p *Pipeline) RecordAnomalies(ctx context.Context, found []model.CostAnomaly) (int64, alerts.DispatchResult, error) {
	if len(found) == 0 {
		return 0, alerts.DispatchResult{}, nil
	}

	fresh, err := p.unseen(ctx, found)
	if err != nil {
		return 0, alerts.DispatchResult{}, err
	}
	stored, err := p.store.InsertAnomalies(ctx, found)
	if err != nil {
		return 0, alerts.DispatchResult{}, err
	}

	if p.metrics != nil {
		for _, a := range fresh {
			p.metrics.Anomalies.WithLabelValues(string(a.Severity)).Inc()
		}
	}
	var sent alerts.DispatchResult
	if p.dispatcher != nil {
		sent = p.dispatcher.Notify(ctx, fresh)
	}
	return stored, sent, nil
}

type anomalyKey struct {
	date  string
	dim   model.DimensionType
	value string
}

func keyOf(a model.CostAnomaly) anomalyKey {
	return anomalyKey{date: a.DetectedDate, dim: a.DimensionType, value: a.DimensionValue}
}

// unseen drops anomalies whose key is already stored.
func (p *Pipeline) unseen(ctx context.Context, found []model.CostAnomaly) ([]model.CostAnomaly, error) {
	dates := lo.Map(found, func(a model.CostAnomaly, _ int) string { return a.DetectedDate })
	existing, err := p.store.ListAnomalies(ctx, model.AnomalyFilter{From: lo.Min(dates), To: lo.Max(dates)})
	if err != nil {
		return nil, fmt.Errorf("load stored anomalies: %w", err)
	}
	seen := make(map[anomalyKey]struct{}, len(existing))
	for _, a := range existing {
		seen[keyOf(a)] = struct{}{}
	}
	return lo.Filter(found, func(a model.CostAnomaly, _ int) bool {
		_, ok := seen[keyOf(a)]
		return !ok
	}), nil
}
