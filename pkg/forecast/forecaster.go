// Package forecast projects daily costs with a linear trend and weekly seasonality.
package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
	"github.com/ogulcanaydogan/finops-hub/pkg/storage"
)

// Model identification written on every forecast.
const (
	ModelType       = "linear_regression_seasonal"
	ConfidenceLevel = 0.95
	zScore95        = 1.96
)

// Defaults for Config.
const (
	DefaultForecastDays   = 30
	DefaultTrainingDays   = 90
	DefaultMinHistoryDays = 30
)

// Config tunes the forecaster.
type Config struct {
	ForecastDays   int
	TrainingDays   int
	MinHistoryDays int
}

// Forecaster fits a model over daily aggregates. It never writes.
type Forecaster struct {
	store  storage.AggregationStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a forecaster.
func New(store storage.AggregationStore, cfg Config, logger *slog.Logger) *Forecaster {
	if cfg.ForecastDays <= 0 {
		cfg.ForecastDays = DefaultForecastDays
	}
	if cfg.TrainingDays <= 0 {
		cfg.TrainingDays = DefaultTrainingDays
	}
	if cfg.MinHistoryDays <= 0 {
		cfg.MinHistoryDays = DefaultMinHistoryDays
	}
	return &Forecaster{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// WithClock overrides the clock that defines "today".
func (f *Forecaster) WithClock(now func() time.Time) *Forecaster {
	f.now = now
	return f
}

// fit is a trained trend plus weekday multipliers.
type fit struct {
	slope       float64
	intercept   float64
	stdErr      float64
	rSquared    float64
	rmse        float64
	seasonality [7]float64
	n           int
}

// Forecast projects forecastDays days starting tomorrow from the trainingDays
// days before today. It returns nil when there is not enough history.
// Zero forecastDays or trainingDays use the configured defaults.
func (f *Forecaster) Forecast(ctx context.Context, dimType model.DimensionType, dimValue string, forecastDays, trainingDays int, currency string) ([]model.CostForecast, error) {
	if forecastDays <= 0 {
		forecastDays = f.cfg.ForecastDays
	}
	if trainingDays <= 0 {
		trainingDays = f.cfg.TrainingDays
	}

	today := model.Day(f.now())
	trainStart := today.AddDate(0, 0, -trainingDays)
	trainEnd := today.AddDate(0, 0, -1)

	aggs, err := f.store.ListAggregations(ctx, model.AggregationFilter{
		AggregationType: model.AggregationDaily,
		DimensionType:   dimType,
		DimensionValue:  dimValue,
		Currency:        currency,
		From:            trainStart.Format(model.DateLayout),
		To:              trainEnd.Format(model.DateLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("load %s/%s aggregates: %w", dimType, dimValue, err)
	}
	if len(aggs) < f.cfg.MinHistoryDays {
		f.logger.Debug("not enough history to forecast",
			"dimension_type", dimType, "dimension_value", dimValue, "days", len(aggs))
		return nil, nil
	}

	xs := make([]float64, 0, len(aggs))
	ys := make([]float64, 0, len(aggs))
	days := make([]time.Weekday, 0, len(aggs))
	for _, a := range aggs {
		d, err := time.Parse(model.DateLayout, a.PeriodStart)
		if err != nil {
			return nil, fmt.Errorf("parse aggregate date %q: %w", a.PeriodStart, err)
		}
		xs = append(xs, daysBetween(trainStart, d))
		ys = append(ys, a.TotalCost)
		days = append(days, d.Weekday())
	}

	m := train(xs, ys, days)
	meta := model.ForecastMetadata{
		RSquared:         m.rSquared,
		RMSE:             m.rmse,
		Slope:            m.slope,
		Intercept:        m.intercept,
		ResidualStdError: m.stdErr,
		Seasonality:      m.seasonality,
		SampleCount:      m.n,
		TrainingStart:    trainStart.Format(model.DateLayout),
		TrainingEnd:      trainEnd.Format(model.DateLayout),
	}

	band := zScore95 * m.stdErr
	forecasts := make([]model.CostForecast, 0, forecastDays)
	for i := 1; i <= forecastDays; i++ {
		d := today.AddDate(0, 0, i)
		trend := m.slope*daysBetween(trainStart, d) + m.intercept
		value := math.Max(0, trend*m.seasonality[d.Weekday()])
		forecasts = append(forecasts, model.CostForecast{
			ForecastDate:    d.Format(model.DateLayout),
			DimensionType:   dimType,
			DimensionValue:  dimValue,
			Currency:        currency,
			ForecastCost:    value,
			LowerBound:      math.Max(0, value-band),
			UpperBound:      value + band,
			ConfidenceLevel: ConfidenceLevel,
			ModelType:       ModelType,
			TrainingDays:    trainingDays,
			Metadata:        meta,
		})
	}
	return forecasts, nil
}

// ForecastActive forecasts the overall dimension and every subscription and
// service with aggregates inside the training window. A failing dimension is
// logged and skipped.
func (f *Forecaster) ForecastActive(ctx context.Context, currency string, forecastDays, trainingDays int) ([]model.CostForecast, error) {
	if trainingDays <= 0 {
		trainingDays = f.cfg.TrainingDays
	}
	since := model.Day(f.now()).AddDate(0, 0, -trainingDays).Format(model.DateLayout)

	dims, err := f.store.ActiveDimensions(ctx, currency, since)
	if err != nil {
		return nil, fmt.Errorf("list active dimensions: %w", err)
	}
	dims = lo.Filter(dims, func(d model.DimensionKey, _ int) bool {
		return d.Type == model.DimensionOverall ||
			d.Type == model.DimensionSubscription ||
			d.Type == model.DimensionService
	})

	var all []model.CostForecast
	var skipped int
	for _, d := range dims {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		forecasts, err := f.Forecast(ctx, d.Type, d.Value, forecastDays, trainingDays, currency)
		if err != nil {
			f.logger.Error("forecast failed", "dimension_type", d.Type, "dimension_value", d.Value, "error", err)
			continue
		}
		if forecasts == nil {
			skipped++
			continue
		}
		all = append(all, forecasts...)
	}

	f.logger.Info("forecasting complete",
		"currency", currency,
		"dimensions", len(dims),
		"insufficient_history", skipped,
		"forecasts", len(all),
	)
	return all, nil
}

// train fits ordinary least squares of y on x and weekday multipliers.
// Residuals are taken against the trend line before seasonal adjustment.
func train(xs, ys []float64, days []time.Weekday) fit {
	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy, sst float64
	for i := range xs {
		dx := xs[i] - meanX
		sxx += dx * dx
		sxy += dx * (ys[i] - meanY)
		sst += (ys[i] - meanY) * (ys[i] - meanY)
	}

	m := fit{n: len(xs)}
	if sxx > 0 {
		m.slope = sxy / sxx
	}
	m.intercept = meanY - m.slope*meanX

	var sse float64
	for i := range xs {
		r := ys[i] - (m.slope*xs[i] + m.intercept)
		sse += r * r
	}
	if len(xs) > 2 {
		m.stdErr = math.Sqrt(sse / (n - 2))
	}
	m.rmse = math.Sqrt(sse / n)
	if sst > 0 {
		m.rSquared = 1 - sse/sst
	} else {
		m.rSquared = 1
	}

	var wdSum [7]float64
	var wdCount [7]int
	for i, d := range days {
		wdSum[d] += ys[i]
		wdCount[d]++
	}
	for d := range m.seasonality {
		m.seasonality[d] = 1
		if wdCount[d] > 0 && meanY != 0 {
			m.seasonality[d] = (wdSum[d] / float64(wdCount[d])) / meanY
		}
	}
	return m
}

func daysBetween(from, to time.Time) float64 {
	return math.Round(to.Sub(from).Hours() / 24)
}
