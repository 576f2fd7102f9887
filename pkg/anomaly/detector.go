// Package anomaly flags unusual daily costs per dimension.
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
	"github.com/ogulcanaydogan/finops-hub/pkg/storage"
)

// stdEpsilon is the relative standard deviation below which a baseline
// counts as flat. Rule 1 is skipped on flat baselines.
const stdEpsilon = 1e-9

// Config holds detection thresholds.
type Config struct {
	// ActiveDays is how far back a dimension must have aggregates to be evaluated.
	ActiveDays int
	// BaselineDays is the trailing window for mean and standard deviation.
	BaselineDays int
	// MinBaselineDays is the minimum number of baseline points required.
	// Days with a shorter history, such as the first week of a new
	// dimension, are not evaluated.
	MinBaselineDays int
	// ZScoreThreshold flags a statistical outlier when |z| exceeds it.
	ZScoreThreshold float64
	// SpikeWindowDays is the trailing window of the sudden spike average.
	SpikeWindowDays int
	// SpikeRatio flags a sudden spike when actual exceeds ratio × window average.
	SpikeRatio float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		ActiveDays:      90,
		BaselineDays:    30,
		MinBaselineDays: 7,
		ZScoreThreshold: 2,
		SpikeWindowDays: 7,
		SpikeRatio:      1.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ActiveDays <= 0 {
		c.ActiveDays = d.ActiveDays
	}
	if c.BaselineDays <= 0 {
		c.BaselineDays = d.BaselineDays
	}
	if c.MinBaselineDays <= 0 {
		c.MinBaselineDays = d.MinBaselineDays
	}
	if c.ZScoreThreshold <= 0 {
		c.ZScoreThreshold = d.ZScoreThreshold
	}
	if c.SpikeWindowDays <= 0 {
		c.SpikeWindowDays = d.SpikeWindowDays
	}
	if c.SpikeRatio <= 0 {
		c.SpikeRatio = d.SpikeRatio
	}
	return c
}

// Detector evaluates daily aggregates. It never writes.
type Detector struct {
	store  storage.AggregationStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a detector. Zero config fields take their defaults.
func New(store storage.AggregationStore, cfg Config, logger *slog.Logger) *Detector {
	return &Detector{store: store, cfg: cfg.withDefaults(), logger: logger, now: time.Now}
}

// WithClock overrides the clock that defines "today".
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// DetectDaily evaluates the last daysBack days (today included) for every
// active dimension and returns unsaved anomalies.
func (d *Detector) DetectDaily(ctx context.Context, currency string, daysBack int) ([]model.CostAnomaly, error) {
	if daysBack < 1 {
		daysBack = 1
	}
	today := model.Day(d.now())
	activeSince := today.AddDate(0, 0, -d.cfg.ActiveDays).Format(model.DateLayout)

	dims, err := d.store.ActiveDimensions(ctx, currency, activeSince)
	if err != nil {
		return nil, fmt.Errorf("list active dimensions: %w", err)
	}

	firstDay := today.AddDate(0, 0, -(daysBack - 1))
	historyStart := firstDay.AddDate(0, 0, -d.cfg.BaselineDays)

	var anomalies []model.CostAnomaly
	for _, dim := range dims {
		aggs, err := d.store.ListAggregations(ctx, model.AggregationFilter{
			AggregationType: model.AggregationDaily,
			DimensionType:   dim.Type,
			DimensionValue:  dim.Value,
			Currency:        currency,
			From:            historyStart.Format(model.DateLayout),
			To:              today.Format(model.DateLayout),
		})
		if err != nil {
			return nil, fmt.Errorf("load %s/%s aggregates: %w", dim.Type, dim.Value, err)
		}

		series := make(map[string]float64, len(aggs))
		for _, a := range aggs {
			series[a.PeriodStart] = a.TotalCost
		}

		for day := firstDay; !day.After(today); day = day.AddDate(0, 0, 1) {
			if a, ok := d.evaluate(dim, currency, day, series); ok {
				anomalies = append(anomalies, a)
			}
		}
	}

	d.logger.Info("anomaly detection complete",
		"currency", currency,
		"dimensions", len(dims),
		"days_back", daysBack,
		"anomalies", len(anomalies),
	)
	return anomalies, nil
}

// evaluate applies both rules to one day. The statistical rule wins when
// both would fire.
func (d *Detector) evaluate(dim model.DimensionKey, currency string, day time.Time, series map[string]float64) (model.CostAnomaly, bool) {
	actual, ok := series[day.Format(model.DateLayout)]
	if !ok {
		return model.CostAnomaly{}, false
	}

	baseline := window(series, day, d.cfg.BaselineDays)
	if len(baseline) < d.cfg.MinBaselineDays {
		return model.CostAnomaly{}, false
	}
	mean, std := meanStd(baseline)

	// Rule 1 requires std > 0, with float noise treated as zero.
	if std > stdEpsilon*math.Max(1, math.Abs(mean)) {
		z := (actual - mean) / std
		if math.Abs(z) > d.cfg.ZScoreThreshold {
			a := newAnomaly(dim, currency, day, actual, mean, model.MethodStatistical)
			a.ZScore = z
			a.Description = describe(a, fmt.Sprintf("%d-day baseline (z-score %.2f)", d.cfg.BaselineDays, z))
			return a, true
		}
	}

	recent := window(series, day, d.cfg.SpikeWindowDays)
	if len(recent) == 0 {
		return model.CostAnomaly{}, false
	}
	avg, _ := meanStd(recent)
	if avg > 0 && actual > d.cfg.SpikeRatio*avg {
		a := newAnomaly(dim, currency, day, actual, avg, model.MethodSuddenSpike)
		a.Description = describe(a, fmt.Sprintf("%d-day average", d.cfg.SpikeWindowDays))
		return a, true
	}
	return model.CostAnomaly{}, false
}

func newAnomaly(dim model.DimensionKey, currency string, day time.Time, actual, expected float64, method string) model.CostAnomaly {
	deviation := 0.0
	if expected != 0 {
		deviation = (actual - expected) / expected * 100
	}
	return model.CostAnomaly{
		DetectedDate:     day.Format(model.DateLayout),
		DimensionType:    dim.Type,
		DimensionValue:   dim.Value,
		AnomalyType:      model.AnomalySpike,
		DetectionMethod:  method,
		Severity:         ClassifySeverity(deviation, actual-expected),
		ActualCost:       actual,
		ExpectedCost:     expected,
		DeviationPercent: deviation,
		Currency:         currency,
	}
}

func describe(a model.CostAnomaly, against string) string {
	direction := "increased"
	if a.ActualCost < a.ExpectedCost {
		direction = "decreased"
	}
	return fmt.Sprintf("%s %s cost %s by %.1f%% to %.2f %s against the %s of %.2f",
		a.DimensionType, a.DimensionValue, direction, math.Abs(a.DeviationPercent),
		a.ActualCost, a.Currency, against, a.ExpectedCost)
}

// window returns the values of the n days before day, excluding day.
func window(series map[string]float64, day time.Time, n int) []float64 {
	values := make([]float64, 0, n)
	for i := 1; i <= n; i++ {
		if v, ok := series[day.AddDate(0, 0, -i).Format(model.DateLayout)]; ok {
			values = append(values, v)
		}
	}
	return values
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

// ClassifySeverity grades an anomaly by relative deviation (percent) and
// absolute cost delta; whichever is larger decides.
func ClassifySeverity(deviationPercent, costDelta float64) model.Severity {
	dev := math.Abs(deviationPercent)
	delta := math.Abs(costDelta)
	switch {
	case dev > 300 || delta > 5000:
		return model.SeverityCritical
	case dev > 200 || delta > 2000:
		return model.SeverityHigh
	case dev > 150 || delta > 1000:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}
