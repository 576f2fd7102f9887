package alerts

import (
	"context"
	"log/slog"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

// DispatchResult counts notification outcomes.
type DispatchResult struct {
	Sent    int
	Failed  int
	Skipped int
}

// Dispatcher fans anomalies out to every notifier.
type Dispatcher struct {
	notifiers   []Notifier
	minSeverity model.Severity
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher that only forwards anomalies at or above
// minSeverity. An empty minSeverity defaults to high.
func NewDispatcher(notifiers []Notifier, minSeverity model.Severity, logger *slog.Logger) *Dispatcher {
	if minSeverity == "" {
		minSeverity = model.SeverityHigh
	}
	return &Dispatcher{notifiers: notifiers, minSeverity: minSeverity, logger: logger}
}

// Notify sends one alert per qualifying anomaly to every notifier. Delivery
// failures are logged and counted; they never abort the remaining sends.
func (d *Dispatcher) Notify(ctx context.Context, anomalies []model.CostAnomaly) DispatchResult {
	var res DispatchResult
	for _, a := range anomalies {
		if a.Severity.Rank() < d.minSeverity.Rank() {
			res.Skipped++
			continue
		}
		alert := FromAnomaly(a)

		d.logger.Warn("cost anomaly detected",
			"severity", a.Severity,
			"date", a.DetectedDate,
			"dimension_type", a.DimensionType,
			"dimension_value", a.DimensionValue,
			"actual", a.ActualCost,
			"expected", a.ExpectedCost,
		)

		for _, notifier := range d.notifiers {
			if err := notifier.Send(ctx, alert); err != nil {
				d.logger.Error("send alert failed",
					"notifier", notifier.Name(),
					"dimension_value", a.DimensionValue,
					"error", err,
				)
				res.Failed++
				continue
			}
			res.Sent++
		}
	}
	return res
}
