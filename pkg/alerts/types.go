package alerts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

// Alert is a cost anomaly notification.
type Alert struct {
	Severity         model.Severity      `json:"severity"`
	DetectedDate     string              `json:"detected_date"`
	DimensionType    model.DimensionType `json:"dimension_type"`
	DimensionValue   string              `json:"dimension_value"`
	DetectionMethod  string              `json:"detection_method"`
	ActualCost       float64             `json:"actual_cost"`
	ExpectedCost     float64             `json:"expected_cost"`
	DeviationPercent float64             `json:"deviation_percent"`
	Currency         string              `json:"currency"`
	Message          string              `json:"message"`
}

// FromAnomaly builds the alert for a detected anomaly.
func FromAnomaly(a model.CostAnomaly) Alert {
	msg := a.Description
	if msg == "" {
		msg = fmt.Sprintf("%s %s cost %.2f %s on %s (expected %.2f, %+.1f%%)",
			a.DimensionType, a.DimensionValue, a.ActualCost, a.Currency, a.DetectedDate,
			a.ExpectedCost, a.DeviationPercent)
	}
	return Alert{
		Severity:         a.Severity,
		DetectedDate:     a.DetectedDate,
		DimensionType:    a.DimensionType,
		DimensionValue:   a.DimensionValue,
		DetectionMethod:  a.DetectionMethod,
		ActualCost:       a.ActualCost,
		ExpectedCost:     a.ExpectedCost,
		DeviationPercent: math.Round(a.DeviationPercent*10) / 10,
		Currency:         a.Currency,
		Message:          msg,
	}
}

// Key identifies the anomaly behind an alert: one per day and dimension.
func (a Alert) Key() string {
	sum := sha256.Sum256([]byte(a.DetectedDate + "\x00" + string(a.DimensionType) + "\x00" + a.DimensionValue))
	return hex.EncodeToString(sum[:16])
}

// Notifier sends alerts to external systems.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers an alert. Implementations must be safe for concurrent use.
	Send(ctx context.Context, alert Alert) error
}
