package anomaly_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/finops-hub/pkg/anomaly"
	"github.com/ogulcanaydogan/finops-hub/pkg/model"
	"github.com/ogulcanaydogan/finops-hub/pkg/storage"
)

var today = time.Date(2024, 3, 31, 9, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// seed stores one overall daily aggregate per value, the last value on today.
func seed(t *testing.T, values []float64) *storage.SQLStore {
	t.Helper()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	first := model.Day(today).AddDate(0, 0, -(len(values) - 1))
	var aggs []model.CostAggregation
	for i, v := range values {
		day := first.AddDate(0, 0, i).Format(model.DateLayout)
		aggs = append(aggs, model.CostAggregation{
			AggregationType: model.AggregationDaily,
			DimensionType:   model.DimensionOverall,
			DimensionValue:  model.OverallValue,
			PeriodStart:     day,
			PeriodEnd:       day,
			Currency:        "EUR",
			TotalCost:       v,
		})
	}
	require.NoError(t, db.ReplaceAggregations(context.Background(), model.AggregationScope{
		AggregationType: model.AggregationDaily,
		Currency:        "EUR",
		From:            first.Format(model.DateLayout),
		To:              model.Day(today).Format(model.DateLayout),
	}, aggs))
	return db
}

func constant(n int, v float64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return values
}

func detector(db *storage.SQLStore) *anomaly.Detector {
	return anomaly.New(db, anomaly.DefaultConfig(), testLogger()).WithClock(func() time.Time { return today })
}

func TestDetectDaily_FlagsFiveFoldSpike(t *testing.T) {
	db := seed(t, append(constant(30, 100), 500))

	anomalies, err := detector(db).DetectDaily(context.Background(), "EUR", 7)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)

	a := anomalies[0]
	assert.Equal(t, "2024-03-31", a.DetectedDate)
	assert.Equal(t, model.DimensionOverall, a.DimensionType)
	assert.Equal(t, model.AnomalySpike, a.AnomalyType)
	assert.Contains(t, []model.Severity{model.SeverityCritical, model.SeverityHigh}, a.Severity)
	assert.InDelta(t, 400.0, a.DeviationPercent, 1e-6)
	assert.InDelta(t, 100.0, a.ExpectedCost, 1e-6)
	assert.Contains(t, a.Description, "increased")
}

func TestDetectDaily_ConstantSeriesHasNoAnomalies(t *testing.T) {
	db := seed(t, constant(40, 123.45))

	anomalies, err := detector(db).DetectDaily(context.Background(), "EUR", 7)
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestDetectDaily_StatisticalRuleWinsOverSpikeRule(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = 90
		if i%2 == 1 {
			values[i] = 110
		}
	}
	db := seed(t, append(values, 130))

	anomalies, err := detector(db).DetectDaily(context.Background(), "EUR", 1)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)

	a := anomalies[0]
	assert.Equal(t, model.MethodStatistical, a.DetectionMethod)
	assert.InDelta(t, 3.0, a.ZScore, 1e-6)
	assert.Equal(t, model.SeverityLow, a.Severity)
}

func TestDetectDaily_DropIsDescribedAsDecrease(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = 90
		if i%2 == 1 {
			values[i] = 110
		}
	}
	db := seed(t, append(values, 50))

	anomalies, err := detector(db).DetectDaily(context.Background(), "EUR", 1)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Less(t, anomalies[0].ZScore, 0.0)
	assert.Contains(t, anomalies[0].Description, "decreased")
}

func TestDetectDaily_SpikeRuleFiresWhenZScoreIsModerate(t *testing.T) {
	// Baseline mean 165, std-dev ~63.4: 100 has z ~ -1.02, but it doubles the
	// 7-day average of 50.
	values := append(constant(23, 200), constant(7, 50)...)
	db := seed(t, append(values, 100))

	anomalies, err := detector(db).DetectDaily(context.Background(), "EUR", 1)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)

	a := anomalies[0]
	assert.Equal(t, "2024-03-31", a.DetectedDate)
	assert.Equal(t, model.MethodSuddenSpike, a.DetectionMethod)
	assert.Equal(t, model.AnomalySpike, a.AnomalyType)
	assert.InDelta(t, 50.0, a.ExpectedCost, 1e-9)
	assert.InDelta(t, 100.0, a.DeviationPercent, 1e-9)
	assert.Equal(t, model.SeverityLow, a.Severity)
	assert.Contains(t, a.Description, "7-day average")
}

func TestDetectDaily_ModerateDeviationBelowSpikeRatio(t *testing.T) {
	values := append(constant(23, 200), constant(7, 50)...)
	db := seed(t, append(values, 70))

	anomalies, err := detector(db).DetectDaily(context.Background(), "EUR", 1)
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestDetectDaily_ShortBaselineIsNotEvaluated(t *testing.T) {
	db := seed(t, append(constant(5, 100), 1000))

	anomalies, err := detector(db).DetectDaily(context.Background(), "EUR", 1)
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		deviation float64
		delta     float64
		want      model.Severity
	}{
		{350, 6000, model.SeverityCritical},
		{120, 500, model.SeverityLow},
		{301, 0, model.SeverityCritical},
		{300, 0, model.SeverityHigh},
		{0, 5001, model.SeverityCritical},
		{0, 5000, model.SeverityHigh},
		{201, 0, model.SeverityHigh},
		{200, 0, model.SeverityMedium},
		{151, 0, model.SeverityMedium},
		{150, 1000, model.SeverityLow},
		{0, 1001, model.SeverityMedium},
		{-350, -10, model.SeverityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, anomaly.ClassifySeverity(tt.deviation, tt.delta),
			"deviation=%v delta=%v", tt.deviation, tt.delta)
	}
}
