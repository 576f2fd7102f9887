package forecast_test

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/finops-hub/pkg/forecast"
	"github.com/ogulcanaydogan/finops-hub/pkg/model"
	"github.com/ogulcanaydogan/finops-hub/pkg/storage"
)

var today = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDB(t *testing.T) *storage.SQLStore {
	t.Helper()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedHistory stores daily aggregates for the n days before today; value
// receives the day offset from the first day.
func seedHistory(t *testing.T, db *storage.SQLStore, dim model.DimensionType, dimValue string, n int, value func(i int) float64) {
	t.Helper()
	first := model.Day(today).AddDate(0, 0, -n)
	var aggs []model.CostAggregation
	for i := 0; i < n; i++ {
		day := first.AddDate(0, 0, i).Format(model.DateLayout)
		aggs = append(aggs, model.CostAggregation{
			AggregationType: model.AggregationDaily,
			DimensionType:   dim,
			DimensionValue:  dimValue,
			PeriodStart:     day,
			PeriodEnd:       day,
			Currency:        "EUR",
			TotalCost:       value(i),
		})
	}
	// An empty scope prunes nothing, so earlier seeded dimensions survive.
	require.NoError(t, db.ReplaceAggregations(context.Background(), model.AggregationScope{
		AggregationType: model.AggregationDaily,
		Currency:        "EUR",
	}, aggs))
}

func forecaster(db *storage.SQLStore) *forecast.Forecaster {
	return forecast.New(db, forecast.Config{}, testLogger()).WithClock(func() time.Time { return today })
}

func TestForecast_InsufficientHistory(t *testing.T) {
	db := newTestDB(t)
	seedHistory(t, db, model.DimensionOverall, model.OverallValue, 29, func(int) float64 { return 10 })

	forecasts, err := forecaster(db).Forecast(context.Background(), model.DimensionOverall, model.OverallValue, 30, 90, "EUR")
	require.NoError(t, err)
	assert.Empty(t, forecasts)
}

func TestForecast_ConstantSeries(t *testing.T) {
	db := newTestDB(t)
	seedHistory(t, db, model.DimensionOverall, model.OverallValue, 45, func(int) float64 { return 50 })

	forecasts, err := forecaster(db).Forecast(context.Background(), model.DimensionOverall, model.OverallValue, 14, 90, "EUR")
	require.NoError(t, err)
	require.Len(t, forecasts, 14)

	assert.Equal(t, "2024-06-02", forecasts[0].ForecastDate)
	for _, f := range forecasts {
		assert.InDelta(t, 50.0, f.ForecastCost, 1e-6)
		assert.InDelta(t, 50.0, f.LowerBound, 1e-6)
		assert.InDelta(t, 50.0, f.UpperBound, 1e-6)
		assert.Equal(t, forecast.ModelType, f.ModelType)
		assert.Equal(t, forecast.ConfidenceLevel, f.ConfidenceLevel)
	}
	assert.InDelta(t, 0.0, forecasts[0].Metadata.Slope, 1e-9)
	assert.Equal(t, 45, forecasts[0].Metadata.SampleCount)
}

func TestForecast_LinearTrend(t *testing.T) {
	db := newTestDB(t)
	seedHistory(t, db, model.DimensionOverall, model.OverallValue, 63, func(i int) float64 { return 100 + 2*float64(i) })

	forecasts, err := forecaster(db).Forecast(context.Background(), model.DimensionOverall, model.OverallValue, 7, 63, "EUR")
	require.NoError(t, err)
	require.Len(t, forecasts, 7)

	meta := forecasts[0].Metadata
	assert.InDelta(t, 2.0, meta.Slope, 1e-6)
	assert.InDelta(t, 100.0, meta.Intercept, 1e-6)
	assert.InDelta(t, 1.0, meta.RSquared, 1e-9)

	// 63 days cover every weekday nine times, so the weekly factors stay close to 1.
	for _, f := range forecasts {
		assert.GreaterOrEqual(t, f.UpperBound, f.ForecastCost)
		assert.LessOrEqual(t, f.LowerBound, f.ForecastCost)
	}
	assert.InDelta(t, 100+2*64.0, forecasts[0].ForecastCost, 10)
}

func TestForecast_WeeklySeasonalityAndBand(t *testing.T) {
	db := newTestDB(t)
	first := model.Day(today).AddDate(0, 0, -63)
	seedHistory(t, db, model.DimensionOverall, model.OverallValue, 63, func(i int) float64 {
		switch first.AddDate(0, 0, i).Weekday() {
		case time.Saturday, time.Sunday:
			return 50
		default:
			return 100
		}
	})

	forecasts, err := forecaster(db).Forecast(context.Background(), model.DimensionOverall, model.OverallValue, 7, 63, "EUR")
	require.NoError(t, err)
	require.Len(t, forecasts, 7)

	// Nine full weeks: weekday mean 100, weekend mean 50, overall mean 600/7.
	meta := forecasts[0].Metadata
	assert.InDelta(t, 7.0/6, meta.Seasonality[time.Monday], 1e-9)
	assert.InDelta(t, 7.0/6, meta.Seasonality[time.Friday], 1e-9)
	assert.InDelta(t, 7.0/12, meta.Seasonality[time.Saturday], 1e-9)
	assert.InDelta(t, 7.0/12, meta.Seasonality[time.Sunday], 1e-9)
	assert.Greater(t, meta.ResidualStdError, 0.0)

	trainStart, err := time.Parse(model.DateLayout, meta.TrainingStart)
	require.NoError(t, err)
	assert.True(t, first.Equal(trainStart))

	band := 1.96 * meta.ResidualStdError
	for _, f := range forecasts {
		d, err := time.Parse(model.DateLayout, f.ForecastDate)
		require.NoError(t, err)
		x := math.Round(d.Sub(trainStart).Hours() / 24)
		want := (meta.Slope*x + meta.Intercept) * meta.Seasonality[d.Weekday()]

		assert.InDelta(t, want, f.ForecastCost, 1e-9, f.ForecastDate)
		assert.InDelta(t, band, f.UpperBound-f.ForecastCost, 1e-9, f.ForecastDate)
		assert.InDelta(t, math.Max(0, f.ForecastCost-band), f.LowerBound, 1e-9, f.ForecastDate)
	}

	// 2024-06-02 is a Sunday and 2024-06-03 a Monday.
	assert.Equal(t, time.Sunday, model.Day(today).AddDate(0, 0, 1).Weekday())
	assert.InDelta(t, 0.5, forecasts[0].ForecastCost/forecasts[1].ForecastCost, 0.01)
}

func TestForecast_NeverNegative(t *testing.T) {
	db := newTestDB(t)
	seedHistory(t, db, model.DimensionService, "Compute", 40, func(i int) float64 {
		v := 200 - 5*float64(i)
		if i%3 == 0 {
			v += 15
		}
		return v
	})

	forecasts, err := forecaster(db).Forecast(context.Background(), model.DimensionService, "Compute", 60, 90, "EUR")
	require.NoError(t, err)
	require.Len(t, forecasts, 60)
	for _, f := range forecasts {
		assert.GreaterOrEqual(t, f.ForecastCost, 0.0)
		assert.GreaterOrEqual(t, f.LowerBound, 0.0)
	}
	assert.Equal(t, 0.0, forecasts[len(forecasts)-1].ForecastCost)
}

func TestForecastActive_SkipsOtherDimensions(t *testing.T) {
	db := newTestDB(t)
	flat := func(int) float64 { return 10 }
	seedHistory(t, db, model.DimensionOverall, model.OverallValue, 35, flat)
	seedHistory(t, db, model.DimensionService, "Compute", 35, flat)
	seedHistory(t, db, model.DimensionRegion, "westeurope", 35, flat)
	seedHistory(t, db, model.DimensionSubscription, "sub-new", 5, flat)

	forecasts, err := forecaster(db).ForecastActive(context.Background(), "EUR", 3, 90)
	require.NoError(t, err)
	assert.Len(t, forecasts, 6)
	for _, f := range forecasts {
		assert.NotEqual(t, model.DimensionRegion, f.DimensionType)
	}
}
