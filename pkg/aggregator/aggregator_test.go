package aggregator_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/finops-hub/pkg/aggregator"
	"github.com/ogulcanaydogan/finops-hub/pkg/model"
	"github.com/ogulcanaydogan/finops-hub/pkg/storage"
)

var now = time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setup(t *testing.T) (*storage.SQLStore, string) {
	t.Helper()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	export := &model.CostExport{BlobPath: "test.csv", Status: model.ExportCompleted}
	require.NoError(t, db.CreateExport(context.Background(), export))
	return db, export.ID
}

type rec struct {
	day, sub, service, rg, resource, category, currency string
	cost                                                float64
}

func insert(t *testing.T, db *storage.SQLStore, exportID string, recs ...rec) {
	t.Helper()
	var records []model.CostRecord
	for i, r := range recs {
		start, err := time.Parse(model.DateLayout, r.day)
		require.NoError(t, err)
		if r.currency == "" {
			r.currency = "EUR"
		}
		if r.category == "" {
			r.category = model.ChargeUsage
		}
		records = append(records, model.CostRecord{
			ExportID:          exportID,
			BilledCost:        r.cost,
			BillingCurrency:   r.currency,
			ChargePeriodStart: start,
			ChargePeriodEnd:   start.AddDate(0, 0, 1),
			ChargeDate:        r.day,
			ChargeMonth:       r.day[:7],
			SubAccountID:      r.sub,
			ResourceGroup:     r.rg,
			ResourceID:        r.resource,
			RegionName:        "westeurope",
			ServiceName:       r.service,
			ChargeCategory:    r.category,
			RecordHash:        fmt.Sprintf("%s-%d-%s-%f", exportID, i, r.day, r.cost),
		})
	}
	_, err := db.InsertRecords(context.Background(), records)
	require.NoError(t, err)
}

func find(aggs []model.CostAggregation, dim model.DimensionType, value, period string) *model.CostAggregation {
	for i := range aggs {
		if aggs[i].DimensionType == dim && aggs[i].DimensionValue == value && aggs[i].PeriodStart == period {
			return &aggs[i]
		}
	}
	return nil
}

func TestRun_TotalsMatchRecords(t *testing.T) {
	db, exportID := setup(t)
	ctx := context.Background()

	insert(t, db, exportID,
		rec{day: "2024-02-01", sub: "sub-a", service: "Compute", rg: "rg-1", resource: "vm-1", cost: 10},
		rec{day: "2024-02-01", sub: "sub-a", service: "Storage", rg: "rg-1", resource: "disk-1", cost: 4},
		rec{day: "2024-02-01", sub: "sub-b", service: "Compute", rg: "rg-2", resource: "vm-2", cost: 6},
		rec{day: "2024-02-01", sub: "sub-b", service: "Compute", rg: "", resource: "vm-2", category: model.ChargeTax, cost: 1},
		rec{day: "2024-02-02", sub: "sub-a", service: "Compute", rg: "rg-1", resource: "vm-1", category: model.ChargePurchase, cost: 100},
		rec{day: "2024-01-20", sub: "sub-a", service: "Compute", rg: "rg-1", resource: "vm-1", cost: 3},
		rec{day: "2024-02-01", sub: "sub-a", service: "Compute", rg: "rg-1", resource: "vm-1", currency: "USD", cost: 99},
	)

	agg := aggregator.New(db, aggregator.Config{TopN: 1}, testLogger()).WithClock(func() time.Time { return now })
	result, err := agg.Run(ctx, "EUR", 30)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-12", result.From)
	assert.Equal(t, "2024-02-10", result.To)

	daily, err := db.ListAggregations(ctx, model.AggregationFilter{AggregationType: model.AggregationDaily, Currency: "EUR"})
	require.NoError(t, err)

	overall := find(daily, model.DimensionOverall, model.OverallValue, "2024-02-01")
	require.NotNil(t, overall)
	assert.InDelta(t, 21.0, overall.TotalCost, 1e-9)
	assert.InDelta(t, 20.0, overall.UsageCost, 1e-9)
	assert.InDelta(t, 1.0, overall.TaxCost, 1e-9)
	assert.Equal(t, int64(4), overall.RecordCount)
	assert.Equal(t, []model.RankedCost{{Name: "Compute", Cost: 17}}, overall.TopServices)

	subA := find(daily, model.DimensionSubscription, "sub-a", "2024-02-01")
	require.NotNil(t, subA)
	assert.InDelta(t, 14.0, subA.TotalCost, 1e-9)

	unknownRG := find(daily, model.DimensionResourceGroup, aggregator.UnknownValue, "2024-02-01")
	require.NotNil(t, unknownRG)
	assert.InDelta(t, 1.0, unknownRG.TotalCost, 1e-9)

	purchase := find(daily, model.DimensionService, "Compute", "2024-02-02")
	require.NotNil(t, purchase)
	assert.InDelta(t, 100.0, purchase.PurchaseCost, 1e-9)

	monthly, err := db.ListAggregations(ctx, model.AggregationFilter{AggregationType: model.AggregationMonthly, Currency: "EUR"})
	require.NoError(t, err)
	feb := find(monthly, model.DimensionOverall, model.OverallValue, "2024-02-01")
	require.NotNil(t, feb)
	assert.Equal(t, "2024-02-29", feb.PeriodEnd)
	assert.InDelta(t, 121.0, feb.TotalCost, 1e-9)
	jan := find(monthly, model.DimensionOverall, model.OverallValue, "2024-01-01")
	require.NotNil(t, jan)
	assert.InDelta(t, 3.0, jan.TotalCost, 1e-9)
}

func TestRun_IsIdempotentAndPrunes(t *testing.T) {
	db, exportID := setup(t)
	ctx := context.Background()

	insert(t, db, exportID,
		rec{day: "2024-02-05", sub: "sub-a", service: "Compute", rg: "rg-1", resource: "vm-1", cost: 10},
		rec{day: "2024-02-06", sub: "sub-a", service: "Compute", rg: "rg-1", resource: "vm-1", cost: 5},
	)

	agg := aggregator.New(db, aggregator.Config{}, testLogger()).WithClock(func() time.Time { return now })
	first, err := agg.Run(ctx, "EUR", 0)
	require.NoError(t, err)
	before, err := db.ListAggregations(ctx, model.AggregationFilter{Currency: "EUR"})
	require.NoError(t, err)

	second, err := agg.Run(ctx, "EUR", 0)
	require.NoError(t, err)
	after, err := db.ListAggregations(ctx, model.AggregationFilter{Currency: "EUR"})
	require.NoError(t, err)

	assert.Equal(t, first.Daily, second.Daily)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].DimensionValue, after[i].DimensionValue)
		assert.InDelta(t, before[i].TotalCost, after[i].TotalCost, 1e-9)
	}

	// Remove the backing records and re-run: their aggregates disappear.
	_, err = db.DeleteExportRecords(ctx, exportID)
	require.NoError(t, err)
	_, err = agg.Run(ctx, "EUR", 0)
	require.NoError(t, err)

	remaining, err := db.ListAggregations(ctx, model.AggregationFilter{Currency: "EUR"})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRun_EmptyAndUnknownValuesShareOneAggregate(t *testing.T) {
	db, exportID := setup(t)
	ctx := context.Background()

	insert(t, db, exportID,
		rec{day: "2024-02-01", sub: "sub-a", service: "Compute", rg: "", resource: "vm-1", cost: 10},
		rec{day: "2024-02-01", sub: "sub-a", service: "Compute", rg: "unknown", resource: "", cost: 4},
	)

	agg := aggregator.New(db, aggregator.Config{}, testLogger()).WithClock(func() time.Time { return now })
	_, err := agg.Run(ctx, "EUR", 30)
	require.NoError(t, err)

	daily, err := db.ListAggregations(ctx, model.AggregationFilter{
		AggregationType: model.AggregationDaily,
		DimensionType:   model.DimensionResourceGroup,
		Currency:        "EUR",
	})
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, aggregator.UnknownValue, daily[0].DimensionValue)
	assert.InDelta(t, 14.0, daily[0].TotalCost, 1e-9)
	assert.Equal(t, int64(2), daily[0].RecordCount)
	assert.Equal(t, []model.RankedCost{
		{Name: "vm-1", Cost: 10},
		{Name: aggregator.UnknownValue, Cost: 4},
	}, daily[0].TopResources)
}
