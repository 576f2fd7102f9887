package storage_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
	"github.com/ogulcanaydogan/finops-hub/pkg/storage"
)

func newTestDB(t *testing.T) *storage.SQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newExport(t *testing.T, db *storage.SQLStore, path string) *model.CostExport {
	t.Helper()
	export := &model.CostExport{
		BlobPath:       path,
		SubscriptionID: "sub-1",
		ExportName:     "daily",
		Status:         model.ExportProcessing,
	}
	require.NoError(t, db.CreateExport(context.Background(), export))
	return export
}

func record(exportID, hash, day, service, category string, cost float64) model.CostRecord {
	start, _ := time.Parse(model.DateLayout, day)
	return model.CostRecord{
		ExportID:          exportID,
		BilledCost:        cost,
		BillingCurrency:   "EUR",
		ChargePeriodStart: start,
		ChargePeriodEnd:   start.AddDate(0, 0, 1),
		ChargeDate:        day,
		ChargeMonth:       day[:7],
		SubAccountID:      "sub-1",
		ResourceID:        "/subscriptions/sub-1/vm-1",
		ResourceGroup:     "rg-app",
		RegionName:        "westeurope",
		ServiceName:       service,
		ChargeCategory:    category,
		RecordHash:        hash,
	}
}

func TestSQLStore_CreateAndGetExport(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	export := newExport(t, db, "subscriptions/sub-1/daily/20240101-20240131/guid/part_0_0001.csv")
	assert.NotEmpty(t, export.ID)
	assert.False(t, export.CreatedAt.IsZero())

	got, err := db.GetExport(ctx, export.ID)
	require.NoError(t, err)
	assert.Equal(t, export.BlobPath, got.BlobPath)
	assert.Equal(t, model.ExportProcessing, got.Status)
	assert.Nil(t, got.CompletedAt)

	_, err = db.GetExport(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLStore_UpdateExport(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	export := newExport(t, db, "a.csv")
	now := time.Now().UTC()
	export.Status = model.ExportCompleted
	export.RecordsImported = 10
	export.DuplicatesSkipped = 2
	export.BlobETag = "0x8D"
	export.BlobLastModified = now
	export.CompletedAt = &now
	require.NoError(t, db.UpdateExport(ctx, export))

	got, err := db.LatestExportForPath(ctx, "a.csv")
	require.NoError(t, err)
	assert.Equal(t, model.ExportCompleted, got.Status)
	assert.Equal(t, int64(10), got.RecordsImported)
	assert.Equal(t, int64(2), got.DuplicatesSkipped)
	assert.Equal(t, "0x8D", got.BlobETag)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, now, *got.CompletedAt, time.Second)

	err = db.UpdateExport(ctx, &model.CostExport{ID: "missing", Status: model.ExportFailed})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLStore_InsertRecordsIgnoresHashConflicts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	export := newExport(t, db, "a.csv")

	n, err := db.InsertRecords(ctx, []model.CostRecord{
		record(export.ID, "h1", "2024-01-01", "Compute", model.ChargeUsage, 1),
		record(export.ID, "h2", "2024-01-01", "Storage", model.ChargeUsage, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = db.InsertRecords(ctx, []model.CostRecord{
		record(export.ID, "h2", "2024-01-01", "Storage", model.ChargeUsage, 2),
		record(export.ID, "h3", "2024-01-02", "Storage", model.ChargeUsage, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	existing, err := db.ExistingHashes(ctx, []string{"h1", "h3", "h9"})
	require.NoError(t, err)
	assert.Len(t, existing, 2)
	assert.Contains(t, existing, "h1")
	assert.NotContains(t, existing, "h9")

	count, err := db.CountRecords(ctx, model.RecordFilter{ExportID: export.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestSQLStore_QueryRecords(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	export := newExport(t, db, "a.csv")

	_, err := db.InsertRecords(ctx, []model.CostRecord{
		record(export.ID, "h1", "2024-01-01", "Compute", model.ChargeUsage, 1),
		record(export.ID, "h2", "2024-01-05", "Compute", model.ChargeUsage, 2),
	})
	require.NoError(t, err)

	records, err := db.QueryRecords(ctx, model.RecordFilter{FromDate: "2024-01-02", Currency: "EUR"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "h2", records[0].RecordHash)
	assert.Equal(t, "2024-01", records[0].ChargeMonth)
	assert.Equal(t, "{}", records[0].Tags)
	assert.True(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC).Equal(records[0].ChargePeriodStart))
}

func TestSQLStore_SupersedeExport(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	export := newExport(t, db, "a.csv")

	_, err := db.InsertRecords(ctx, []model.CostRecord{
		record(export.ID, "h1", "2024-01-01", "Compute", model.ChargeUsage, 1),
		record(export.ID, "h2", "2024-01-02", "Compute", model.ChargeUsage, 1),
	})
	require.NoError(t, err)

	deleted, err := db.SupersedeExport(ctx, export.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	got, err := db.GetExport(ctx, export.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExportSuperseded, got.Status)

	superseded, err := db.ListExports(ctx, model.ExportFilter{Status: model.ExportSuperseded})
	require.NoError(t, err)
	assert.Len(t, superseded, 1)
}

func TestSQLStore_SumCosts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	export := newExport(t, db, "a.csv")

	_, err := db.InsertRecords(ctx, []model.CostRecord{
		record(export.ID, "h1", "2024-01-01", "Compute", model.ChargeUsage, 10),
		record(export.ID, "h2", "2024-01-01", "Storage", model.ChargeUsage, 5),
		record(export.ID, "h3", "2024-01-01", "Compute", model.ChargeTax, 1),
		record(export.ID, "h4", "2024-01-02", "Compute", model.ChargePurchase, 100),
	})
	require.NoError(t, err)

	overall, err := db.SumCosts(ctx, model.CostQuery{
		Currency: "EUR", Granularity: model.GranularityDay, Dimension: model.DimensionOverall,
	})
	require.NoError(t, err)
	require.Len(t, overall, 2)
	assert.Equal(t, "2024-01-01", overall[0].Period)
	assert.Equal(t, model.OverallValue, overall[0].DimensionValue)
	assert.InDelta(t, 16.0, overall[0].TotalCost, 1e-9)
	assert.InDelta(t, 15.0, overall[0].UsageCost, 1e-9)
	assert.InDelta(t, 1.0, overall[0].TaxCost, 1e-9)
	assert.Equal(t, int64(3), overall[0].RecordCount)
	assert.InDelta(t, 100.0, overall[1].PurchaseCost, 1e-9)

	byService, err := db.SumCosts(ctx, model.CostQuery{
		Currency: "EUR", Granularity: model.GranularityMonth, Dimension: model.DimensionService,
	})
	require.NoError(t, err)
	require.Len(t, byService, 2)
	assert.Equal(t, "Compute", byService[0].DimensionValue)
	assert.InDelta(t, 111.0, byService[0].TotalCost, 1e-9)

	_, err = db.SumCosts(ctx, model.CostQuery{Dimension: "tenant"})
	assert.Error(t, err)
}

func TestSQLStore_SumCostsLabelsEmptyValues(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	export := newExport(t, db, "a.csv")

	blank := record(export.ID, "h1", "2024-01-01", "Compute", model.ChargeUsage, 10)
	blank.ResourceGroup = ""
	literal := record(export.ID, "h2", "2024-01-01", "Compute", model.ChargeUsage, 4)
	literal.ResourceGroup = model.UnknownValue
	_, err := db.InsertRecords(ctx, []model.CostRecord{blank, literal})
	require.NoError(t, err)

	groups, err := db.SumCosts(ctx, model.CostQuery{
		Currency: "EUR", Granularity: model.GranularityDay, Dimension: model.DimensionResourceGroup,
	})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, model.UnknownValue, groups[0].DimensionValue)
	assert.InDelta(t, 14.0, groups[0].TotalCost, 1e-9)
	assert.Equal(t, int64(2), groups[0].RecordCount)
}

func TestSQLStore_ReplaceAggregationsPrunesStaleRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	scope := model.AggregationScope{
		AggregationType: model.AggregationDaily, Currency: "EUR", From: "2024-01-01", To: "2024-01-31",
	}
	agg := func(dim model.DimensionType, value, day string, total float64) model.CostAggregation {
		return model.CostAggregation{
			AggregationType: model.AggregationDaily, DimensionType: dim, DimensionValue: value,
			PeriodStart: day, PeriodEnd: day, Currency: "EUR", TotalCost: total, RecordCount: 1,
			TopServices: []model.RankedCost{{Name: "Compute", Cost: total}},
		}
	}

	require.NoError(t, db.ReplaceAggregations(ctx, scope, []model.CostAggregation{
		agg(model.DimensionOverall, model.OverallValue, "2024-01-01", 10),
		agg(model.DimensionService, "Compute", "2024-01-01", 10),
	}))
	require.NoError(t, db.ReplaceAggregations(ctx, scope, []model.CostAggregation{
		agg(model.DimensionOverall, model.OverallValue, "2024-01-01", 12),
	}))

	aggs, err := db.ListAggregations(ctx, model.AggregationFilter{AggregationType: model.AggregationDaily, Currency: "EUR"})
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.InDelta(t, 12.0, aggs[0].TotalCost, 1e-9)
	assert.Equal(t, []model.RankedCost{{Name: "Compute", Cost: 12}}, aggs[0].TopServices)

	dims, err := db.ActiveDimensions(ctx, "EUR", "2023-12-01")
	require.NoError(t, err)
	assert.Equal(t, []model.DimensionKey{{Type: model.DimensionOverall, Value: model.OverallValue}}, dims)
}

func TestSQLStore_Breakdown(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var aggs []model.CostAggregation
	for i, svc := range []string{"Compute", "Storage", "Compute"} {
		day := fmt.Sprintf("2024-01-0%d", i+1)
		aggs = append(aggs, model.CostAggregation{
			AggregationType: model.AggregationDaily, DimensionType: model.DimensionService, DimensionValue: svc,
			PeriodStart: day, PeriodEnd: day, Currency: "EUR", TotalCost: 25,
		})
	}
	require.NoError(t, db.ReplaceAggregations(ctx, model.AggregationScope{
		AggregationType: model.AggregationDaily, Currency: "EUR", From: "2024-01-01", To: "2024-01-31",
	}, aggs))

	items, err := db.Breakdown(ctx, model.DimensionService, "EUR", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Compute", items[0].DimensionValue)
	assert.InDelta(t, 50.0, items[0].TotalCost, 1e-9)
	assert.InDelta(t, 66.666, items[0].Percentage, 0.01)
}

func TestSQLStore_InsertAnomaliesIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	anomalies := []model.CostAnomaly{
		{DetectedDate: "2024-01-10", DimensionType: model.DimensionOverall, DimensionValue: model.OverallValue,
			AnomalyType: model.AnomalySpike, DetectionMethod: model.MethodStatistical, Severity: model.SeverityHigh,
			ActualCost: 50, ExpectedCost: 10, DeviationPercent: 400, Currency: "EUR"},
		{DetectedDate: "2024-01-10", DimensionType: model.DimensionService, DimensionValue: "Compute",
			AnomalyType: model.AnomalySpike, DetectionMethod: model.MethodSuddenSpike, Severity: model.SeverityLow,
			ActualCost: 12, ExpectedCost: 10, DeviationPercent: 20, Currency: "EUR"},
	}

	n, err := db.InsertAnomalies(ctx, anomalies)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = db.InsertAnomalies(ctx, anomalies)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	all, err := db.ListAnomalies(ctx, model.AnomalyFilter{Currency: "EUR"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.SeverityHigh, all[0].Severity)

	high, err := db.ListAnomalies(ctx, model.AnomalyFilter{MinSeverity: model.SeverityMedium})
	require.NoError(t, err)
	assert.Len(t, high, 1)
}

func TestSQLStore_UpsertForecasts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	forecast := model.CostForecast{
		ForecastDate: "2024-02-01", DimensionType: model.DimensionOverall, DimensionValue: model.OverallValue,
		Currency: "EUR", ForecastCost: 10, LowerBound: 8, UpperBound: 12, ConfidenceLevel: 0.95,
		ModelType: "linear_regression_seasonal", TrainingDays: 90,
		Metadata: model.ForecastMetadata{RSquared: 0.9, SampleCount: 60},
	}
	require.NoError(t, db.UpsertForecasts(ctx, []model.CostForecast{forecast}))

	forecast.ForecastCost = 11
	require.NoError(t, db.UpsertForecasts(ctx, []model.CostForecast{forecast}))

	got, err := db.ListForecasts(ctx, model.ForecastFilter{DimensionType: model.DimensionOverall})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 11.0, got[0].ForecastCost, 1e-9)
	assert.Equal(t, 60, got[0].Metadata.SampleCount)
}

func TestSQLStore_ReservationManualWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	manual := &model.ReservationCost{
		ReservationID: "ri-1", BillingPeriod: "2024-01", Currency: "EUR",
		AmortizedMonthly: 300, TermMonths: 12, Source: model.ReservationManual,
	}
	require.NoError(t, db.UpsertReservationCost(ctx, manual))

	derived := &model.ReservationCost{
		ReservationID: "ri-1", BillingPeriod: "2024-01", Currency: "EUR",
		PurchaseCost: 1200, AmortizedMonthly: 100, TermMonths: 12, Source: model.ReservationDerived,
	}
	require.NoError(t, db.UpsertReservationCost(ctx, derived))

	costs, err := db.ListReservationCosts(ctx, "2024-01")
	require.NoError(t, err)
	require.Len(t, costs, 1)
	assert.Equal(t, model.ReservationManual, costs[0].Source)
	assert.InDelta(t, 300.0, costs[0].AmortizedMonthly, 1e-9)
}

func TestSQLStore_ReservationSourcePrecedence(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		next   string
		want   string
	}{
		{"derived replaces derived", model.ReservationDerived, model.ReservationDerived, model.ReservationDerived},
		{"override replaces derived", model.ReservationDerived, model.ReservationOverride, model.ReservationOverride},
		{"derived keeps override", model.ReservationOverride, model.ReservationDerived, model.ReservationOverride},
		{"override replaces override", model.ReservationOverride, model.ReservationOverride, model.ReservationOverride},
		{"override keeps manual", model.ReservationManual, model.ReservationOverride, model.ReservationManual},
		{"manual replaces override", model.ReservationOverride, model.ReservationManual, model.ReservationManual},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			ctx := context.Background()
			require.NoError(t, db.UpsertReservationCost(ctx, &model.ReservationCost{
				ReservationID: "ri-1", BillingPeriod: "2024-01", Currency: "EUR",
				AmortizedMonthly: 1, TermMonths: 12, Source: tt.stored,
			}))
			require.NoError(t, db.UpsertReservationCost(ctx, &model.ReservationCost{
				ReservationID: "ri-1", BillingPeriod: "2024-01", Currency: "EUR",
				AmortizedMonthly: 2, TermMonths: 12, Source: tt.next,
			}))

			costs, err := db.ListReservationCosts(ctx, "2024-01")
			require.NoError(t, err)
			require.Len(t, costs, 1)
			assert.Equal(t, tt.want, costs[0].Source)
		})
	}
}

func TestSQLStore_FindAndDeleteDuplicates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	older := newExport(t, db, "old.csv")
	newer := newExport(t, db, "new.csv")

	_, err := db.InsertRecords(ctx, []model.CostRecord{
		record(older.ID, "h-old", "2024-01-01", "Compute", model.ChargeUsage, 10),
		record(newer.ID, "h-new", "2024-01-01", "Compute", model.ChargeUsage, 11),
		record(newer.ID, "h-other", "2024-01-02", "Compute", model.ChargeUsage, 5),
	})
	require.NoError(t, err)

	groups, err := db.FindDuplicateGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].RecordIDs, 2)
	assert.Equal(t, newer.ID, groups[0].ExportIDs[0])
	assert.InDelta(t, 21.0, groups[0].TotalBilledCost, 1e-9)

	n, err := db.DeleteRecords(ctx, groups[0].RecordIDs[1:])
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	groups, err = db.FindDuplicateGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestSQLStore_ReservationPurchases(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	export := newExport(t, db, "a.csv")

	purchase := record(export.ID, "p1", "2024-01-01", "Virtual Machines", model.ChargePurchase, 1200)
	purchase.CommitmentDiscountID = "ri-1"
	purchase.CommitmentDiscountType = "Reservation"
	usage := record(export.ID, "u1", "2024-01-01", "Virtual Machines", model.ChargeUsage, 3)
	usage.CommitmentDiscountID = "ri-1"

	_, err := db.InsertRecords(ctx, []model.CostRecord{purchase, usage})
	require.NoError(t, err)

	purchases, err := db.ReservationPurchases(ctx, "2024-01", "EUR")
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, "ri-1", purchases[0].ReservationID)
	assert.Equal(t, "Reservation", purchases[0].ReservationType)
	assert.InDelta(t, 1200.0, purchases[0].PurchaseCost, 1e-9)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := storage.Open("mysql", "", "")
	assert.Error(t, err)

	_, err = storage.Open("postgres", "", "")
	assert.Error(t, err)
}
