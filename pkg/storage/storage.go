package storage

import (
	"context"
	"errors"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines the persistence layer for the cost pipeline.
type Storage interface {
	ExportStore
	RecordStore
	AggregationStore
	AnomalyStore
	ForecastStore
	ReservationStore

	// Close releases resources.
	Close() error
}

// ExportStore persists cost export bookkeeping.
type ExportStore interface {
	// CreateExport inserts a new export, assigning an ID if empty.
	CreateExport(ctx context.Context, export *model.CostExport) error

	// UpdateExport persists status, counters and blob metadata of an export.
	UpdateExport(ctx context.Context, export *model.CostExport) error

	// GetExport returns an export by ID.
	GetExport(ctx context.Context, id string) (*model.CostExport, error)

	// LatestExportForPath returns the most recently created export for a blob path.
	LatestExportForPath(ctx context.Context, blobPath string) (*model.CostExport, error)

	// ListExports returns exports matching the filter, newest first.
	ListExports(ctx context.Context, filter model.ExportFilter) ([]model.CostExport, error)

	// SupersedeExport deletes the export's records and marks it superseded.
	SupersedeExport(ctx context.Context, id string) (int64, error)

	// DeleteExportRecords removes all records owned by an export.
	DeleteExportRecords(ctx context.Context, id string) (int64, error)
}

// RecordStore persists cost line items.
type RecordStore interface {
	// ExistingHashes returns the subset of hashes already stored.
	ExistingHashes(ctx context.Context, hashes []string) (map[string]struct{}, error)

	// InsertRecords inserts records, ignoring hash conflicts. Returns rows inserted.
	InsertRecords(ctx context.Context, records []model.CostRecord) (int64, error)

	// QueryRecords returns records matching the filter.
	QueryRecords(ctx context.Context, filter model.RecordFilter) ([]model.CostRecord, error)

	// CountRecords counts records matching the filter.
	CountRecords(ctx context.Context, filter model.RecordFilter) (int64, error)

	// SumCosts sums billed cost grouped by period and dimension. Empty
	// dimension and breakdown values are reported as model.UnknownValue.
	SumCosts(ctx context.Context, q model.CostQuery) ([]model.CostGroup, error)

	// FindDuplicateGroups finds records sharing a logical charge identity.
	FindDuplicateGroups(ctx context.Context) ([]model.DuplicateGroup, error)

	// DeleteRecords removes records by ID.
	DeleteRecords(ctx context.Context, ids []int64) (int64, error)

	// ReservationPurchases sums purchase records per commitment discount for a month.
	ReservationPurchases(ctx context.Context, month, currency string) ([]model.ReservationPurchase, error)
}

// AggregationStore persists pre-computed rollups.
type AggregationStore interface {
	// ReplaceAggregations upserts aggregations and prunes rows in scope that were not produced.
	ReplaceAggregations(ctx context.Context, scope model.AggregationScope, aggs []model.CostAggregation) error

	// ListAggregations returns aggregations ordered by period.
	ListAggregations(ctx context.Context, filter model.AggregationFilter) ([]model.CostAggregation, error)

	// ActiveDimensions returns dimensions with daily aggregates on or after since.
	ActiveDimensions(ctx context.Context, currency, since string) ([]model.DimensionKey, error)

	// Breakdown sums daily aggregates per dimension value over a date range.
	Breakdown(ctx context.Context, dimension model.DimensionType, currency, from, to string) ([]model.BreakdownItem, error)
}

// AnomalyStore persists detection results.
type AnomalyStore interface {
	// InsertAnomalies inserts anomalies, ignoring key conflicts. Returns rows inserted.
	InsertAnomalies(ctx context.Context, anomalies []model.CostAnomaly) (int64, error)

	// ListAnomalies returns anomalies, most recent and most severe first.
	ListAnomalies(ctx context.Context, filter model.AnomalyFilter) ([]model.CostAnomaly, error)
}

// ForecastStore persists forecasts.
type ForecastStore interface {
	// UpsertForecasts inserts or replaces forecasts by their unique key.
	UpsertForecasts(ctx context.Context, forecasts []model.CostForecast) error

	// ListForecasts returns forecasts ordered by date.
	ListForecasts(ctx context.Context, filter model.ForecastFilter) ([]model.CostForecast, error)
}

// ReservationStore persists amortized reservation costs.
type ReservationStore interface {
	// UpsertReservationCost stores a reservation cost. Manual rows are only
	// replaced by manual rows and override rows only by override or manual rows.
	UpsertReservationCost(ctx context.Context, cost *model.ReservationCost) error

	// ListReservationCosts returns reservation costs for a billing month.
	ListReservationCosts(ctx context.Context, billingPeriod string) ([]model.ReservationCost, error)
}
