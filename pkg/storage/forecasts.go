package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

func (s *SQLStore) UpsertForecasts(ctx context.Context, forecasts []model.CostForecast) error {
	if len(forecasts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert forecasts: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO cost_forecasts (forecast_date, dimension_type, dimension_value, currency, forecast_cost,
		   lower_bound, upper_bound, confidence_level, model_type, training_days, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(forecast_date, dimension_type, dimension_value) DO UPDATE SET
		   currency = excluded.currency,
		   forecast_cost = excluded.forecast_cost,
		   lower_bound = excluded.lower_bound,
		   upper_bound = excluded.upper_bound,
		   confidence_level = excluded.confidence_level,
		   model_type = excluded.model_type,
		   training_days = excluded.training_days,
		   metadata = excluded.metadata,
		   updated_at = excluded.updated_at`))
	if err != nil {
		return fmt.Errorf("prepare upsert forecast: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range forecasts {
		f := &forecasts[i]
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		f.UpdatedAt = now
		metadata, err := json.Marshal(f.Metadata)
		if err != nil {
			return fmt.Errorf("encode forecast metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			f.ForecastDate, string(f.DimensionType), f.DimensionValue, f.Currency, f.ForecastCost,
			f.LowerBound, f.UpperBound, f.ConfidenceLevel, f.ModelType, f.TrainingDays,
			string(metadata), f.CreatedAt, f.UpdatedAt,
		); err != nil {
			return fmt.Errorf("upsert forecast: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit forecasts: %w", err)
	}
	return nil
}

func (s *SQLStore) ListForecasts(ctx context.Context, filter model.ForecastFilter) ([]model.CostForecast, error) {
	var conditions []string
	var args []any

	if filter.DimensionType != "" {
		conditions = append(conditions, "dimension_type = ?")
		args = append(args, string(filter.DimensionType))
	}
	if filter.DimensionValue != "" {
		conditions = append(conditions, "dimension_value = ?")
		args = append(args, filter.DimensionValue)
	}
	if filter.Currency != "" {
		conditions = append(conditions, "currency = ?")
		args = append(args, filter.Currency)
	}
	if filter.From != "" {
		conditions = append(conditions, "forecast_date >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		conditions = append(conditions, "forecast_date <= ?")
		args = append(args, filter.To)
	}

	rows, err := s.query(ctx,
		`SELECT id, forecast_date, dimension_type, dimension_value, currency, forecast_cost, lower_bound,
		   upper_bound, confidence_level, model_type, training_days, metadata, created_at, updated_at
		 FROM cost_forecasts`+whereClause(conditions)+`
		 ORDER BY forecast_date, dimension_type, dimension_value`, args...)
	if err != nil {
		return nil, fmt.Errorf("list forecasts: %w", err)
	}
	defer rows.Close()

	var forecasts []model.CostForecast
	for rows.Next() {
		var f model.CostForecast
		var dimType, metadata string
		if err := rows.Scan(&f.ID, &f.ForecastDate, &dimType, &f.DimensionValue, &f.Currency, &f.ForecastCost,
			&f.LowerBound, &f.UpperBound, &f.ConfidenceLevel, &f.ModelType, &f.TrainingDays,
			&metadata, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan forecast row: %w", err)
		}
		f.DimensionType = model.DimensionType(dimType)
		if err := json.Unmarshal([]byte(metadata), &f.Metadata); err != nil {
			return nil, fmt.Errorf("decode forecast metadata: %w", err)
		}
		forecasts = append(forecasts, f)
	}
	return forecasts, rows.Err()
}
