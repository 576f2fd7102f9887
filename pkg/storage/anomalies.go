package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

func (s *SQLStore) InsertAnomalies(ctx context.Context, anomalies []model.CostAnomaly) (int64, error) {
	if len(anomalies) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert anomalies: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO cost_anomalies (detected_date, dimension_type, dimension_value, anomaly_type, detection_method,
		   severity, actual_cost, expected_cost, deviation_percent, z_score, currency, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(detected_date, dimension_type, dimension_value) DO NOTHING`))
	if err != nil {
		return 0, fmt.Errorf("prepare insert anomaly: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var inserted int64
	for i := range anomalies {
		a := &anomalies[i]
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		result, err := stmt.ExecContext(ctx,
			a.DetectedDate, string(a.DimensionType), a.DimensionValue, a.AnomalyType, a.DetectionMethod,
			string(a.Severity), a.ActualCost, a.ExpectedCost, a.DeviationPercent, a.ZScore,
			a.Currency, a.Description, a.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert anomaly: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("check rows affected: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit anomalies: %w", err)
	}
	return inserted, nil
}

func (s *SQLStore) ListAnomalies(ctx context.Context, filter model.AnomalyFilter) ([]model.CostAnomaly, error) {
	var conditions []string
	var args []any

	if filter.Currency != "" {
		conditions = append(conditions, "currency = ?")
		args = append(args, filter.Currency)
	}
	if filter.From != "" {
		conditions = append(conditions, "detected_date >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		conditions = append(conditions, "detected_date <= ?")
		args = append(args, filter.To)
	}

	rows, err := s.query(ctx,
		`SELECT id, detected_date, dimension_type, dimension_value, anomaly_type, detection_method, severity,
		   actual_cost, expected_cost, deviation_percent, z_score, currency, description, created_at
		 FROM cost_anomalies`+whereClause(conditions)+`
		 ORDER BY detected_date DESC, CASE severity
		   WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
		   dimension_type, dimension_value`, args...)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	minRank := filter.MinSeverity.Rank()
	var anomalies []model.CostAnomaly
	for rows.Next() {
		var a model.CostAnomaly
		var dimType, severity string
		if err := rows.Scan(&a.ID, &a.DetectedDate, &dimType, &a.DimensionValue, &a.AnomalyType,
			&a.DetectionMethod, &severity, &a.ActualCost, &a.ExpectedCost, &a.DeviationPercent,
			&a.ZScore, &a.Currency, &a.Description, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan anomaly row: %w", err)
		}
		a.DimensionType = model.DimensionType(dimType)
		a.Severity = model.Severity(severity)
		if a.Severity.Rank() < minRank {
			continue
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, rows.Err()
}
