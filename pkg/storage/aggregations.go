package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

func (s *SQLStore) ReplaceAggregations(ctx context.Context, scope model.AggregationScope, aggs []model.CostAggregation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace aggregations: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM cost_aggregations
		 WHERE aggregation_type = ? AND currency = ? AND period_start >= ? AND period_start <= ?`),
		string(scope.AggregationType), scope.Currency, scope.From, scope.To,
	); err != nil {
		return fmt.Errorf("prune aggregations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO cost_aggregations (aggregation_type, dimension_type, dimension_value, period_start, period_end,
		   currency, total_cost, usage_cost, purchase_cost, tax_cost, record_count, top_services, top_resources, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(aggregation_type, dimension_type, dimension_value, period_start, currency) DO UPDATE SET
		   period_end = excluded.period_end,
		   total_cost = excluded.total_cost,
		   usage_cost = excluded.usage_cost,
		   purchase_cost = excluded.purchase_cost,
		   tax_cost = excluded.tax_cost,
		   record_count = excluded.record_count,
		   top_services = excluded.top_services,
		   top_resources = excluded.top_resources,
		   updated_at = excluded.updated_at`))
	if err != nil {
		return fmt.Errorf("prepare upsert aggregation: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range aggs {
		a := &aggs[i]
		a.UpdatedAt = now
		topServices, err := json.Marshal(lo.Ternary(a.TopServices == nil, []model.RankedCost{}, a.TopServices))
		if err != nil {
			return fmt.Errorf("encode top services: %w", err)
		}
		topResources, err := json.Marshal(lo.Ternary(a.TopResources == nil, []model.RankedCost{}, a.TopResources))
		if err != nil {
			return fmt.Errorf("encode top resources: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			string(a.AggregationType), string(a.DimensionType), a.DimensionValue, a.PeriodStart, a.PeriodEnd,
			a.Currency, a.TotalCost, a.UsageCost, a.PurchaseCost, a.TaxCost, a.RecordCount,
			string(topServices), string(topResources), a.UpdatedAt,
		); err != nil {
			return fmt.Errorf("upsert aggregation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit aggregations: %w", err)
	}
	return nil
}

func (s *SQLStore) ListAggregations(ctx context.Context, filter model.AggregationFilter) ([]model.CostAggregation, error) {
	var conditions []string
	var args []any

	if filter.AggregationType != "" {
		conditions = append(conditions, "aggregation_type = ?")
		args = append(args, string(filter.AggregationType))
	}
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
		conditions = append(conditions, "period_start >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		conditions = append(conditions, "period_start <= ?")
		args = append(args, filter.To)
	}

	rows, err := s.query(ctx,
		`SELECT id, aggregation_type, dimension_type, dimension_value, period_start, period_end, currency,
		   total_cost, usage_cost, purchase_cost, tax_cost, record_count, top_services, top_resources, updated_at
		 FROM cost_aggregations`+whereClause(conditions)+`
		 ORDER BY period_start, dimension_type, dimension_value`, args...)
	if err != nil {
		return nil, fmt.Errorf("list aggregations: %w", err)
	}
	defer rows.Close()

	var aggs []model.CostAggregation
	for rows.Next() {
		var a model.CostAggregation
		var aggType, dimType, topServices, topResources string
		if err := rows.Scan(&a.ID, &aggType, &dimType, &a.DimensionValue, &a.PeriodStart, &a.PeriodEnd, &a.Currency,
			&a.TotalCost, &a.UsageCost, &a.PurchaseCost, &a.TaxCost, &a.RecordCount,
			&topServices, &topResources, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan aggregation row: %w", err)
		}
		a.AggregationType = model.AggregationType(aggType)
		a.DimensionType = model.DimensionType(dimType)
		if err := json.Unmarshal([]byte(topServices), &a.TopServices); err != nil {
			return nil, fmt.Errorf("decode top services: %w", err)
		}
		if err := json.Unmarshal([]byte(topResources), &a.TopResources); err != nil {
			return nil, fmt.Errorf("decode top resources: %w", err)
		}
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}

func (s *SQLStore) ActiveDimensions(ctx context.Context, currency, since string) ([]model.DimensionKey, error) {
	rows, err := s.query(ctx,
		`SELECT DISTINCT dimension_type, dimension_value FROM cost_aggregations
		 WHERE aggregation_type = ? AND currency = ? AND period_start >= ?
		 ORDER BY dimension_type, dimension_value`,
		string(model.AggregationDaily), currency, since)
	if err != nil {
		return nil, fmt.Errorf("list active dimensions: %w", err)
	}
	defer rows.Close()

	var keys []model.DimensionKey
	for rows.Next() {
		var dimType, value string
		if err := rows.Scan(&dimType, &value); err != nil {
			return nil, fmt.Errorf("scan dimension row: %w", err)
		}
		keys = append(keys, model.DimensionKey{Type: model.DimensionType(dimType), Value: value})
	}
	return keys, rows.Err()
}

func (s *SQLStore) Breakdown(ctx context.Context, dimension model.DimensionType, currency, from, to string) ([]model.BreakdownItem, error) {
	rows, err := s.query(ctx,
		`SELECT dimension_value, COALESCE(SUM(total_cost), 0) AS total
		 FROM cost_aggregations
		 WHERE aggregation_type = ? AND dimension_type = ? AND currency = ?
		   AND period_start >= ? AND period_start <= ?
		 GROUP BY dimension_value
		 ORDER BY total DESC, dimension_value`,
		string(model.AggregationDaily), string(dimension), currency, from, to)
	if err != nil {
		return nil, fmt.Errorf("cost breakdown: %w", err)
	}
	defer rows.Close()

	var items []model.BreakdownItem
	var grand float64
	for rows.Next() {
		var item model.BreakdownItem
		if err := rows.Scan(&item.DimensionValue, &item.TotalCost); err != nil {
			return nil, fmt.Errorf("scan breakdown row: %w", err)
		}
		grand += item.TotalCost
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if grand != 0 {
		for i := range items {
			items[i].Percentage = items[i].TotalCost / grand * 100
		}
	}
	return items, nil
}
