package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

const recordColumns = `export_id, billed_cost, effective_cost, list_cost, contracted_cost, billing_currency,
	charge_period_start, charge_period_end, charge_date, charge_month, billing_period_start, billing_period_end,
	billing_account_id, sub_account_id, sub_account_name, resource_id, resource_name, resource_type,
	resource_group, region_id, region_name, service_name, service_category, sku_id,
	charge_category, charge_class, charge_description, consumed_quantity, consumed_unit,
	pricing_quantity, pricing_unit, commitment_discount_id, commitment_discount_type, tags, record_hash`

const recordColumnCount = 35

// dimensionColumns maps dimension types to cost_records columns.
var dimensionColumns = map[model.DimensionType]string{
	model.DimensionSubscription:  "sub_account_id",
	model.DimensionService:       "service_name",
	model.DimensionResourceGroup: "resource_group",
	model.DimensionRegion:        "region_name",
}

var breakdownColumns = map[string]string{
	model.BreakdownService:  "service_name",
	model.BreakdownResource: "resource_id",
}

func (s *SQLStore) ExistingHashes(ctx context.Context, hashes []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	for _, chunk := range lo.Chunk(lo.Uniq(hashes), maxParams) {
		args := lo.Map(chunk, func(h string, _ int) any { return h })
		rows, err := s.query(ctx,
			`SELECT record_hash FROM cost_records WHERE record_hash IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("query existing hashes: %w", err)
		}
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan hash row: %w", err)
			}
			existing[h] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate hash rows: %w", err)
		}
	}
	return existing, nil
}

func (s *SQLStore) InsertRecords(ctx context.Context, records []model.CostRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert records: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO cost_records (`+recordColumns+`)
		 VALUES (`+placeholders(recordColumnCount)+`)
		 ON CONFLICT(record_hash) DO NOTHING`))
	if err != nil {
		return 0, fmt.Errorf("prepare insert records: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for i := range records {
		r := &records[i]
		if r.Tags == "" {
			r.Tags = "{}"
		}
		result, err := stmt.ExecContext(ctx,
			r.ExportID, r.BilledCost, r.EffectiveCost, r.ListCost, r.ContractedCost, r.BillingCurrency,
			r.ChargePeriodStart.UTC(), r.ChargePeriodEnd.UTC(), r.ChargeDate, r.ChargeMonth,
			r.BillingPeriodStart, r.BillingPeriodEnd,
			r.BillingAccountID, r.SubAccountID, r.SubAccountName, r.ResourceID, r.ResourceName, r.ResourceType,
			r.ResourceGroup, r.RegionID, r.RegionName, r.ServiceName, r.ServiceCategory, r.SkuID,
			r.ChargeCategory, r.ChargeClass, r.ChargeDescription, r.ConsumedQuantity, r.ConsumedUnit,
			r.PricingQuantity, r.PricingUnit, r.CommitmentDiscountID, r.CommitmentDiscountType, r.Tags, r.RecordHash,
		)
		if err != nil {
			return 0, fmt.Errorf("insert cost record: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("check rows affected: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit records: %w", err)
	}
	return inserted, nil
}

func (s *SQLStore) QueryRecords(ctx context.Context, filter model.RecordFilter) ([]model.CostRecord, error) {
	where, args := recordWhere(filter)
	query := `SELECT id, ` + recordColumns + ` FROM cost_records` + where + ` ORDER BY charge_period_start, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []model.CostRecord
	for rows.Next() {
		var r model.CostRecord
		if err := rows.Scan(&r.ID,
			&r.ExportID, &r.BilledCost, &r.EffectiveCost, &r.ListCost, &r.ContractedCost, &r.BillingCurrency,
			&r.ChargePeriodStart, &r.ChargePeriodEnd, &r.ChargeDate, &r.ChargeMonth,
			&r.BillingPeriodStart, &r.BillingPeriodEnd,
			&r.BillingAccountID, &r.SubAccountID, &r.SubAccountName, &r.ResourceID, &r.ResourceName, &r.ResourceType,
			&r.ResourceGroup, &r.RegionID, &r.RegionName, &r.ServiceName, &r.ServiceCategory, &r.SkuID,
			&r.ChargeCategory, &r.ChargeClass, &r.ChargeDescription, &r.ConsumedQuantity, &r.ConsumedUnit,
			&r.PricingQuantity, &r.PricingUnit, &r.CommitmentDiscountID, &r.CommitmentDiscountType, &r.Tags, &r.RecordHash,
		); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		r.ChargePeriodStart = r.ChargePeriodStart.UTC()
		r.ChargePeriodEnd = r.ChargePeriodEnd.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLStore) CountRecords(ctx context.Context, filter model.RecordFilter) (int64, error) {
	where, args := recordWhere(filter)
	var n int64
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM cost_records`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *SQLStore) SumCosts(ctx context.Context, q model.CostQuery) ([]model.CostGroup, error) {
	periodCol := "charge_date"
	if q.Granularity == model.GranularityMonth {
		periodCol = "charge_month"
	}

	dimExpr := "'" + model.OverallValue + "'"
	groupBy := []string{periodCol}
	if q.Dimension != model.DimensionOverall && q.Dimension != "" {
		col, ok := dimensionColumns[q.Dimension]
		if !ok {
			return nil, fmt.Errorf("unknown dimension %q", q.Dimension)
		}
		dimExpr = labelled(col)
		groupBy = append(groupBy, dimExpr)
	}

	bdExpr := "''"
	if q.Breakdown != "" {
		col, ok := breakdownColumns[q.Breakdown]
		if !ok {
			return nil, fmt.Errorf("unknown breakdown %q", q.Breakdown)
		}
		bdExpr = labelled(col)
		groupBy = append(groupBy, bdExpr)
	}

	var conditions []string
	var args []any
	if q.Currency != "" {
		conditions = append(conditions, "billing_currency = ?")
		args = append(args, q.Currency)
	}
	if q.From != "" {
		conditions = append(conditions, periodCol+" >= ?")
		args = append(args, q.From)
	}
	if q.To != "" {
		conditions = append(conditions, periodCol+" <= ?")
		args = append(args, q.To)
	}

	query := fmt.Sprintf(`SELECT %s, %s, %s,
		COALESCE(SUM(billed_cost), 0),
		COALESCE(SUM(CASE WHEN charge_category = '%s' THEN billed_cost ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN charge_category = '%s' THEN billed_cost ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN charge_category = '%s' THEN billed_cost ELSE 0 END), 0),
		COUNT(*)
		FROM cost_records%s
		GROUP BY %s
		ORDER BY %s`,
		periodCol, dimExpr, bdExpr,
		model.ChargeUsage, model.ChargePurchase, model.ChargeTax,
		whereClause(conditions),
		strings.Join(groupBy, ", "), strings.Join(groupBy, ", "))

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sum costs: %w", err)
	}
	defer rows.Close()

	var groups []model.CostGroup
	for rows.Next() {
		var g model.CostGroup
		if err := rows.Scan(&g.Period, &g.DimensionValue, &g.BreakdownValue,
			&g.TotalCost, &g.UsageCost, &g.PurchaseCost, &g.TaxCost, &g.RecordCount); err != nil {
			return nil, fmt.Errorf("scan cost group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// labelled groups empty values together with literal "unknown" values.
func labelled(col string) string {
	return fmt.Sprintf("COALESCE(NULLIF(%s, ''), '%s')", col, model.UnknownValue)
}

func (s *SQLStore) FindDuplicateGroups(ctx context.Context) ([]model.DuplicateGroup, error) {
	rows, err := s.query(ctx, `SELECT r.id, r.export_id, r.sub_account_id, r.resource_id,
		r.charge_period_start, r.charge_period_end, r.service_name, r.charge_category,
		r.billing_currency, r.billed_cost
		FROM cost_records r
		JOIN (
			SELECT sub_account_id, resource_id, charge_period_start, charge_period_end,
			       service_name, charge_category, billing_currency
			FROM cost_records
			GROUP BY sub_account_id, resource_id, charge_period_start, charge_period_end,
			         service_name, charge_category, billing_currency
			HAVING COUNT(*) > 1
		) d ON r.sub_account_id = d.sub_account_id
		   AND r.resource_id = d.resource_id
		   AND r.charge_period_start = d.charge_period_start
		   AND r.charge_period_end = d.charge_period_end
		   AND r.service_name = d.service_name
		   AND r.charge_category = d.charge_category
		   AND r.billing_currency = d.billing_currency
		JOIN cost_exports e ON e.id = r.export_id
		ORDER BY r.sub_account_id, r.resource_id, r.charge_period_start, r.charge_period_end,
		         r.service_name, r.charge_category, r.billing_currency, e.created_at DESC, r.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("find duplicates: %w", err)
	}
	defer rows.Close()

	type groupKey struct {
		sub, resource, service, category, currency string
		start, end                                 time.Time
	}

	var groups []model.DuplicateGroup
	var current *groupKey
	for rows.Next() {
		var (
			id       int64
			exportID string
			k        groupKey
			cost     float64
		)
		if err := rows.Scan(&id, &exportID, &k.sub, &k.resource, &k.start, &k.end,
			&k.service, &k.category, &k.currency, &cost); err != nil {
			return nil, fmt.Errorf("scan duplicate row: %w", err)
		}
		k.start = k.start.UTC()
		k.end = k.end.UTC()

		if current == nil || *current != k {
			current = &k
			groups = append(groups, model.DuplicateGroup{
				SubAccountID:      k.sub,
				ResourceID:        k.resource,
				ChargePeriodStart: k.start,
				ServiceName:       k.service,
				ChargeCategory:    k.category,
				Currency:          k.currency,
			})
		}
		g := &groups[len(groups)-1]
		g.RecordIDs = append(g.RecordIDs, id)
		g.ExportIDs = append(g.ExportIDs, exportID)
		g.TotalBilledCost += cost
	}
	return groups, rows.Err()
}

func (s *SQLStore) DeleteRecords(ctx context.Context, ids []int64) (int64, error) {
	var deleted int64
	for _, chunk := range lo.Chunk(ids, maxParams) {
		args := lo.Map(chunk, func(id int64, _ int) any { return id })
		result, err := s.exec(ctx,
			`DELETE FROM cost_records WHERE id IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return deleted, fmt.Errorf("delete records: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return deleted, fmt.Errorf("check rows affected: %w", err)
		}
		deleted += n
	}
	return deleted, nil
}

func (s *SQLStore) ReservationPurchases(ctx context.Context, month, currency string) ([]model.ReservationPurchase, error) {
	conditions := []string{
		"charge_category = ?",
		"commitment_discount_id <> ''",
		"charge_month = ?",
	}
	args := []any{model.ChargePurchase, month}
	if currency != "" {
		conditions = append(conditions, "billing_currency = ?")
		args = append(args, currency)
	}

	rows, err := s.query(ctx, `SELECT commitment_discount_id, MAX(commitment_discount_type), billing_currency,
		COALESCE(SUM(billed_cost), 0), COUNT(*)
		FROM cost_records`+whereClause(conditions)+`
		GROUP BY commitment_discount_id, billing_currency
		ORDER BY commitment_discount_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservation purchases: %w", err)
	}
	defer rows.Close()

	var purchases []model.ReservationPurchase
	for rows.Next() {
		var p model.ReservationPurchase
		if err := rows.Scan(&p.ReservationID, &p.ReservationType, &p.Currency, &p.PurchaseCost, &p.RecordCount); err != nil {
			return nil, fmt.Errorf("scan reservation purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// recordWhere builds the WHERE clause for a RecordFilter.
func recordWhere(filter model.RecordFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.ExportID != "" {
		conditions = append(conditions, "export_id = ?")
		args = append(args, filter.ExportID)
	}
	if filter.Currency != "" {
		conditions = append(conditions, "billing_currency = ?")
		args = append(args, filter.Currency)
	}
	if filter.FromDate != "" {
		conditions = append(conditions, "charge_date >= ?")
		args = append(args, filter.FromDate)
	}
	if filter.ToDate != "" {
		conditions = append(conditions, "charge_date <= ?")
		args = append(args, filter.ToDate)
	}

	return whereClause(conditions), args
}
