package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

func (s *SQLStore) UpsertReservationCost(ctx context.Context, cost *model.ReservationCost) error {
	cost.UpdatedAt = time.Now().UTC()
	if cost.Source == "" {
		cost.Source = model.ReservationDerived
	}

	_, err := s.exec(ctx,
		`INSERT INTO reservation_costs (reservation_id, reservation_name, billing_period, currency, purchase_cost,
		   term_months, amortized_monthly, amortized_daily, source, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(reservation_id, billing_period) DO UPDATE SET
		   reservation_name = excluded.reservation_name,
		   currency = excluded.currency,
		   purchase_cost = excluded.purchase_cost,
		   term_months = excluded.term_months,
		   amortized_monthly = excluded.amortized_monthly,
		   amortized_daily = excluded.amortized_daily,
		   source = excluded.source,
		   updated_at = excluded.updated_at
		 WHERE excluded.source = 'manual'
		    OR reservation_costs.source = 'derived'
		    OR reservation_costs.source = excluded.source`,
		cost.ReservationID, cost.ReservationName, cost.BillingPeriod, cost.Currency, cost.PurchaseCost,
		cost.TermMonths, cost.AmortizedMonthly, cost.AmortizedDaily, cost.Source, cost.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert reservation cost: %w", err)
	}
	return nil
}

func (s *SQLStore) ListReservationCosts(ctx context.Context, billingPeriod string) ([]model.ReservationCost, error) {
	var conditions []string
	var args []any
	if billingPeriod != "" {
		conditions = append(conditions, "billing_period = ?")
		args = append(args, billingPeriod)
	}

	rows, err := s.query(ctx,
		`SELECT reservation_id, reservation_name, billing_period, currency, purchase_cost, term_months,
		   amortized_monthly, amortized_daily, source, updated_at
		 FROM reservation_costs`+whereClause(conditions)+`
		 ORDER BY billing_period, reservation_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservation costs: %w", err)
	}
	defer rows.Close()

	var costs []model.ReservationCost
	for rows.Next() {
		var c model.ReservationCost
		if err := rows.Scan(&c.ReservationID, &c.ReservationName, &c.BillingPeriod, &c.Currency, &c.PurchaseCost,
			&c.TermMonths, &c.AmortizedMonthly, &c.AmortizedDaily, &c.Source, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation cost: %w", err)
		}
		costs = append(costs, c)
	}
	return costs, rows.Err()
}
