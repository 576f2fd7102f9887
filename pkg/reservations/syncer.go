// Package reservations amortizes commitment discount purchases into monthly costs.
package reservations

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
	"github.com/ogulcanaydogan/finops-hub/pkg/storage"
)

// DefaultTermMonths is the amortization term when no override names one.
const DefaultTermMonths = 12

const periodLayout = "2006-01"

// Store is the persistence the syncer needs.
type Store interface {
	ReservationPurchases(ctx context.Context, month, currency string) ([]model.ReservationPurchase, error)
	storage.ReservationStore
}

// Result summarizes a sync. Costs holds the effective cost of every
// reservation in the period, kept manual rows included.
type Result struct {
	BillingPeriod string
	Derived       int
	Overrides     int
	Manual        int
	Costs         []model.ReservationCost
}

// Syncer derives reservation costs from purchase records.
type Syncer struct {
	store       Store
	overrides   map[string]Override
	defaultTerm int
	logger      *slog.Logger
}

// New creates a syncer. overrides may be nil.
func New(store Store, overrides map[string]Override, defaultTerm int, logger *slog.Logger) *Syncer {
	if defaultTerm <= 0 {
		defaultTerm = DefaultTermMonths
	}
	if overrides == nil {
		overrides = make(map[string]Override)
	}
	return &Syncer{store: store, overrides: overrides, defaultTerm: defaultTerm, logger: logger}
}

// Sync computes the amortized cost of every reservation active in
// billingPeriod (YYYY-MM). A purchase made in month m contributes to every
// period in the term starting at m. Overrides with a monthly cost replace the
// derived value. A manual row stored with SetCost wins over both and is left
// untouched.
func (s *Syncer) Sync(ctx context.Context, billingPeriod, currency string) (*Result, error) {
	period, err := time.Parse(periodLayout, billingPeriod)
	if err != nil {
		return nil, fmt.Errorf("invalid billing period %q: %w", billingPeriod, err)
	}

	lookback := s.defaultTerm
	for _, o := range s.overrides {
		lookback = max(lookback, o.TermMonths)
	}

	derived := make(map[string]*model.ReservationCost)
	for offset := 0; offset < lookback; offset++ {
		month := period.AddDate(0, -offset, 0).Format(periodLayout)
		purchases, err := s.store.ReservationPurchases(ctx, month, currency)
		if err != nil {
			return nil, fmt.Errorf("load purchases for %s: %w", month, err)
		}
		for _, p := range purchases {
			term := s.termFor(p.ReservationID)
			if offset >= term {
				continue
			}
			c, ok := derived[p.ReservationID]
			if !ok {
				c = &model.ReservationCost{
					ReservationID:   p.ReservationID,
					ReservationName: s.nameFor(p.ReservationID),
					BillingPeriod:   billingPeriod,
					Currency:        p.Currency,
					TermMonths:      term,
					Source:          model.ReservationDerived,
				}
				derived[p.ReservationID] = c
			}
			c.PurchaseCost += p.PurchaseCost
			c.AmortizedMonthly = amortize(decimal.NewFromFloat(c.PurchaseCost), term)
		}
	}

	stored, err := s.store.ListReservationCosts(ctx, billingPeriod)
	if err != nil {
		return nil, fmt.Errorf("load reservation costs for %s: %w", billingPeriod, err)
	}
	manual := lo.SliceToMap(lo.Filter(stored, func(c model.ReservationCost, _ int) bool {
		return c.Source == model.ReservationManual
	}), func(c model.ReservationCost) (string, model.ReservationCost) {
		return c.ReservationID, c
	})

	result := &Result{BillingPeriod: billingPeriod}
	days := daysIn(period)

	for _, c := range manual {
		result.Manual++
		result.Costs = append(result.Costs, c)
	}

	for _, id := range lo.Keys(derived) {
		if _, ok := manual[id]; ok {
			continue
		}
		if o, ok := s.overrides[id]; ok && o.MonthlyCost > 0 {
			continue
		}
		c := derived[id]
		c.AmortizedDaily = amortize(decimal.NewFromFloat(c.AmortizedMonthly), days)
		if err := s.store.UpsertReservationCost(ctx, c); err != nil {
			return nil, fmt.Errorf("store reservation %s: %w", id, err)
		}
		result.Derived++
		result.Costs = append(result.Costs, *c)
	}

	for id, o := range s.overrides {
		if o.MonthlyCost <= 0 {
			continue
		}
		if _, ok := manual[id]; ok {
			s.logger.Debug("manual reservation cost kept over override", "reservation_id", id, "billing_period", billingPeriod)
			continue
		}
		c := s.fixedCost(id, billingPeriod, o.MonthlyCost, o.TermMonths, lo.Ternary(o.Currency != "", o.Currency, currency), days)
		c.Source = model.ReservationOverride
		if d, ok := derived[id]; ok {
			c.PurchaseCost = d.PurchaseCost
			if o.Currency == "" {
				c.Currency = d.Currency
			}
		}
		if err := s.store.UpsertReservationCost(ctx, c); err != nil {
			return nil, fmt.Errorf("store reservation %s: %w", id, err)
		}
		result.Overrides++
		result.Costs = append(result.Costs, *c)
	}

	sort.Slice(result.Costs, func(i, j int) bool { return result.Costs[i].ReservationID < result.Costs[j].ReservationID })

	s.logger.Info("reservation costs synced",
		"billing_period", billingPeriod,
		"derived", result.Derived,
		"overrides", result.Overrides,
		"manual", result.Manual,
	)
	return result, nil
}

// SetCost stores a manually maintained monthly cost for a reservation.
// Zero termMonths keeps the default term.
func (s *Syncer) SetCost(ctx context.Context, id, billingPeriod string, monthlyCost float64, termMonths int, currency string) (*model.ReservationCost, error) {
	if id == "" {
		return nil, fmt.Errorf("reservation id is required")
	}
	if monthlyCost < 0 {
		return nil, fmt.Errorf("monthly cost must not be negative")
	}
	period, err := time.Parse(periodLayout, billingPeriod)
	if err != nil {
		return nil, fmt.Errorf("invalid billing period %q: %w", billingPeriod, err)
	}

	c := s.fixedCost(id, billingPeriod, monthlyCost, termMonths, currency, daysIn(period))
	if err := s.store.UpsertReservationCost(ctx, c); err != nil {
		return nil, fmt.Errorf("store reservation %s: %w", id, err)
	}
	s.logger.Info("reservation cost updated", "reservation_id", id, "billing_period", billingPeriod, "monthly_cost", monthlyCost)
	return c, nil
}

// fixedCost builds a manual row for a known monthly cost.
func (s *Syncer) fixedCost(id, billingPeriod string, monthly float64, term int, currency string, days int) *model.ReservationCost {
	if term <= 0 {
		term = s.termFor(id)
	}
	return &model.ReservationCost{
		ReservationID:    id,
		ReservationName:  s.nameFor(id),
		BillingPeriod:    billingPeriod,
		Currency:         currency,
		TermMonths:       term,
		AmortizedMonthly: monthly,
		AmortizedDaily:   amortize(decimal.NewFromFloat(monthly), days),
		Source:           model.ReservationManual,
	}
}

func (s *Syncer) termFor(id string) int {
	if o, ok := s.overrides[id]; ok && o.TermMonths > 0 {
		return o.TermMonths
	}
	return s.defaultTerm
}

func (s *Syncer) nameFor(id string) string {
	if o, ok := s.overrides[id]; ok && o.Name != "" {
		return o.Name
	}
	return id
}

func amortize(total decimal.Decimal, parts int) float64 {
	return total.Div(decimal.NewFromInt(int64(parts))).Round(6).InexactFloat64()
}

func daysIn(month time.Time) int {
	return time.Date(month.Year(), month.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
