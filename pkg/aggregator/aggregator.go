// Package aggregator rolls cost records up into daily and monthly
// aggregates per dimension.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
	"github.com/ogulcanaydogan/finops-hub/pkg/storage"
)

// Defaults for Config.
const (
	DefaultWindowDays = 60
	DefaultTopN       = 5
)

// UnknownValue labels records with an empty dimension column.
const UnknownValue = model.UnknownValue

// Config tunes the aggregator.
type Config struct {
	WindowDays int
	TopN       int
}

// Result reports what a run wrote.
type Result struct {
	Currency string
	From     string
	To       string
	Daily    int
	Monthly  int
}

// Aggregator recomputes cost aggregates from records.
type Aggregator struct {
	store  storage.Storage
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates an aggregator.
func New(store storage.Storage, cfg Config, logger *slog.Logger) *Aggregator {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultWindowDays
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	return &Aggregator{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// WithClock overrides the clock used to place the trailing window.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Run recomputes daily aggregates for every day of the trailing window and
// monthly aggregates for every month the window touches. Rows in the
// recomputed range that no longer have backing records are removed, so
// repeated runs converge on the same state. windowDays <= 0 uses the
// configured default.
func (a *Aggregator) Run(ctx context.Context, currency string, windowDays int) (*Result, error) {
	if windowDays <= 0 {
		windowDays = a.cfg.WindowDays
	}
	start, end := model.TrailingWindow(a.now(), windowDays)
	monthStart, _ := model.MonthBounds(start)

	result := &Result{
		Currency: currency,
		From:     start.Format(model.DateLayout),
		To:       end.Format(model.DateLayout),
	}

	daily, err := a.compute(ctx, model.AggregationDaily, model.CostQuery{
		Currency:    currency,
		Granularity: model.GranularityDay,
		From:        result.From,
		To:          result.To,
	})
	if err != nil {
		return nil, err
	}
	if err := a.store.ReplaceAggregations(ctx, model.AggregationScope{
		AggregationType: model.AggregationDaily,
		Currency:        currency,
		From:            result.From,
		To:              result.To,
	}, daily); err != nil {
		return nil, fmt.Errorf("store daily aggregations: %w", err)
	}
	result.Daily = len(daily)

	monthly, err := a.compute(ctx, model.AggregationMonthly, model.CostQuery{
		Currency:    currency,
		Granularity: model.GranularityMonth,
		From:        monthStart.Format(model.MonthLayout),
		To:          end.Format(model.MonthLayout),
	})
	if err != nil {
		return nil, err
	}
	if err := a.store.ReplaceAggregations(ctx, model.AggregationScope{
		AggregationType: model.AggregationMonthly,
		Currency:        currency,
		From:            monthStart.Format(model.DateLayout),
		To:              result.To,
	}, monthly); err != nil {
		return nil, fmt.Errorf("store monthly aggregations: %w", err)
	}
	result.Monthly = len(monthly)

	a.logger.Info("aggregation complete",
		"currency", currency,
		"from", result.From,
		"to", result.To,
		"daily", result.Daily,
		"monthly", result.Monthly,
	)
	return result, nil
}

type groupKey struct {
	period string
	value  string
}

func (a *Aggregator) compute(ctx context.Context, aggType model.AggregationType, base model.CostQuery) ([]model.CostAggregation, error) {
	var aggs []model.CostAggregation
	for _, dim := range model.Dimensions {
		q := base
		q.Dimension = dim

		totals, err := a.store.SumCosts(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("sum %s %s costs: %w", aggType, dim, err)
		}
		topServices, err := a.topN(ctx, q, model.BreakdownService)
		if err != nil {
			return nil, err
		}
		topResources, err := a.topN(ctx, q, model.BreakdownResource)
		if err != nil {
			return nil, err
		}

		for _, g := range totals {
			value := g.DimensionValue
			key := groupKey{period: g.Period, value: value}
			periodStart, periodEnd, err := periodBounds(aggType, g.Period)
			if err != nil {
				return nil, err
			}
			aggs = append(aggs, model.CostAggregation{
				AggregationType: aggType,
				DimensionType:   dim,
				DimensionValue:  value,
				PeriodStart:     periodStart,
				PeriodEnd:       periodEnd,
				Currency:        base.Currency,
				TotalCost:       g.TotalCost,
				UsageCost:       g.UsageCost,
				PurchaseCost:    g.PurchaseCost,
				TaxCost:         g.TaxCost,
				RecordCount:     g.RecordCount,
				TopServices:     topServices[key],
				TopResources:    topResources[key],
			})
		}
	}
	return aggs, nil
}

// topN ranks breakdown values within each (period, dimension value) group.
func (a *Aggregator) topN(ctx context.Context, q model.CostQuery, breakdown string) (map[groupKey][]model.RankedCost, error) {
	q.Breakdown = breakdown
	rows, err := a.store.SumCosts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sum %s breakdown: %w", breakdown, err)
	}

	grouped := lo.GroupBy(rows, func(g model.CostGroup) groupKey {
		return groupKey{period: g.Period, value: g.DimensionValue}
	})

	ranked := make(map[groupKey][]model.RankedCost, len(grouped))
	for key, groups := range grouped {
		items := lo.Map(groups, func(g model.CostGroup, _ int) model.RankedCost {
			return model.RankedCost{Name: g.BreakdownValue, Cost: g.TotalCost}
		})
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Cost != items[j].Cost {
				return items[i].Cost > items[j].Cost
			}
			return items[i].Name < items[j].Name
		})
		if len(items) > a.cfg.TopN {
			items = items[:a.cfg.TopN]
		}
		ranked[key] = items
	}
	return ranked, nil
}

// periodBounds converts a day or month key into first and last day.
func periodBounds(aggType model.AggregationType, period string) (string, string, error) {
	if aggType == model.AggregationDaily {
		return period, period, nil
	}
	t, err := time.Parse(model.MonthLayout, period)
	if err != nil {
		return "", "", fmt.Errorf("parse month %q: %w", period, err)
	}
	start, end := model.MonthBounds(t)
	return start.Format(model.DateLayout), end.Format(model.DateLayout), nil
}
