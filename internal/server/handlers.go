package server

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

const requestTimeout = 10 * time.Second

// Summary is the cost overview for a trailing window.
type Summary struct {
	Currency           string  `json:"currency"`
	PeriodStart        string  `json:"period_start"`
	PeriodEnd          string  `json:"period_end"`
	Days               int     `json:"days"`
	TotalCost          float64 `json:"total_cost"`
	UsageCost          float64 `json:"usage_cost"`
	PurchaseCost       float64 `json:"purchase_cost"`
	TaxCost            float64 `json:"tax_cost"`
	DailyAverage       float64 `json:"daily_average"`
	PreviousPeriodCost float64 `json:"previous_period_cost"`
	ChangePercent      float64 `json:"change_percent"`
	AnomalyCount       int     `json:"anomaly_count"`
	ForecastNext30Days float64 `json:"forecast_next_30_days"`
}

// TrendPoint is one day of a cost series.
type TrendPoint struct {
	Date      string  `json:"date"`
	TotalCost float64 `json:"total_cost"`
}

// handle wraps a handler with a timeout and maps parameter errors to 400.
func (s *Server) handle(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, p params) (any, error)) {
	p, err := s.parseParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	v, err := fn(ctx, p)
	if err != nil {
		var bad errBadParam
		if errors.As(err, &bad) {
			writeError(w, http.StatusBadRequest, bad.Error())
			return
		}
		s.logger.Error("api request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, func(ctx context.Context, p params) (any, error) {
		current, err := s.overall(ctx, p.currency, p.from, p.to)
		if err != nil {
			return nil, err
		}

		start, _ := time.Parse(model.DateLayout, p.from)
		prevStart, prevEnd := model.TrailingWindow(start.AddDate(0, 0, -1), p.days)
		previous, err := s.overall(ctx, p.currency, prevStart.Format(model.DateLayout), prevEnd.Format(model.DateLayout))
		if err != nil {
			return nil, err
		}

		anomalies, err := s.store.ListAnomalies(ctx, model.AnomalyFilter{Currency: p.currency, From: p.from, To: p.to})
		if err != nil {
			return nil, fmt.Errorf("list anomalies: %w", err)
		}

		today := model.Day(s.now())
		forecasts, err := s.store.ListForecasts(ctx, model.ForecastFilter{
			DimensionType:  model.DimensionOverall,
			DimensionValue: model.OverallValue,
			Currency:       p.currency,
			From:           today.AddDate(0, 0, 1).Format(model.DateLayout),
			To:             today.AddDate(0, 0, 30).Format(model.DateLayout),
		})
		if err != nil {
			return nil, fmt.Errorf("list forecasts: %w", err)
		}

		sum := Summary{
			Currency:     p.currency,
			PeriodStart:  p.from,
			PeriodEnd:    p.to,
			Days:         p.days,
			AnomalyCount: len(anomalies),
		}
		for _, a := range current {
			sum.TotalCost += a.TotalCost
			sum.UsageCost += a.UsageCost
			sum.PurchaseCost += a.PurchaseCost
			sum.TaxCost += a.TaxCost
		}
		sum.DailyAverage = sum.TotalCost / float64(p.days)
		sum.PreviousPeriodCost = lo.SumBy(previous, func(a model.CostAggregation) float64 { return a.TotalCost })
		if sum.PreviousPeriodCost != 0 {
			sum.ChangePercent = (sum.TotalCost - sum.PreviousPeriodCost) / sum.PreviousPeriodCost * 100
		}
		sum.ForecastNext30Days = lo.SumBy(forecasts, func(f model.CostForecast) float64 { return f.ForecastCost })
		return sum, nil
	})
}

func (s *Server) overall(ctx context.Context, currency, from, to string) ([]model.CostAggregation, error) {
	aggs, err := s.store.ListAggregations(ctx, model.AggregationFilter{
		AggregationType: model.AggregationDaily,
		DimensionType:   model.DimensionOverall,
		DimensionValue:  model.OverallValue,
		Currency:        currency,
		From:            from,
		To:              to,
	})
	if err != nil {
		return nil, fmt.Errorf("list overall aggregates: %w", err)
	}
	return aggs, nil
}

func (s *Server) handleBreakdown(dim model.DimensionType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.handle(w, r, func(ctx context.Context, p params) (any, error) {
			items, err := s.store.Breakdown(ctx, dim, p.currency, p.from, p.to)
			if err != nil {
				return nil, fmt.Errorf("breakdown by %s: %w", dim, err)
			}
			if items == nil {
				items = []model.BreakdownItem{}
			}
			return items, nil
		})
	}
}

func (s *Server) handleDailyTrend(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, func(ctx context.Context, p params) (any, error) {
		dim, value, err := seriesOf(p)
		if err != nil {
			return nil, err
		}
		aggs, err := s.store.ListAggregations(ctx, model.AggregationFilter{
			AggregationType: model.AggregationDaily,
			DimensionType:   dim,
			DimensionValue:  value,
			Currency:        p.currency,
			From:            p.from,
			To:              p.to,
		})
		if err != nil {
			return nil, fmt.Errorf("list daily trend: %w", err)
		}
		return lo.Map(aggs, func(a model.CostAggregation, _ int) TrendPoint {
			return TrendPoint{Date: a.PeriodStart, TotalCost: a.TotalCost}
		}), nil
	})
}

// seriesOf resolves the dimension series named by the request, defaulting to overall.
func seriesOf(p params) (model.DimensionType, string, error) {
	if p.dimensionType == "" || p.dimensionType == model.DimensionOverall {
		return model.DimensionOverall, model.OverallValue, nil
	}
	if p.dimensionValue == "" {
		return "", "", errBadParam("dimension_value is required for dimension_type " + string(p.dimensionType))
	}
	return p.dimensionType, p.dimensionValue, nil
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	p, err := s.parseParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dim := p.dimensionType
	if dim == "" {
		dim = model.DimensionService
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	aggs, err := s.store.ListAggregations(ctx, model.AggregationFilter{
		AggregationType: model.AggregationDaily,
		DimensionType:   dim,
		DimensionValue:  p.dimensionValue,
		Currency:        p.currency,
		From:            p.from,
		To:              p.to,
	})
	if err != nil {
		s.logger.Error("export costs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="costs_%s_%s_%s.csv"`, dim, p.from, p.to))

	cw := csv.NewWriter(w)
	cw.Write([]string{"date", "dimension_type", "dimension_value", "currency",
		"total_cost", "usage_cost", "purchase_cost", "tax_cost", "record_count"})
	for _, a := range aggs {
		cw.Write([]string{
			a.PeriodStart,
			string(a.DimensionType),
			a.DimensionValue,
			a.Currency,
			money(a.TotalCost),
			money(a.UsageCost),
			money(a.PurchaseCost),
			money(a.TaxCost),
			strconv.FormatInt(a.RecordCount, 10),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Error("write csv export", "error", err)
	}
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, func(ctx context.Context, p params) (any, error) {
		minSeverity := model.Severity(r.URL.Query().Get("min_severity"))
		if minSeverity != "" && minSeverity.Rank() == 0 {
			return nil, errBadParam("unknown min_severity " + strconv.Quote(string(minSeverity)))
		}
		anomalies, err := s.store.ListAnomalies(ctx, model.AnomalyFilter{
			Currency:    p.currency,
			From:        p.from,
			To:          p.to,
			MinSeverity: minSeverity,
		})
		if err != nil {
			return nil, fmt.Errorf("list anomalies: %w", err)
		}
		if p.dimensionType != "" {
			anomalies = lo.Filter(anomalies, func(a model.CostAnomaly, _ int) bool {
				return a.DimensionType == p.dimensionType &&
					(p.dimensionValue == "" || a.DimensionValue == p.dimensionValue)
			})
		}
		if anomalies == nil {
			anomalies = []model.CostAnomaly{}
		}
		return anomalies, nil
	})
}

// handleForecasts returns forecasts from tomorrow through the next days days.
func (s *Server) handleForecasts(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, func(ctx context.Context, p params) (any, error) {
		dim, value, err := seriesOf(p)
		if err != nil {
			return nil, err
		}
		today := model.Day(s.now())
		forecasts, err := s.store.ListForecasts(ctx, model.ForecastFilter{
			DimensionType:  dim,
			DimensionValue: value,
			Currency:       p.currency,
			From:           today.AddDate(0, 0, 1).Format(model.DateLayout),
			To:             today.AddDate(0, 0, p.days).Format(model.DateLayout),
		})
		if err != nil {
			return nil, fmt.Errorf("list forecasts: %w", err)
		}
		if forecasts == nil {
			forecasts = []model.CostForecast{}
		}
		return forecasts, nil
	})
}
