package model

import "time"

// ExportFilter selects cost exports.
type ExportFilter struct {
	SubscriptionID     string
	ExportName         string
	BillingPeriodStart string
	ExportGUID         string
	Status             ExportStatus
}

// RecordFilter selects cost records. Dates are inclusive YYYY-MM-DD keys.
type RecordFilter struct {
	ExportID string
	Currency string
	FromDate string
	ToDate   string
	Limit    int
}

// Granularity selects the period column used when summing records.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
)

// CostQuery asks the store to sum billed cost by period and dimension.
// From and To are inclusive keys matching the granularity (day or month).
type CostQuery struct {
	Currency    string
	Granularity Granularity
	From        string
	To          string
	Dimension   DimensionType
	// Breakdown optionally adds a second grouping column (service or resource)
	// for top-N computation. Empty means no breakdown.
	Breakdown string
}

// Breakdown columns accepted by CostQuery.
const (
	BreakdownService  = "service"
	BreakdownResource = "resource"
)

// CostGroup is one row produced by a CostQuery.
type CostGroup struct {
	Period         string
	DimensionValue string
	BreakdownValue string
	TotalCost      float64
	UsageCost      float64
	PurchaseCost   float64
	TaxCost        float64
	RecordCount    int64
}

// AggregationFilter selects stored aggregations.
type AggregationFilter struct {
	AggregationType AggregationType
	DimensionType   DimensionType
	DimensionValue  string
	Currency        string
	From            string
	To              string
}

// AggregationScope is the key range a regeneration replaces.
type AggregationScope struct {
	AggregationType AggregationType
	Currency        string
	From            string
	To              string
}

// AnomalyFilter selects stored anomalies.
type AnomalyFilter struct {
	Currency    string
	From        string
	To          string
	MinSeverity Severity
}

// ForecastFilter selects stored forecasts.
type ForecastFilter struct {
	DimensionType  DimensionType
	DimensionValue string
	Currency       string
	From           string
	To             string
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// TrailingWindow returns the first and last day of the window of n days ending at now.
func TrailingWindow(now time.Time, days int) (start, end time.Time) {
	end = Day(now)
	if days < 1 {
		days = 1
	}
	start = end.AddDate(0, 0, -(days - 1))
	return start, end
}

// MonthBounds returns the first and last day of the month containing t.
func MonthBounds(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, -1)
	return start, end
}
