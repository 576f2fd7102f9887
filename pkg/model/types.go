package model

import "time"

// Date layouts used for day and month keys stored alongside timestamps.
const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"
)

// ExportStatus tracks the import lifecycle of a cost export file.
type ExportStatus string

const (
	ExportPending    ExportStatus = "pending"
	ExportProcessing ExportStatus = "processing"
	ExportCompleted  ExportStatus = "completed"
	ExportFailed     ExportStatus = "failed"
	ExportSuperseded ExportStatus = "superseded"
)

// CostExport is one imported cost file (one part of a FOCUS export run).
type CostExport struct {
	ID                 string       `json:"id" db:"id"`
	BlobPath           string       `json:"blob_path" db:"blob_path"`
	SubscriptionID     string       `json:"subscription_id" db:"subscription_id"`
	ExportName         string       `json:"export_name" db:"export_name"`
	ExportGUID         string       `json:"export_guid" db:"export_guid"`
	PartNumber         int          `json:"part_number" db:"part_number"`
	BillingPeriodStart string       `json:"billing_period_start" db:"billing_period_start"`
	BillingPeriodEnd   string       `json:"billing_period_end" db:"billing_period_end"`
	Status             ExportStatus `json:"status" db:"status"`
	BlobLastModified   time.Time    `json:"blob_last_modified,omitempty" db:"blob_last_modified"`
	BlobETag           string       `json:"blob_etag,omitempty" db:"blob_etag"`
	BlobSize           int64        `json:"blob_size" db:"blob_size"`
	RecordsImported    int64        `json:"records_imported" db:"records_imported"`
	DuplicatesSkipped  int64        `json:"duplicates_skipped" db:"duplicates_skipped"`
	DuplicatesInFile   int64        `json:"duplicates_in_file" db:"duplicates_in_file"`
	RowsFailed         int64        `json:"rows_failed" db:"rows_failed"`
	ErrorMessage       string       `json:"error_message,omitempty" db:"error_message"`
	CreatedAt          time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at" db:"updated_at"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
}

// CostRecord is a single FOCUS line item. Each record belongs to exactly one CostExport.
type CostRecord struct {
	ID                     int64     `json:"id" db:"id"`
	ExportID               string    `json:"export_id" db:"export_id"`
	BilledCost             float64   `json:"billed_cost" db:"billed_cost"`
	EffectiveCost          float64   `json:"effective_cost" db:"effective_cost"`
	ListCost               float64   `json:"list_cost" db:"list_cost"`
	ContractedCost         float64   `json:"contracted_cost" db:"contracted_cost"`
	BillingCurrency        string    `json:"billing_currency" db:"billing_currency"`
	ChargePeriodStart      time.Time `json:"charge_period_start" db:"charge_period_start"`
	ChargePeriodEnd        time.Time `json:"charge_period_end" db:"charge_period_end"`
	ChargeDate             string    `json:"charge_date" db:"charge_date"`
	ChargeMonth            string    `json:"charge_month" db:"charge_month"`
	BillingPeriodStart     string    `json:"billing_period_start" db:"billing_period_start"`
	BillingPeriodEnd       string    `json:"billing_period_end" db:"billing_period_end"`
	BillingAccountID       string    `json:"billing_account_id" db:"billing_account_id"`
	SubAccountID           string    `json:"sub_account_id" db:"sub_account_id"`
	SubAccountName         string    `json:"sub_account_name" db:"sub_account_name"`
	ResourceID             string    `json:"resource_id" db:"resource_id"`
	ResourceName           string    `json:"resource_name" db:"resource_name"`
	ResourceType           string    `json:"resource_type" db:"resource_type"`
	ResourceGroup          string    `json:"resource_group" db:"resource_group"`
	RegionID               string    `json:"region_id" db:"region_id"`
	RegionName             string    `json:"region_name" db:"region_name"`
	ServiceName            string    `json:"service_name" db:"service_name"`
	ServiceCategory        string    `json:"service_category" db:"service_category"`
	SkuID                  string    `json:"sku_id" db:"sku_id"`
	ChargeCategory         string    `json:"charge_category" db:"charge_category"`
	ChargeClass            string    `json:"charge_class" db:"charge_class"`
	ChargeDescription      string    `json:"charge_description" db:"charge_description"`
	ConsumedQuantity       float64   `json:"consumed_quantity" db:"consumed_quantity"`
	ConsumedUnit           string    `json:"consumed_unit" db:"consumed_unit"`
	PricingQuantity        float64   `json:"pricing_quantity" db:"pricing_quantity"`
	PricingUnit            string    `json:"pricing_unit" db:"pricing_unit"`
	CommitmentDiscountID   string    `json:"commitment_discount_id,omitempty" db:"commitment_discount_id"`
	CommitmentDiscountType string    `json:"commitment_discount_type,omitempty" db:"commitment_discount_type"`
	Tags                   string    `json:"tags,omitempty" db:"tags"`
	RecordHash             string    `json:"record_hash" db:"record_hash"`
}

// Charge categories as defined by FOCUS.
const (
	ChargeUsage      = "Usage"
	ChargePurchase   = "Purchase"
	ChargeTax        = "Tax"
	ChargeCredit     = "Credit"
	ChargeAdjustment = "Adjustment"
)

// AggregationType is the period granularity of a CostAggregation.
type AggregationType string

const (
	AggregationDaily   AggregationType = "daily"
	AggregationMonthly AggregationType = "monthly"
)

// DimensionType is a grouping axis for cost aggregation.
type DimensionType string

const (
	DimensionOverall       DimensionType = "overall"
	DimensionSubscription  DimensionType = "subscription"
	DimensionService       DimensionType = "service"
	DimensionResourceGroup DimensionType = "resource_group"
	DimensionRegion        DimensionType = "region"
)

// OverallValue is the dimension value used for the overall dimension.
const OverallValue = "all"

// UnknownValue stands in for an empty dimension or breakdown column.
const UnknownValue = "unknown"

// Dimensions lists every dimension type the aggregator produces.
var Dimensions = []DimensionType{
	DimensionOverall,
	DimensionSubscription,
	DimensionService,
	DimensionResourceGroup,
	DimensionRegion,
}

// Valid reports whether d is a known dimension type.
func (d DimensionType) Valid() bool {
	for _, known := range Dimensions {
		if d == known {
			return true
		}
	}
	return false
}

// DimensionKey identifies one series of aggregates.
type DimensionKey struct {
	Type  DimensionType `json:"dimension_type"`
	Value string        `json:"dimension_value"`
}

// RankedCost is one entry of a top-N breakdown.
type RankedCost struct {
	Name string  `json:"name"`
	Cost float64 `json:"cost"`
}

// CostAggregation is a pre-computed rollup derived from CostRecords.
type CostAggregation struct {
	ID              int64           `json:"id" db:"id"`
	AggregationType AggregationType `json:"aggregation_type" db:"aggregation_type"`
	DimensionType   DimensionType   `json:"dimension_type" db:"dimension_type"`
	DimensionValue  string          `json:"dimension_value" db:"dimension_value"`
	PeriodStart     string          `json:"period_start" db:"period_start"`
	PeriodEnd       string          `json:"period_end" db:"period_end"`
	Currency        string          `json:"currency" db:"currency"`
	TotalCost       float64         `json:"total_cost" db:"total_cost"`
	UsageCost       float64         `json:"usage_cost" db:"usage_cost"`
	PurchaseCost    float64         `json:"purchase_cost" db:"purchase_cost"`
	TaxCost         float64         `json:"tax_cost" db:"tax_cost"`
	RecordCount     int64           `json:"record_count" db:"record_count"`
	TopServices     []RankedCost    `json:"top_services,omitempty" db:"top_services"`
	TopResources    []RankedCost    `json:"top_resources,omitempty" db:"top_resources"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Severity grades an anomaly.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Anomaly types and detection methods.
const (
	AnomalySpike = "spike"

	MethodStatistical = "statistical"
	MethodSuddenSpike = "sudden_spike"
)

// CostAnomaly is a detection result. It references no other row.
type CostAnomaly struct {
	ID               int64         `json:"id" db:"id"`
	DetectedDate     string        `json:"detected_date" db:"detected_date"`
	DimensionType    DimensionType `json:"dimension_type" db:"dimension_type"`
	DimensionValue   string        `json:"dimension_value" db:"dimension_value"`
	AnomalyType      string        `json:"anomaly_type" db:"anomaly_type"`
	DetectionMethod  string        `json:"detection_method" db:"detection_method"`
	Severity         Severity      `json:"severity" db:"severity"`
	ActualCost       float64       `json:"actual_cost" db:"actual_cost"`
	ExpectedCost     float64       `json:"expected_cost" db:"expected_cost"`
	DeviationPercent float64       `json:"deviation_percent" db:"deviation_percent"`
	ZScore           float64       `json:"z_score" db:"z_score"`
	Currency         string        `json:"currency" db:"currency"`
	Description      string        `json:"description" db:"description"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
}

// ForecastMetadata holds model diagnostics for a forecast run.
type ForecastMetadata struct {
	RSquared         float64    `json:"r_squared"`
	RMSE             float64    `json:"rmse"`
	Slope            float64    `json:"slope"`
	Intercept        float64    `json:"intercept"`
	ResidualStdError float64    `json:"residual_std_error"`
	Seasonality      [7]float64 `json:"seasonality"`
	SampleCount      int        `json:"sample_count"`
	TrainingStart    string     `json:"training_start"`
	TrainingEnd      string     `json:"training_end"`
}

// CostForecast is a projected daily cost for one dimension.
type CostForecast struct {
	ID              int64            `json:"id" db:"id"`
	ForecastDate    string           `json:"forecast_date" db:"forecast_date"`
	DimensionType   DimensionType    `json:"dimension_type" db:"dimension_type"`
	DimensionValue  string           `json:"dimension_value" db:"dimension_value"`
	Currency        string           `json:"currency" db:"currency"`
	ForecastCost    float64          `json:"forecast_cost" db:"forecast_cost"`
	LowerBound      float64          `json:"lower_bound" db:"lower_bound"`
	UpperBound      float64          `json:"upper_bound" db:"upper_bound"`
	ConfidenceLevel float64          `json:"confidence_level" db:"confidence_level"`
	ModelType       string           `json:"model_type" db:"model_type"`
	TrainingDays    int              `json:"training_days" db:"training_days"`
	Metadata        ForecastMetadata `json:"metadata" db:"metadata"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}

// Reservation cost sources, lowest precedence first. A stored row is only
// replaced by a row of the same or a higher source.
const (
	ReservationDerived  = "derived"
	ReservationOverride = "override"
	ReservationManual   = "manual"
)

// ReservationCost is the amortized cost of a commitment discount for one billing month.
type ReservationCost struct {
	ReservationID    string    `json:"reservation_id" db:"reservation_id"`
	ReservationName  string    `json:"reservation_name" db:"reservation_name"`
	BillingPeriod    string    `json:"billing_period" db:"billing_period"`
	Currency         string    `json:"currency" db:"currency"`
	PurchaseCost     float64   `json:"purchase_cost" db:"purchase_cost"`
	TermMonths       int       `json:"term_months" db:"term_months"`
	AmortizedMonthly float64   `json:"amortized_monthly" db:"amortized_monthly"`
	AmortizedDaily   float64   `json:"amortized_daily" db:"amortized_daily"`
	Source           string    `json:"source" db:"source"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// ReservationPurchase is the summed purchase cost of one commitment discount.
type ReservationPurchase struct {
	ReservationID   string
	ReservationType string
	Currency        string
	PurchaseCost    float64
	RecordCount     int64
}

// DuplicateGroup is a set of records sharing the same logical charge identity.
type DuplicateGroup struct {
	SubAccountID      string    `json:"sub_account_id"`
	ResourceID        string    `json:"resource_id"`
	ChargePeriodStart time.Time `json:"charge_period_start"`
	ServiceName       string    `json:"service_name"`
	ChargeCategory    string    `json:"charge_category"`
	Currency          string    `json:"currency"`
	RecordIDs         []int64   `json:"record_ids"`
	ExportIDs         []string  `json:"export_ids"`
	TotalBilledCost   float64   `json:"total_billed_cost"`
}

// BreakdownItem is one row of a per-dimension cost breakdown.
type BreakdownItem struct {
	DimensionValue string  `json:"dimension_value"`
	TotalCost      float64 `json:"total_cost"`
	Percentage     float64 `json:"percentage"`
}
