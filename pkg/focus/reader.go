package focus

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

// FOCUS column names (matched case-insensitively).
const (
	ColBilledCost             = "billedcost"
	ColEffectiveCost          = "effectivecost"
	ColListCost               = "listcost"
	ColContractedCost         = "contractedcost"
	ColBillingCurrency        = "billingcurrency"
	ColChargePeriodStart      = "chargeperiodstart"
	ColChargePeriodEnd        = "chargeperiodend"
	ColBillingPeriodStart     = "billingperiodstart"
	ColBillingPeriodEnd       = "billingperiodend"
	ColBillingAccountID       = "billingaccountid"
	ColSubAccountID           = "subaccountid"
	ColSubAccountName         = "subaccountname"
	ColResourceID             = "resourceid"
	ColResourceName           = "resourcename"
	ColResourceType           = "resourcetype"
	ColResourceGroup          = "x_resourcegroupname"
	ColRegionID               = "regionid"
	ColRegionName             = "regionname"
	ColServiceName            = "servicename"
	ColServiceCategory        = "servicecategory"
	ColSkuID                  = "skuid"
	ColChargeCategory         = "chargecategory"
	ColChargeClass            = "chargeclass"
	ColChargeDescription      = "chargedescription"
	ColConsumedQuantity       = "consumedquantity"
	ColConsumedUnit           = "consumedunit"
	ColPricingQuantity        = "pricingquantity"
	ColPricingUnit            = "pricingunit"
	ColCommitmentDiscountID   = "commitmentdiscountid"
	ColCommitmentDiscountType = "commitmentdiscounttype"
	ColTags                   = "tags"
)

// RequiredColumns must be present in every export header.
var RequiredColumns = []string{ColBilledCost, ColBillingCurrency, ColChargePeriodStart}

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// RowError describes a single unparseable row. The reader stays usable.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Reader streams FOCUS CSV rows as cost records.
type Reader struct {
	csv     *csv.Reader
	columns map[string]int
	closer  io.Closer
	line    int
}

// NewReader wraps r, transparently decompressing when name ends in .gz,
// and reads the header row.
func NewReader(r io.Reader, name string) (*Reader, error) {
	fr := &Reader{}
	if strings.HasSuffix(strings.ToLower(name), ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		fr.closer = gz
		r = gz
	}

	fr.csv = csv.NewReader(r)
	fr.csv.FieldsPerRecord = -1
	fr.csv.LazyQuotes = true
	fr.csv.ReuseRecord = true

	header, err := fr.csv.Read()
	if err != nil {
		fr.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: empty file")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	fr.line = 1

	fr.columns = make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		fr.columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range RequiredColumns {
		if _, ok := fr.columns[col]; !ok {
			fr.Close()
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}
	return fr, nil
}

// Close releases the decompressor, if any. It does not close the underlying reader.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Next returns the next record. It returns io.EOF at the end of input and a
// *RowError for rows that cannot be parsed; other errors are fatal.
func (r *Reader) Next() (*model.CostRecord, error) {
	row, err := r.csv.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			r.line++
			return nil, &RowError{Line: r.line, Err: err}
		}
		return nil, err
	}
	r.line++

	rec, err := r.parse(row)
	if err != nil {
		return nil, &RowError{Line: r.line, Err: err}
	}
	return rec, nil
}

func (r *Reader) field(row []string, col string) string {
	i, ok := r.columns[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (r *Reader) parse(row []string) (*model.CostRecord, error) {
	rec := &model.CostRecord{
		BillingCurrency:        strings.ToUpper(r.field(row, ColBillingCurrency)),
		BillingAccountID:       r.field(row, ColBillingAccountID),
		SubAccountID:           r.field(row, ColSubAccountID),
		SubAccountName:         r.field(row, ColSubAccountName),
		ResourceID:             r.field(row, ColResourceID),
		ResourceName:           r.field(row, ColResourceName),
		ResourceType:           r.field(row, ColResourceType),
		ResourceGroup:          r.field(row, ColResourceGroup),
		RegionID:               r.field(row, ColRegionID),
		RegionName:             r.field(row, ColRegionName),
		ServiceName:            r.field(row, ColServiceName),
		ServiceCategory:        r.field(row, ColServiceCategory),
		SkuID:                  r.field(row, ColSkuID),
		ChargeCategory:         r.field(row, ColChargeCategory),
		ChargeClass:            r.field(row, ColChargeClass),
		ChargeDescription:      r.field(row, ColChargeDescription),
		ConsumedUnit:           r.field(row, ColConsumedUnit),
		PricingUnit:            r.field(row, ColPricingUnit),
		CommitmentDiscountID:   r.field(row, ColCommitmentDiscountID),
		CommitmentDiscountType: r.field(row, ColCommitmentDiscountType),
		Tags:                   normalizeTags(r.field(row, ColTags)),
	}
	if rec.BillingCurrency == "" {
		return nil, fmt.Errorf("empty BillingCurrency")
	}
	if rec.ResourceGroup == "" {
		rec.ResourceGroup = ResourceGroupFromID(rec.ResourceID)
	}

	var err error
	amounts := []struct {
		col      string
		dst      *float64
		required bool
	}{
		{ColBilledCost, &rec.BilledCost, true},
		{ColEffectiveCost, &rec.EffectiveCost, false},
		{ColListCost, &rec.ListCost, false},
		{ColContractedCost, &rec.ContractedCost, false},
		{ColConsumedQuantity, &rec.ConsumedQuantity, false},
		{ColPricingQuantity, &rec.PricingQuantity, false},
	}
	for _, a := range amounts {
		if *a.dst, err = parseDecimal(r.field(row, a.col), a.required); err != nil {
			return nil, fmt.Errorf("%s: %w", a.col, err)
		}
	}

	if rec.ChargePeriodStart, err = parseTime(r.field(row, ColChargePeriodStart)); err != nil {
		return nil, fmt.Errorf("%s: %w", ColChargePeriodStart, err)
	}
	if v := r.field(row, ColChargePeriodEnd); v != "" {
		if rec.ChargePeriodEnd, err = parseTime(v); err != nil {
			return nil, fmt.Errorf("%s: %w", ColChargePeriodEnd, err)
		}
	} else {
		rec.ChargePeriodEnd = rec.ChargePeriodStart.Add(24 * time.Hour)
	}
	rec.ChargeDate = rec.ChargePeriodStart.Format(model.DateLayout)
	rec.ChargeMonth = rec.ChargePeriodStart.Format(model.MonthLayout)

	if v := r.field(row, ColBillingPeriodStart); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ColBillingPeriodStart, err)
		}
		rec.BillingPeriodStart = t.Format(model.DateLayout)
	}
	if v := r.field(row, ColBillingPeriodEnd); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ColBillingPeriodEnd, err)
		}
		rec.BillingPeriodEnd = t.Format(model.DateLayout)
	}

	rec.RecordHash = RecordHash(rec)
	return rec, nil
}

func parseDecimal(v string, required bool) (float64, error) {
	if v == "" {
		if required {
			return 0, fmt.Errorf("empty value")
		}
		return 0, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", v)
	}
	return d.InexactFloat64(), nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
}

// ResourceGroupFromID extracts the resource group segment of an Azure resource ID.
func ResourceGroupFromID(resourceID string) string {
	parts := strings.Split(resourceID, "/")
	for i := 0; i+1 < len(parts); i++ {
		if strings.EqualFold(parts[i], "resourcegroups") {
			return strings.ToLower(parts[i+1])
		}
	}
	return ""
}

// normalizeTags returns a JSON object string. Azure sometimes omits the braces.
func normalizeTags(v string) string {
	if v == "" {
		return "{}"
	}
	if json.Valid([]byte(v)) && strings.HasPrefix(v, "{") {
		return v
	}
	if wrapped := "{" + v + "}"; json.Valid([]byte(wrapped)) {
		return wrapped
	}
	return "{}"
}
