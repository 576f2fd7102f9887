package focus_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/finops-hub/pkg/focus"
	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

const sampleCSV = `BilledCost,EffectiveCost,BillingCurrency,ChargePeriodStart,ChargePeriodEnd,SubAccountId,ResourceId,ServiceName,ChargeCategory,ConsumedQuantity,RegionName,Tags
1.50,1.50,eur,2024-01-15T00:00:00Z,2024-01-16T00:00:00Z,sub-1,/subscriptions/sub-1/resourceGroups/RG-App/providers/Microsoft.Compute/virtualMachines/vm1,Virtual Machines,Usage,24,westeurope,"""env"": ""prod"""
not-a-number,0,EUR,2024-01-15,2024-01-16,sub-1,/x,Storage,Usage,1,westeurope,
2.25,2.25,EUR,2024-01-16,,sub-1,/x,Storage,Usage,1,westeurope,{}
`

func TestParsePath(t *testing.T) {
	p, err := focus.ParsePath("exports/subscriptions/sub-1/daily-focus/20240101-20240131/7f3c-guid/part_1_0001.csv.gz")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", p.SubscriptionID)
	assert.Equal(t, "daily-focus", p.ExportName)
	assert.Equal(t, "2024-01-01", p.BillingPeriodStart)
	assert.Equal(t, "2024-01-31", p.BillingPeriodEnd)
	assert.Equal(t, "7f3c-guid", p.ExportGUID)
	assert.Equal(t, 1, p.PartNumber)
	assert.Equal(t, "sub-1/daily-focus/2024-01-01", p.GroupKey())

	_, err = focus.ParsePath("subscriptions/sub-1/daily/20240131-20240101/g/part_0_1.csv")
	assert.Error(t, err)

	assert.False(t, focus.IsExportPart("subscriptions/sub-1/daily/manifest.json"))
	assert.True(t, focus.IsExportPart("subscriptions/sub-1/daily/20240101-20240131/g/part_0_1.csv"))
}

func TestListPrefix(t *testing.T) {
	assert.Equal(t, "subscriptions/", focus.ListPrefix("", ""))
	assert.Equal(t, "exports/subscriptions/sub-1/", focus.ListPrefix("exports", "sub-1"))
	assert.Equal(t, "exports/subscriptions/", focus.ListPrefix("exports/", ""))
}

func readAll(t *testing.T, r *focus.Reader) ([]*model.CostRecord, []error) {
	t.Helper()
	var records []*model.CostRecord
	var rowErrs []error
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return records, rowErrs
		}
		var rowErr *focus.RowError
		if errors.As(err, &rowErr) {
			rowErrs = append(rowErrs, err)
			continue
		}
		require.NoError(t, err)
		records = append(records, rec)
	}
}

func TestReader_ParsesRowsAndSkipsBadOnes(t *testing.T) {
	r, err := focus.NewReader(strings.NewReader(sampleCSV), "part_0_0001.csv")
	require.NoError(t, err)
	defer r.Close()

	records, rowErrs := readAll(t, r)
	require.Len(t, records, 2)
	require.Len(t, rowErrs, 1)
	assert.Contains(t, rowErrs[0].Error(), "line 3")

	first := records[0]
	assert.InDelta(t, 1.5, first.BilledCost, 1e-9)
	assert.Equal(t, "EUR", first.BillingCurrency)
	assert.Equal(t, "2024-01-15", first.ChargeDate)
	assert.Equal(t, "2024-01", first.ChargeMonth)
	assert.Equal(t, "rg-app", first.ResourceGroup)
	assert.Equal(t, `{"env": "prod"}`, first.Tags)
	assert.Len(t, first.RecordHash, 64)

	second := records[1]
	assert.Equal(t, "2024-01-17", second.ChargePeriodEnd.Format(model.DateLayout))
	assert.Equal(t, "{}", second.Tags)
}

func TestReader_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	r, err := focus.NewReader(&buf, "part_0_0001.csv.gz")
	require.NoError(t, err)
	defer r.Close()

	records, _ := readAll(t, r)
	assert.Len(t, records, 2)
}

func TestReader_MissingRequiredColumn(t *testing.T) {
	_, err := focus.NewReader(strings.NewReader("BilledCost,ServiceName\n1,Compute\n"), "x.csv")
	assert.ErrorIs(t, err, focus.ErrMissingColumn)

	_, err = focus.NewReader(strings.NewReader(""), "x.csv")
	assert.Error(t, err)
}

func TestRecordHash_NormalizesDecimals(t *testing.T) {
	header := "BilledCost,BillingCurrency,ChargePeriodStart,ConsumedQuantity\n"
	a, err := focus.NewReader(strings.NewReader(header+"1.50,EUR,2024-01-01,2.0\n"), "a.csv")
	require.NoError(t, err)
	b, err := focus.NewReader(strings.NewReader(header+"1.5,eur,2024-01-01T00:00:00Z,2\n"), "b.csv")
	require.NoError(t, err)

	ra, err := a.Next()
	require.NoError(t, err)
	rb, err := b.Next()
	require.NoError(t, err)
	assert.Equal(t, ra.RecordHash, rb.RecordHash)

	rb.BilledCost = 1.51
	assert.NotEqual(t, ra.RecordHash, focus.RecordHash(rb))
}

func TestResourceGroupFromID(t *testing.T) {
	assert.Equal(t, "rg-data", focus.ResourceGroupFromID("/subscriptions/s/resourcegroups/RG-Data/providers/x"))
	assert.Equal(t, "", focus.ResourceGroupFromID("/subscriptions/s"))
}
