package focus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

// RecordHash returns the content hash used to deduplicate cost records.
// Keys are marshalled in sorted order, timestamps as RFC 3339 UTC and
// amounts in their shortest decimal form, so 1.50 and 1.5 hash identically.
func RecordHash(r *model.CostRecord) string {
	fields := map[string]string{
		"sub_account_id":      r.SubAccountID,
		"resource_id":         r.ResourceID,
		"charge_period_start": r.ChargePeriodStart.UTC().Format(time.RFC3339),
		"charge_period_end":   r.ChargePeriodEnd.UTC().Format(time.RFC3339),
		"billed_cost":         decimal.NewFromFloat(r.BilledCost).String(),
		"billing_currency":    r.BillingCurrency,
		"service_name":        r.ServiceName,
		"charge_category":     r.ChargeCategory,
		"consumed_quantity":   decimal.NewFromFloat(r.ConsumedQuantity).String(),
	}
	// encoding/json sorts map keys
	data, _ := json.Marshal(fields)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
