// Package focus reads FOCUS (FinOps Open Cost and Usage Specification) cost
// exports: blob path layout, CSV rows and record content hashes.
package focus

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

// exportPathPattern matches
// subscriptions/{sub}/{export-name}/{YYYYMMDD-YYYYMMDD}/{guid}/part_N_*.csv[.gz]
// optionally preceded by a container prefix.
var exportPathPattern = regexp.MustCompile(
	`(?:^|/)subscriptions/([^/]+)/([^/]+)/(\d{8})-(\d{8})/([^/]+)/(part_(\d+)_[^/]*\.csv(?:\.gz)?)$`)

// ExportPath is the decoded location of one export part.
type ExportPath struct {
	SubscriptionID     string
	ExportName         string
	BillingPeriodStart string
	BillingPeriodEnd   string
	ExportGUID         string
	PartNumber         int
	FileName           string
}

// GroupKey identifies the export run a part belongs to, independent of GUID.
func (p ExportPath) GroupKey() string {
	return p.SubscriptionID + "/" + p.ExportName + "/" + p.BillingPeriodStart
}

// ParsePath decodes a blob path of a FOCUS export part.
func ParsePath(blobPath string) (*ExportPath, error) {
	m := exportPathPattern.FindStringSubmatch(blobPath)
	if m == nil {
		return nil, fmt.Errorf("not a FOCUS export part: %q", blobPath)
	}

	start, err := time.Parse("20060102", m[3])
	if err != nil {
		return nil, fmt.Errorf("parse billing period start %q: %w", m[3], err)
	}
	end, err := time.Parse("20060102", m[4])
	if err != nil {
		return nil, fmt.Errorf("parse billing period end %q: %w", m[4], err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("billing period %s-%s ends before it starts", m[3], m[4])
	}
	part, err := strconv.Atoi(m[7])
	if err != nil {
		return nil, fmt.Errorf("parse part number %q: %w", m[7], err)
	}

	return &ExportPath{
		SubscriptionID:     m[1],
		ExportName:         m[2],
		BillingPeriodStart: start.Format(model.DateLayout),
		BillingPeriodEnd:   end.Format(model.DateLayout),
		ExportGUID:         m[5],
		PartNumber:         part,
		FileName:           m[6],
	}, nil
}

// IsExportPart reports whether blobPath looks like a FOCUS export part.
func IsExportPart(blobPath string) bool {
	return exportPathPattern.MatchString(blobPath)
}

// ListPrefix builds a listing prefix under root, narrowed to a subscription when given.
func ListPrefix(root, subscriptionID string) string {
	prefix := root
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	prefix += "subscriptions/"
	if subscriptionID != "" {
		prefix += subscriptionID + "/"
	}
	return prefix
}
