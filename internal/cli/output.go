package cli

import (
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

var (
	success = color.New(color.FgGreen, color.Bold).SprintfFunc()
	warning = color.New(color.FgYellow, color.Bold).SprintfFunc()
	failure = color.New(color.FgRed, color.Bold).SprintfFunc()
	heading = color.New(color.FgCyan, color.Bold).SprintfFunc()
)

func newTable(w io.Writer) *tabwriter.Writer {
	if w == nil {
		w = os.Stdout
	}
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func severityColor(s model.Severity) func(format string, a ...any) string {
	switch s {
	case model.SeverityCritical:
		return failure
	case model.SeverityHigh, model.SeverityMedium:
		return warning
	default:
		return success
	}
}
