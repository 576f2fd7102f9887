package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/finops-hub/pkg/pipeline"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the daily pipeline: import, aggregate, detect anomalies, forecast",
	Long: `Run every pipeline stage in order. A failing stage is reported and the
remaining stages still run; the command exits non-zero if any stage failed.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("skip-import", false, "Skip importing new exports")
	syncCmd.Flags().Int("days", 0, "Days to check for anomalies (default from config)")
}

func runSync(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	skipImport, _ := cmd.Flags().GetBool("skip-import")
	days, _ := cmd.Flags().GetInt("days")

	opts := a.syncOptions(skipImport)
	if days > 0 {
		opts.DetectDays = days
	}

	report := a.pipeline(cmd.Context()).Sync(cmd.Context(), opts)
	printSyncReport(cmd, report)
	if report.Failed() {
		return fmt.Errorf("sync finished with %d failed stage(s)", len(report.Errors))
	}
	return nil
}

func printSyncReport(cmd *cobra.Command, r *pipeline.SyncReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, heading("=== Sync (%s) ===", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)))

	if r.Import != nil {
		fmt.Fprintf(out, "Records imported:   %d (%d duplicates skipped, %d rows failed)\n",
			r.Import.RecordsImported, r.Import.DuplicatesSkipped, r.Import.RowsFailed)
	}
	if r.Aggregation != nil {
		fmt.Fprintf(out, "Aggregates written: %d daily, %d monthly (%s to %s)\n",
			r.Aggregation.Daily, r.Aggregation.Monthly, r.Aggregation.From, r.Aggregation.To)
	}
	fmt.Fprintf(out, "Anomalies:          %d detected, %d new\n", r.AnomaliesDetected, r.AnomaliesStored)
	fmt.Fprintf(out, "Alerts:             %d sent, %d failed\n", r.Alerts.Sent, r.Alerts.Failed)
	fmt.Fprintf(out, "Forecasts written:  %d\n", r.ForecastsWritten)

	for _, e := range r.Errors {
		fmt.Fprintln(out, failure("Stage %s failed: %v", e.Stage, e.Err))
	}
	if !r.Failed() {
		fmt.Fprintln(out, success("Sync complete"))
	}
}
