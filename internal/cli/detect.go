package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/finops-hub/pkg/pipeline"
)

var detectCmd = &cobra.Command{
	Use:   "detect-anomalies",
	Short: "Detect cost anomalies in recent daily aggregates",
	RunE:  runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().Int("days", 0, "Trailing days to check (default from config)")
	detectCmd.Flags().Bool("dry-run", false, "Print anomalies without storing or notifying")
}

func runDetect(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	days, _ := cmd.Flags().GetInt("days")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if days <= 0 {
		days = a.cfg.Anomaly.DaysBack
	}

	anomalies, err := a.detector().DetectDaily(cmd.Context(), a.currency, days)
	if err != nil {
		return fmt.Errorf("detect anomalies: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(anomalies) == 0 {
		fmt.Fprintln(out, success("No anomalies in the last %d day(s)", days))
		return nil
	}

	w := newTable(out)
	fmt.Fprintf(w, "  DATE\tSEVERITY\tDIMENSION\tVALUE\tACTUAL\tEXPECTED\tDEVIATION\tMETHOD\n")
	for _, an := range anomalies {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%.2f\t%.2f\t%+.1f%%\t%s\n",
			an.DetectedDate, severityColor(an.Severity)("%s", an.Severity), an.DimensionType, an.DimensionValue,
			an.ActualCost, an.ExpectedCost, an.DeviationPercent, an.DetectionMethod)
	}
	w.Flush()

	if dryRun {
		fmt.Fprintln(out, warning("Dry run: %d anomalies not stored", len(anomalies)))
		return nil
	}

	recorder := pipeline.New(a.store, pipeline.Components{Dispatcher: a.dispatcher(), Metrics: a.metrics}, a.logger)
	stored, res, err := recorder.RecordAnomalies(cmd.Context(), anomalies)
	if err != nil {
		return fmt.Errorf("store anomalies: %w", err)
	}
	fmt.Fprintln(out, success("Stored %d new anomalies, sent %d alerts", stored, res.Sent))
	return nil
}
