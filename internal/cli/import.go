package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/finops-hub/pkg/importer"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import FOCUS cost exports",
	Long: `Import cost export parts from the configured blob source, or a single local
file with --file. Unchanged parts are skipped; newer export runs supersede older ones.`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringP("subscription", "s", "", "Only import exports of this subscription")
	importCmd.Flags().StringP("period", "P", "", "Only import this billing period (YYYY-MM)")
	importCmd.Flags().Bool("force", false, "Re-import parts even if unchanged")
	importCmd.Flags().StringP("file", "f", "", "Import a single local CSV or CSV.GZ file")
}

func runImport(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	subscription, _ := cmd.Flags().GetString("subscription")
	period, _ := cmd.Flags().GetString("period")
	force, _ := cmd.Flags().GetBool("force")
	file, _ := cmd.Flags().GetString("file")
	out := cmd.OutOrStdout()

	if file != "" {
		im, err := a.importer(cmd.Context(), false)
		if err != nil {
			return err
		}
		export, err := im.ImportFile(cmd.Context(), file)
		if err != nil {
			fmt.Fprintln(out, failure("Import of %s failed: %v", file, err))
			return err
		}
		fmt.Fprintln(out, success("Imported %s: %d records, %d duplicates skipped, %d rows failed",
			file, export.RecordsImported, export.DuplicatesSkipped, export.RowsFailed))
		return nil
	}

	im, err := a.importer(cmd.Context(), true)
	if err != nil {
		return err
	}
	result, err := im.Run(cmd.Context(), importer.RunOptions{
		SubscriptionID: subscription,
		BillingPeriod:  period,
		Force:          force,
	})
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	printImportResult(cmd, result)
	return nil
}

func printImportResult(cmd *cobra.Command, r *importer.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, heading("=== Import ==="))

	w := newTable(out)
	fmt.Fprintf(w, "  EXPORT\tSTATUS\tRECORDS\tDUPLICATES\tFAILED ROWS\n")
	for _, e := range r.Exports {
		fmt.Fprintf(w, "  %s\t%s\t%d\t%d\t%d\n", e.BlobPath, e.Status, e.RecordsImported, e.DuplicatesSkipped, e.RowsFailed)
	}
	w.Flush()

	fmt.Fprintf(out, "\nRecords imported:   %d\n", r.RecordsImported)
	fmt.Fprintf(out, "Duplicates skipped: %d (%d within files)\n", r.DuplicatesSkipped, r.DuplicatesInFile)
	fmt.Fprintf(out, "Exports skipped:    %d\n", r.ExportsSkipped)
	fmt.Fprintf(out, "Exports superseded: %d (%d records removed)\n", r.ExportsSuperseded, r.RecordsDeleted)

	switch {
	case r.ExportsFailed > 0:
		fmt.Fprintln(out, failure("%d export part(s) failed", r.ExportsFailed))
	case r.RowsFailed > 0:
		fmt.Fprintln(out, warning("%d row(s) could not be parsed", r.RowsFailed))
	default:
		fmt.Fprintln(out, success("Import complete"))
	}
}
