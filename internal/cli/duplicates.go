package cli

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

var duplicatesCmd = &cobra.Command{
	Use:   "find-duplicates",
	Short: "Find cost records repeated across overlapping exports",
	Long: `Find records that share subscription, resource, charge period, service,
category and currency. With --delete, the record from the newest export is kept.`,
	RunE: runFindDuplicates,
}

func init() {
	rootCmd.AddCommand(duplicatesCmd)
	duplicatesCmd.Flags().Bool("delete", false, "Delete all but the newest record of each group")
}

func runFindDuplicates(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	del, _ := cmd.Flags().GetBool("delete")
	out := cmd.OutOrStdout()

	groups, err := a.store.FindDuplicateGroups(cmd.Context())
	if err != nil {
		return fmt.Errorf("find duplicates: %w", err)
	}
	if len(groups) == 0 {
		fmt.Fprintln(out, success("No duplicate records found"))
		return nil
	}

	w := newTable(out)
	fmt.Fprintf(w, "  SUBSCRIPTION\tRESOURCE\tCHARGE START\tSERVICE\tCATEGORY\tRECORDS\tEXPORTS\tBILLED\n")
	for _, g := range groups {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%d\t%d\t%.2f %s\n",
			g.SubAccountID, g.ResourceID, g.ChargePeriodStart.Format(model.DateLayout), g.ServiceName,
			g.ChargeCategory, len(g.RecordIDs), len(lo.Uniq(g.ExportIDs)), g.TotalBilledCost, g.Currency)
	}
	w.Flush()

	redundant := lo.FlatMap(groups, func(g model.DuplicateGroup, _ int) []int64 { return g.RecordIDs[1:] })
	if !del {
		fmt.Fprintln(out, warning("%d duplicate groups, %d redundant records (re-run with --delete to remove)",
			len(groups), len(redundant)))
		return nil
	}

	deleted, err := a.store.DeleteRecords(cmd.Context(), redundant)
	if err != nil {
		return fmt.Errorf("delete duplicates: %w", err)
	}
	a.logger.Info("duplicate records deleted", "groups", len(groups), "deleted", deleted)
	fmt.Fprintln(out, success("Deleted %d duplicate records; run aggregate to refresh rollups", deleted))
	return nil
}
