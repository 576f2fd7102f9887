package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Rebuild daily and monthly cost aggregates",
	RunE:  runAggregate,
}

func init() {
	rootCmd.AddCommand(aggregateCmd)
	aggregateCmd.Flags().Int("days", 0, "Trailing days to rebuild (default from config)")
}

func runAggregate(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	days, _ := cmd.Flags().GetInt("days")
	if days <= 0 {
		days = a.cfg.Aggregation.WindowDays
	}

	result, err := a.aggregator().Run(cmd.Context(), a.currency, days)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), success("Aggregated %s costs from %s to %s: %d daily, %d monthly rows",
		result.Currency, result.From, result.To, result.Daily, result.Monthly))
	return nil
}
