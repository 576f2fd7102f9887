package cli

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast daily costs",
	Long: `Forecast the overall cost and every active subscription and service, or a
single series with --dimension-type and --dimension-value.`,
	RunE: runForecast,
}

func init() {
	rootCmd.AddCommand(forecastCmd)
	forecastCmd.Flags().Int("days", 0, "Days to forecast (default from config)")
	forecastCmd.Flags().Int("training-days", 0, "Days of history to train on (default from config)")
	forecastCmd.Flags().String("dimension-type", "", "Forecast one dimension type (overall, subscription, service, resource_group, region)")
	forecastCmd.Flags().String("dimension-value", "", "Dimension value for --dimension-type")
}

func runForecast(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	days, _ := cmd.Flags().GetInt("days")
	trainingDays, _ := cmd.Flags().GetInt("training-days")
	dimType, _ := cmd.Flags().GetString("dimension-type")
	dimValue, _ := cmd.Flags().GetString("dimension-value")

	f := a.forecaster()
	var forecasts []model.CostForecast
	if dimType != "" {
		dt := model.DimensionType(dimType)
		if !dt.Valid() {
			return fmt.Errorf("unknown dimension type %q", dimType)
		}
		if dt == model.DimensionOverall {
			dimValue = model.OverallValue
		}
		if dimValue == "" {
			return fmt.Errorf("--dimension-value is required for dimension type %s", dimType)
		}
		forecasts, err = f.Forecast(cmd.Context(), dt, dimValue, days, trainingDays, a.currency)
	} else {
		forecasts, err = f.ForecastActive(cmd.Context(), a.currency, days, trainingDays)
	}
	if err != nil {
		return fmt.Errorf("forecast: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(forecasts) == 0 {
		fmt.Fprintln(out, warning("Not enough history to forecast"))
		return nil
	}
	if err := a.store.UpsertForecasts(cmd.Context(), forecasts); err != nil {
		return fmt.Errorf("store forecasts: %w", err)
	}

	series := lo.GroupBy(forecasts, func(fc model.CostForecast) model.DimensionKey {
		return model.DimensionKey{Type: fc.DimensionType, Value: fc.DimensionValue}
	})
	w := newTable(out)
	fmt.Fprintf(w, "  DIMENSION\tVALUE\tDAYS\tTOTAL\tR²\n")
	keys := lo.Keys(series)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].Value < keys[j].Value
	})
	for _, key := range keys {
		s := series[key]
		total := lo.SumBy(s, func(fc model.CostForecast) float64 { return fc.ForecastCost })
		fmt.Fprintf(w, "  %s\t%s\t%d\t%.2f %s\t%.3f\n", key.Type, key.Value, len(s), total, a.currency, s[0].Metadata.RSquared)
	}
	w.Flush()

	fmt.Fprintln(out, success("Stored %d forecasts for %d series", len(forecasts), len(series)))
	return nil
}
