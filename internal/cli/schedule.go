package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run sync on the configured cron schedule",
	Long: `Run the daily pipeline on schedule.cron (standard five-field syntax) until
interrupted. Runs never overlap; a run still in progress delays the next one.`,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().String("cron", "", "Cron expression (default from config)")
	scheduleCmd.Flags().Bool("run-now", false, "Run a sync immediately before waiting for the schedule")
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	expr, _ := cmd.Flags().GetString("cron")
	runNow, _ := cmd.Flags().GetBool("run-now")
	if expr == "" {
		expr = a.cfg.Schedule.Cron
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := a.pipeline(ctx)
	sync := func() {
		report := p.Sync(ctx, a.syncOptions(false))
		if report.Failed() {
			a.logger.Error("scheduled sync failed", "error", report.Err())
		}
	}

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(expr, sync); err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}

	if runNow {
		sync()
	}

	scheduler.Start()
	a.logger.Info("scheduler started", "cron", expr, "next_run", scheduler.Entries()[0].Next)
	fmt.Fprintln(cmd.OutOrStdout(), success("Scheduled sync on %q", expr))

	<-ctx.Done()
	a.logger.Info("scheduler stopping")
	<-scheduler.Stop().Done()
	a.logger.Info("scheduler stopped")
	return nil
}
