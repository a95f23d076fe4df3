package cli

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/watzon/vine/internal/database"
	"github.com/watzon/vine/internal/executions"
	"github.com/watzon/vine/internal/scheduler"
)

var sweepThreshold time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail runs stuck in STARTED",
	Long: `Mark every run that has been STARTED for longer than --threshold as
FAILED with the message "stale". The running service does this on its own
every scheduler.sweep_interval; this command runs one pass directly against
the database.

Examples:
  vine sweep
  vine sweep --threshold 30m`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepThreshold, "threshold", 0, "Age after which a run is stale (default: scheduler.stale_threshold)")

	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg := currentConfig()

	threshold := cfg.Scheduler.StaleThreshold
	if cmd.Flags().Changed("threshold") {
		threshold = sweepThreshold
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer db.Close()

	// Sweeping needs neither the engine nor the processor.
	orch := scheduler.New(
		scheduler.NewConfigStore(db),
		executions.NewStore(db),
		nil, nil, nil,
		scheduler.OptionsFromConfig(&cfg.Scheduler),
	)

	swept, err := orch.Sweep(cmd.Context(), threshold)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(swept) == 0 {
		fmt.Fprintf(out, "No runs older than %s.\n", threshold)
		return nil
	}

	fmt.Fprintf(out, "Marked %d stale run(s) as FAILED:\n", len(swept))
	for _, rec := range swept {
		fmt.Fprintf(out, "  #%d started %s\n", rec.ID, rec.StartTime.Local().Format(displayTimeLayout))
	}
	return nil
}
