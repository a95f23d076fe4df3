package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watzon/vine/internal/server/handlers"
)

var (
	outputFormat string

	startInterval int

	configureEnabled   bool
	configureInterval  int
	configureStartFrom string

	historyPage int
	historySize int
	historyDays int

	latestLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schedule status",
	Long: `Show the reconciled status of the export schedule: whether it is
enabled, whether a trigger is armed, the next fire time, the processing
watermark and execution counts.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the recurring export",
	Long: `Start the recurring export. The first run happens immediately and then
every --interval minutes. Starting a running schedule with the same interval
is a no-op; a different interval replaces the trigger.

Examples:
  vine start
  vine start --interval 15`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the recurring export",
	Long:  `Remove the recurring trigger. A run already in progress is allowed to finish.`,
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Replace the schedule configuration",
	Long: `Replace the schedule configuration in one call. --enabled decides
whether the schedule ends up running or stopped.

--start-from overrides the processing watermark; the next run exports
everything changed after it. It accepts RFC 3339 ("2024-06-01T00:00:00Z"),
a date-time without zone read as UTC ("2024-06-01 08:00"), a date
("2024-06-01") or a UTC time of day today ("08:00").

Examples:
  vine configure --enabled --interval 60
  vine configure --enabled=false --interval 30
  vine configure --enabled --interval 30 --start-from 2024-06-01T00:00:00Z`,
	Args: cobra.NoArgs,
	RunE: runConfigure,
}

var runNowCmd = &cobra.Command{
	Use:   "run-now",
	Short: "Trigger one export immediately",
	Long: `Fire the export once, whether or not the schedule is running. The run
is asynchronous; use 'vine latest' to follow it.`,
	Args: cobra.NoArgs,
	RunE: runRunNow,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past executions",
	Long: `List past executions, most recent first.

Examples:
  vine history
  vine history --page 1 --size 50
  vine history --days 7 -o json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the most recent executions",
	Args:  cobra.NoArgs,
	RunE:  runLatest,
}

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, startCmd, stopCmd, configureCmd, historyCmd, latestCmd} {
		cmd.Flags().StringVarP(&outputFormat, "output", "o", formatTable, "Output format (table, json, yaml)")
	}

	startCmd.Flags().IntVar(&startInterval, "interval", 0, "Interval in minutes (default: server default)")

	configureCmd.Flags().BoolVar(&configureEnabled, "enabled", false, "Whether the schedule should be running")
	configureCmd.Flags().IntVar(&configureInterval, "interval", 30, "Interval in minutes")
	configureCmd.Flags().StringVar(&configureStartFrom, "start-from", "", "Override the processing watermark")

	historyCmd.Flags().IntVar(&historyPage, "page", 0, "Page number, starting at 0")
	historyCmd.Flags().IntVar(&historySize, "size", 20, "Page size")
	historyCmd.Flags().IntVar(&historyDays, "days", 0, "Only runs started in the last N days")

	latestCmd.Flags().IntVarP(&latestLimit, "limit", "n", 10, "Number of executions")

	rootCmd.AddCommand(statusCmd, startCmd, stopCmd, configureCmd, runNowCmd, historyCmd, latestCmd)
}

// clientFor validates the output flag and builds an API client from config.
func clientFor(cmd *cobra.Command) (*apiClient, context.Context, error) {
	if cmd.Flags().Lookup("output") != nil {
		if err := validateFormat(outputFormat); err != nil {
			return nil, nil, err
		}
	}
	client, err := newAPIClient(currentConfig().Client)
	if err != nil {
		return nil, nil, err
	}
	return client, cmd.Context(), nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, ctx, err := clientFor(cmd)
	if err != nil {
		return err
	}

	view, err := client.Status(ctx)
	if err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), outputFormat, view)
}

func runStart(cmd *cobra.Command, args []string) error {
	client, ctx, err := clientFor(cmd)
	if err != nil {
		return err
	}

	view, err := client.Start(ctx, startInterval)
	if err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), outputFormat, view)
}

func runStop(cmd *cobra.Command, args []string) error {
	client, ctx, err := clientFor(cmd)
	if err != nil {
		return err
	}

	view, err := client.Stop(ctx)
	if err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), outputFormat, view)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	client, ctx, err := clientFor(cmd)
	if err != nil {
		return err
	}

	view, err := client.Configure(ctx, handlers.ConfigRequest{
		Enabled:         configureEnabled,
		IntervalMinutes: configureInterval,
		StartFromTime:   configureStartFrom,
	})
	if err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), outputFormat, view)
}

func runRunNow(cmd *cobra.Command, args []string) error {
	client, ctx, err := clientFor(cmd)
	if err != nil {
		return err
	}

	msg, err := client.RunNow(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	client, ctx, err := clientFor(cmd)
	if err != nil {
		return err
	}

	page, err := client.History(ctx, historyPage, historySize, historyDays)
	if err != nil {
		return err
	}
	return printHistory(cmd.OutOrStdout(), outputFormat, page)
}

func runLatest(cmd *cobra.Command, args []string) error {
	client, ctx, err := clientFor(cmd)
	if err != nil {
		return err
	}

	page, err := client.Latest(ctx, latestLimit)
	if err != nil {
		return err
	}
	return printHistory(cmd.OutOrStdout(), outputFormat, page)
}
