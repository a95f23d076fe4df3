package cli

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/watzon/vine/internal/database"
	"github.com/watzon/vine/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply the embedded migrations to the database at database.path and
list what has been applied. 'vine serve' does the same on startup; this
command lets a deploy step fail early on a bad database.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := currentConfig()

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer db.Close()

	applied, err := migrations.GetApplied(cmd.Context(), db.DB)
	if err != nil {
		return errors.Wrap(err, "getting applied migrations")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database: %s\n\n", cfg.Database.Path)
	fmt.Fprintln(out, "Applied migrations:")
	for _, m := range applied {
		fmt.Fprintf(out, "  ✓ %s (applied %s)\n", m.ID, m.AppliedAt.Format(displayTimeLayout))
	}

	return nil
}
