package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/channelport/internal/cli/appctx"
)

func newMigrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the destination content tables",
		Long: `Migrate applies any pending SQL migrations to the destination.

Migrations are embedded in the binary and tracked via the schema_migrations
table. This command is safe to run multiple times - it only applies migrations
that haven't been applied yet.

Use --status to show the current migration status.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&status, "status", false, "Show current migration status")

	cmd.RunE = appctx.WithApp(appctx.Options{NeedsDB: true, AllowPending: true}, func(app *appctx.App, cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if status {
			applied, pending, err := app.DB.MigrationStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			if len(applied) > 0 {
				fmt.Fprintln(out, "Applied migrations:")
				for _, m := range applied {
					fmt.Fprintf(out, "  ✓ %s\n", m)
				}
			}
			if len(pending) > 0 {
				fmt.Fprintln(out, "Pending migrations:")
				for _, m := range pending {
					fmt.Fprintf(out, "  ○ %s\n", m)
				}
			}
			return nil
		}

		applied, err := app.DB.Migrate(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		if len(applied) == 0 {
			fmt.Fprintln(out, "Database is up to date. No migrations to apply.")
			return nil
		}
		for _, m := range applied {
			fmt.Fprintf(out, "✓ Applied migration: %s\n", m)
		}
		fmt.Fprintf(out, "\nApplied %d migration(s).\n", len(applied))
		return nil
	})
	return cmd
}
