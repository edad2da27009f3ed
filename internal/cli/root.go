package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the channelport command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "channelport",
		Short: "Import content channels into a shared content store",
		Long: `channelport imports content channels, published as portable SQLite catalogs
or as structured payloads, into a destination content store. Catalogs written
by any historical schema version are mapped onto the current schema; newer
versions replace older ones and partial payloads are merged.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("db", "", "Destination database URL (overrides CHANNELPORT_DB_URL)")
	root.PersistentFlags().String("content-dir", "", "Content directory holding databases/<channel>.sqlite3 (overrides CHANNELPORT_CONTENT_DIR)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().Int("batch-size", 0, "Rows per bulk insert statement (overrides CHANNELPORT_BATCH_SIZE)")

	root.AddCommand(
		newMigrateCmd(),
		newImportCmd(),
		newImportDataCmd(),
		newInspectCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
