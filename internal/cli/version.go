package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/channelport/internal/schema"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Displays version, commit, build date and the catalog schema versions this build can import.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				output := map[string]any{
					"binary":          "channelport",
					"version":         Version,
					"commit":          GitCommit,
					"build_date":      BuildDate,
					"schema_versions": schema.KnownVersions,
					"current_schema":  schema.Current,
				}
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(output)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "channelport version %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", GitCommit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", BuildDate)
			fmt.Fprintf(cmd.OutOrStdout(), "  catalog schema: %s (reads %v)\n", schema.Current, schema.KnownVersions)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
