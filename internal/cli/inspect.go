package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/channelport/internal/bridge"
	"github.com/lherron/channelport/internal/channelimport"
	"github.com/lherron/channelport/internal/cli/appctx"
	"github.com/lherron/channelport/internal/mapping"
	"github.com/lherron/channelport/internal/schema"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <catalog-file>",
		Short: "Show a catalog's schema version and how its tables differ from the destination",
		Long: `Inspect opens a catalog read-only, reports the channel it holds and the schema
version it was written in, and prints a unified diff of each table's columns
against the current destination schema.`,
		Args: cobra.ExactArgs(1),
		RunE: appctx.WithApp(appctx.Options{}, func(app *appctx.App, cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			catalog, err := bridge.OpenCatalog(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer catalog.End()

			info, err := channelimport.ReadChannel(cmd.Context(), catalog)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "channel:        %s\n", info.ID)
			fmt.Fprintf(out, "version:        %d\n", info.Version)
			fmt.Fprintf(out, "schema version: %s", catalog.SchemaVersion())
			if catalog.Shape() != catalog.SchemaVersion() {
				fmt.Fprintf(out, " (%s)", catalog.Shape())
			}
			fmt.Fprintln(out)

			strategy, err := mapping.Lookup(catalog.SchemaVersion(), catalog.Shape())
			if err != nil {
				fmt.Fprintf(out, "importable:     no (%v)\n", err)
			} else {
				fmt.Fprintf(out, "importable:     yes (strategy %s)\n", strategy.Version)
			}

			for _, table := range schema.Content().Tables() {
				source := strategySource(strategy, table.Name)
				info, ok := catalog.GetClass(source)
				if !ok {
					fmt.Fprintf(out, "\n%s: not in catalog\n", table.Name)
					continue
				}
				diff, err := schema.Drift(table.Name, info.Columns, table.ColumnNames())
				if err != nil {
					return err
				}
				if diff != "" {
					fmt.Fprintf(out, "\n%s", diff)
				}
			}
			return nil
		}),
	}
}

func strategySource(s *mapping.Strategy, table string) string {
	if s == nil {
		return table
	}
	return s.Mapping(table).Source
}
