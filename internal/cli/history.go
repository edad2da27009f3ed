package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lherron/channelport/internal/bridge"
	"github.com/lherron/channelport/internal/channelimport"
	"github.com/lherron/channelport/internal/cli/appctx"
	"github.com/lherron/channelport/internal/id"
	"github.com/lherron/channelport/internal/render"
	"github.com/lherron/channelport/internal/schema"
)

func newHistoryCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "history <channel-id>",
		Short: "List recorded import attempts for a channel",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, tsv, json, yaml")

	cmd.RunE = appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
		format, err := render.ParseFormat(output)
		if err != nil {
			return err
		}
		channelID, err := id.Normalize(args[0])
		if err != nil {
			return err
		}

		dest := bridge.NewDestination(app.DB, schema.Content())
		defer dest.End()

		entries, err := channelimport.History(cmd.Context(), dest, channelID)
		if err != nil {
			return err
		}

		r := render.New(cmd.OutOrStdout(), format)
		if r.Structured() {
			if entries == nil {
				entries = []channelimport.LogEntry{}
			}
			return r.Value(entries)
		}

		if len(entries) == 0 && format == render.FormatTable {
			fmt.Fprintf(cmd.OutOrStdout(), "No imports recorded for %s.\n", channelID)
			return nil
		}
		t := render.Table{Headers: []string{"IMPORT", "STARTED", "ACTION", "VERSION", "SCHEMA", "PARTIAL", "REASON"}}
		for _, e := range entries {
			t.Rows = append(t.Rows, []string{
				e.ID, e.StartedAt.Local().Format(time.DateTime), string(e.Action),
				strconv.FormatInt(e.Version, 10), e.SchemaVersion, strconv.FormatBool(e.Partial), e.Reason,
			})
		}
		return r.Table(t)
	})
	return cmd
}
