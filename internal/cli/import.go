package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lherron/channelport/internal/channelimport"
	"github.com/lherron/channelport/internal/cli/appctx"
	"github.com/lherron/channelport/internal/paths"
	"github.com/lherron/channelport/internal/payload"
	"github.com/lherron/channelport/internal/render"
)

type resultView struct {
	ImportID      string           `json:"import_id" yaml:"import_id"`
	ChannelID     string           `json:"channel_id" yaml:"channel_id"`
	Action        string           `json:"action" yaml:"action"`
	Reason        string           `json:"reason,omitempty" yaml:"reason,omitempty"`
	Version       int64            `json:"version" yaml:"version"`
	SchemaVersion string           `json:"schema_version" yaml:"schema_version"`
	TreeID        int64            `json:"tree_id,omitempty" yaml:"tree_id,omitempty"`
	Partial       bool             `json:"partial" yaml:"partial"`
	Rows          map[string]int   `json:"rows,omitempty" yaml:"rows,omitempty"`
	Purged        map[string]int64 `json:"purged,omitempty" yaml:"purged,omitempty"`
	Error         string           `json:"error,omitempty" yaml:"error,omitempty"`
}

func viewOf(res channelimport.Result, err error) resultView {
	out := resultView{
		ImportID:      res.ImportID,
		ChannelID:     res.ChannelID,
		Action:        string(res.Action),
		Reason:        res.Reason,
		Version:       res.Version,
		SchemaVersion: res.SchemaVersion,
		TreeID:        res.TreeID,
		Partial:       res.Partial,
		Purged:        res.Purged,
	}
	if len(res.Tables) > 0 {
		out.Rows = make(map[string]int, len(res.Tables))
		for table, stats := range res.Tables {
			out.Rows[table] = stats.Rows
		}
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func resultTable(views []resultView) render.Table {
	t := render.Table{Headers: []string{"CHANNEL", "ACTION", "VERSION", "SCHEMA", "TREE", "REASON", "ERROR"}}
	for _, v := range views {
		t.Rows = append(t.Rows, []string{
			v.ChannelID, v.Action, strconv.FormatInt(v.Version, 10), v.SchemaVersion,
			strconv.FormatInt(v.TreeID, 10), v.Reason, v.Error,
		})
	}
	return t
}

// emitter streams table output one line per channel and buffers every other
// format until all results are in.
type emitter struct {
	r     *render.Renderer
	table bool
	w     io.Writer
	views []resultView
}

func newEmitter(w io.Writer, output string) (*emitter, error) {
	format, err := render.ParseFormat(output)
	if err != nil {
		return nil, err
	}
	return &emitter{r: render.New(w, format), table: format == render.FormatTable, w: w}, nil
}

func (e *emitter) add(label string, res channelimport.Result, err error) {
	if e.table {
		printResult(e.w, label, res, err)
		return
	}
	e.views = append(e.views, viewOf(res, err))
}

func (e *emitter) flush(single bool) error {
	switch {
	case e.table:
		return nil
	case !e.r.Structured():
		return e.r.Table(resultTable(e.views))
	case single && len(e.views) == 1:
		return e.r.Value(e.views[0])
	default:
		return e.r.Value(e.views)
	}
}

func printResult(w io.Writer, channelID string, res channelimport.Result, err error) {
	switch {
	case err != nil:
		fmt.Fprintf(w, "✗ %s: %v\n", channelID, err)
	case res.Action == channelimport.ActionSkip:
		fmt.Fprintf(w, "- %s: skipped version %d (%s)\n", channelID, res.Version, res.Reason)
	default:
		total := 0
		for _, stats := range res.Tables {
			total += stats.Rows
		}
		fmt.Fprintf(w, "✓ %s: %s version %d (schema %s, tree %d, %d rows)\n",
			channelID, res.Action, res.Version, res.SchemaVersion, res.TreeID, total)
	}
}

func newImportCmd() *cobra.Command {
	var (
		all    bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "import [channel-id...]",
		Short: "Import channels from catalogs in the content directory",
		Long: `Import reads <content-dir>/databases/<channel-id>.sqlite3 for each channel and
imports it into the destination. A channel already present at the same or a
newer version is left untouched.

Use --all to import every catalog found in the content directory.`,
	}
	cmd.Flags().BoolVar(&all, "all", false, "Import every catalog in the content directory")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, tsv, json, yaml")

	cmd.RunE = appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
		ids := slices.Clone(args)
		if all {
			found, err := paths.ListCatalogs(app.Config.ContentDir)
			if err != nil {
				return err
			}
			ids = append(ids, found...)
		}
		if len(ids) == 0 {
			return errors.New("no channels given (pass channel ids or --all)")
		}

		out, err := newEmitter(cmd.OutOrStdout(), output)
		if err != nil {
			return err
		}

		svc := app.Service()
		var errs []error
		for _, id := range ids {
			res, err := svc.ImportFromLocalCatalog(cmd.Context(), id)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
			}
			if res.ChannelID == "" {
				res.ChannelID = id
			}
			out.add(id, res, err)
		}

		if err := out.flush(false); err != nil {
			return err
		}
		return errors.Join(errs...)
	})
	return cmd
}

func newImportDataCmd() *cobra.Command {
	var (
		partial bool
		output  string
	)

	cmd := &cobra.Command{
		Use:   "import-data <payload-file>",
		Short: "Import a channel from a JSON or CBOR payload",
		Long: `Import-data imports a structured payload: an object mapping table names to
row lists plus a schema_version marker. Files ending in .cbor are read as
CBOR, everything else as JSON.

Use --partial when the payload is one slice of a channel version; slices of
the same version are merged across runs.`,
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVar(&partial, "partial", false, "Payload is one slice of a channel")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, tsv, json, yaml")

	cmd.RunE = appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
		out, err := newEmitter(cmd.OutOrStdout(), output)
		if err != nil {
			return err
		}
		data, err := payload.Load(args[0])
		if err != nil {
			return err
		}

		res, err := app.Service().ImportFromStructuredData(cmd.Context(), data, partial)
		out.add(args[0], res, err)
		if flushErr := out.flush(true); flushErr != nil {
			return flushErr
		}
		return err
	})
	return cmd
}
