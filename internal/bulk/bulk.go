// Package bulk streams translated source rows into the destination in
// bounded multi-row statements.
package bulk

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lherron/channelport/internal/bridge"
	"github.com/lherron/channelport/internal/db"
	"github.com/lherron/channelport/internal/schema"
)

// DefaultBatchSize keeps the widest table under SQLite's bind parameter limit.
const DefaultBatchSize = 750

// Executor runs statements against the destination.
type Executor interface {
	Execute(ctx context.Context, stmt string, args ...any) (sql.Result, error)
	Dialect() db.Dialect
}

// MapFunc translates one source record into the value of a destination field.
type MapFunc func(rec bridge.Record, field string) (any, error)

// Stats reports what one table import wrote.
type Stats struct {
	Rows    int
	Flushes int
}

// Writer buffers translated rows and flushes them in fixed-size batches.
type Writer struct {
	dest      Executor
	batchSize int
	log       zerolog.Logger
}

// NewWriter returns a writer flushing every batchSize rows. A non-positive
// size selects DefaultBatchSize.
func NewWriter(dest Executor, batchSize int, log zerolog.Logger) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{dest: dest, batchSize: batchSize, log: log}
}

// BatchSize returns the number of rows per flush.
func (w *Writer) BatchSize() int {
	return w.batchSize
}

// ImportTable maps every record into a destination row and writes them.
// Exactly one statement is issued per full batch, plus one for any
// remainder at the end of the sequence.
func (w *Writer) ImportTable(ctx context.Context, table *schema.Table, mapper MapFunc, records iter.Seq2[bridge.Record, error]) (Stats, error) {
	var stats Stats

	cols := table.WritableColumns()
	if len(cols) == 0 {
		return stats, fmt.Errorf("table %s has no writable columns", table.Name)
	}
	if limit := w.dest.Dialect().MaxParams; w.batchSize*len(cols) > limit {
		return stats, fmt.Errorf("batch size %d exceeds the %s parameter limit for %s (%d columns)",
			w.batchSize, w.dest.Dialect().Name, table.Name, len(cols))
	}

	buf := make([]any, 0, w.batchSize*len(cols))
	pending := 0

	flush := func() error {
		stmt := InsertStatement(table, cols, pending)
		if _, err := w.dest.Execute(ctx, stmt, buf...); err != nil {
			return fmt.Errorf("failed to write %d rows to %s: %w", pending, table.Name, err)
		}
		stats.Flushes++
		stats.Rows += pending
		w.log.Debug().Str("table", table.Name).Int("rows", pending).Int("flush", stats.Flushes).Msg("flushed batch")
		buf = buf[:0]
		pending = 0
		return nil
	}

	for rec, err := range records {
		if err != nil {
			return stats, err
		}
		for _, col := range cols {
			v, err := mapper(rec, col.Name)
			if err != nil {
				return stats, err
			}
			v, err = schema.Coerce(col, v)
			if err != nil {
				return stats, fmt.Errorf("table %s: %w", table.Name, err)
			}
			buf = append(buf, v)
		}
		pending++

		if pending == w.batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}

	if pending > 0 {
		if err := flush(); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// InsertStatement builds a multi-row insert for rows rows of cols, resolving
// key conflicts according to the table's policy.
func InsertStatement(table *schema.Table, cols []schema.Column, rows int) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}

	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table.Name, strings.Join(names, ", "))
	for i := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
	}

	fmt.Fprintf(&b, " ON CONFLICT (%s) ", strings.Join(table.Key, ", "))

	var updates []string
	if table.Policy == schema.Upsert {
		for _, name := range names {
			if slices.Contains(table.Key, name) || slices.Contains(table.Preserve, name) {
				continue
			}
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", name, name))
		}
	}
	if len(updates) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET ")
		b.WriteString(strings.Join(updates, ", "))
	}
	return b.String()
}
