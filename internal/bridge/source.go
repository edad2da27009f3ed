// Package bridge connects the import engine to both ends of a channel import:
// a read-only source (a catalog file or an already-parsed payload) reflected in
// whatever schema version it was authored with, and a read-write destination
// in the current schema.
package bridge

import (
	"context"
	"iter"
	"slices"
)

// Record is one source row. Get reports whether the field exists at all,
// which is distinct from the field holding NULL.
type Record interface {
	Get(field string) (any, bool)
}

// Row is a Record backed by a column map.
type Row map[string]any

// Get implements Record.
func (r Row) Get(field string) (any, bool) {
	v, ok := r[field]
	return v, ok
}

// TableInfo is the reflected shape of a source table.
type TableInfo struct {
	Name    string
	Columns []string
}

// HasColumn reports whether the source table carries the named column.
func (t *TableInfo) HasColumn(name string) bool {
	return slices.Contains(t.Columns, name)
}

// Source is the read side of an import.
type Source interface {
	// SchemaVersion is the version the source was authored in.
	SchemaVersion() string

	// Shape refines SchemaVersion for unversioned sources; it equals
	// SchemaVersion otherwise.
	Shape() string

	// GetClass returns the reflected table, or false if the source lacks it.
	GetClass(table string) (*TableInfo, bool)

	// Records lazily yields the rows of a table, ordered by the given
	// columns where the source has them.
	Records(ctx context.Context, table string, order []string) iter.Seq2[Record, error]

	// End releases the source. Safe to call more than once.
	End() error
}
