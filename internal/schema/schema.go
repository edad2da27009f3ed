// Package schema describes the destination content tables: their columns,
// foreign-key dependencies, conflict policy and how rows are scoped to a
// channel. The descriptors drive ordering, bulk writes and purges.
package schema

import (
	"fmt"
	"slices"
)

// ColumnType is the storage class a value is coerced to before writing.
type ColumnType int

const (
	Text ColumnType = iota
	Integer
	Bool
	Real
	// UUID is text stored as 32 lower-case hex digits.
	UUID
)

// Column is a destination column.
type Column struct {
	Name string
	Type ColumnType
}

// Policy decides what happens when an incoming row collides with an existing key.
type Policy int

const (
	// Upsert replaces every non-key column except those listed in Preserve.
	Upsert Policy = iota
	// Ignore keeps the existing row untouched.
	Ignore
)

// Scope says how a table's rows are tied to a channel for purging.
type Scope int

const (
	// Shared rows belong to no channel and are only removed once unreferenced.
	Shared Scope = iota
	// TreeScoped rows are selected by the channel's tree id.
	TreeScoped
	// ChannelScoped rows are selected by the channel id.
	ChannelScoped
)

// Table describes one destination entity type.
type Table struct {
	Name    string
	Columns []Column

	// Key is the conflict target: the primary key, or the pair for link tables.
	Key []string

	// DependsOn lists tables this one references. Self references are omitted.
	DependsOn []string

	Policy Policy

	// Preserve lists columns an upsert never overwrites.
	Preserve []string

	// Deferred lists columns left out of the bulk pass and written at finalize.
	Deferred []string

	// Order lists source columns that give a parent-before-child read order.
	Order []string

	Scope Scope

	// ScopeWhere selects this table's rows for one channel. Every '?' is
	// bound to the tree id or channel id depending on Scope.
	ScopeWhere string
}

// ColumnNames returns every column name in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// WritableColumns returns the columns written by the bulk pass.
func (t *Table) WritableColumns() []Column {
	cols := make([]Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !slices.Contains(t.Deferred, c.Name) {
			cols = append(cols, c)
		}
	}
	return cols
}

// Column looks a column up by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Registry is an ordered set of table descriptors.
type Registry struct {
	tables []*Table
	byName map[string]*Table
}

// NewRegistry indexes tables by name. Duplicate names are rejected.
func NewRegistry(tables ...*Table) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate table %q", t.Name)
		}
		r.byName[t.Name] = t
		r.tables = append(r.tables, t)
	}
	return r, nil
}

// Get returns the named table.
func (r *Registry) Get(name string) (*Table, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Tables returns the tables in registration order.
func (r *Registry) Tables() []*Table {
	return slices.Clone(r.tables)
}
