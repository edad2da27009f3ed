// Package mapping translates source rows of any supported catalog version
// into destination rows.
//
// Each destination field is mapped by a FieldMapping: read the field of the
// same name, read a renamed source field, or compute the value with a named
// handler. Handlers are resolved through an explicit Handlers registry, and
// the mappings for one catalog version are bundled into a Strategy.
package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/lherron/channelport/internal/bridge"
	"github.com/lherron/channelport/internal/bulk"
	"github.com/lherron/channelport/internal/schema"
)

var (
	// ErrAttributeNotFound means a record lacks a field its mapping reads.
	ErrAttributeNotFound = errors.New("attribute not found")

	// ErrUnknownHandler means a mapping names a handler that is not registered.
	ErrUnknownHandler = errors.New("unknown handler")

	// ErrUnknownSchemaVersion means no strategy exists for a catalog version.
	ErrUnknownSchemaVersion = errors.New("unknown schema version")
)

// ConfigError is a static mapping problem detected before any row is written.
type ConfigError struct {
	Kind string
	Name string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// MappingError is a failure to translate one field of one record.
type MappingError struct {
	Table         string
	Field         string
	SchemaVersion string
	Err           error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %s.%s (schema version %s): %v", e.Table, e.Field, e.SchemaVersion, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// Kind tags a FieldMapping.
type Kind int

const (
	KindDirect Kind = iota
	KindRenamed
	KindComputed
)

func (k Kind) String() string {
	switch k {
	case KindRenamed:
		return "renamed"
	case KindComputed:
		return "computed"
	default:
		return "direct"
	}
}

// FieldMapping says where one destination field's value comes from.
type FieldMapping struct {
	kind Kind
	name string
}

// Direct reads the source field named like the destination field.
func Direct() FieldMapping { return FieldMapping{kind: KindDirect} }

// Renamed reads the given source field instead.
func Renamed(source string) FieldMapping { return FieldMapping{kind: KindRenamed, name: source} }

// Computed calls the named row handler.
func Computed(handler string) FieldMapping { return FieldMapping{kind: KindComputed, name: handler} }

// Kind returns the mapping's variant.
func (m FieldMapping) Kind() Kind { return m.kind }

// Name returns the source field or handler name. Empty for Direct.
func (m FieldMapping) Name() string { return m.name }

func (m FieldMapping) String() string {
	if m.kind == KindDirect {
		return m.kind.String()
	}
	return m.kind.String() + "(" + m.name + ")"
}

// TableMapping is the mapping entry for one destination table.
type TableMapping struct {
	// Source names the source table when it differs from the destination's.
	Source string

	// PerRow maps destination fields. Fields without an entry are Direct.
	PerRow map[string]FieldMapping

	// PerTable names a table handler replacing the generic bulk copy.
	PerTable string
}

// Env is the per-import state handlers may read.
type Env struct {
	ChannelID string
	TreeID    int64
	Source    bridge.Source

	licenses map[string]license
}

// SchemaVersion returns the version of the source being imported.
func (e *Env) SchemaVersion() string {
	if e.Source == nil {
		return ""
	}
	return e.Source.SchemaVersion()
}

// RowHandler computes one field of one record.
type RowHandler func(ctx context.Context, env *Env, rec bridge.Record) (any, error)

// TableJob is the work handed to a table handler.
type TableJob struct {
	Table  *schema.Table
	Source string
	Mapper bulk.MapFunc
}

// TableFunc imports a whole table.
type TableFunc func(ctx context.Context, env *Env, w *bulk.Writer, job TableJob) (bulk.Stats, error)

// Handlers is a registry of named row and table handlers.
type Handlers struct {
	rows   map[string]RowHandler
	tables map[string]TableFunc
}

// NewHandlers returns an empty registry.
func NewHandlers() *Handlers {
	return &Handlers{
		rows:   make(map[string]RowHandler),
		tables: make(map[string]TableFunc),
	}
}

// Row registers a row handler.
func (h *Handlers) Row(name string, fn RowHandler) *Handlers {
	h.rows[name] = fn
	return h
}

// Table registers a table handler.
func (h *Handlers) Table(name string, fn TableFunc) *Handlers {
	h.tables[name] = fn
	return h
}

// GenerateRowMapper builds the translator for one destination table.
// Computed mappings are resolved up front so an unregistered handler fails
// before any row is read.
func GenerateRowMapper(ctx context.Context, env *Env, h *Handlers, table string, perRow map[string]FieldMapping) (bulk.MapFunc, error) {
	computed := make(map[string]RowHandler)
	for _, m := range perRow {
		if m.kind != KindComputed {
			continue
		}
		fn, ok := h.rows[m.name]
		if !ok {
			return nil, &ConfigError{Kind: "row handler", Name: m.name, Err: ErrUnknownHandler}
		}
		computed[m.name] = fn
	}

	return func(rec bridge.Record, field string) (any, error) {
		m, ok := perRow[field]
		if !ok {
			m = Direct()
		}

		var (
			v   any
			err error
		)
		switch m.kind {
		case KindComputed:
			v, err = computed[m.name](ctx, env, rec)
		case KindRenamed:
			v, err = get(rec, m.name)
		default:
			v, err = get(rec, field)
		}
		if err != nil {
			return nil, &MappingError{Table: table, Field: field, SchemaVersion: env.SchemaVersion(), Err: err}
		}
		return v, nil
	}, nil
}

// GenerateTableMapper returns the named table handler, or the generic bulk
// copy when perTable is empty.
func GenerateTableMapper(h *Handlers, perTable string) (TableFunc, error) {
	if perTable == "" {
		return BaseTableMapper, nil
	}
	fn, ok := h.tables[perTable]
	if !ok {
		return nil, &ConfigError{Kind: "table handler", Name: perTable, Err: ErrUnknownHandler}
	}
	return fn, nil
}

// BaseTableMapper streams every row of the source table through the writer.
// Sources that predate the table contribute nothing.
func BaseTableMapper(ctx context.Context, env *Env, w *bulk.Writer, job TableJob) (bulk.Stats, error) {
	if _, ok := env.Source.GetClass(job.Source); !ok {
		return bulk.Stats{}, nil
	}
	return w.ImportTable(ctx, job.Table, job.Mapper, env.Source.Records(ctx, job.Source, job.Table.Order))
}

func get(rec bridge.Record, field string) (any, error) {
	v, ok := rec.Get(field)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAttributeNotFound, field)
	}
	return v, nil
}
