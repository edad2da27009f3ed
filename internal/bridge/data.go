package bridge

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"

	"github.com/lherron/channelport/internal/schema"
)

// SchemaVersionKey is the payload key carrying the schema version marker.
const SchemaVersionKey = "schema_version"

// Data is a Source over an already-parsed payload: table name to rows, plus
// the schema version the payload was produced in. Payloads may be one slice
// of a channel; see the partial import mode.
type Data struct {
	version string
	tables  map[string][]Row
	infos   map[string]*TableInfo
}

// NewData builds a Data source from a decoded payload.
func NewData(payload map[string]any) (*Data, error) {
	raw, ok := payload[SchemaVersionKey]
	if !ok {
		return nil, fmt.Errorf("payload has no %s", SchemaVersionKey)
	}
	version, err := schema.Coerce(schema.Column{Name: SchemaVersionKey, Type: schema.Text}, raw)
	if err != nil || version == nil || version == "" {
		return nil, fmt.Errorf("payload has an invalid %s: %v", SchemaVersionKey, raw)
	}

	d := &Data{
		version: version.(string),
		tables:  make(map[string][]Row),
		infos:   make(map[string]*TableInfo),
	}

	for key, value := range payload {
		if key == SchemaVersionKey {
			continue
		}
		items, ok := value.([]any)
		if !ok && value != nil {
			return nil, fmt.Errorf("payload table %s: expected a list, got %T", key, value)
		}

		rows := make([]Row, 0, len(items))
		seen := make(map[string]bool)
		var cols []string
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("payload table %s row %d: expected an object, got %T", key, i, item)
			}
			for col := range m {
				if !seen[col] {
					seen[col] = true
					cols = append(cols, col)
				}
			}
			rows = append(rows, Row(m))
		}
		sort.Strings(cols)

		d.tables[key] = rows
		d.infos[key] = &TableInfo{Name: key, Columns: cols}
	}
	return d, nil
}

// SchemaVersion implements Source.
func (d *Data) SchemaVersion() string { return d.version }

// Shape implements Source. Payloads carry no legacy sub-shape.
func (d *Data) Shape() string { return d.version }

// GetClass implements Source.
func (d *Data) GetClass(table string) (*TableInfo, bool) {
	t, ok := d.infos[table]
	return t, ok
}

// Rows returns the rows of a table in payload order.
func (d *Data) Rows(table string) []Row {
	return d.tables[table]
}

// Records implements Source.
func (d *Data) Records(ctx context.Context, table string, order []string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		rows, ok := d.tables[table]
		if !ok {
			yield(nil, fmt.Errorf("payload has no table %s", table))
			return
		}

		if len(order) > 0 {
			rows = slices.Clone(rows)
			slices.SortStableFunc(rows, func(a, b Row) int {
				for _, col := range order {
					if c := cmp.Compare(number(a[col]), number(b[col])); c != 0 {
						return c
					}
				}
				return 0
			})
		}

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// End implements Source.
func (d *Data) End() error { return nil }

func number(v any) float64 {
	f, err := schema.Coerce(schema.Column{Type: schema.Real}, v)
	if err != nil || f == nil {
		return 0
	}
	return f.(float64)
}
