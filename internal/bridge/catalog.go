package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"

	"github.com/lherron/channelport/internal/db"
	"github.com/lherron/channelport/internal/schema"
)

// Catalog is a Source over a SQLite catalog file.
type Catalog struct {
	db      *db.DB
	tables  map[string]*TableInfo
	version string
	shape   string
	closed  bool
}

// OpenCatalog opens the catalog read-only, reflects its tables and detects
// its schema version.
func OpenCatalog(ctx context.Context, path string) (*Catalog, error) {
	database, err := db.OpenCatalog(path)
	if err != nil {
		return nil, err
	}

	c := &Catalog{db: database}
	if err := c.reflect(ctx); err != nil {
		database.Close()
		return nil, err
	}
	if err := c.detectVersion(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) reflect(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return fmt.Errorf("failed to list catalog tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error listing catalog tables: %w", err)
	}

	c.tables = make(map[string]*TableInfo, len(names))
	for _, name := range names {
		cols, err := c.columns(ctx, name)
		if err != nil {
			return err
		}
		c.tables[name] = &TableInfo{Name: name, Columns: cols}
	}
	return nil
}

func (c *Catalog) columns(ctx context.Context, table string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to reflect %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func (c *Catalog) detectVersion(ctx context.Context) error {
	channel, ok := c.tables[schema.ChannelMetadataTable]
	if !ok {
		return fmt.Errorf("catalog %s has no %s table", c.db.URL(), schema.ChannelMetadataTable)
	}

	if !channel.HasColumn("min_schema_version") {
		c.version = schema.NoVersion
		c.shape = schema.V020Beta1
		if lang, ok := c.tables[schema.LanguageTable]; ok && lang.HasColumn("lang_name") {
			c.shape = schema.V040Beta3
		}
		return nil
	}

	var version sql.NullString
	err := c.db.QueryRowContext(ctx, "SELECT min_schema_version FROM content_channelmetadata LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if !version.Valid || version.String == "" {
		return fmt.Errorf("catalog %s has an empty schema version marker", c.db.URL())
	}
	c.version = version.String
	c.shape = version.String
	return nil
}

// SchemaVersion implements Source.
func (c *Catalog) SchemaVersion() string { return c.version }

// Shape implements Source.
func (c *Catalog) Shape() string { return c.shape }

// GetClass implements Source.
func (c *Catalog) GetClass(table string) (*TableInfo, bool) {
	t, ok := c.tables[table]
	return t, ok
}

// Records implements Source. Rows are streamed from the open cursor so only
// one row is held at a time.
func (c *Catalog) Records(ctx context.Context, table string, order []string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		info, ok := c.tables[table]
		if !ok {
			yield(nil, fmt.Errorf("catalog has no table %s", table))
			return
		}

		query := fmt.Sprintf("SELECT * FROM %q", table)
		var by []string
		for _, col := range order {
			if info.HasColumn(col) {
				by = append(by, fmt.Sprintf("%q", col))
			}
		}
		if len(by) > 0 {
			query += " ORDER BY " + strings.Join(by, ", ")
		}

		rows, err := c.db.QueryContext(ctx, query)
		if err != nil {
			yield(nil, fmt.Errorf("failed to read %s: %w", table, err))
			return
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			yield(nil, fmt.Errorf("failed to read columns of %s: %w", table, err))
			return
		}

		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				yield(nil, fmt.Errorf("failed to scan %s row: %w", table, err))
				return
			}

			row := make(Row, len(cols))
			for i, col := range cols {
				if b, ok := values[i].([]byte); ok {
					row[col] = string(b)
				} else {
					row[col] = values[i]
				}
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("error reading %s: %w", table, err))
		}
	}
}

// End implements Source.
func (c *Catalog) End() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}
