package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lherron/channelport/internal/db"
	"github.com/lherron/channelport/internal/schema"
)

// Destination is the write side of an import. While a transaction is open
// every statement runs inside it.
type Destination struct {
	db       *db.DB
	registry *schema.Registry
	tx       *sql.Tx
	owned    bool
	closed   bool
}

// NewDestination wraps an already-open store. End does not close it.
func NewDestination(database *db.DB, registry *schema.Registry) *Destination {
	return &Destination{db: database, registry: registry}
}

// OpenDestination opens the store at url. End closes it.
func OpenDestination(url string, registry *schema.Registry) (*Destination, error) {
	database, err := db.Open(url)
	if err != nil {
		return nil, err
	}
	return &Destination{db: database, registry: registry, owned: true}, nil
}

// DB returns the underlying store.
func (d *Destination) DB() *db.DB { return d.db }

// Dialect returns the store's SQL dialect.
func (d *Destination) Dialect() db.Dialect { return d.db.Dialect() }

// GetClass returns the current-schema descriptor for a destination table.
func (d *Destination) GetClass(table string) (*schema.Table, error) {
	t, ok := d.registry.Get(table)
	if !ok {
		return nil, fmt.Errorf("destination has no table %s", table)
	}
	return t, nil
}

// Tables returns every destination table descriptor.
func (d *Destination) Tables() []*schema.Table {
	return d.registry.Tables()
}

// Begin opens the import transaction.
func (d *Destination) Begin(ctx context.Context) error {
	if d.closed {
		return errors.New("destination bridge is closed")
	}
	if d.tx != nil {
		return errors.New("destination transaction already open")
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	d.tx = tx
	return nil
}

// Commit commits the open transaction.
func (d *Destination) Commit() error {
	if d.tx == nil {
		return errors.New("no destination transaction open")
	}
	err := d.tx.Commit()
	d.tx = nil
	if err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	return nil
}

// Rollback abandons the open transaction, if any.
func (d *Destination) Rollback() error {
	if d.tx == nil {
		return nil
	}
	err := d.tx.Rollback()
	d.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back import: %w", err)
	}
	return nil
}

// Execute runs a statement written with '?' placeholders.
func (d *Destination) Execute(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	stmt = d.db.Dialect().Rebind(stmt)
	if d.tx != nil {
		return d.tx.ExecContext(ctx, stmt, args...)
	}
	return d.db.ExecContext(ctx, stmt, args...)
}

// Query runs a query written with '?' placeholders.
func (d *Destination) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	query = d.db.Dialect().Rebind(query)
	if d.tx != nil {
		return d.tx.QueryContext(ctx, query, args...)
	}
	return d.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a single-row query written with '?' placeholders.
func (d *Destination) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	query = d.db.Dialect().Rebind(query)
	if d.tx != nil {
		return d.tx.QueryRowContext(ctx, query, args...)
	}
	return d.db.QueryRowContext(ctx, query, args...)
}

// End rolls back any unfinished transaction and releases the store if this
// bridge opened it. Safe to call more than once.
func (d *Destination) End() error {
	if d.closed {
		return nil
	}
	d.closed = true

	err := d.Rollback()
	if d.owned {
		if cerr := d.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
