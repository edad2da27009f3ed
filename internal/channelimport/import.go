// Package channelimport imports one content channel from a source catalog
// into the destination store.
//
// An Import reads the channel's version from the source, asks the
// reconciler whether to import, replace, merge or skip, and then streams
// every content table through the bulk writer in dependency order inside a
// single destination transaction. The channel's version and partial flag
// are written last, so an interrupted import is retried rather than
// mistaken for a finished one.
package channelimport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/lherron/channelport/internal/bridge"
	"github.com/lherron/channelport/internal/bulk"
	"github.com/lherron/channelport/internal/mapping"
	"github.com/lherron/channelport/internal/schema"
)

// Hooks are run after a channel has been written.
type Hooks interface {
	SetLeafAvailability(ctx context.Context, channelID string) error
	RecurseAvailabilityUpTree(ctx context.Context, channelID string) error
	RecomputeAggregateMetadata(ctx context.Context, channelID string) error
}

// Options tune a single import.
type Options struct {
	// Partial marks the source as one slice of a channel.
	Partial bool

	// BatchSize is the number of rows per bulk statement.
	BatchSize int

	// Hooks run after a successful import. Nil skips annotation.
	Hooks Hooks

	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger
}

// Result describes what an import did.
type Result struct {
	ImportID      string
	ChannelID     string
	Version       int64
	SchemaVersion string
	TreeID        int64
	Partial       bool
	Action        Action
	Reason        string
	Tables        map[string]bulk.Stats
	Purged        map[string]int64
}

// ChannelInfo identifies the channel a source describes.
type ChannelInfo struct {
	ID      string
	Version int64
}

type plan struct {
	table *schema.Table
	job   mapping.TableJob
	run   mapping.TableFunc
}

// Import is one channel import. It owns both bridges; call End when done.
type Import struct {
	channelID string
	version   int64
	partial   bool

	source   bridge.Source
	dest     *bridge.Destination
	strategy *mapping.Strategy
	order    []*schema.Table
	env      *mapping.Env
	writer   *bulk.Writer
	hooks    Hooks
	log      zerolog.Logger

	// local files and tags referenced by the channel before a purge
	orphanFiles []string
	orphanTags  []string
}

// New prepares an import of channelID from source into dest. It fails
// before anything is written if the source's schema version has no
// strategy, the table graph is cyclic, or the source describes another
// channel.
func New(ctx context.Context, channelID string, source bridge.Source, dest *bridge.Destination, opts Options) (*Import, error) {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	log = log.With().Str("channel_id", channelID).Logger()

	strategy, err := mapping.Lookup(source.SchemaVersion(), source.Shape())
	if err != nil {
		return nil, err
	}

	order, err := schema.Sort(dest.Tables())
	if err != nil {
		return nil, fmt.Errorf("failed to order content tables: %w", err)
	}

	info, err := ReadChannel(ctx, source)
	if err != nil {
		return nil, err
	}
	if info.ID != channelID {
		return nil, fmt.Errorf("%w: source has %s, requested %s", ErrChannelMismatch, info.ID, channelID)
	}

	log.Info().
		Str("schema_version", strategy.Version).
		Int64("version", info.Version).
		Bool("partial", opts.Partial).
		Msg("prepared channel import")

	return &Import{
		channelID: channelID,
		version:   info.Version,
		partial:   opts.Partial,
		source:    source,
		dest:      dest,
		strategy:  strategy,
		order:     order,
		env:       &mapping.Env{ChannelID: channelID, Source: source},
		writer:    bulk.NewWriter(dest, opts.BatchSize, log),
		hooks:     opts.Hooks,
		log:       log,
	}, nil
}

// ReadChannel reads the channel id and version from the source's channel table.
func ReadChannel(ctx context.Context, source bridge.Source) (ChannelInfo, error) {
	if _, ok := source.GetClass(schema.ChannelMetadataTable); !ok {
		return ChannelInfo{}, fmt.Errorf("source has no %s table", schema.ChannelMetadataTable)
	}
	for rec, err := range source.Records(ctx, schema.ChannelMetadataTable, nil) {
		if err != nil {
			return ChannelInfo{}, err
		}

		rawID, _ := rec.Get("id")
		id, err := schema.Coerce(schema.Column{Name: "id", Type: schema.UUID}, rawID)
		if err != nil {
			return ChannelInfo{}, err
		}
		if id == nil || id == "" {
			return ChannelInfo{}, errors.New("source channel has no id")
		}

		rawVersion, _ := rec.Get("version")
		version, err := schema.Coerce(schema.Column{Name: "version", Type: schema.Integer}, rawVersion)
		if err != nil {
			return ChannelInfo{}, err
		}
		info := ChannelInfo{ID: id.(string)}
		if version != nil {
			info.Version = version.(int64)
		}
		return info, nil
	}
	return ChannelInfo{}, fmt.Errorf("source has no channel row")
}

// ChannelID returns the channel being imported.
func (i *Import) ChannelID() string { return i.channelID }

// TreeID returns the tree id allocated for the channel. Zero until the
// import has proceeded past reconciliation.
func (i *Import) TreeID() int64 { return i.env.TreeID }

func (i *Import) prepare(ctx context.Context) ([]plan, error) {
	plans := make([]plan, 0, len(i.order))
	for _, table := range i.order {
		m := i.strategy.Mapping(table.Name)

		mapper, err := mapping.GenerateRowMapper(ctx, i.env, i.strategy.Handlers, table.Name, m.PerRow)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", table.Name, err)
		}
		run, err := mapping.GenerateTableMapper(i.strategy.Handlers, m.PerTable)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", table.Name, err)
		}

		plans = append(plans, plan{
			table: table,
			job:   mapping.TableJob{Table: table, Source: m.Source, Mapper: mapper},
			run:   run,
		})
	}
	return plans, nil
}

// ImportChannelData reconciles and, unless skipped, writes the channel.
// Everything from the reconciler's read to the final version write runs in
// one destination transaction.
func (i *Import) ImportChannelData(ctx context.Context) (Result, error) {
	started := time.Now().UTC()
	res := Result{
		ImportID:      ulid.Make().String(),
		ChannelID:     i.channelID,
		Version:       i.version,
		SchemaVersion: i.strategy.Version,
		Partial:       i.partial,
	}

	plans, err := i.prepare(ctx)
	if err != nil {
		return res, err
	}

	if err := i.dest.Begin(ctx); err != nil {
		return res, err
	}
	defer func() { _ = i.dest.Rollback() }()

	existing, err := i.existing(ctx)
	if err != nil {
		return res, err
	}

	decision := Decide(existing, i.version, i.partial)
	res.Action = decision.Action
	res.Reason = decision.Reason

	ev := i.log.Info().Str("action", string(decision.Action)).Int64("version", i.version)
	if existing != nil {
		ev = ev.Int64("existing_version", existing.Version).Bool("existing_partial", existing.Partial)
	}
	ev.Str("reason", decision.Reason).Msg("reconciled channel")

	if !decision.Proceed() {
		if err := i.dest.Rollback(); err != nil {
			return res, err
		}
		i.recordImport(ctx, res, started)
		return res, nil
	}

	treeID, err := i.allocateTreeID(ctx, existing != nil)
	if err != nil {
		return res, err
	}
	i.env.TreeID = treeID
	res.TreeID = treeID
	i.log.Info().Int64("tree_id", treeID).Msg("allocated tree id")

	if decision.Purge {
		res.Purged, err = i.CheckAndDeleteExistingChannel(ctx)
		if err != nil {
			return res, err
		}
	}

	res.Tables = make(map[string]bulk.Stats, len(plans))
	for _, p := range plans {
		stats, err := p.run(ctx, i.env, i.writer, p.job)
		if err != nil {
			return res, fmt.Errorf("failed to import %s: %w", p.table.Name, err)
		}
		res.Tables[p.table.Name] = stats
		i.log.Debug().Str("table", p.table.Name).Int("rows", stats.Rows).Int("flushes", stats.Flushes).Msg("imported table")
	}

	if err := i.finalize(ctx); err != nil {
		return res, err
	}
	if err := i.verifyRoot(ctx); err != nil {
		return res, err
	}
	if err := i.dest.Commit(); err != nil {
		return res, err
	}

	i.recordImport(ctx, res, started)
	i.log.Info().Str("action", string(res.Action)).Msg("imported channel")
	return res, nil
}

func (i *Import) existing(ctx context.Context) (*Existing, error) {
	var e Existing
	err := i.dest.QueryRow(ctx,
		"SELECT version, partial FROM content_channelmetadata WHERE id = ?", i.channelID,
	).Scan(&e.Version, &e.Partial)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read existing channel: %w", err)
	}
	return &e, nil
}

// allocateTreeID keeps an existing channel on its current tree and gives a
// new channel the first tree id no other channel uses.
func (i *Import) allocateTreeID(ctx context.Context, exists bool) (int64, error) {
	if exists {
		var treeID int64
		err := i.dest.QueryRow(ctx,
			"SELECT tree_id FROM content_contentnode WHERE channel_id = ? ORDER BY lft LIMIT 1", i.channelID,
		).Scan(&treeID)
		if err == nil {
			return treeID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("failed to read channel tree id: %w", err)
		}
	}

	used, err := i.destinationTreeIDs(ctx)
	if err != nil {
		return 0, err
	}
	return FindUniqueTreeID(used), nil
}

// destinationTreeIDs lists the tree ids held by every other channel.
func (i *Import) destinationTreeIDs(ctx context.Context) ([]int64, error) {
	rows, err := i.dest.Query(ctx,
		"SELECT DISTINCT tree_id FROM content_contentnode WHERE channel_id <> ?", i.channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tree ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tree id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CheckAndDeleteExistingChannel removes the channel's current content in
// reverse dependency order ahead of a replacing import. The channel row
// itself is kept with its root cleared; local files and tags are only
// remembered here and removed at finalize if nothing references them any
// more.
func (i *Import) CheckAndDeleteExistingChannel(ctx context.Context) (map[string]int64, error) {
	treeID := i.env.TreeID

	var err error
	i.orphanFiles, err = i.listIDs(ctx,
		"SELECT DISTINCT local_file_id FROM content_file WHERE contentnode_id IN (SELECT id FROM content_contentnode WHERE tree_id = ?)",
		treeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel local files: %w", err)
	}
	i.orphanTags, err = i.listIDs(ctx,
		"SELECT DISTINCT contenttag_id FROM content_contentnode_tags WHERE contentnode_id IN (SELECT id FROM content_contentnode WHERE tree_id = ?)",
		treeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel tags: %w", err)
	}

	purged := make(map[string]int64)
	for _, table := range schema.Reverse(i.order) {
		var arg any
		switch table.Scope {
		case schema.TreeScoped:
			arg = treeID
		case schema.ChannelScoped:
			arg = i.channelID
		default:
			continue
		}

		if table.Name == schema.ChannelMetadataTable {
			if _, err := i.dest.Execute(ctx,
				"UPDATE content_channelmetadata SET root_id = NULL WHERE id = ?", i.channelID); err != nil {
				return nil, fmt.Errorf("failed to detach channel root: %w", err)
			}
			continue
		}
		if table.ScopeWhere == "" {
			continue
		}

		args := make([]any, strings.Count(table.ScopeWhere, "?"))
		for n := range args {
			args[n] = arg
		}
		result, err := i.dest.Execute(ctx, "DELETE FROM "+table.Name+" WHERE "+table.ScopeWhere, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to purge %s: %w", table.Name, err)
		}
		n, err := result.RowsAffected()
		if err == nil {
			purged[table.Name] = n
		}
	}

	i.log.Info().Interface("purged", purged).
		Int("local_files", len(i.orphanFiles)).
		Int("tags", len(i.orphanTags)).
		Msg("purged existing channel")
	return purged, nil
}

func (i *Import) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := i.dest.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const orphanChunk = 500

// sweep deletes the candidate rows of table that no row of refTable
// references through refColumn.
func (i *Import) sweep(ctx context.Context, table, refTable, refColumn string, candidates []string) error {
	for start := 0; start < len(candidates); start += orphanChunk {
		chunk := candidates[start:min(start+orphanChunk, len(candidates))]
		args := make([]any, len(chunk))
		for n, id := range chunk {
			args[n] = id
		}
		stmt := "DELETE FROM " + table + " WHERE id IN (" +
			strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ") +
			") AND NOT EXISTS (SELECT 1 FROM " + refTable + " WHERE " + refTable + "." + refColumn + " = " + table + ".id)"
		if _, err := i.dest.Execute(ctx, stmt, args...); err != nil {
			return err
		}
	}
	return nil
}

func (i *Import) finalize(ctx context.Context) error {
	if err := i.sweep(ctx, schema.LocalFileTable, schema.FileTable, "local_file_id", i.orphanFiles); err != nil {
		return fmt.Errorf("failed to remove unreferenced local files: %w", err)
	}
	if err := i.sweep(ctx, schema.ContentTagTable, schema.NodeTagsTable, "contenttag_id", i.orphanTags); err != nil {
		return fmt.Errorf("failed to remove unreferenced tags: %w", err)
	}
	i.orphanFiles, i.orphanTags = nil, nil

	result, err := i.dest.Execute(ctx,
		"UPDATE content_channelmetadata SET version = ?, partial = ? WHERE id = ?",
		i.version, i.partial, i.channelID)
	if err != nil {
		return fmt.Errorf("failed to write channel version: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("channel %s was not written by the import", i.channelID)
	}
	return nil
}

// RunAndAnnotate imports the channel and runs the post-import hooks. The
// root check happens inside the import transaction, so a channel without a
// resolvable root is never committed.
func (i *Import) RunAndAnnotate(ctx context.Context) (Result, error) {
	res, err := i.ImportChannelData(ctx)
	if err != nil || res.Action == ActionSkip {
		return res, err
	}
	if i.hooks == nil {
		return res, nil
	}

	i.log.Debug().Msg("annotating channel")
	if err := i.hooks.SetLeafAvailability(ctx, i.channelID); err != nil {
		return res, fmt.Errorf("failed to set leaf availability: %w", err)
	}
	if err := i.hooks.RecurseAvailabilityUpTree(ctx, i.channelID); err != nil {
		return res, fmt.Errorf("failed to propagate availability: %w", err)
	}
	if err := i.hooks.RecomputeAggregateMetadata(ctx, i.channelID); err != nil {
		return res, fmt.Errorf("failed to recompute channel metadata: %w", err)
	}
	return res, nil
}

// verifyRoot fails with an IntegrityError unless the channel row points at
// a node that exists. It runs before commit.
func (i *Import) verifyRoot(ctx context.Context) error {
	var rootID, nodeID sql.NullString
	err := i.dest.QueryRow(ctx,
		"SELECT c.root_id, n.id FROM content_channelmetadata c LEFT JOIN content_contentnode n ON n.id = c.root_id WHERE c.id = ?",
		i.channelID,
	).Scan(&rootID, &nodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return &IntegrityError{ChannelID: i.channelID}
	}
	if err != nil {
		return fmt.Errorf("failed to resolve channel root: %w", err)
	}
	if !nodeID.Valid {
		i.log.Error().Str("root_id", rootID.String).Msg("channel has no resolvable root, rolling back")
		return &IntegrityError{ChannelID: i.channelID, RootID: rootID.String}
	}
	return nil
}

// End releases both bridges. Safe to call more than once.
func (i *Import) End() error {
	return errors.Join(i.source.End(), i.dest.End())
}
