// Package annotation derives content availability and channel totals after
// an import. Leaves are available when every non-supplementary file they
// need is on disk; topics are available when any child is.
package annotation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lherron/channelport/internal/db"
)

// Annotator runs the post-import hooks against the destination store.
type Annotator struct {
	db  *db.DB
	log zerolog.Logger
}

// New returns an annotator for database.
func New(database *db.DB, log zerolog.Logger) *Annotator {
	return &Annotator{db: database, log: log}
}

func (a *Annotator) exec(ctx context.Context, q execer, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, a.db.Dialect().Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const leafAvailability = `
UPDATE content_contentnode SET available = (
	EXISTS (
		SELECT 1 FROM content_file f
		WHERE f.contentnode_id = content_contentnode.id AND f.supplementary = FALSE
	)
	AND NOT EXISTS (
		SELECT 1 FROM content_file f
		JOIN content_localfile l ON l.id = f.local_file_id
		WHERE f.contentnode_id = content_contentnode.id AND f.supplementary = FALSE AND l.available = FALSE
	)
)
WHERE channel_id = ? AND kind <> 'topic'`

// SetLeafAvailability marks each non-topic node of the channel available
// exactly when all of its required files are.
func (a *Annotator) SetLeafAvailability(ctx context.Context, channelID string) error {
	n, err := a.exec(ctx, a.db, leafAvailability, channelID)
	if err != nil {
		return fmt.Errorf("failed to annotate leaves: %w", err)
	}
	a.log.Debug().Str("channel_id", channelID).Int64("nodes", n).Msg("annotated leaf availability")
	return nil
}

const topicAvailability = `
UPDATE content_contentnode SET available = EXISTS (
	SELECT 1 FROM content_contentnode c
	WHERE c.parent_id = content_contentnode.id AND c.available = TRUE
)
WHERE channel_id = ? AND kind = 'topic' AND level = ?`

// RecurseAvailabilityUpTree recomputes topic availability one level at a
// time, deepest first, so each level sees its children's final state.
func (a *Annotator) RecurseAvailabilityUpTree(ctx context.Context, channelID string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var depth sql.NullInt64
	err = tx.QueryRowContext(ctx,
		a.db.Dialect().Rebind("SELECT MAX(level) FROM content_contentnode WHERE channel_id = ?"), channelID,
	).Scan(&depth)
	if err != nil {
		return fmt.Errorf("failed to read tree depth: %w", err)
	}
	if !depth.Valid {
		return tx.Commit()
	}

	for level := depth.Int64; level >= 0; level-- {
		if _, err := a.exec(ctx, tx, topicAvailability, channelID, level); err != nil {
			return fmt.Errorf("failed to annotate level %d: %w", level, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit availability: %w", err)
	}
	a.log.Debug().Str("channel_id", channelID).Int64("levels", depth.Int64+1).Msg("propagated availability")
	return nil
}

const aggregateMetadata = `
UPDATE content_channelmetadata SET
	total_resource_count = (
		SELECT COUNT(DISTINCT n.content_id) FROM content_contentnode n
		WHERE n.channel_id = ? AND n.available = TRUE AND n.kind <> 'topic'
	),
	published_size = (
		SELECT COALESCE(SUM(l.file_size), 0) FROM content_localfile l
		WHERE l.available = TRUE AND l.id IN (
			SELECT f.local_file_id FROM content_file f
			JOIN content_contentnode n ON n.id = f.contentnode_id
			WHERE n.channel_id = ?
		)
	)
WHERE id = ?`

// RecomputeAggregateMetadata refreshes the channel's resource count and
// the size of its available files.
func (a *Annotator) RecomputeAggregateMetadata(ctx context.Context, channelID string) error {
	if _, err := a.exec(ctx, a.db, aggregateMetadata, channelID, channelID, channelID); err != nil {
		return fmt.Errorf("failed to recompute channel metadata: %w", err)
	}
	return nil
}
