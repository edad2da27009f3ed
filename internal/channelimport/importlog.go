package channelimport

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LogEntry is one recorded import attempt.
type LogEntry struct {
	ID            string    `json:"id" yaml:"id"`
	ChannelID     string    `json:"channel_id" yaml:"channel_id"`
	Version       int64     `json:"version" yaml:"version"`
	SchemaVersion string    `json:"schema_version" yaml:"schema_version"`
	Action        Action    `json:"action" yaml:"action"`
	Reason        string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Partial       bool      `json:"partial" yaml:"partial"`
	StartedAt     time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time `json:"finished_at" yaml:"finished_at"`
}

// Querier runs queries written with '?' placeholders.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (i *Import) recordImport(ctx context.Context, res Result, started time.Time) {
	_, err := i.dest.Execute(ctx,
		`INSERT INTO content_importlog (id, channel_id, version, schema_version, action, reason, partial, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ImportID, res.ChannelID, res.Version, res.SchemaVersion, string(res.Action), res.Reason, res.Partial,
		started.Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		i.log.Warn().Err(err).Str("import_id", res.ImportID).Msg("failed to record import")
	}
}

// History returns the recorded imports of a channel, oldest first.
func History(ctx context.Context, q Querier, channelID string) ([]LogEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT id, channel_id, version, schema_version, action, reason, partial, started_at, finished_at
		FROM content_importlog WHERE channel_id = ? ORDER BY id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query import log: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			e                 LogEntry
			action            string
			started, finished string
		)
		if err := rows.Scan(&e.ID, &e.ChannelID, &e.Version, &e.SchemaVersion, &action, &e.Reason, &e.Partial, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan import log: %w", err)
		}
		e.Action = Action(action)
		e.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		e.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
