package mapping

import (
	"context"
	"fmt"

	"github.com/lherron/channelport/internal/bridge"
	"github.com/lherron/channelport/internal/bulk"
	"github.com/lherron/channelport/internal/schema"
)

// Handler names used by the built-in strategies.
const (
	HandlerChannelID            = "channel_id"
	HandlerTreeID               = "tree_id"
	HandlerUnavailable          = "unavailable"
	HandlerFalse                = "false"
	HandlerZero                 = "zero"
	HandlerEmptyString          = "empty_string"
	HandlerNull                 = "null"
	HandlerDefaultLangDirection = "default_lang_direction"
	HandlerLegacyLangName       = "legacy_lang_name"
	HandlerLicenseName          = "license_name"
	HandlerLicenseDescription   = "license_description"
	HandlerActivitiesFromKind   = "learning_activities_from_kind"
	HandlerNoVersion            = "no_version"

	TableLocalFilesFromFiles = "localfiles_from_files"
)

// KindActivities is the learning activity inferred for catalogs that
// predate explicit activities.
var KindActivities = map[string]string{
	"video":      "watch",
	"audio":      "listen",
	"document":   "read",
	"slideshow":  "read",
	"exercise":   "practice",
	"html5":      "explore",
	"h5p":        "explore",
	"topic":      "",
	"channel":    "",
	"zim":        "explore",
	"bloompub":   "read",
	"quiz":       "practice",
	"assignment": "practice",
}

// DefaultHandlers returns the registry the built-in strategies resolve against.
func DefaultHandlers() *Handlers {
	h := NewHandlers()

	h.Row(HandlerChannelID, func(_ context.Context, env *Env, _ bridge.Record) (any, error) {
		return env.ChannelID, nil
	})
	h.Row(HandlerTreeID, func(_ context.Context, env *Env, _ bridge.Record) (any, error) {
		return env.TreeID, nil
	})
	h.Row(HandlerUnavailable, constant(false))
	h.Row(HandlerFalse, constant(false))
	h.Row(HandlerZero, constant(int64(0)))
	h.Row(HandlerEmptyString, constant(""))
	h.Row(HandlerNull, constant(nil))
	h.Row(HandlerDefaultLangDirection, constant("ltr"))
	h.Row(HandlerLegacyLangName, constant(""))
	h.Row(HandlerNoVersion, constant(schema.NoVersion))

	h.Row(HandlerLicenseName, func(ctx context.Context, env *Env, rec bridge.Record) (any, error) {
		l, err := env.license(ctx, rec)
		if err != nil || l == nil {
			return nil, err
		}
		return l.name, nil
	})
	h.Row(HandlerLicenseDescription, func(ctx context.Context, env *Env, rec bridge.Record) (any, error) {
		l, err := env.license(ctx, rec)
		if err != nil || l == nil {
			return nil, err
		}
		return l.description, nil
	})

	h.Row(HandlerActivitiesFromKind, func(_ context.Context, _ *Env, rec bridge.Record) (any, error) {
		kind, err := get(rec, "kind")
		if err != nil {
			return nil, err
		}
		s, _ := kind.(string)
		activity, ok := KindActivities[s]
		if !ok || activity == "" {
			return nil, nil
		}
		return activity, nil
	})

	h.Table(TableLocalFilesFromFiles, localFilesFromFiles)

	return h
}

func constant(v any) RowHandler {
	return func(context.Context, *Env, bridge.Record) (any, error) {
		return v, nil
	}
}

type license struct {
	name        any
	description any
}

// license resolves a legacy node's license_id against the catalog's
// license table, loading the table on first use.
func (e *Env) license(ctx context.Context, rec bridge.Record) (*license, error) {
	id, err := get(rec, "license_id")
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, nil
	}

	if e.licenses == nil {
		if err := e.loadLicenses(ctx); err != nil {
			return nil, err
		}
	}

	key, err := licenseKey(id)
	if err != nil {
		return nil, err
	}
	l, ok := e.licenses[key]
	if !ok {
		return nil, fmt.Errorf("license %s not found in %s", key, schema.LicenseTable)
	}
	return &l, nil
}

func (e *Env) loadLicenses(ctx context.Context) error {
	e.licenses = make(map[string]license)
	if _, ok := e.Source.GetClass(schema.LicenseTable); !ok {
		return nil
	}
	for rec, err := range e.Source.Records(ctx, schema.LicenseTable, nil) {
		if err != nil {
			return fmt.Errorf("failed to read licenses: %w", err)
		}
		id, err := get(rec, "id")
		if err != nil {
			return err
		}
		key, err := licenseKey(id)
		if err != nil {
			return err
		}
		var l license
		l.name, _ = rec.Get("license_name")
		// v0.2.0-beta1 catalogs have no description column.
		l.description, _ = rec.Get("license_description")
		e.licenses[key] = l
	}
	return nil
}

func licenseKey(v any) (string, error) {
	k, err := schema.Coerce(schema.Column{Name: "license_id", Type: schema.Text}, v)
	if err != nil {
		return "", err
	}
	return k.(string), nil
}

// localFilesFromFiles derives LocalFile rows from legacy file rows, which
// carried the content checksum inline. Files sharing a checksum yield one row.
func localFilesFromFiles(ctx context.Context, env *Env, w *bulk.Writer, job TableJob) (bulk.Stats, error) {
	if _, ok := env.Source.GetClass(schema.FileTable); !ok {
		return bulk.Stats{}, nil
	}

	seen := make(map[any]bool)
	records := func(yield func(bridge.Record, error) bool) {
		for rec, err := range env.Source.Records(ctx, schema.FileTable, nil) {
			if err != nil {
				yield(nil, err)
				return
			}
			sum, err := get(rec, "checksum")
			if err != nil {
				yield(nil, &MappingError{Table: job.Table.Name, Field: "id", SchemaVersion: env.SchemaVersion(), Err: err})
				return
			}
			if seen[sum] {
				continue
			}
			seen[sum] = true
			if !yield(rec, nil) {
				return
			}
		}
	}
	return w.ImportTable(ctx, job.Table, job.Mapper, records)
}
