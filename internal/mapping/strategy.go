package mapping

import (
	"maps"

	"github.com/lherron/channelport/internal/schema"
)

// Strategy is the mapping bundle for one catalog version, selected once at
// the start of an import.
type Strategy struct {
	Version  string
	Tables   map[string]TableMapping
	Handlers *Handlers
}

// Mapping returns the entry for a destination table. Tables without an
// entry are copied field for field from the source table of the same name.
func (s *Strategy) Mapping(table string) TableMapping {
	m := s.Tables[table]
	if m.Source == "" {
		m.Source = table
	}
	return m
}

// Lookup returns the strategy for a source's version. Unversioned catalogs
// are further distinguished by shape.
func Lookup(version, shape string) (*Strategy, error) {
	key := version
	if version == schema.NoVersion {
		key = shape
	}
	tables, ok := strategies[key]
	if !ok {
		return nil, &ConfigError{Kind: "schema version", Name: key, Err: ErrUnknownSchemaVersion}
	}
	return &Strategy{Version: key, Tables: tables, Handlers: DefaultHandlers()}, nil
}

var strategies = buildStrategies()

func buildStrategies() map[string]map[string]TableMapping {
	current := map[string]TableMapping{
		schema.ContentNodeTable: {PerRow: map[string]FieldMapping{
			"channel_id": Computed(HandlerChannelID),
			"tree_id":    Computed(HandlerTreeID),
			"available":  Computed(HandlerUnavailable),
		}},
		schema.LocalFileTable: {PerRow: map[string]FieldMapping{
			"available": Computed(HandlerUnavailable),
		}},
		schema.ChannelMetadataTable: {PerRow: map[string]FieldMapping{
			"published_size":       Computed(HandlerZero),
			"total_resource_count": Computed(HandlerZero),
		}},
	}

	v4 := extend(current, schema.ContentNodeTable, TableMapping{PerRow: map[string]FieldMapping{
		"learning_activities": Computed(HandlerActivitiesFromKind),
	}})
	v3 := extend(v4, schema.ContentNodeTable, TableMapping{PerRow: map[string]FieldMapping{
		"duration": Computed(HandlerNull),
	}})
	v2 := extend(v3, schema.ContentNodeTable, TableMapping{PerRow: map[string]FieldMapping{
		"options": Computed(HandlerNull),
	}})
	v1 := extend(v2, schema.ContentNodeTable, TableMapping{PerRow: map[string]FieldMapping{
		"coach_content": Computed(HandlerFalse),
	}})
	v1 = extend(v1, schema.LanguageTable, TableMapping{PerRow: map[string]FieldMapping{
		"lang_direction": Computed(HandlerDefaultLangDirection),
	}})

	v040 := extend(v1, schema.ContentNodeTable, TableMapping{PerRow: map[string]FieldMapping{
		"license_name":        Computed(HandlerLicenseName),
		"license_description": Computed(HandlerLicenseDescription),
		"license_owner":       Computed(HandlerEmptyString),
	}})
	v040 = extend(v040, schema.FileTable, TableMapping{PerRow: map[string]FieldMapping{
		"local_file_id": Renamed("checksum"),
	}})
	v040 = extend(v040, schema.LocalFileTable, TableMapping{
		Source:   schema.FileTable,
		PerTable: TableLocalFilesFromFiles,
		PerRow: map[string]FieldMapping{
			"id": Renamed("checksum"),
		},
	})
	v040 = extend(v040, schema.ChannelMetadataTable, TableMapping{PerRow: map[string]FieldMapping{
		"root_id":            Renamed("root_pk"),
		"min_schema_version": Computed(HandlerNoVersion),
	}})

	v020 := extend(v040, schema.LanguageTable, TableMapping{PerRow: map[string]FieldMapping{
		"lang_name": Computed(HandlerLegacyLangName),
	}})

	return map[string]map[string]TableMapping{
		schema.Version5:  current,
		schema.Version4:  v4,
		schema.Version3:  v3,
		schema.Version2:  v2,
		schema.Version1:  v1,
		schema.V040Beta3: v040,
		schema.V020Beta1: v020,
	}
}

// extend copies base and layers override onto one table's entry. Field
// mappings merge; Source and PerTable replace when set.
func extend(base map[string]TableMapping, table string, override TableMapping) map[string]TableMapping {
	out := make(map[string]TableMapping, len(base)+1)
	for name, m := range base {
		m.PerRow = maps.Clone(m.PerRow)
		out[name] = m
	}

	m := out[table]
	if m.PerRow == nil {
		m.PerRow = make(map[string]FieldMapping, len(override.PerRow))
	}
	maps.Copy(m.PerRow, override.PerRow)
	if override.Source != "" {
		m.Source = override.Source
	}
	if override.PerTable != "" {
		m.PerTable = override.PerTable
	}
	out[table] = m
	return out
}
