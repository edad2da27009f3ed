package testutil

import (
	"database/sql"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/lherron/channelport/internal/schema"
)

// Ids used by the sample channel.
const (
	ChannelID     = "6199dde695db4ee4ab392222d5af1e5c"
	RootID        = "da7ecc4c84fb4e2b8c1f1cbe8a3a0f0e"
	TopicID       = "2d7b159a79f74e2cbd5e35c0bd1f2d94"
	VideoID       = "32a941fb77c2576e8f6b294cde4c3b0c"
	ExerciseID    = "6a40a19ec3dd4b1bb7f0fcbd0c2f3b55"
	DocumentID    = "b391bfeec8a458f89f013cf1ca9cf33a"
	VideoFileID   = "e9d3b4a56c8b4d77a0e8b0b0e5c9d6a1"
	ThumbFileID   = "0a0f7b6c1e2d4c3b9a8f7e6d5c4b3a29"
	ExerciseFile  = "11d2c4b8a9e7f6d5c4b3a2918f7e6d5c"
	DocumentFile  = "77a1b2c3d4e5f60718293a4b5c6d7e8f"
	VideoLocal    = "9f9438fe6b0d42dd8e913d7d04cfb2b2"
	ThumbLocal    = "3c4f5d6e7f8091a2b3c4d5e6f7081920"
	ExerciseLocal = "a1b2c3d4e5f60718293a4b5c6d7e8f90"
	DocumentLocal = "5e6f708192a3b4c5d6e7f8091a2b3c4d"
	AssessmentID  = "c0ffee00c0ffee00c0ffee00c0ffee00"
	MathTagID     = "7a9c1b2d3e4f5061728394a5b6c7d8e9"
	VideoTagID    = "8b0d2c3e4f5061728394a5b6c7d8e9f0"
)

// Fixture is a channel in the current schema, keyed by destination table.
type Fixture struct {
	Rows map[string][]map[string]any
}

// SampleChannel returns a small channel: a root topic holding a topic with
// a video and an exercise, and a document directly under the root.
func SampleChannel(version int64) *Fixture {
	node := func(id, parent, kind, title string, level, lft, rght int64, sort float64) map[string]any {
		activity, _ := map[string]any{
			"video": "watch", "exercise": "practice", "document": "read",
		}[kind]
		return map[string]any{
			"id": id, "parent_id": nilIfEmpty(parent), "channel_id": ChannelID, "content_id": id,
			"title": title, "description": title + " description", "kind": kind, "author": "",
			"license_name": "CC BY", "license_description": "Attribution", "license_owner": "",
			"lang_id": "en", "available": false, "coach_content": false, "options": "{}",
			"duration": nil, "learning_activities": activity, "sort_order": sort,
			"tree_id": int64(1), "lft": lft, "rght": rght, "level": level,
		}
	}
	file := func(id, local, node, preset string, supplementary, thumbnail bool) map[string]any {
		return map[string]any{
			"id": id, "local_file_id": local, "contentnode_id": node, "preset": preset,
			"supplementary": supplementary, "thumbnail": thumbnail, "priority": int64(1), "lang_id": nil,
		}
	}
	local := func(id, ext string, size int64) map[string]any {
		return map[string]any{"id": id, "extension": ext, "available": false, "file_size": size}
	}

	video := node(VideoID, TopicID, "video", "video", 2, 3, 4, 1)
	video["duration"] = int64(120)

	return &Fixture{Rows: map[string][]map[string]any{
		schema.LanguageTable: {
			{"id": "en", "lang_code": "en", "lang_subcode": nil, "lang_name": "English", "lang_direction": "ltr"},
		},
		schema.LocalFileTable: {
			local(VideoLocal, "mp4", 100),
			local(ThumbLocal, "png", 5),
			local(ExerciseLocal, "perseus", 20),
			local(DocumentLocal, "pdf", 30),
		},
		schema.ContentTagTable: {
			{"id": MathTagID, "tag_name": "math"},
			{"id": VideoTagID, "tag_name": "video"},
		},
		schema.ContentNodeTable: {
			node(RootID, "", "topic", "root", 0, 1, 10, 1),
			node(TopicID, RootID, "topic", "topic", 1, 2, 7, 1),
			video,
			node(ExerciseID, TopicID, "exercise", "exercise", 2, 5, 6, 2),
			node(DocumentID, RootID, "document", "document", 1, 8, 9, 2),
		},
		schema.NodeTagsTable: {
			{"contentnode_id": ExerciseID, "contenttag_id": MathTagID},
			{"contentnode_id": VideoID, "contenttag_id": VideoTagID},
		},
		schema.PrerequisiteTable: {
			{"from_contentnode_id": ExerciseID, "to_contentnode_id": VideoID},
		},
		schema.RelatedTable: {
			{"from_contentnode_id": VideoID, "to_contentnode_id": DocumentID},
			{"from_contentnode_id": DocumentID, "to_contentnode_id": VideoID},
		},
		schema.FileTable: {
			file(VideoFileID, VideoLocal, VideoID, "high_res_video", false, false),
			file(ThumbFileID, ThumbLocal, VideoID, "video_thumbnail", true, true),
			file(ExerciseFile, ExerciseLocal, ExerciseID, "exercise", false, false),
			file(DocumentFile, DocumentLocal, DocumentID, "document", false, false),
		},
		schema.AssessmentMetaTable: {
			{
				"id": AssessmentID, "contentnode_id": ExerciseID, "assessment_item_ids": `["q1","q2"]`,
				"number_of_assessments": int64(2), "mastery_model": `{"type":"do_all"}`,
				"randomize": true, "is_manipulable": false,
			},
		},
		schema.ChannelMetadataTable: {
			{
				"id": ChannelID, "name": "testing", "description": "test channel", "author": "tester",
				"version": version, "thumbnail": "", "last_updated": "2024-01-01T00:00:00Z",
				"min_schema_version": schema.Current, "root_id": RootID,
			},
		},
		schema.IncludedLanguagesTable: {
			{"channelmetadata_id": ChannelID, "language_id": "en"},
		},
	}}
}

// Clone returns a deep copy of the fixture.
func (f *Fixture) Clone() *Fixture {
	out := &Fixture{Rows: make(map[string][]map[string]any, len(f.Rows))}
	for table, rows := range f.Rows {
		cloned := make([]map[string]any, len(rows))
		for i, row := range rows {
			cloned[i] = maps.Clone(row)
		}
		out.Rows[table] = cloned
	}
	return out
}

// Channel returns the fixture's channel row.
func (f *Fixture) Channel() map[string]any {
	return f.Rows[schema.ChannelMetadataTable][0]
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CatalogTable is one table of a rendered catalog.
type CatalogTable struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// rank orders shapes: legacy shapes below 1, numbered versions by number.
func rank(shape string) int {
	switch shape {
	case schema.V020Beta1:
		return -1
	case schema.V040Beta3:
		return 0
	}
	n, err := strconv.Atoi(shape)
	if err != nil {
		panic("unknown catalog shape " + shape)
	}
	return n
}

var linkTables = []string{
	schema.NodeTagsTable, schema.PrerequisiteTable, schema.RelatedTable, schema.IncludedLanguagesTable,
}

// Render lays the fixture out the way a catalog of the given shape stores it.
func (f *Fixture) Render(shape string) []CatalogTable {
	r := rank(shape)

	licenseIDs := map[any]int64{}
	var licenses [][]any
	for _, n := range f.Rows[schema.ContentNodeTable] {
		name := n["license_name"]
		if _, ok := licenseIDs[name]; ok || name == nil {
			continue
		}
		licenseIDs[name] = int64(len(licenseIDs) + 1)
		row := []any{licenseIDs[name], name}
		if r == 0 {
			row = append(row, n["license_description"])
		}
		licenses = append(licenses, row)
	}

	localFiles := map[any]map[string]any{}
	for _, lf := range f.Rows[schema.LocalFileTable] {
		localFiles[lf["id"]] = lf
	}

	var out []CatalogTable
	for _, table := range schema.Content().Tables() {
		cols, ok := catalogColumns(table, r)
		if !ok {
			continue
		}

		ct := CatalogTable{Name: table.Name, Columns: cols}
		for i, row := range f.Rows[table.Name] {
			values := make([]any, len(cols))
			for c, col := range cols {
				switch {
				case col == "id" && slices.Contains(linkTables, table.Name):
					values[c] = int64(i + 1)
				case col == "license_id":
					values[c] = licenseIDs[row["license_name"]]
				case col == "checksum":
					values[c] = row["local_file_id"]
				case table.Name == schema.FileTable && r < 1 && col != "id" && localFiles[row["local_file_id"]] != nil && !hasKey(row, col):
					values[c] = localFiles[row["local_file_id"]][col]
				case col == "root_pk":
					values[c] = row["root_id"]
				case col == "min_schema_version":
					values[c] = shape
				default:
					values[c] = row[col]
				}
			}
			ct.Rows = append(ct.Rows, values)
		}
		out = append(out, ct)
	}

	if r < 1 {
		cols := []string{"id", "license_name"}
		if r == 0 {
			cols = append(cols, "license_description")
		}
		out = append(out, CatalogTable{Name: schema.LicenseTable, Columns: cols, Rows: licenses})
	}
	return out
}

func hasKey(row map[string]any, key string) bool {
	_, ok := row[key]
	return ok
}

func catalogColumns(table *schema.Table, r int) ([]string, bool) {
	cols := table.ColumnNames()
	drop := func(names ...string) {
		cols = slices.DeleteFunc(cols, func(c string) bool { return slices.Contains(names, c) })
	}

	switch table.Name {
	case schema.ContentNodeTable:
		if r < 5 {
			drop("learning_activities")
		}
		if r < 4 {
			drop("duration")
		}
		if r < 3 {
			drop("options")
		}
		if r < 2 {
			drop("coach_content")
		}
		if r < 1 {
			drop("channel_id", "license_name", "license_description", "license_owner")
			cols = append(cols, "license_id")
		}
	case schema.LanguageTable:
		if r < 2 {
			drop("lang_direction")
		}
		if r < 0 {
			drop("lang_name")
		}
	case schema.LocalFileTable:
		if r < 1 {
			return nil, false
		}
	case schema.FileTable:
		if r < 1 {
			drop("local_file_id")
			cols = append(cols, "checksum", "extension", "file_size", "available")
		}
	case schema.AssessmentMetaTable:
		if r < 0 {
			return nil, false
		}
	case schema.ChannelMetadataTable:
		drop("partial", "published_size", "total_resource_count")
		if r < 1 {
			drop("root_id", "min_schema_version")
			cols = append(cols, "root_pk")
		}
	case schema.IncludedLanguagesTable:
		if r < 2 {
			return nil, false
		}
	}

	if slices.Contains(linkTables, table.Name) {
		cols = append([]string{"id"}, cols...)
	}
	return cols, true
}

// WriteCatalog writes the fixture as a catalog file of the given shape
// under contentDir and returns its path.
func WriteCatalog(t *testing.T, contentDir, shape string, f *Fixture) string {
	t.Helper()

	path := filepath.Join(contentDir, "databases", ChannelIDOf(f)+".sqlite3")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create catalog directory: %v", err)
	}
	os.Remove(path)

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to create catalog: %v", err)
	}
	defer conn.Close()

	for _, table := range f.Render(shape) {
		quoted := make([]string, len(table.Columns))
		for i, c := range table.Columns {
			quoted[i] = strconv.Quote(c)
		}
		if _, err := conn.Exec(fmt.Sprintf("CREATE TABLE %q (%s)", table.Name, strings.Join(quoted, ", "))); err != nil {
			t.Fatalf("Failed to create catalog table %s: %v", table.Name, err)
		}

		insert := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", table.Name, strings.Join(quoted, ", "),
			strings.TrimSuffix(strings.Repeat("?, ", len(table.Columns)), ", "))
		for _, row := range table.Rows {
			if _, err := conn.Exec(insert, row...); err != nil {
				t.Fatalf("Failed to insert into catalog table %s: %v", table.Name, err)
			}
		}
	}
	return path
}

// Payload renders the fixture as a structured payload of a numbered version.
func Payload(version string, f *Fixture) map[string]any {
	payload := map[string]any{"schema_version": version}
	for _, table := range f.Render(version) {
		rows := make([]any, len(table.Rows))
		for i, values := range table.Rows {
			row := make(map[string]any, len(values))
			for c, col := range table.Columns {
				row[col] = values[c]
			}
			rows[i] = row
		}
		payload[table.Name] = rows
	}
	return payload
}

// ChannelIDOf returns the id of the fixture's channel.
func ChannelIDOf(f *Fixture) string {
	return f.Channel()["id"].(string)
}
