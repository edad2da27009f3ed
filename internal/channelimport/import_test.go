package channelimport

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/channelport/internal/annotation"
	"github.com/lherron/channelport/internal/bridge"
	"github.com/lherron/channelport/internal/db"
	"github.com/lherron/channelport/internal/mapping"
	"github.com/lherron/channelport/internal/paths"
	"github.com/lherron/channelport/internal/schema"
	"github.com/lherron/channelport/internal/testutil"
)

var allShapes = []string{
	schema.V020Beta1, schema.V040Beta3,
	schema.Version1, schema.Version2, schema.Version3, schema.Version4, schema.Version5,
}

type harness struct {
	db         *db.DB
	contentDir string
	svc        *Service
}

func setup(t *testing.T) *harness {
	t.Helper()
	database := testutil.TempDB(t)
	dir := t.TempDir()
	return &harness{
		db:         database,
		contentDir: dir,
		svc: NewService(database, ServiceConfig{
			ContentDir: dir,
			BatchSize:  3,
			Hooks:      annotation.New(database, zerolog.Nop()),
			Logger:     zerolog.Nop(),
		}),
	}
}

func (h *harness) importCatalog(t *testing.T, shape string, fx *testutil.Fixture) Result {
	t.Helper()
	testutil.WriteCatalog(t, h.contentDir, shape, fx)
	res, err := h.svc.ImportFromLocalCatalog(context.Background(), testutil.ChannelID)
	require.NoError(t, err)
	return res
}

func (h *harness) count(t *testing.T, table, where string, args ...any) int {
	t.Helper()
	return testutil.Count(t, h.db, table, where, args...)
}

func scalar[T any](t *testing.T, database *db.DB, query string, args ...any) T {
	t.Helper()
	var v T
	require.NoError(t, database.QueryRow(database.Dialect().Rebind(query), args...).Scan(&v))
	return v
}

func (h *harness) snapshot(t *testing.T) map[string]int {
	t.Helper()
	counts := make(map[string]int)
	for _, table := range schema.Content().Tables() {
		counts[table.Name] = h.count(t, table.Name, "")
	}
	return counts
}

func TestImportEveryShape(t *testing.T) {
	for _, shape := range allShapes {
		t.Run(shape, func(t *testing.T) {
			h := setup(t)
			res := h.importCatalog(t, shape, testutil.SampleChannel(1))

			assert.Equal(t, ActionImport, res.Action)
			assert.Equal(t, int64(1), res.TreeID)
			assert.Equal(t, 5, res.Tables[schema.ContentNodeTable].Rows)

			assert.Equal(t, 5, h.count(t, schema.ContentNodeTable, "tree_id = 1 AND channel_id = ?", testutil.ChannelID))
			assert.Equal(t, 4, h.count(t, schema.FileTable, ""))
			assert.Equal(t, 4, h.count(t, schema.LocalFileTable, ""))
			assert.Equal(t, 2, h.count(t, schema.ContentTagTable, ""))
			assert.Equal(t, 2, h.count(t, schema.NodeTagsTable, ""))
			assert.Equal(t, 1, h.count(t, schema.PrerequisiteTable, ""))
			assert.Equal(t, 2, h.count(t, schema.RelatedTable, ""))
			assert.Equal(t, 1, h.count(t, schema.LanguageTable, "lang_direction = 'ltr'"))

			if shape == schema.V020Beta1 {
				assert.Equal(t, 0, h.count(t, schema.AssessmentMetaTable, ""))
				assert.Equal(t, "", scalar[string](t, h.db, "SELECT lang_name FROM content_language WHERE id = 'en'"))
			} else {
				assert.Equal(t, 1, h.count(t, schema.AssessmentMetaTable, ""))
				assert.Equal(t, "English", scalar[string](t, h.db, "SELECT lang_name FROM content_language WHERE id = 'en'"))
			}

			wantLanguages := 1
			if shape == schema.V020Beta1 || shape == schema.V040Beta3 || shape == schema.Version1 {
				wantLanguages = 0
			}
			assert.Equal(t, wantLanguages, h.count(t, schema.IncludedLanguagesTable, ""))

			assert.Equal(t, "CC BY", scalar[string](t, h.db, "SELECT license_name FROM content_contentnode WHERE id = ?", testutil.VideoID))
			desc := scalar[sql.NullString](t, h.db, "SELECT license_description FROM content_contentnode WHERE id = ?", testutil.VideoID)
			if shape == schema.V020Beta1 {
				assert.False(t, desc.Valid)
			} else {
				assert.Equal(t, "Attribution", desc.String)
			}

			for kind, activity := range map[string]string{"video": "watch", "exercise": "practice", "document": "read"} {
				assert.Equal(t, 1, h.count(t, schema.ContentNodeTable, "kind = ? AND learning_activities = ?", kind, activity), kind)
			}

			assert.Equal(t, 1, h.count(t, schema.ChannelMetadataTable,
				"id = ? AND version = 1 AND root_id = ? AND partial = FALSE", testutil.ChannelID, testutil.RootID))
		})
	}
}

func TestImportStructuredDataEveryVersion(t *testing.T) {
	for _, version := range []string{schema.Version1, schema.Version2, schema.Version3, schema.Version4, schema.Version5} {
		t.Run(version, func(t *testing.T) {
			h := setup(t)
			res, err := h.svc.ImportFromStructuredData(context.Background(), testutil.Payload(version, testutil.SampleChannel(1)), false)
			require.NoError(t, err)

			assert.Equal(t, ActionImport, res.Action)
			assert.Equal(t, version, res.SchemaVersion)
			assert.Equal(t, 5, h.count(t, schema.ContentNodeTable, ""))
			assert.Equal(t, 4, h.count(t, schema.FileTable, ""))
			assert.Equal(t, 1, h.count(t, schema.ChannelMetadataTable, "root_id = ?", testutil.RootID))
		})
	}
}

func TestReimportSameOrOlderVersionIsNoop(t *testing.T) {
	for _, shape := range allShapes {
		t.Run(shape, func(t *testing.T) {
			h := setup(t)
			h.importCatalog(t, shape, testutil.SampleChannel(2))

			testutil.Exec(t, h.db, "UPDATE content_channelmetadata SET partial = TRUE WHERE id = ?", testutil.ChannelID)
			testutil.Exec(t, h.db, "UPDATE content_localfile SET available = TRUE WHERE id = ?", testutil.VideoLocal)
			before := h.snapshot(t)

			for _, version := range []int64{2, 1} {
				res := h.importCatalog(t, shape, testutil.SampleChannel(version))
				assert.Equal(t, ActionSkip, res.Action)
				assert.Equal(t, ReasonUpToDate, res.Reason)
			}

			assert.Equal(t, before, h.snapshot(t))
			assert.Equal(t, 1, h.count(t, schema.ChannelMetadataTable, "version = 2 AND partial = TRUE"))
			assert.Equal(t, 1, h.count(t, schema.LocalFileTable, "id = ? AND available = TRUE", testutil.VideoLocal))
		})
	}
}

func TestNewerVersionReplacesChannel(t *testing.T) {
	for _, shape := range allShapes {
		t.Run(shape, func(t *testing.T) {
			h := setup(t)
			h.importCatalog(t, shape, testutil.SampleChannel(1))
			before := h.snapshot(t)

			res := h.importCatalog(t, shape, testutil.SampleChannel(2))
			assert.Equal(t, ActionReplace, res.Action)
			assert.Equal(t, int64(1), res.TreeID)
			assert.Equal(t, int64(5), res.Purged[schema.ContentNodeTable])

			assert.Equal(t, before, h.snapshot(t))
			assert.Equal(t, 1, h.count(t, schema.ChannelMetadataTable, "version = 2 AND partial = FALSE"))
		})
	}
}

func TestLocalFileAvailabilitySurvivesReimport(t *testing.T) {
	ctx := context.Background()
	h := setup(t)
	h.importCatalog(t, schema.Current, testutil.SampleChannel(1))

	testutil.Exec(t, h.db, "UPDATE content_localfile SET available = TRUE WHERE id IN (?, ?)", testutil.VideoLocal, testutil.ThumbLocal)

	hooks := annotation.New(h.db, zerolog.Nop())
	require.NoError(t, hooks.SetLeafAvailability(ctx, testutil.ChannelID))
	require.NoError(t, hooks.RecurseAvailabilityUpTree(ctx, testutil.ChannelID))
	assert.Equal(t, 1, h.count(t, schema.ContentNodeTable, "id = ? AND available = TRUE", testutil.RootID))

	testutil.Exec(t, h.db, "UPDATE content_channelmetadata SET version = -1 WHERE id = ?", testutil.ChannelID)
	res := h.importCatalog(t, schema.Current, testutil.SampleChannel(1))
	require.Equal(t, ActionReplace, res.Action)

	assert.Equal(t, 1, h.count(t, schema.ContentNodeTable, "id = ? AND available = TRUE", testutil.RootID))
	assert.Equal(t, 1, h.count(t, schema.ContentNodeTable, "id = ? AND available = TRUE", testutil.VideoID))
	assert.Equal(t, 1, h.count(t, schema.LocalFileTable, "id = ? AND available = TRUE", testutil.VideoLocal))
	assert.Equal(t, 0, h.count(t, schema.ContentNodeTable, "id = ? AND available = TRUE", testutil.DocumentID))
	assert.Equal(t, int64(1), scalar[int64](t, h.db, "SELECT total_resource_count FROM content_channelmetadata WHERE id = ?", testutil.ChannelID))
	assert.Equal(t, int64(105), scalar[int64](t, h.db, "SELECT published_size FROM content_channelmetadata WHERE id = ?", testutil.ChannelID))
}

func TestResidualRowsDeletedAfterReimport(t *testing.T) {
	h := setup(t)
	h.importCatalog(t, schema.Current, testutil.SampleChannel(1))

	const (
		extraNode  = "0123456789abcdef0123456789abcdef"
		extraFile  = "fedcba9876543210fedcba9876543210"
		extraLocal = "00112233445566778899aabbccddeeff"
		extraAsmt  = "ffeeddccbbaa99887766554433221100"
	)
	testutil.Exec(t, h.db, `INSERT INTO content_contentnode (id, parent_id, channel_id, content_id, title, kind, tree_id, lft, rght, level)
		VALUES (?, ?, ?, ?, 'test', 'video', 1, 11, 12, 1)`, extraNode, testutil.RootID, testutil.ChannelID, extraNode)
	testutil.Exec(t, h.db, "INSERT INTO content_localfile (id, extension, available, file_size) VALUES (?, 'mp4', TRUE, 1)", extraLocal)
	testutil.Exec(t, h.db, "INSERT INTO content_file (id, local_file_id, contentnode_id, preset) VALUES (?, ?, ?, 'high_res_video')",
		extraFile, extraLocal, testutil.VideoID)
	testutil.Exec(t, h.db, "INSERT INTO content_assessmentmetadata (id, contentnode_id) VALUES (?, ?)", extraAsmt, testutil.ExerciseID)
	testutil.Exec(t, h.db, "INSERT INTO content_language (id, lang_code) VALUES ('fr', 'fr')")
	testutil.Exec(t, h.db, "INSERT INTO content_channelmetadata_included_languages (channelmetadata_id, language_id) VALUES (?, 'fr')", testutil.ChannelID)
	testutil.Exec(t, h.db, "INSERT INTO content_contenttag (id, tag_name) VALUES ('stale', 'stale')")
	testutil.Exec(t, h.db, "INSERT INTO content_contentnode_tags (contentnode_id, contenttag_id) VALUES (?, 'stale')", extraNode)

	res := h.importCatalog(t, schema.Current, testutil.SampleChannel(2))
	require.Equal(t, ActionReplace, res.Action)

	assert.Equal(t, 0, h.count(t, schema.ContentNodeTable, "id = ?", extraNode))
	assert.Equal(t, 0, h.count(t, schema.FileTable, "id = ?", extraFile))
	assert.Equal(t, 0, h.count(t, schema.LocalFileTable, "id = ?", extraLocal))
	assert.Equal(t, 0, h.count(t, schema.AssessmentMetaTable, "id = ?", extraAsmt))
	assert.Equal(t, 0, h.count(t, schema.ContentTagTable, "id = 'stale'"))
	assert.Equal(t, 1, h.count(t, schema.IncludedLanguagesTable, "channelmetadata_id = ?", testutil.ChannelID))
	assert.Equal(t, 0, h.count(t, schema.IncludedLanguagesTable, "language_id = 'fr'"))
	// Languages themselves are shared.
	assert.Equal(t, 1, h.count(t, schema.LanguageTable, "id = 'fr'"))
}

func TestPrerequisitesNotDuplicated(t *testing.T) {
	h := setup(t)
	h.importCatalog(t, schema.Current, testutil.SampleChannel(1))
	before := h.count(t, schema.PrerequisiteTable, "")

	h.importCatalog(t, schema.Current, testutil.SampleChannel(2))
	assert.Equal(t, before, h.count(t, schema.PrerequisiteTable, ""))

	// A merge of the same rows must not duplicate them either.
	_, err := h.svc.ImportFromStructuredData(context.Background(), testutil.Payload(schema.Current, testutil.SampleChannel(2)), true)
	require.NoError(t, err)
	assert.Equal(t, before, h.count(t, schema.PrerequisiteTable, ""))
	assert.Equal(t, 2, h.count(t, schema.RelatedTable, ""))
}

const (
	altChannel = "6436067f6f8f7c2eb15a296c887c788d"
	altRoot    = "579ddae52c2349d32ca6e655840dc2c0"
	altVideo   = "f0dcb2c7e365a9c480042e2af93b0411"
	altLocal   = "c3e0d6073a31fd8b8d138b926d7b8567"
)

func insertAlternateChannel(t *testing.T, database *db.DB, treeID int64) {
	t.Helper()
	testutil.Exec(t, database, `INSERT INTO content_contentnode (id, parent_id, channel_id, content_id, title, kind, license_name, tree_id, lft, rght, level)
		VALUES (?, NULL, ?, 'ae5b5a53580aace508b6545486662d93', 'root2', 'topic', 'WTFPL', ?, 1, 4, 0)`, altRoot, altChannel, treeID)
	testutil.Exec(t, database, `INSERT INTO content_contentnode (id, parent_id, channel_id, content_id, title, kind, license_name, tree_id, lft, rght, level)
		VALUES (?, ?, ?, 'c3e0d6073a31fd8b8d138b926d7b8567', 'alt video', 'video', 'WTFPL', ?, 2, 3, 1)`, altVideo, altRoot, altChannel, treeID)
	testutil.Exec(t, database, `INSERT INTO content_channelmetadata (id, name, description, author, min_schema_version, root_id, version)
		VALUES (?, 'testing 2', 'more test data', 'buster', '1', ?, 0)`, altChannel, altRoot)
	testutil.Exec(t, database, "INSERT INTO content_localfile (id, extension) VALUES (?, 'mp4')", altLocal)
	testutil.Exec(t, database, "INSERT INTO content_file (id, local_file_id, contentnode_id, preset) VALUES (?, ?, ?, 'high_res_video')",
		altLocal, altLocal, altVideo)
}

func TestExistingChannelUntouched(t *testing.T) {
	h := setup(t)
	insertAlternateChannel(t, h.db, 1)

	res := h.importCatalog(t, schema.Version4, testutil.SampleChannel(1))
	assert.Equal(t, int64(2), res.TreeID)
	assert.Equal(t, 5, h.count(t, schema.ContentNodeTable, "tree_id = 2"))

	res = h.importCatalog(t, schema.Version4, testutil.SampleChannel(2))
	assert.Equal(t, ActionReplace, res.Action)
	assert.Equal(t, int64(2), res.TreeID)

	assert.Equal(t, 2, h.count(t, schema.ContentNodeTable, "channel_id = ? AND tree_id = 1", altChannel))
	assert.Equal(t, 1, h.count(t, schema.ContentNodeTable, "id = ? AND learning_activities IS NULL", altVideo))
	assert.Equal(t, 1, h.count(t, schema.LocalFileTable, "id = ?", altLocal))
	assert.Equal(t, 1, h.count(t, schema.FileTable, "id = ?", altLocal))
	assert.Equal(t, 1, h.count(t, schema.ChannelMetadataTable, "id = ? AND root_id = ?", altChannel, altRoot))
}

func TestSharedLocalFileKeptWhileReferenced(t *testing.T) {
	h := setup(t)
	insertAlternateChannel(t, h.db, 1)
	h.importCatalog(t, schema.Current, testutil.SampleChannel(1))

	// The other channel now also uses the document's blob.
	testutil.Exec(t, h.db, "INSERT INTO content_file (id, local_file_id, contentnode_id, preset) VALUES ('shared', ?, ?, 'document')",
		testutil.DocumentLocal, altVideo)

	fx := testutil.SampleChannel(2)
	var files []map[string]any
	for _, f := range fx.Rows[schema.FileTable] {
		if f["id"] != testutil.DocumentFile {
			files = append(files, f)
		}
	}
	fx.Rows[schema.FileTable] = files
	var locals []map[string]any
	for _, lf := range fx.Rows[schema.LocalFileTable] {
		if lf["id"] != testutil.DocumentLocal {
			locals = append(locals, lf)
		}
	}
	fx.Rows[schema.LocalFileTable] = locals

	h.importCatalog(t, schema.Current, fx)
	assert.Equal(t, 0, h.count(t, schema.FileTable, "id = ?", testutil.DocumentFile))
	assert.Equal(t, 1, h.count(t, schema.LocalFileTable, "id = ?", testutil.DocumentLocal))
}

func splitPayload(fx *testutil.Fixture) (*testutil.Fixture, *testutil.Fixture) {
	data := fx.Rows
	partial := &testutil.Fixture{Rows: map[string][]map[string]any{}}

	nodes := map[any]bool{}
	node := data[schema.ContentNodeTable][len(data[schema.ContentNodeTable])-1]
	for node != nil {
		nodes[node["id"]] = true
		partial.Rows[schema.ContentNodeTable] = append([]map[string]any{node}, partial.Rows[schema.ContentNodeTable]...)
		var parent map[string]any
		for _, n := range data[schema.ContentNodeTable] {
			if n["id"] == node["parent_id"] {
				parent = n
			}
		}
		node = parent
	}

	locals := map[any]bool{}
	for _, f := range data[schema.FileTable] {
		if nodes[f["contentnode_id"]] {
			partial.Rows[schema.FileTable] = append(partial.Rows[schema.FileTable], f)
			locals[f["local_file_id"]] = true
		}
	}
	tags := map[any]bool{}
	for _, nt := range data[schema.NodeTagsTable] {
		if nodes[nt["contentnode_id"]] {
			partial.Rows[schema.NodeTagsTable] = append(partial.Rows[schema.NodeTagsTable], nt)
			tags[nt["contenttag_id"]] = true
		}
	}
	for _, table := range []string{schema.PrerequisiteTable, schema.RelatedTable} {
		for _, r := range data[table] {
			if nodes[r["from_contentnode_id"]] && nodes[r["to_contentnode_id"]] {
				partial.Rows[table] = append(partial.Rows[table], r)
			}
		}
	}
	for _, a := range data[schema.AssessmentMetaTable] {
		if nodes[a["contentnode_id"]] {
			partial.Rows[schema.AssessmentMetaTable] = append(partial.Rows[schema.AssessmentMetaTable], a)
		}
	}
	for _, lf := range data[schema.LocalFileTable] {
		if locals[lf["id"]] {
			partial.Rows[schema.LocalFileTable] = append(partial.Rows[schema.LocalFileTable], lf)
		}
	}
	for _, tag := range data[schema.ContentTagTable] {
		if tags[tag["id"]] {
			partial.Rows[schema.ContentTagTable] = append(partial.Rows[schema.ContentTagTable], tag)
		}
	}
	partial.Rows[schema.LanguageTable] = data[schema.LanguageTable]
	partial.Rows[schema.ChannelMetadataTable] = data[schema.ChannelMetadataTable]
	partial.Rows[schema.IncludedLanguagesTable] = data[schema.IncludedLanguagesTable]

	remainder := &testutil.Fixture{Rows: map[string][]map[string]any{}}
	for table, rows := range data {
		for _, row := range rows {
			if !containsRow(partial.Rows[table], row) {
				remainder.Rows[table] = append(remainder.Rows[table], row)
			}
		}
	}
	remainder.Rows[schema.ChannelMetadataTable] = data[schema.ChannelMetadataTable]
	return partial, remainder
}

func containsRow(rows []map[string]any, row map[string]any) bool {
	for _, r := range rows {
		if len(r) != len(row) {
			continue
		}
		same := true
		for k, v := range row {
			if r[k] != v {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

func TestPartialImportSplitAcrossPayloads(t *testing.T) {
	ctx := context.Background()
	full := setup(t)
	full.importCatalog(t, schema.Current, testutil.SampleChannel(3))
	want := full.snapshot(t)

	h := setup(t)
	first, rest := splitPayload(testutil.SampleChannel(3))

	res, err := h.svc.ImportFromStructuredData(ctx, testutil.Payload(schema.Current, first), true)
	require.NoError(t, err)
	assert.Equal(t, ActionImport, res.Action)
	assert.Equal(t, 2, h.count(t, schema.ContentNodeTable, ""))

	res, err = h.svc.ImportFromStructuredData(ctx, testutil.Payload(schema.Current, rest), true)
	require.NoError(t, err)
	assert.Equal(t, ActionMerge, res.Action)

	assert.Equal(t, want, h.snapshot(t))
	assert.Equal(t, 1, h.count(t, schema.ChannelMetadataTable, "version = 3 AND partial = TRUE AND root_id = ?", testutil.RootID))
	assert.Equal(t, 1, h.count(t, schema.ContentNodeTable, "id = ? AND parent_id = ?", testutil.VideoID, testutil.TopicID))

	// Slices of any other version are not reconciled.
	for _, version := range []int64{2, 4} {
		res, err = h.svc.ImportFromStructuredData(ctx, testutil.Payload(schema.Current, testutil.SampleChannel(version)), true)
		require.NoError(t, err)
		assert.Equal(t, ActionSkip, res.Action)
		assert.Equal(t, ReasonPartialMismatch, res.Reason)
	}
	assert.Equal(t, want, h.snapshot(t))

	// A full import of a newer version clears the partial flag.
	res = h.importCatalog(t, schema.Current, testutil.SampleChannel(4))
	assert.Equal(t, ActionReplace, res.Action)
	assert.Equal(t, 1, h.count(t, schema.ChannelMetadataTable, "version = 4 AND partial = FALSE"))
}

func TestDanglingRootIsIntegrityError(t *testing.T) {
	h := setup(t)
	fx := testutil.SampleChannel(1)
	fx.Channel()["root_id"] = nil
	testutil.WriteCatalog(t, h.contentDir, schema.Current, fx)

	_, err := h.svc.ImportFromLocalCatalog(context.Background(), testutil.ChannelID)
	require.ErrorIs(t, err, ErrIntegrity)

	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, testutil.ChannelID, ierr.ChannelID)

	// Nothing of the failed import is committed.
	for table, n := range h.snapshot(t) {
		if table != schema.LanguageTable {
			assert.Zero(t, n, table)
		}
	}

	entries, err := History(context.Background(), bridge.NewDestination(h.db, schema.Content()), testutil.ChannelID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// A corrected catalog starts from a clean slate.
	res := h.importCatalog(t, schema.Current, withoutNode(testutil.SampleChannel(1), testutil.VideoID))
	assert.Equal(t, ActionImport, res.Action)
	assert.Equal(t, int64(1), res.TreeID)
	assert.Equal(t, 0, h.count(t, schema.ContentNodeTable, "id = ?", testutil.VideoID))
	assert.Equal(t, 4, h.count(t, schema.ContentNodeTable, "channel_id = ?", testutil.ChannelID))
	assert.Equal(t, 0, h.count(t, schema.FileTable, "contentnode_id = ?", testutil.VideoID))
}

func TestDanglingRootKeepsPreviousVersion(t *testing.T) {
	h := setup(t)
	h.importCatalog(t, schema.Current, testutil.SampleChannel(1))
	before := h.snapshot(t)

	fx := testutil.SampleChannel(2)
	fx.Channel()["root_id"] = nil
	testutil.WriteCatalog(t, h.contentDir, schema.Current, fx)

	_, err := h.svc.ImportFromLocalCatalog(context.Background(), testutil.ChannelID)
	require.ErrorIs(t, err, ErrIntegrity)

	assert.Equal(t, before, h.snapshot(t))
	assert.Equal(t, 1, h.count(t, schema.ChannelMetadataTable, "version = 1 AND root_id = ?", testutil.RootID))
}

// withoutNode drops a node and every row pointing at it.
func withoutNode(fx *testutil.Fixture, nodeID string) *testutil.Fixture {
	refs := map[string][]string{
		schema.ContentNodeTable:    {"id"},
		schema.FileTable:           {"contentnode_id"},
		schema.NodeTagsTable:       {"contentnode_id"},
		schema.AssessmentMetaTable: {"contentnode_id"},
		schema.PrerequisiteTable:   {"from_contentnode_id", "to_contentnode_id"},
		schema.RelatedTable:        {"from_contentnode_id", "to_contentnode_id"},
	}
	for table, cols := range refs {
		var kept []map[string]any
	rows:
		for _, row := range fx.Rows[table] {
			for _, col := range cols {
				if row[col] == nodeID {
					continue rows
				}
			}
			kept = append(kept, row)
		}
		fx.Rows[table] = kept
	}
	return fx
}

func TestPurgeSweepsOnlyChannelTags(t *testing.T) {
	h := setup(t)
	const looseTag = "4d2c1b0a9f8e7d6c5b4a39281706f5e4"
	testutil.Exec(t, h.db, "INSERT INTO content_contenttag (id, tag_name) VALUES (?, 'loose')", looseTag)

	h.importCatalog(t, schema.Current, testutil.SampleChannel(1))

	fx := testutil.SampleChannel(2)
	var links []map[string]any
	for _, nt := range fx.Rows[schema.NodeTagsTable] {
		if nt["contenttag_id"] != testutil.VideoTagID {
			links = append(links, nt)
		}
	}
	fx.Rows[schema.NodeTagsTable] = links

	res := h.importCatalog(t, schema.Current, fx)
	require.Equal(t, ActionReplace, res.Action)

	assert.Equal(t, 0, h.count(t, schema.ContentTagTable, "id = ?", testutil.VideoTagID))
	assert.Equal(t, 1, h.count(t, schema.ContentTagTable, "id = ?", testutil.MathTagID))
	assert.Equal(t, 1, h.count(t, schema.ContentTagTable, "id = ?", looseTag))
}

func TestStructuredDataNormalizesChannelID(t *testing.T) {
	h := setup(t)
	const dashed = "6199DDE6-95DB-4EE4-AB39-2222D5AF1E5C"

	payload := testutil.Payload(schema.Current, testutil.SampleChannel(1))
	for table, col := range map[string]string{
		schema.ChannelMetadataTable:   "id",
		schema.ContentNodeTable:       "channel_id",
		schema.IncludedLanguagesTable: "channelmetadata_id",
	} {
		for _, row := range payload[table].([]any) {
			row.(map[string]any)[col] = dashed
		}
	}

	res, err := h.svc.ImportFromStructuredData(context.Background(), payload, false)
	require.NoError(t, err)
	assert.Equal(t, testutil.ChannelID, res.ChannelID)
	assert.Equal(t, 1, h.count(t, schema.ChannelMetadataTable, "id = ?", testutil.ChannelID))
	assert.Equal(t, 5, h.count(t, schema.ContentNodeTable, "channel_id = ?", testutil.ChannelID))
	assert.Equal(t, 1, h.count(t, schema.IncludedLanguagesTable, "channelmetadata_id = ?", testutil.ChannelID))

	// The catalog spelling of the id refers to the same channel.
	res = h.importCatalog(t, schema.Current, testutil.SampleChannel(1))
	assert.Equal(t, ActionSkip, res.Action)
	assert.Equal(t, ReasonUpToDate, res.Reason)
}

func TestFailedImportLeavesPreviousVersion(t *testing.T) {
	h := setup(t)
	h.importCatalog(t, schema.Current, testutil.SampleChannel(1))
	before := h.snapshot(t)

	payload := testutil.Payload(schema.Current, testutil.SampleChannel(2))
	delete(payload[schema.FileTable].([]any)[0].(map[string]any), "preset")

	_, err := h.svc.ImportFromStructuredData(context.Background(), payload, false)
	require.ErrorIs(t, err, mapping.ErrAttributeNotFound)

	var merr *mapping.MappingError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, schema.FileTable, merr.Table)
	assert.Equal(t, "preset", merr.Field)
	assert.Equal(t, schema.Current, merr.SchemaVersion)

	assert.Equal(t, before, h.snapshot(t))
	assert.Equal(t, 1, h.count(t, schema.ChannelMetadataTable, "version = 1"))

	// The failed version is retried rather than treated as current.
	res := h.importCatalog(t, schema.Current, testutil.SampleChannel(2))
	assert.Equal(t, ActionReplace, res.Action)
}

func TestChannelMismatch(t *testing.T) {
	h := setup(t)
	path := testutil.WriteCatalog(t, h.contentDir, schema.Current, testutil.SampleChannel(1))

	other := "0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f"
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(paths.CatalogPath(h.contentDir, other), content, 0644))

	_, err = h.svc.ImportFromLocalCatalog(context.Background(), other)
	assert.ErrorIs(t, err, ErrChannelMismatch)
	assert.Equal(t, 0, h.count(t, schema.ChannelMetadataTable, ""))
}

func TestMissingCatalog(t *testing.T) {
	h := setup(t)
	_, err := h.svc.ImportFromLocalCatalog(context.Background(), testutil.ChannelID)
	assert.Error(t, err)

	_, err = h.svc.ImportFromLocalCatalog(context.Background(), "not-an-id")
	assert.Error(t, err)
}

func TestUnknownSchemaVersion(t *testing.T) {
	h := setup(t)
	payload := testutil.Payload(schema.Current, testutil.SampleChannel(1))
	payload["schema_version"] = "99"

	_, err := h.svc.ImportFromStructuredData(context.Background(), payload, false)
	assert.ErrorIs(t, err, mapping.ErrUnknownSchemaVersion)
	assert.Equal(t, 0, h.count(t, schema.ChannelMetadataTable, ""))
}

func TestImportHistory(t *testing.T) {
	h := setup(t)
	h.importCatalog(t, schema.Current, testutil.SampleChannel(1))
	h.importCatalog(t, schema.Current, testutil.SampleChannel(1))
	h.importCatalog(t, schema.Current, testutil.SampleChannel(2))

	entries, err := History(context.Background(), bridge.NewDestination(h.db, schema.Content()), testutil.ChannelID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, ActionImport, entries[0].Action)
	assert.Equal(t, ActionSkip, entries[1].Action)
	assert.Equal(t, ReasonUpToDate, entries[1].Reason)
	assert.Equal(t, ActionReplace, entries[2].Action)
	assert.Equal(t, int64(2), entries[2].Version)
	assert.Equal(t, schema.Current, entries[2].SchemaVersion)
	assert.False(t, entries[2].StartedAt.IsZero())
	assert.False(t, entries[2].FinishedAt.Before(entries[2].StartedAt))
}

type recordingHooks struct {
	calls []string
}

func (r *recordingHooks) SetLeafAvailability(_ context.Context, id string) error {
	r.calls = append(r.calls, "leaf:"+id)
	return nil
}

func (r *recordingHooks) RecurseAvailabilityUpTree(_ context.Context, id string) error {
	r.calls = append(r.calls, "tree:"+id)
	return nil
}

func (r *recordingHooks) RecomputeAggregateMetadata(_ context.Context, id string) error {
	r.calls = append(r.calls, "metadata:"+id)
	return nil
}

func TestRunAndAnnotateHooks(t *testing.T) {
	ctx := context.Background()
	database := testutil.TempDB(t)
	hooks := &recordingHooks{}

	newImport := func(version int64) *Import {
		src, err := bridge.NewData(testutil.Payload(schema.Current, testutil.SampleChannel(version)))
		require.NoError(t, err)
		imp, err := New(ctx, testutil.ChannelID, src, bridge.NewDestination(database, schema.Content()), Options{Hooks: hooks})
		require.NoError(t, err)
		return imp
	}

	imp := newImport(1)
	_, err := imp.RunAndAnnotate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"leaf:" + testutil.ChannelID, "tree:" + testutil.ChannelID, "metadata:" + testutil.ChannelID,
	}, hooks.calls)

	require.NoError(t, imp.End())
	require.NoError(t, imp.End())

	// Skips do not annotate.
	hooks.calls = nil
	imp = newImport(1)
	defer imp.End()
	res, err := imp.RunAndAnnotate(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, res.Action)
	assert.Empty(t, hooks.calls)

	// The destination was not owned by the import, so it is still usable.
	assert.NoError(t, database.Ping())
}

func TestNewRejectsMismatchedPayload(t *testing.T) {
	src, err := bridge.NewData(testutil.Payload(schema.Current, testutil.SampleChannel(1)))
	require.NoError(t, err)

	_, err = New(context.Background(), "0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f", src,
		bridge.NewDestination(testutil.TempDB(t), schema.Content()), Options{})
	assert.ErrorIs(t, err, ErrChannelMismatch)
}
