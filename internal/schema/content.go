package schema

// Destination table names.
const (
	LanguageTable          = "content_language"
	LocalFileTable         = "content_localfile"
	ContentTagTable        = "content_contenttag"
	ContentNodeTable       = "content_contentnode"
	NodeTagsTable          = "content_contentnode_tags"
	PrerequisiteTable      = "content_contentnode_has_prerequisite"
	RelatedTable           = "content_contentnode_related"
	FileTable              = "content_file"
	AssessmentMetaTable    = "content_assessmentmetadata"
	ChannelMetadataTable   = "content_channelmetadata"
	IncludedLanguagesTable = "content_channelmetadata_included_languages"

	// LicenseTable only exists in unversioned catalogs.
	LicenseTable = "content_license"
)

const nodesInTree = "SELECT id FROM content_contentnode WHERE tree_id = ?"

var (
	Language = &Table{
		Name: LanguageTable,
		Columns: []Column{
			{"id", Text}, {"lang_code", Text}, {"lang_subcode", Text},
			{"lang_name", Text}, {"lang_direction", Text},
		},
		Key:    []string{"id"},
		Policy: Ignore,
		Scope:  Shared,
	}

	LocalFile = &Table{
		Name: LocalFileTable,
		Columns: []Column{
			{"id", Text}, {"extension", Text}, {"available", Bool}, {"file_size", Integer},
		},
		Key:      []string{"id"},
		Policy:   Upsert,
		Preserve: []string{"available"},
		Scope:    Shared,
	}

	ContentTag = &Table{
		Name:    ContentTagTable,
		Columns: []Column{{"id", UUID}, {"tag_name", Text}},
		Key:     []string{"id"},
		Policy:  Upsert,
		Scope:   Shared,
	}

	ContentNode = &Table{
		Name: ContentNodeTable,
		Columns: []Column{
			{"id", UUID}, {"parent_id", UUID}, {"channel_id", UUID}, {"content_id", UUID},
			{"title", Text}, {"description", Text}, {"kind", Text}, {"author", Text},
			{"license_name", Text}, {"license_description", Text}, {"license_owner", Text},
			{"lang_id", Text}, {"available", Bool}, {"coach_content", Bool},
			{"options", Text}, {"duration", Integer}, {"learning_activities", Text},
			{"sort_order", Real}, {"tree_id", Integer}, {"lft", Integer},
			{"rght", Integer}, {"level", Integer},
		},
		Key:        []string{"id"},
		DependsOn:  []string{LanguageTable},
		Policy:     Upsert,
		Order:      []string{"level", "lft"},
		Scope:      TreeScoped,
		ScopeWhere: "tree_id = ?",
	}

	NodeTags = &Table{
		Name:       NodeTagsTable,
		Columns:    []Column{{"contentnode_id", UUID}, {"contenttag_id", UUID}},
		Key:        []string{"contentnode_id", "contenttag_id"},
		DependsOn:  []string{ContentNodeTable, ContentTagTable},
		Policy:     Ignore,
		Scope:      TreeScoped,
		ScopeWhere: "contentnode_id IN (" + nodesInTree + ")",
	}

	Prerequisite = &Table{
		Name:       PrerequisiteTable,
		Columns:    []Column{{"from_contentnode_id", UUID}, {"to_contentnode_id", UUID}},
		Key:        []string{"from_contentnode_id", "to_contentnode_id"},
		DependsOn:  []string{ContentNodeTable},
		Policy:     Ignore,
		Scope:      TreeScoped,
		ScopeWhere: "from_contentnode_id IN (" + nodesInTree + ") OR to_contentnode_id IN (" + nodesInTree + ")",
	}

	Related = &Table{
		Name:       RelatedTable,
		Columns:    []Column{{"from_contentnode_id", UUID}, {"to_contentnode_id", UUID}},
		Key:        []string{"from_contentnode_id", "to_contentnode_id"},
		DependsOn:  []string{ContentNodeTable},
		Policy:     Ignore,
		Scope:      TreeScoped,
		ScopeWhere: "from_contentnode_id IN (" + nodesInTree + ") OR to_contentnode_id IN (" + nodesInTree + ")",
	}

	File = &Table{
		Name: FileTable,
		Columns: []Column{
			{"id", UUID}, {"local_file_id", Text}, {"contentnode_id", UUID}, {"preset", Text},
			{"supplementary", Bool}, {"thumbnail", Bool}, {"priority", Integer}, {"lang_id", Text},
		},
		Key:        []string{"id"},
		DependsOn:  []string{LocalFileTable, ContentNodeTable, LanguageTable},
		Policy:     Upsert,
		Scope:      TreeScoped,
		ScopeWhere: "contentnode_id IN (" + nodesInTree + ")",
	}

	AssessmentMetaData = &Table{
		Name: AssessmentMetaTable,
		Columns: []Column{
			{"id", UUID}, {"contentnode_id", UUID}, {"assessment_item_ids", Text},
			{"number_of_assessments", Integer}, {"mastery_model", Text},
			{"randomize", Bool}, {"is_manipulable", Bool},
		},
		Key:        []string{"id"},
		DependsOn:  []string{ContentNodeTable},
		Policy:     Upsert,
		Scope:      TreeScoped,
		ScopeWhere: "contentnode_id IN (" + nodesInTree + ")",
	}

	ChannelMetadata = &Table{
		Name: ChannelMetadataTable,
		Columns: []Column{
			{"id", UUID}, {"name", Text}, {"description", Text}, {"author", Text},
			{"version", Integer}, {"thumbnail", Text}, {"last_updated", Text},
			{"min_schema_version", Text}, {"root_id", UUID}, {"partial", Bool},
			{"published_size", Integer}, {"total_resource_count", Integer},
		},
		Key:       []string{"id"},
		DependsOn: []string{ContentNodeTable},
		Policy:    Upsert,
		// Version and partial are the last write of a successful import.
		Deferred: []string{"version", "partial"},
		Scope:    ChannelScoped,
	}

	IncludedLanguages = &Table{
		Name:       IncludedLanguagesTable,
		Columns:    []Column{{"channelmetadata_id", UUID}, {"language_id", Text}},
		Key:        []string{"channelmetadata_id", "language_id"},
		DependsOn:  []string{ChannelMetadataTable, LanguageTable},
		Policy:     Ignore,
		Scope:      ChannelScoped,
		ScopeWhere: "channelmetadata_id = ?",
	}
)

// Content returns the registry of all destination content tables.
func Content() *Registry {
	r, err := NewRegistry(
		ChannelMetadata, IncludedLanguages, AssessmentMetaData, File, Related,
		Prerequisite, NodeTags, ContentNode, ContentTag, LocalFile, Language,
	)
	if err != nil {
		panic(err)
	}
	return r
}
