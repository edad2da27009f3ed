package schema

// Catalog schema versions. Numbered versions are read from the
// min_schema_version column of the catalog's channel table.
const (
	// NoVersion marks catalogs written before the version marker existed.
	NoVersion = "unversioned"

	// Legacy sub-shapes of NoVersion, told apart by table structure.
	V020Beta1 = "v0.2.0-beta1"
	V040Beta3 = "v0.4.0-beta3"

	Version1 = "1"
	Version2 = "2"
	Version3 = "3"
	Version4 = "4"
	Version5 = "5"

	// Current is the version written by up-to-date authoring tools and the
	// shape of the destination store.
	Current = Version5
)

// KnownVersions lists every supported catalog version, oldest first.
var KnownVersions = []string{NoVersion, Version1, Version2, Version3, Version4, Version5}
