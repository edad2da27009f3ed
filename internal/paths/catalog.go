// Package paths locates channel catalog files under a content directory.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lherron/channelport/internal/id"
)

const (
	databasesDir  = "databases"
	catalogSuffix = ".sqlite3"
)

// DatabasesDir returns the directory holding catalog files.
func DatabasesDir(contentDir string) string {
	return filepath.Join(contentDir, databasesDir)
}

// CatalogPath returns where the catalog for channelID is stored.
func CatalogPath(contentDir, channelID string) string {
	return filepath.Join(DatabasesDir(contentDir), channelID+catalogSuffix)
}

// ListCatalogs returns the channel ids of every catalog file present,
// sorted. Files not named after a valid channel id are ignored.
func ListCatalogs(contentDir string) ([]string, error) {
	entries, err := os.ReadDir(DatabasesDir(contentDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list catalogs: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), catalogSuffix) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), catalogSuffix)
		if id.IsValid(name) {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
