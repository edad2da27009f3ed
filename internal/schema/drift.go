package schema

import (
	"slices"

	"github.com/pmezard/go-difflib/difflib"
)

// Drift renders a unified diff between a catalog table's columns and the
// destination table's columns. An empty string means the shapes agree.
func Drift(table string, sourceColumns, destColumns []string) (string, error) {
	a := slices.Sorted(slices.Values(sourceColumns))
	b := slices.Sorted(slices.Values(destColumns))
	if slices.Equal(a, b) {
		return "", nil
	}

	diff := difflib.UnifiedDiff{
		A:        lines(a),
		B:        lines(b),
		FromFile: "catalog/" + table,
		ToFile:   "destination/" + table,
		Context:  1,
	}
	return difflib.GetUnifiedDiffString(diff)
}

func lines(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c + "\n"
	}
	return out
}
