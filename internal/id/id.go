// Package id validates and normalises channel and content identifiers.
//
// Content ids are UUIDs stored as 32 lower-case hex digits without dashes.
package id

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Normalize returns the canonical dash-less hex form of id. Dashed, braced
// and urn:uuid: forms are accepted.
func Normalize(id string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("invalid content id %q: %w", id, err)
	}
	return hex.EncodeToString(u[:]), nil
}

// IsValid reports whether id is already in canonical form.
func IsValid(id string) bool {
	n, err := Normalize(id)
	return err == nil && n == id
}
