// Package payload reads structured channel payloads from disk. A payload is
// an object mapping table names to lists of row objects, plus the
// schema_version marker. JSON and CBOR encodings are accepted.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Format is a payload encoding.
type Format string

const (
	JSON Format = "json"
	CBOR Format = "cbor"
)

var cborDecoder = func() cbor.DecMode {
	mode, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Row counts are bounded by the catalog, not the decoder default.
		MaxArrayElements: 1 << 27,
		MaxMapPairs:      1 << 27,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// FormatOf guesses the encoding from a file name, falling back to JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cbor", ".cbr":
		return CBOR
	default:
		return JSON
	}
}

// Load reads and decodes the payload file at path.
func Load(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload: %w", err)
	}
	defer f.Close()

	data, err := Decode(f, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

// Decode reads one payload in the given format.
func Decode(r io.Reader, format Format) (map[string]any, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	var data map[string]any
	switch format {
	case JSON:
		err = json.Unmarshal(bytes.TrimSpace(raw), &data)
	case CBOR:
		err = cborDecoder.Unmarshal(raw, &data)
	default:
		return nil, fmt.Errorf("unknown payload format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", format, err)
	}
	if data == nil {
		return nil, fmt.Errorf("empty %s payload", format)
	}
	return data, nil
}

// Encode writes a payload in the given format.
func Encode(w io.Writer, format Format, data map[string]any) error {
	switch format {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case CBOR:
		return cbor.NewEncoder(w).Encode(data)
	default:
		return fmt.Errorf("unknown payload format %q", format)
	}
}
