// Package render writes command output as an aligned table, TSV, JSON or
// YAML.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format represents an output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTSV   Format = "tsv"
)

// ParseFormat validates a --output value. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML, FormatTSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, tsv, json or yaml)", s)
	}
}

// Table is tabular output: one header row and the cells below it.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Renderer handles output rendering
type Renderer struct {
	w      io.Writer
	format Format
}

// New returns a renderer writing format to w.
func New(w io.Writer, format Format) *Renderer {
	return &Renderer{w: w, format: format}
}

// Structured reports whether the format encodes values rather than tables.
func (r *Renderer) Structured() bool {
	return r.format == FormatJSON || r.format == FormatYAML
}

// Value encodes v as JSON or YAML.
func (r *Renderer) Value(v any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(r.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %s cannot encode values", r.format)
	}
}

// Table writes t as TSV, or as space-aligned columns under a dashed rule.
func (r *Renderer) Table(t Table) error {
	if r.format == FormatTSV {
		for _, row := range append([][]string{t.Headers}, t.Rows...) {
			if _, err := fmt.Fprintln(r.w, strings.Join(row, "\t")); err != nil {
				return err
			}
		}
		return nil
	}
	if r.format != FormatTable {
		return fmt.Errorf("format %s cannot render tables", r.format)
	}

	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = len(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], len(cell))
			}
		}
	}

	rule := make([]string, len(widths))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}

	var b strings.Builder
	for _, row := range append([][]string{t.Headers, rule}, t.Rows...) {
		for i := range widths {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			if i == len(widths)-1 {
				b.WriteString(cell)
			} else {
				fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
			}
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}
