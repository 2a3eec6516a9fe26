// Package render prints reports and listings as a table, JSON or YAML.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hopsworks/expat/internal/fault"
	"gopkg.in/yaml.v3"
)

// Format represents an output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates an --output value. Empty selects the table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fault.Configuration.New("unknown output format %q (use table, json or yaml)", s)
	}
}

// Table is the tabular form of a value.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Renderer handles output rendering
type Renderer struct {
	writer io.Writer
	format Format
}

// NewRenderer creates a new renderer
func NewRenderer(writer io.Writer, format Format) *Renderer {
	return &Renderer{writer: writer, format: format}
}

// Render writes data in the renderer's format. table is used for the table
// format only.
func (r *Renderer) Render(data any, table Table) error {
	switch r.format {
	case FormatJSON:
		return r.RenderJSON(data)
	case FormatYAML:
		return r.RenderYAML(data)
	default:
		return r.RenderTable(table.Headers, table.Rows)
	}
}

// RenderJSON renders data as JSON
func (r *Renderer) RenderJSON(data any) error {
	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// RenderYAML renders data as YAML
func (r *Renderer) RenderYAML(data any) error {
	encoder := yaml.NewEncoder(r.writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return err
	}
	return encoder.Close()
}

// RenderTable renders data as a formatted table. Nothing is printed when
// there are no rows.
func (r *Renderer) RenderTable(headers []string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	// Calculate column widths
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	if err := r.renderTableRow(headers, widths); err != nil {
		return err
	}
	if err := r.renderTableSeparator(widths); err != nil {
		return err
	}
	for _, row := range rows {
		if err := r.renderTableRow(row, widths); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) renderTableRow(cells []string, widths []int) error {
	var b strings.Builder
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		if i == len(widths)-1 || i == len(cells)-1 {
			b.WriteString(cell)
			break
		}
		fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
	}
	_, err := fmt.Fprintln(r.writer, b.String())
	return err
}

func (r *Renderer) renderTableSeparator(widths []int) error {
	parts := make([]string, len(widths))
	for i, width := range widths {
		parts[i] = strings.Repeat("-", width)
	}
	_, err := fmt.Fprintln(r.writer, strings.Join(parts, "  "))
	return err
}
