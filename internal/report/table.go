// Package report renders run results as aligned text tables for the CLI.
package report

import (
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// minColumnWidth keeps separator rows at least "---" wide.
const minColumnWidth = 3

// Table is a pipe-delimited table whose columns are padded by display width,
// so CJK and other wide characters line up.
type Table struct {
	headers  []string
	rows     [][]string
	maxWidth int
}

// NewTable creates a table with the given header row.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// SetMaxWidth truncates cells wider than width. Zero disables truncation.
func (t *Table) SetMaxWidth(width int) *Table {
	t.maxWidth = width

	return t
}

// AddRow appends a row. Missing cells render empty; extra cells widen the table.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of body rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Lines renders the header, a separator and every row.
func (t *Table) Lines() []string {
	table := make([][]string, 0, len(t.rows)+1)
	table = append(table, t.clean(t.headers))

	for _, row := range t.rows {
		table = append(table, t.clean(row))
	}

	colCount := 0
	for _, row := range table {
		if len(row) > colCount {
			colCount = len(row)
		}
	}

	// Calculate max widths (using display width)
	colWidths := make([]int, colCount)

	for _, row := range table {
		for i, cell := range row {
			if width := runewidth.StringWidth(cell); width > colWidths[i] {
				colWidths[i] = width
			}
		}
	}

	for i := range colWidths {
		if colWidths[i] < minColumnWidth {
			colWidths[i] = minColumnWidth
		}
	}

	lines := make([]string, 0, len(table)+1)
	lines = append(lines, renderRow(table[0], colWidths))

	separator := make([]string, colCount)
	for i, w := range colWidths {
		separator[i] = strings.Repeat("-", w)
	}

	lines = append(lines, renderRow(separator, colWidths))

	for _, row := range table[1:] {
		lines = append(lines, renderRow(row, colWidths))
	}

	return lines
}

// String renders the table with a trailing newline.
func (t *Table) String() string {
	return strings.Join(t.Lines(), "\n") + "\n"
}

// WriteTo writes the rendered table to w.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, t.String())

	return int64(n), err
}

func (t *Table) clean(row []string) []string {
	out := make([]string, len(row))

	for i, cell := range row {
		cell = strings.Join(strings.Fields(cell), " ")
		// A literal pipe would split the cell when the table is read back.
		cell = strings.ReplaceAll(cell, "|", "/")

		if t.maxWidth > 0 && runewidth.StringWidth(cell) > t.maxWidth {
			cell = runewidth.Truncate(cell, t.maxWidth, "…")
		}

		out[i] = cell
	}

	return out
}

func renderRow(row []string, colWidths []int) string {
	var sb strings.Builder

	sb.WriteString("|")

	for j, width := range colWidths {
		sb.WriteString(" ")

		content := ""
		if j < len(row) {
			content = row[j]
		}

		sb.WriteString(content)

		// Pad with spaces based on display width
		if padding := width - runewidth.StringWidth(content); padding > 0 {
			sb.WriteString(strings.Repeat(" ", padding))
		}

		sb.WriteString(" |")
	}

	return sb.String()
}
