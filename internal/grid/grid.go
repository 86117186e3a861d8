// Package grid models decoded tabular files as rectangular string grids and
// locates the header row inside noisy exports.
package grid

import (
	"strings"
)

// Grid is a rectangular grid of raw cells. Row 0 is the first line of the
// source file, which is not necessarily the header.
type Grid [][]string

// Row is one data row keyed by cleaned header label. Index is the zero-based
// position of the row inside the grid.
type Row struct {
	Index  int
	Values map[string]string
}

// Line returns the 1-based line number used in row-scoped error messages.
func (r Row) Line() int {
	return r.Index + 1
}

// Get returns the value stored under header, or "" when absent.
func (r Row) Get(header string) string {
	return r.Values[header]
}

// New pads ragged rows so every row has the width of the widest one.
func New(rows [][]string) Grid {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	g := make(Grid, len(rows))
	for i, row := range rows {
		if len(row) == width {
			g[i] = row
			continue
		}
		padded := make([]string, width)
		copy(padded, row)
		g[i] = padded
	}
	return g
}

func (g Grid) Len() int {
	return len(g)
}

func (g Grid) Width() int {
	if len(g) == 0 {
		return 0
	}
	return len(g[0])
}

// Cell returns the raw value at (row, col), or "" when out of range.
func (g Grid) Cell(row, col int) string {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return ""
	}
	return g[row][col]
}

// CleanCell strips spreadsheet formula wrapping (="value"), surrounding
// quotes and whitespace.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	for {
		switch {
		case len(s) >= 3 && strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`):
			s = strings.TrimSpace(s[2 : len(s)-1])
		case len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"':
			s = strings.TrimSpace(s[1 : len(s)-1])
		case len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'':
			s = strings.TrimSpace(s[1 : len(s)-1])
		default:
			return s
		}
	}
}

// CleanRow applies CleanCell to every cell of row.
func CleanRow(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = CleanCell(cell)
	}
	return out
}

// IsBlank reports whether every cell of row is empty after cleaning.
func IsBlank(row []string) bool {
	for _, cell := range row {
		if CleanCell(cell) != "" {
			return false
		}
	}
	return true
}

// Records converts the rows following headerRow into header-keyed rows.
// Blank rows are skipped, columns with an empty header are ignored and the
// first column wins when a header label repeats.
func (g Grid) Records(headerRow int, headers []string) []Row {
	if headerRow < 0 || headerRow >= len(g) {
		return nil
	}
	rows := make([]Row, 0, len(g)-headerRow-1)
	for i := headerRow + 1; i < len(g); i++ {
		if IsBlank(g[i]) {
			continue
		}
		values := make(map[string]string, len(headers))
		for col, header := range headers {
			if header == "" {
				continue
			}
			if _, seen := values[header]; seen {
				continue
			}
			values[header] = CleanCell(g.Cell(i, col))
		}
		rows = append(rows, Row{Index: i, Values: values})
	}
	return rows
}
