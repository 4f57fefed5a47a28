package qboreport

import "strings"

// ColumnMatch is the outcome of a column lookup: found at an index, or
// absent. It never panics on short rows.
type ColumnMatch struct {
	index int
	found bool
}

// ColumnFound returns a match for index i.
func ColumnFound(i int) ColumnMatch { return ColumnMatch{index: i, found: true} }

// ColumnAbsent returns a match for a missing column.
func ColumnAbsent() ColumnMatch { return ColumnMatch{index: -1} }

// Found reports whether the column exists.
func (p ColumnMatch) Found() bool { return p.found }

// Index returns the column index and whether it was found.
func (p ColumnMatch) Index() (int, bool) { return p.index, p.found }

// Cell returns the matched cell of a row.
func (p ColumnMatch) Cell(cells []ColData) (ColData, bool) {
	if !p.found || p.index >= len(cells) {
		return ColData{}, false
	}
	return cells[p.index], true
}

// Value returns the trimmed cell value, or "" when unavailable.
func (p ColumnMatch) Value(cells []ColData) string {
	c, ok := p.Cell(cells)
	if !ok {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// ResolveColumn finds the first column matching any variant, comparing
// ColKey metadata, ColType and ColTitle case-insensitively. Variants are
// tried in order so earlier names win.
func ResolveColumn(columns []Column, variants ...string) ColumnMatch {
	for _, v := range variants {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		for i, c := range columns {
			if strings.EqualFold(strings.TrimSpace(c.Key()), v) ||
				strings.EqualFold(strings.TrimSpace(c.ColType), v) ||
				strings.EqualFold(strings.TrimSpace(c.ColTitle), v) {
				return ColumnFound(i)
			}
		}
	}
	return ColumnAbsent()
}
