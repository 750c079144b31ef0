package schema

import (
	"path/filepath"
	"slices"
	"strings"
)

// FileFormat captures how a table is persisted on disk.
type FileFormat string

const (
	FileFormatCSV  FileFormat = "csv"
	FileFormatXLSX FileFormat = "xlsx"
)

// NormalizeFormat maps a format name or file extension to a FileFormat.
// Unknown values fall back to CSV.
func NormalizeFormat(raw string) FileFormat {
	s := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(raw)), ".")
	switch s {
	case "xlsx", "excel", "spreadsheet":
		return FileFormatXLSX
	default:
		return FileFormatCSV
	}
}

// FormatForPath returns the FileFormat implied by the path extension.
func FormatForPath(path string) FileFormat {
	return NormalizeFormat(filepath.Ext(path))
}

// Table is an ordered set of rows sharing one header. Empty cells stand for null.
type Table struct {
	Header []string
	Rows   [][]string
}

// Index returns the position of the named column, or -1.
func (t Table) Index(name string) int {
	name = strings.TrimSpace(name)
	for i, col := range t.Header {
		if strings.TrimSpace(col) == name {
			return i
		}
	}
	return -1
}

// SameColumns reports whether both tables have the same columns in the same order.
func (t Table) SameColumns(other Table) bool {
	return slices.Equal(normalized(t.Header), normalized(other.Header))
}

// Value returns the cell at row i for the named column, or "" when absent.
func (t Table) Value(i int, name string) string {
	idx := t.Index(name)
	if idx < 0 || i < 0 || i >= len(t.Rows) || idx >= len(t.Rows[i]) {
		return ""
	}
	return t.Rows[i][idx]
}

func normalized(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
