package spreadsheet

import "errors"

// ErrUnparsable marks uploads that cannot be turned into a usable table:
// unreadable containers, workbooks without sheets, or files with no data rows.
var ErrUnparsable = errors.New("unparsable spreadsheet")

// Header pairs a raw header cell with the identifier it was normalized to.
type Header struct {
	Original   string `json:"original"`
	Normalized string `json:"normalized"`
}

// Table is the rectangular result of parsing one upload. Every row's key set
// is exactly NormalizedHeaders. A Table is built once per request and never
// mutated afterwards.
type Table struct {
	Headers           []Header
	NormalizedHeaders []string
	Rows              []map[string]*string
}

// SampleRows returns up to limit data rows, for preview payloads.
func (t *Table) SampleRows(limit int) []map[string]*string {
	if limit <= 0 || limit > len(t.Rows) {
		limit = len(t.Rows)
	}
	sample := make([]map[string]*string, 0, limit)
	for _, row := range t.Rows[:limit] {
		sample = append(sample, row)
	}
	return sample
}
