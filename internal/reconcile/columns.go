package reconcile

import (
	"strings"

	"github.com/ledgerbeam/coamgr/internal/spreadsheet"
)

// Managed columns are provisioned and maintained by the system. They are
// always appended to the import's column set, excluded from user-selectable
// columns, and never removable.
const (
	ColCostType    = "COST_TYPE"
	ColIsFinancial = "IS_FINANCIAL"
	ColRecordID    = "RECORD_ID"
)

func ManagedColumns() []string {
	return []string{ColCostType, ColIsFinancial}
}

// reserved reports whether name is managed or the row identifier.
func reserved(name string) bool {
	switch strings.ToUpper(name) {
	case ColCostType, ColIsFinancial, ColRecordID:
		return true
	}
	return false
}

// ResolveColumns filters the caller's requested columns against the parsed
// headers, preserving header order. An empty request selects every parsed
// header. Reserved names are dropped either way; they are appended by the
// engine, not chosen by the operator.
func ResolveColumns(parsedHeaders, requested []string) []string {
	want := make(map[string]bool, len(requested))
	for _, name := range requested {
		if n := spreadsheet.NormalizeIdentifier(name); n != "" {
			want[n] = true
		}
	}

	selected := make([]string, 0, len(parsedHeaders))
	for _, header := range parsedHeaders {
		if reserved(header) {
			continue
		}
		if len(want) > 0 && !want[header] {
			continue
		}
		selected = append(selected, header)
	}
	return selected
}

// ResolveKeys filters the requested key columns against the selected set,
// preserving request order. When nothing resolves, the first selected column
// is the key.
func ResolveKeys(selected, requested []string) []string {
	inSelected := make(map[string]bool, len(selected))
	for _, name := range selected {
		inSelected[name] = true
	}

	var keys []string
	seen := make(map[string]bool, len(requested))
	for _, name := range requested {
		n := spreadsheet.NormalizeIdentifier(name)
		if n == "" || seen[n] || !inSelected[n] {
			continue
		}
		seen[n] = true
		keys = append(keys, n)
	}
	if len(keys) == 0 && len(selected) > 0 {
		keys = []string{selected[0]}
	}
	return keys
}

// ColumnDiff compares the live table's columns with the incoming selection.
// newColumns are incoming columns absent from the live table; removedColumns
// are live columns absent from the incoming set, excluding managed and
// row-identifier columns. Comparison is case-insensitive.
func ColumnDiff(liveColumns, selected []string) (newColumns, removedColumns []string) {
	live := make(map[string]bool, len(liveColumns))
	for _, name := range liveColumns {
		live[strings.ToUpper(name)] = true
	}
	incoming := make(map[string]bool, len(selected))
	for _, name := range selected {
		incoming[strings.ToUpper(name)] = true
	}

	newColumns = []string{}
	for _, name := range selected {
		if !live[strings.ToUpper(name)] {
			newColumns = append(newColumns, name)
		}
	}
	removedColumns = []string{}
	for _, name := range liveColumns {
		upper := strings.ToUpper(name)
		if reserved(upper) || incoming[upper] {
			continue
		}
		removedColumns = append(removedColumns, upper)
	}
	return newColumns, removedColumns
}
