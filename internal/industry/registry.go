package industry

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/ledgerbeam/coamgr/internal/spreadsheet"
)

var (
	ErrUnknownIndustry  = errors.New("unknown industry")
	ErrInvalidTableName = errors.New("invalid table name")
)

// SharedAccountsTable is the legacy target for the "General" industry. It is
// provisioned by migration rather than created on first import.
const SharedAccountsTable = "ACCOUNTS"

const tablePrefix = "COA_"

// identPattern is the allow-list every table identifier must pass before it
// appears in any statement, registry-supplied or not.
var identPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,62}$`)

// Registry is the single trusted source of industry → table identifiers.
// Identifier construction never happens anywhere else.
type Registry struct {
	tables map[string]string
}

// Entry describes one registered industry.
type Entry struct {
	Industry string `json:"industry"`
	Table    string `json:"table"`
}

// NewRegistry builds the default industry registry.
func NewRegistry() *Registry {
	industries := []string{
		"AGRICULTURE",
		"CONSTRUCTION",
		"HEALTHCARE",
		"MANUFACTURING",
		"PROFESSIONAL_SERVICES",
		"REAL_ESTATE",
		"RESTAURANTS",
		"RETAIL",
		"TRUCKING",
	}
	tables := make(map[string]string, len(industries)+1)
	for _, name := range industries {
		tables[name] = tablePrefix + name
	}
	// Legacy exception: "General" shares the fixed accounts table.
	tables["GENERAL"] = SharedAccountsTable
	return &Registry{tables: tables}
}

// Resolve maps a free-text industry name to its table identifier. The result
// must pass the allow-list pattern AND match one of the registry's own
// computed identifiers; failing either is treated as a tampered registry row
// or a crafted industry string, never used in a statement.
func (r *Registry) Resolve(name string) (string, error) {
	key := spreadsheet.NormalizeIdentifier(name)
	if key == "" {
		return "", fmt.Errorf("%w: industry is required", ErrUnknownIndustry)
	}
	table, ok := r.tables[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownIndustry, name)
	}
	if !identPattern.MatchString(table) || !r.ownsIdentifier(table) {
		return "", fmt.Errorf("%w: %s", ErrInvalidTableName, table)
	}
	return table, nil
}

// ValidIdentifier reports whether name passes the identifier allow-list.
func ValidIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

func (r *Registry) ownsIdentifier(table string) bool {
	for _, t := range r.tables {
		if t == table {
			return true
		}
	}
	return false
}

// List returns all registered industries sorted by name.
func (r *Registry) List() []Entry {
	entries := make([]Entry, 0, len(r.tables))
	for industry, table := range r.tables {
		entries = append(entries, Entry{Industry: industry, Table: table})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Industry < entries[j].Industry })
	return entries
}
