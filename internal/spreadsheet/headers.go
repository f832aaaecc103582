package spreadsheet

import (
	"fmt"
	"strings"
	"unicode"
)

// DefaultScanRows bounds the header-row search. Trial-balance exports often
// carry a handful of title/company rows above the real header.
const DefaultScanRows = 25

// Trial-balance header vocabulary. A row is accepted as the header row when
// it matches at least minHeaderMatches tokens including every required one.
var (
	trialBalanceTokens = []string{
		"account",
		"description",
		"debit",
		"credit",
		"balance",
		"cost type",
		"is financial",
	}
	requiredHeaderTokens = []string{"account", "description"}
)

const minHeaderMatches = 5

// findHeaderRow scans the first scanRows rows for a trial-balance style
// header row and returns its index. Row 0 is assumed when nothing matches.
func findHeaderRow(grid [][]string, scanRows int) int {
	if scanRows <= 0 {
		scanRows = DefaultScanRows
	}
	for i, row := range grid {
		if i >= scanRows {
			break
		}
		if matchesTrialBalanceHeader(row) {
			return i
		}
	}
	return 0
}

func matchesTrialBalanceHeader(row []string) bool {
	matched := make(map[string]bool, len(trialBalanceTokens))
	for _, cell := range row {
		c := foldCell(cell)
		if c == "" {
			continue
		}
		for _, token := range trialBalanceTokens {
			if !matched[token] && strings.Contains(c, token) {
				matched[token] = true
			}
		}
	}
	for _, token := range requiredHeaderTokens {
		if !matched[token] {
			return false
		}
	}
	return len(matched) >= minHeaderMatches
}

// foldCell lowercases a cell and collapses non-alphanumeric runs to single
// spaces so "Cost_Type:" matches the "cost type" token.
func foldCell(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// normalizeHeaders turns raw header cells into unique upper-case identifiers.
// Empty cells become COLUMN_<n> (1-based); duplicates get _2, _3, ...
func normalizeHeaders(raw []string) []Header {
	headers := make([]Header, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, cell := range raw {
		name := NormalizeIdentifier(cell)
		if name == "" {
			name = fmt.Sprintf("COLUMN_%d", i+1)
		}
		if seen[name] {
			for n := 2; ; n++ {
				candidate := suffixIdentifier(name, n)
				if !seen[candidate] {
					name = candidate
					break
				}
			}
		}
		seen[name] = true
		headers = append(headers, Header{Original: cell, Normalized: name})
	}
	return headers
}

// suffixIdentifier appends a _<n> dedupe suffix, shortening the base first so
// the result stays within maxIdentifierLen.
func suffixIdentifier(name string, n int) string {
	suffix := fmt.Sprintf("_%d", n)
	if len(name)+len(suffix) > maxIdentifierLen {
		name = strings.TrimRight(name[:maxIdentifierLen-len(suffix)], "_")
	}
	return name + suffix
}

// maxIdentifierLen matches the Postgres identifier limit the statement
// allow-list enforces downstream.
const maxIdentifierLen = 63

// NormalizeIdentifier uppercases s, collapses runs of anything outside A-Z
// and 0-9 to single underscores, trims leading/trailing underscores, and caps
// the result at maxIdentifierLen. Every non-empty result passes the
// [A-Z0-9_] statement allow-list, accented or oversized headers included.
func NormalizeIdentifier(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return capIdentifier(strings.Trim(b.String(), "_"))
}

func capIdentifier(name string) string {
	if len(name) <= maxIdentifierLen {
		return name
	}
	return strings.TrimRight(name[:maxIdentifierLen], "_")
}

// normalizeCell trims a cell and maps empty values to nil.
func normalizeCell(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
