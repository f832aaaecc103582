package industry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// TableState is the live target table's shape at the moment of the request.
// It is re-fetched per request; the only staleness window is the request's
// own duration.
type TableState struct {
	TableName string
	Exists    bool
	Columns   []string
}

// FetchTableState introspects the store's schema catalog for table existence
// and, when present, its columns in declaration order (upper-cased).
func FetchTableState(ctx context.Context, db *sql.DB, table string) (TableState, error) {
	state := TableState{TableName: table}
	if !ValidIdentifier(table) {
		return state, fmt.Errorf("%w: %s", ErrInvalidTableName, table)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		  AND upper(table_name) = upper($1)
		ORDER BY ordinal_position
	`, table)
	if err != nil {
		return state, fmt.Errorf("introspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var column string
		if err := rows.Scan(&column); err != nil {
			return state, fmt.Errorf("scan column of %s: %w", table, err)
		}
		state.Columns = append(state.Columns, strings.ToUpper(column))
	}
	if err := rows.Err(); err != nil {
		return state, fmt.Errorf("introspect table %s: %w", table, err)
	}

	state.Exists = len(state.Columns) > 0
	return state, nil
}
