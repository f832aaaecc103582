package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const deleteChunkSize = 200

// DetectMissingRows reports live rows whose key-column tuple has no match in
// the incoming row set. The preview path and the pre-upsert safety gate both
// go through here, so the dry run and the live gate cannot disagree.
func (e *Engine) DetectMissingRows(ctx context.Context, table string, keys []string, incoming []map[string]*string) (RemovedRows, error) {
	removed := RemovedRows{Sample: []map[string]*string{}}
	if len(keys) == 0 {
		return removed, nil
	}

	liveRows, err := e.readLiveRows(ctx, table)
	if err != nil {
		return removed, err
	}

	incomingKeys := make(map[string]bool, len(incoming))
	for _, row := range incoming {
		incomingKeys[keyTuple(row, keys)] = true
	}

	for _, row := range liveRows {
		if incomingKeys[keyTuple(row, keys)] {
			continue
		}
		removed.Count++
		if len(removed.Sample) < e.sampleLimit {
			removed.Sample = append(removed.Sample, row)
		}
	}
	return removed, nil
}

// deleteMissingRows removes live rows whose key tuple is absent from the
// incoming set, matching them by row identifier.
func (e *Engine) deleteMissingRows(ctx context.Context, table string, keys []string, incoming []map[string]*string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	liveRows, err := e.readLiveRows(ctx, table)
	if err != nil {
		return 0, err
	}

	incomingKeys := make(map[string]bool, len(incoming))
	for _, row := range incoming {
		incomingKeys[keyTuple(row, keys)] = true
	}

	var ids []string
	for _, row := range liveRows {
		if incomingKeys[keyTuple(row, keys)] {
			continue
		}
		if id := row[ColRecordID]; id != nil {
			ids = append(ids, *id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	quoted, err := quoteIdent(table)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(ids); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for i, id := range chunk {
			placeholders[i] = fmt.Sprintf("$%d::bigint", i+1)
			args[i] = id
		}
		stmt := fmt.Sprintf(`DELETE FROM %s WHERE %q IN (%s)`,
			quoted, ColRecordID, strings.Join(placeholders, ", "))

		result, err := e.db.ExecContext(ctx, stmt, args...)
		if err != nil {
			return deleted, fmt.Errorf("delete rows from %s: %w", table, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return deleted, fmt.Errorf("delete rows from %s: %w", table, err)
		}
		deleted += int(affected)
	}
	return deleted, nil
}

// readLiveRows loads the whole target table as normalized nullable strings
// keyed by upper-cased column name. Per-industry account tables are small;
// streaming ingestion is an explicit non-goal.
func (e *Engine) readLiveRows(ctx context.Context, table string) ([]map[string]*string, error) {
	quoted, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s`, quoted))
	if err != nil {
		return nil, fmt.Errorf("read rows from %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}

	var result []map[string]*string
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan row from %s: %w", table, err)
		}

		row := make(map[string]*string, len(columns))
		for i, column := range columns {
			if values[i].Valid {
				v := values[i].String
				row[strings.ToUpper(column)] = &v
			} else {
				row[strings.ToUpper(column)] = nil
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows from %s: %w", table, err)
	}
	return result, nil
}

// keyTuple folds a row's key-column values into a comparable string. Nil and
// present-but-equal values must not collide, hence the per-part prefix.
func keyTuple(row map[string]*string, keys []string) string {
	parts := make([]string, len(keys))
	for i, key := range keys {
		if v := row[strings.ToUpper(key)]; v != nil {
			parts[i] = "v:" + *v
		} else {
			parts[i] = "null"
		}
	}
	return strings.Join(parts, "\x1f")
}
