package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledgerbeam/coamgr/internal/industry"
	"github.com/ledgerbeam/coamgr/internal/spreadsheet"
)

const (
	DefaultSampleLimit = 10
	insertChunkSize    = 200
)

// ErrInvalidIdentifier marks a column or table name that failed the
// allow-list check right before statement construction.
var ErrInvalidIdentifier = errors.New("invalid identifier")

var identPattern = regexp.MustCompile(`^[A-Z0-9_]{1,63}$`)

// Engine applies the reconciliation state machine against the live store.
// All statements run sequentially within one request; each step is its own
// statement, so a partial failure can leave the schema ahead of the data.
type Engine struct {
	db          *sql.DB
	sampleLimit int
}

func NewEngine(db *sql.DB, sampleLimit int) *Engine {
	if sampleLimit <= 0 {
		sampleLimit = DefaultSampleLimit
	}
	return &Engine{db: db, sampleLimit: sampleLimit}
}

// ImportInput carries one request's resolved state into the engine. Selected
// excludes managed columns; the engine appends them itself.
type ImportInput struct {
	State    industry.TableState
	Parsed   *spreadsheet.Table
	Selected []string
	Keys     []string
	Options  Options
}

// Preview computes the diff an upsert would apply, without mutating anything.
// It shares DetectMissingRows with the import path's pre-upsert gate, so a
// preview is exactly as accurate as the gate.
func (e *Engine) Preview(ctx context.Context, in ImportInput) (*RowDiff, error) {
	diff := &RowDiff{
		NewColumns:     []string{},
		RemovedColumns: []string{},
		RemovedRows:    RemovedRows{Sample: []map[string]*string{}},
	}
	if !in.State.Exists {
		return diff, nil
	}

	diff.NewColumns, diff.RemovedColumns = ColumnDiff(in.State.Columns, in.Selected)

	removed, err := e.DetectMissingRows(ctx, in.State.TableName, in.Keys, in.Parsed.Rows)
	if err != nil {
		return nil, err
	}
	diff.RemovedRows = removed
	return diff, nil
}

// Import runs the reconciliation state machine: create when no table exists,
// otherwise demand a strategy, then overwrite or upsert. Gated conditions
// return a *DecisionRequiredError before the corresponding mutation.
func (e *Engine) Import(ctx context.Context, in ImportInput) (*Result, error) {
	table := in.State.TableName
	columns := withManaged(in.Selected)

	if !in.State.Exists {
		if err := e.createTable(ctx, table, columns); err != nil {
			return nil, err
		}
		inserted, err := e.bulkInsert(ctx, table, columns, in.Parsed.Rows)
		if err != nil {
			return nil, err
		}
		return &Result{Strategy: StrategyCreate, TableCreated: true, Inserted: inserted}, nil
	}

	switch in.Options.Strategy {
	case "":
		return nil, &DecisionRequiredError{
			Decision:            DecisionStrategyRequired,
			Message:             fmt.Sprintf("table %s already exists; choose a strategy", table),
			AvailableStrategies: []string{StrategyOverwrite, StrategyUpsert},
		}
	case StrategyOverwrite:
		return e.overwrite(ctx, table, columns, in.Parsed.Rows)
	case StrategyUpsert:
		return e.upsert(ctx, in)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, in.Options.Strategy)
	}
}

// overwrite is a full replace: no diff is re-checked before the drop. The
// caller already chose destruction by naming the strategy.
func (e *Engine) overwrite(ctx context.Context, table string, columns []string, rows []map[string]*string) (*Result, error) {
	quoted, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE %s`, quoted)); err != nil {
		return nil, fmt.Errorf("drop table %s: %w", table, err)
	}
	if err := e.createTable(ctx, table, columns); err != nil {
		return nil, err
	}
	inserted, err := e.bulkInsert(ctx, table, columns, rows)
	if err != nil {
		return nil, err
	}
	return &Result{Strategy: StrategyOverwrite, Inserted: inserted}, nil
}

func (e *Engine) upsert(ctx context.Context, in ImportInput) (*Result, error) {
	table := in.State.TableName
	res := &Result{Strategy: StrategyUpsert, AddedColumns: []string{}, DroppedColumns: []string{}}

	newColumns, removedColumns := ColumnDiff(in.State.Columns, in.Selected)

	if len(newColumns) > 0 && !isTrue(in.Options.AllowAddColumns) {
		return nil, &DecisionRequiredError{
			Decision:       DecisionColumnRequired,
			Message:        "incoming file adds columns; set allowAddColumns to proceed",
			NewColumns:     newColumns,
			RemovedColumns: removedColumns,
		}
	}
	if len(removedColumns) > 0 && in.Options.DropMissingColumns == nil {
		return nil, &DecisionRequiredError{
			Decision:       DecisionColumnRequired,
			Message:        "live table has columns missing from the file; set dropMissingColumns to proceed",
			NewColumns:     newColumns,
			RemovedColumns: removedColumns,
		}
	}

	for _, column := range newColumns {
		if err := e.addColumn(ctx, table, column); err != nil {
			return nil, err
		}
		res.AddedColumns = append(res.AddedColumns, column)
	}
	if isTrue(in.Options.DropMissingColumns) {
		for _, column := range removedColumns {
			if err := e.dropColumn(ctx, table, column); err != nil {
				return nil, err
			}
			res.DroppedColumns = append(res.DroppedColumns, column)
		}
	}
	if err := e.ensureManagedColumns(ctx, table); err != nil {
		return nil, err
	}

	removed, err := e.DetectMissingRows(ctx, table, in.Keys, in.Parsed.Rows)
	if err != nil {
		return nil, err
	}
	if removed.Count > 0 && in.Options.RemoveMissingRows == nil {
		return nil, &DecisionRequiredError{
			Decision:    DecisionRowRequired,
			Message:     "import removes existing rows; set removeMissingRows to proceed",
			RemovedRows: &removed,
		}
	}

	columns := withManagedPresent(in.Selected, in.Parsed.NormalizedHeaders)
	inserted, updated, err := e.upsertRows(ctx, table, columns, in.Keys, in.Parsed.Rows)
	if err != nil {
		return nil, err
	}
	res.Inserted = inserted
	res.Updated = updated

	if removed.Count > 0 && isTrue(in.Options.RemoveMissingRows) {
		deleted, err := e.deleteMissingRows(ctx, table, in.Keys, in.Parsed.Rows)
		if err != nil {
			return nil, err
		}
		res.DeletedRows = deleted
	}
	return res, nil
}

// ---------------------------------------------------------------------------
// Store operations
// ---------------------------------------------------------------------------

func (e *Engine) createTable(ctx context.Context, table string, columns []string) error {
	quoted, err := quoteIdent(table)
	if err != nil {
		return err
	}
	defs := []string{fmt.Sprintf(`%q BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY`, ColRecordID)}
	for _, column := range columns {
		if strings.EqualFold(column, ColRecordID) {
			continue
		}
		quotedCol, err := quoteIdent(column)
		if err != nil {
			return err
		}
		defs = append(defs, quotedCol+" TEXT")
	}
	stmt := fmt.Sprintf(`CREATE TABLE %s (%s)`, quoted, strings.Join(defs, ", "))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func (e *Engine) addColumn(ctx context.Context, table, column string) error {
	quoted, err := quoteIdent(table)
	if err != nil {
		return err
	}
	quotedCol, err := quoteIdent(column)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s TEXT`, quoted, quotedCol)
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

func (e *Engine) dropColumn(ctx context.Context, table, column string) error {
	quoted, err := quoteIdent(table)
	if err != nil {
		return err
	}
	quotedCol, err := quoteIdent(column)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`ALTER TABLE %s DROP COLUMN %s`, quoted, quotedCol)
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("drop column %s.%s: %w", table, column, err)
	}
	return nil
}

// ensureManagedColumns is the idempotent schema migration step: managed
// columns are added to the live table if missing, before any diffing.
func (e *Engine) ensureManagedColumns(ctx context.Context, table string) error {
	quoted, err := quoteIdent(table)
	if err != nil {
		return err
	}
	for _, column := range ManagedColumns() {
		stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %q TEXT`, quoted, column)
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure managed column %s.%s: %w", table, column, err)
		}
	}
	return nil
}

func (e *Engine) bulkInsert(ctx context.Context, table string, columns []string, rows []map[string]*string) (int, error) {
	quoted, err := quoteIdent(table)
	if err != nil {
		return 0, err
	}
	quotedCols := make([]string, len(columns))
	for i, column := range columns {
		if quotedCols[i], err = quoteIdent(column); err != nil {
			return 0, err
		}
	}

	inserted := 0
	for start := 0; start < len(rows); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		values := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*len(columns))
		for _, row := range chunk {
			placeholders := make([]string, len(columns))
			for i, column := range columns {
				placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
				args = append(args, cellValue(row, column))
			}
			values = append(values, "("+strings.Join(placeholders, ", ")+")")
		}

		stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s`,
			quoted, strings.Join(quotedCols, ", "), strings.Join(values, ", "))
		if _, err := e.db.ExecContext(ctx, stmt, args...); err != nil {
			return inserted, fmt.Errorf("insert rows into %s: %w", table, err)
		}
		inserted += len(chunk)
	}
	return inserted, nil
}

// upsertRows matches each incoming row by its key tuple: UPDATE the import
// columns when a live row matches, INSERT otherwise. Key columns carry no
// unique constraint on dynamically created tables, so ON CONFLICT is not an
// option here.
func (e *Engine) upsertRows(ctx context.Context, table string, columns, keys []string, rows []map[string]*string) (inserted, updated int, err error) {
	quoted, err := quoteIdent(table)
	if err != nil {
		return 0, 0, err
	}

	assignments := make([]string, len(columns))
	for i, column := range columns {
		quotedCol, err := quoteIdent(column)
		if err != nil {
			return 0, 0, err
		}
		assignments[i] = fmt.Sprintf("%s = $%d", quotedCol, i+1)
	}
	conditions := make([]string, len(keys))
	for i, key := range keys {
		quotedKey, err := quoteIdent(key)
		if err != nil {
			return 0, 0, err
		}
		conditions[i] = fmt.Sprintf("%s IS NOT DISTINCT FROM $%d", quotedKey, len(columns)+i+1)
	}
	updateStmt := fmt.Sprintf(`UPDATE %s SET %s WHERE %s`,
		quoted, strings.Join(assignments, ", "), strings.Join(conditions, " AND "))

	quotedCols := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, column := range columns {
		quotedCols[i], _ = quoteIdent(column)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	insertStmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoted, strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))

	for _, row := range rows {
		args := make([]any, 0, len(columns)+len(keys))
		for _, column := range columns {
			args = append(args, cellValue(row, column))
		}
		for _, key := range keys {
			args = append(args, cellValue(row, key))
		}

		result, err := e.db.ExecContext(ctx, updateStmt, args...)
		if err != nil {
			return inserted, updated, fmt.Errorf("upsert row in %s: %w", table, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return inserted, updated, fmt.Errorf("upsert row in %s: %w", table, err)
		}
		if affected > 0 {
			updated += int(affected)
			continue
		}

		if _, err := e.db.ExecContext(ctx, insertStmt, args[:len(columns)]...); err != nil {
			return inserted, updated, fmt.Errorf("insert row into %s: %w", table, err)
		}
		inserted++
	}
	return inserted, updated, nil
}

func withManaged(selected []string) []string {
	columns := make([]string, 0, len(selected)+2)
	seen := make(map[string]bool, len(selected)+2)
	for _, column := range selected {
		upper := strings.ToUpper(column)
		if seen[upper] {
			continue
		}
		seen[upper] = true
		columns = append(columns, upper)
	}
	for _, column := range ManagedColumns() {
		if !seen[column] {
			columns = append(columns, column)
		}
	}
	return columns
}

// withManagedPresent appends only the managed columns the parsed file
// actually carries. Upserts assign this set, so a file without a managed
// column never overwrites operator-maintained values with NULL.
func withManagedPresent(selected, parsedHeaders []string) []string {
	present := make(map[string]bool, len(parsedHeaders))
	for _, header := range parsedHeaders {
		present[strings.ToUpper(header)] = true
	}

	columns := make([]string, 0, len(selected)+2)
	seen := make(map[string]bool, len(selected)+2)
	for _, column := range selected {
		upper := strings.ToUpper(column)
		if seen[upper] {
			continue
		}
		seen[upper] = true
		columns = append(columns, upper)
	}
	for _, column := range ManagedColumns() {
		if !seen[column] && present[column] {
			columns = append(columns, column)
		}
	}
	return columns
}

func cellValue(row map[string]*string, column string) any {
	if v := row[strings.ToUpper(column)]; v != nil {
		return *v
	}
	return nil
}

// quoteIdent double-quotes an identifier after an allow-list check. Column
// identifiers come out of header normalization, but nothing is interpolated
// into a statement without re-validating here.
func quoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("%w: %s", ErrInvalidIdentifier, name)
	}
	return `"` + name + `"`, nil
}
