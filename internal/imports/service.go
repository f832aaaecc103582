package imports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	internaldb "github.com/ledgerbeam/coamgr/internal/db"
	"github.com/ledgerbeam/coamgr/internal/industry"
	"github.com/ledgerbeam/coamgr/internal/reconcile"
	"github.com/ledgerbeam/coamgr/internal/spreadsheet"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// Actions of the two-phase workflow. A preview computes and returns the diff
// without mutating the store; an import applies it.
const (
	ActionPreview = "preview"
	ActionImport  = "import"
)

const previewSampleRows = 10

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Options is the caller-supplied configuration steering an import. The
// tri-state booleans are nil until the operator has explicitly decided.
type Options struct {
	Industry           string
	Action             string
	Strategy           string
	SelectedColumns    []string
	KeyColumns         []string
	AllowAddColumns    *bool
	DropMissingColumns *bool
	RemoveMissingRows  *bool
}

type RunInput struct {
	Options  Options
	File     []byte
	Filename string
}

// RunResult holds exactly one of the two success shapes.
type RunResult struct {
	Preview *PreviewResult
	Import  *ImportResult
}

type PreviewResult struct {
	Industry         string                 `json:"industry"`
	Table            string                 `json:"table"`
	TableExists      bool                   `json:"tableExists"`
	Headers          []spreadsheet.Header   `json:"headers"`
	SelectedColumns  []string               `json:"selectedColumns"`
	KeyColumns       []string               `json:"keyColumns"`
	NewColumns       []string               `json:"newColumns"`
	RemovedColumns   []string               `json:"removedColumns"`
	RemovedRows      reconcile.RemovedRows  `json:"removedRows"`
	RowCount         int                    `json:"rowCount"`
	SampleRows       []map[string]*string   `json:"sampleRows"`
}

type ImportResult struct {
	Industry       string   `json:"industry"`
	Table          string   `json:"table"`
	Strategy       string   `json:"strategy"`
	TableCreated   bool     `json:"tableCreated"`
	Inserted       int      `json:"inserted"`
	Updated        int      `json:"updated"`
	DeletedRows    int      `json:"removedRows"`
	AddedColumns   []string `json:"addedColumns,omitempty"`
	DroppedColumns []string `json:"droppedColumns,omitempty"`
}

type IndustryInfo struct {
	Industry string `json:"industry"`
	Table    string `json:"table"`
	Exists   bool   `json:"tableExists"`
}

type ColumnsResult struct {
	Industry         string   `json:"industry"`
	Table            string   `json:"table"`
	TableExists      bool     `json:"tableExists"`
	AvailableColumns []string `json:"availableColumns"`
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

type ServiceOptions struct {
	HeaderScanRows        int
	RemovedRowSampleLimit int
}

// Service glues payload options, the spreadsheet parser, the schema resolver,
// and the reconciliation engine into one request/response cycle. It is
// stateless across requests; every decision is re-derived from the live
// schema, never cached.
type Service struct {
	db       *sql.DB
	log      *logrus.Logger
	registry *industry.Registry
	engine   *reconcile.Engine
	scanRows int
}

func NewService(db *sql.DB, log *logrus.Logger, registry *industry.Registry, opts ServiceOptions) *Service {
	return &Service{
		db:       db,
		log:      log,
		registry: registry,
		engine:   reconcile.NewEngine(db, opts.RemovedRowSampleLimit),
		scanRows: opts.HeaderScanRows,
	}
}

// Run executes one preview or import cycle.
func (s *Service) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	opts := in.Options

	if strings.TrimSpace(opts.Industry) == "" {
		return nil, fmt.Errorf("%w: industry is required", ErrInvalidInput)
	}
	if len(in.File) == 0 {
		return nil, fmt.Errorf("%w: file is required", ErrInvalidInput)
	}

	action := strings.ToLower(strings.TrimSpace(opts.Action))
	if action == "" {
		action = ActionPreview
	}
	if action != ActionPreview && action != ActionImport {
		return nil, fmt.Errorf("%w: action must be %q or %q", ErrInvalidInput, ActionPreview, ActionImport)
	}

	strategy := strings.ToLower(strings.TrimSpace(opts.Strategy))
	switch strategy {
	case "", reconcile.StrategyOverwrite, reconcile.StrategyUpsert:
	default:
		return nil, fmt.Errorf("%w: strategy must be %q or %q", ErrInvalidInput, reconcile.StrategyOverwrite, reconcile.StrategyUpsert)
	}

	table, err := s.registry.Resolve(opts.Industry)
	if err != nil {
		return nil, err
	}

	parsed, err := spreadsheet.Parse(in.File, spreadsheet.ParseOptions{ScanRows: s.scanRows})
	if err != nil {
		return nil, err
	}

	selected := reconcile.ResolveColumns(parsed.NormalizedHeaders, opts.SelectedColumns)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no usable columns selected", ErrInvalidInput)
	}
	keys := reconcile.ResolveKeys(selected, opts.KeyColumns)

	state, err := industry.FetchTableState(ctx, s.db, table)
	if err != nil {
		return nil, err
	}

	engineInput := reconcile.ImportInput{
		State:    state,
		Parsed:   parsed,
		Selected: selected,
		Keys:     keys,
		Options: reconcile.Options{
			Strategy:           strategy,
			AllowAddColumns:    opts.AllowAddColumns,
			DropMissingColumns: opts.DropMissingColumns,
			RemoveMissingRows:  opts.RemoveMissingRows,
		},
	}

	if action == ActionPreview {
		diff, err := s.engine.Preview(ctx, engineInput)
		if err != nil {
			return nil, err
		}
		return &RunResult{Preview: &PreviewResult{
			Industry:        opts.Industry,
			Table:           table,
			TableExists:     state.Exists,
			Headers:         parsed.Headers,
			SelectedColumns: selected,
			KeyColumns:      keys,
			NewColumns:      diff.NewColumns,
			RemovedColumns:  diff.RemovedColumns,
			RemovedRows:     diff.RemovedRows,
			RowCount:        len(parsed.Rows),
			SampleRows:      parsed.SampleRows(previewSampleRows),
		}}, nil
	}

	result, err := s.engine.Import(ctx, engineInput)
	if err != nil {
		return nil, err
	}

	s.recordAuditEvent(ctx, opts.Industry, table, result)

	return &RunResult{Import: &ImportResult{
		Industry:       opts.Industry,
		Table:          table,
		Strategy:       result.Strategy,
		TableCreated:   result.TableCreated,
		Inserted:       result.Inserted,
		Updated:        result.Updated,
		DeletedRows:    result.DeletedRows,
		AddedColumns:   result.AddedColumns,
		DroppedColumns: result.DroppedColumns,
	}}, nil
}

// recordAuditEvent appends a committed import to the audit trail. The import
// itself already happened, so audit failures are logged, not surfaced.
func (s *Service) recordAuditEvent(ctx context.Context, industryName, table string, result *reconcile.Result) {
	payload := map[string]any{
		"inserted":       result.Inserted,
		"updated":        result.Updated,
		"removedRows":    result.DeletedRows,
		"addedColumns":   result.AddedColumns,
		"droppedColumns": result.DroppedColumns,
		"tableCreated":   result.TableCreated,
	}
	if err := internaldb.AppendImportEvent(ctx, s.db, industryName, table, result.Strategy, payload); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"industry": industryName,
			"table":    table,
		}).Warn("record import audit event")
	}
}

// Industries lists the registry with live table existence.
func (s *Service) Industries(ctx context.Context) ([]IndustryInfo, error) {
	entries := s.registry.List()
	infos := make([]IndustryInfo, 0, len(entries))
	for _, entry := range entries {
		state, err := industry.FetchTableState(ctx, s.db, entry.Table)
		if err != nil {
			return nil, err
		}
		infos = append(infos, IndustryInfo{Industry: entry.Industry, Table: entry.Table, Exists: state.Exists})
	}
	return infos, nil
}

// AvailableColumns returns the live table's user-selectable columns: the
// managed and row-identifier columns are never offered.
func (s *Service) AvailableColumns(ctx context.Context, industryName string) (*ColumnsResult, error) {
	table, err := s.registry.Resolve(industryName)
	if err != nil {
		return nil, err
	}
	state, err := industry.FetchTableState(ctx, s.db, table)
	if err != nil {
		return nil, err
	}

	available := []string{}
	for _, column := range state.Columns {
		switch column {
		case reconcile.ColCostType, reconcile.ColIsFinancial, reconcile.ColRecordID:
			continue
		}
		available = append(available, column)
	}
	return &ColumnsResult{
		Industry:         industryName,
		Table:            table,
		TableExists:      state.Exists,
		AvailableColumns: available,
	}, nil
}
