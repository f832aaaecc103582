package reconcile

import "errors"

// ErrInvalidStrategy marks a strategy value outside overwrite/upsert.
var ErrInvalidStrategy = errors.New("invalid strategy")

// Reconciliation strategies. "create" is reported, never requested: it is the
// implicit strategy when no target table exists yet.
const (
	StrategyCreate    = "create"
	StrategyOverwrite = "overwrite"
	StrategyUpsert    = "upsert"
)

// Decision names the exact option the caller must supply before a gated
// import can proceed.
type Decision string

const (
	DecisionStrategyRequired Decision = "strategy_required"
	DecisionColumnRequired   Decision = "column_decision_required"
	DecisionRowRequired      Decision = "row_decision_required"
)

// DecisionRequiredError is returned instead of mutating when a destructive or
// ambiguous change needs explicit operator confirmation. It carries the full
// detail of what would change so the operator can confirm or cancel.
type DecisionRequiredError struct {
	Decision            Decision
	Message             string
	AvailableStrategies []string
	NewColumns          []string
	RemovedColumns      []string
	RemovedRows         *RemovedRows
}

func (e *DecisionRequiredError) Error() string {
	return e.Message
}

// RemovedRows reports live rows whose key tuple has no match in the incoming
// set. Sample is capped to bound response size.
type RemovedRows struct {
	Count  int                  `json:"count"`
	Sample []map[string]*string `json:"sample"`
}

// RowDiff is the preview payload: schema and row changes an upsert would
// apply, computed fresh per call and never persisted.
type RowDiff struct {
	NewColumns     []string    `json:"newColumns"`
	RemovedColumns []string    `json:"removedColumns"`
	RemovedRows    RemovedRows `json:"removedRows"`
}

// Options steer the destructive branches of an import. Every destructive
// branch requires an explicit boolean; nil means the operator has not
// decided yet and trips the matching gate.
type Options struct {
	Strategy           string
	AllowAddColumns    *bool
	DropMissingColumns *bool
	RemoveMissingRows  *bool
}

// Result summarizes a committed import.
type Result struct {
	Strategy       string
	TableCreated   bool
	Inserted       int
	Updated        int
	DeletedRows    int
	AddedColumns   []string
	DroppedColumns []string
}

func isTrue(b *bool) bool {
	return b != nil && *b
}
