package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveColumnsDefaultsToAllHeaders(t *testing.T) {
	headers := []string{"ACCOUNT", "DESCRIPTION", "BALANCE"}

	assert.Equal(t, headers, ResolveColumns(headers, nil))
	assert.Equal(t, headers, ResolveColumns(headers, []string{}))
}

func TestResolveColumnsFiltersAndPreservesHeaderOrder(t *testing.T) {
	headers := []string{"ACCOUNT", "DESCRIPTION", "BALANCE", "REGION"}

	got := ResolveColumns(headers, []string{"region", " Balance ", "account"})
	assert.Equal(t, []string{"ACCOUNT", "BALANCE", "REGION"}, got)
}

func TestResolveColumnsDropsReservedNames(t *testing.T) {
	headers := []string{"ACCOUNT", "COST_TYPE", "IS_FINANCIAL", "RECORD_ID", "BALANCE"}

	assert.Equal(t, []string{"ACCOUNT", "BALANCE"}, ResolveColumns(headers, nil))
	assert.Equal(t, []string{"ACCOUNT"}, ResolveColumns(headers, []string{"account", "cost type", "record id"}))
}

func TestResolveColumnsUnknownRequestYieldsEmpty(t *testing.T) {
	assert.Empty(t, ResolveColumns([]string{"ACCOUNT"}, []string{"NOPE"}))
}

func TestResolveKeysDefaultsToFirstSelected(t *testing.T) {
	selected := []string{"ACCOUNT", "DESCRIPTION"}

	assert.Equal(t, []string{"ACCOUNT"}, ResolveKeys(selected, nil))
	assert.Equal(t, []string{"ACCOUNT"}, ResolveKeys(selected, []string{"NOT_SELECTED"}))
}

func TestResolveKeysPreservesRequestOrderAndDedupes(t *testing.T) {
	selected := []string{"ACCOUNT", "DESCRIPTION", "BALANCE"}

	got := ResolveKeys(selected, []string{"description", "ACCOUNT", "Description"})
	assert.Equal(t, []string{"DESCRIPTION", "ACCOUNT"}, got)
}

func TestResolveKeysEmptySelection(t *testing.T) {
	assert.Empty(t, ResolveKeys(nil, []string{"ACCOUNT"}))
}

func TestColumnDiff(t *testing.T) {
	live := []string{"RECORD_ID", "ACCOUNT", "DESCRIPTION", "LEGACY_CODE", "COST_TYPE", "IS_FINANCIAL"}
	selected := []string{"ACCOUNT", "DESCRIPTION", "REGION"}

	newColumns, removedColumns := ColumnDiff(live, selected)
	assert.Equal(t, []string{"REGION"}, newColumns)
	assert.Equal(t, []string{"LEGACY_CODE"}, removedColumns)
}

func TestColumnDiffNoChanges(t *testing.T) {
	live := []string{"RECORD_ID", "ACCOUNT", "COST_TYPE", "IS_FINANCIAL"}

	newColumns, removedColumns := ColumnDiff(live, []string{"account"})
	assert.Empty(t, newColumns)
	assert.Empty(t, removedColumns)
	// Always non-nil so they serialize as [] rather than null.
	assert.NotNil(t, newColumns)
	assert.NotNil(t, removedColumns)
}

func TestWithManagedAppendsAndDedupes(t *testing.T) {
	got := withManaged([]string{"account", "ACCOUNT", "cost_type"})
	assert.Equal(t, []string{"ACCOUNT", "COST_TYPE", "IS_FINANCIAL"}, got)

	got = withManaged(nil)
	assert.Equal(t, []string{"COST_TYPE", "IS_FINANCIAL"}, got)
}

func TestWithManagedPresentAppendsOnlyFileColumns(t *testing.T) {
	// File lacks managed headers: nothing is appended.
	got := withManagedPresent([]string{"account", "BALANCE"}, []string{"ACCOUNT", "BALANCE"})
	assert.Equal(t, []string{"ACCOUNT", "BALANCE"}, got)

	// File carries one managed header: only that one is appended.
	got = withManagedPresent([]string{"ACCOUNT"}, []string{"ACCOUNT", "COST_TYPE"})
	assert.Equal(t, []string{"ACCOUNT", "COST_TYPE"}, got)

	got = withManagedPresent([]string{"ACCOUNT"}, []string{"ACCOUNT", "COST_TYPE", "IS_FINANCIAL"})
	assert.Equal(t, []string{"ACCOUNT", "COST_TYPE", "IS_FINANCIAL"}, got)
}

func TestKeyTuple(t *testing.T) {
	v1, v2 := "a", "a"
	rowA := map[string]*string{"K1": &v1, "K2": nil}
	rowB := map[string]*string{"K1": &v2, "K2": nil}
	assert.Equal(t, keyTuple(rowA, []string{"K1", "K2"}), keyTuple(rowB, []string{"K1", "K2"}))

	// A nil key cell and the literal string "null" must not collide.
	null := "null"
	rowC := map[string]*string{"K1": &v1, "K2": &null}
	assert.NotEqual(t, keyTuple(rowA, []string{"K1", "K2"}), keyTuple(rowC, []string{"K1", "K2"}))
}
