package industry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKnownIndustries(t *testing.T) {
	registry := NewRegistry()

	cases := []struct {
		in   string
		want string
	}{
		{"trucking", "COA_TRUCKING"},
		{"TRUCKING", "COA_TRUCKING"},
		{"  Trucking  ", "COA_TRUCKING"},
		{"real estate", "COA_REAL_ESTATE"},
		{"Real-Estate", "COA_REAL_ESTATE"},
		{"professional services", "COA_PROFESSIONAL_SERVICES"},
		{"general", "ACCOUNTS"},
		{"General", "ACCOUNTS"},
	}
	for _, tc := range cases {
		table, err := registry.Resolve(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, table, "input %q", tc.in)
	}
}

func TestResolveUnknownIndustry(t *testing.T) {
	registry := NewRegistry()

	for _, name := range []string{"aviation", "truckingg", "", "   ", "%%%"} {
		_, err := registry.Resolve(name)
		assert.ErrorIs(t, err, ErrUnknownIndustry, "input %q", name)
	}
}

func TestResolveRejectsInjectionShapedNames(t *testing.T) {
	registry := NewRegistry()

	// Normalization folds punctuation away, so these miss the registry
	// entirely rather than reaching statement construction.
	for _, name := range []string{`trucking"; DROP TABLE x; --`, "trucking OR 1=1"} {
		_, err := registry.Resolve(name)
		assert.ErrorIs(t, err, ErrUnknownIndustry, "input %q", name)
	}
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("COA_TRUCKING"))
	assert.True(t, ValidIdentifier("ACCOUNTS"))
	assert.True(t, ValidIdentifier("A"))

	assert.False(t, ValidIdentifier(""))
	assert.False(t, ValidIdentifier("lowercase"))
	assert.False(t, ValidIdentifier("1LEADING_DIGIT"))
	assert.False(t, ValidIdentifier(`COA_"X"`))
	assert.False(t, ValidIdentifier("COA TRUCKING"))
}

func TestListIsSortedAndComplete(t *testing.T) {
	entries := NewRegistry().List()
	require.Len(t, entries, 10)

	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].Industry, entries[i].Industry)
	}

	byIndustry := make(map[string]string, len(entries))
	for _, e := range entries {
		byIndustry[e.Industry] = e.Table
	}
	assert.Equal(t, "ACCOUNTS", byIndustry["GENERAL"])
	assert.Equal(t, "COA_TRUCKING", byIndustry["TRUCKING"])
	assert.Equal(t, "COA_AGRICULTURE", byIndustry["AGRICULTURE"])
}
