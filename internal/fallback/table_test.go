package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blueberrycongee/llmrouter/pkg/errors"
)

func TestNewTable_StartsEmptyButUsable(t *testing.T) {
	tbl := NewTable()
	assert.Nil(t, tbl.Lookup("gpt-4", errors.FallbackGeneral))
}

func TestLookup_NilTableReturnsNil(t *testing.T) {
	var tbl *Table
	assert.Nil(t, tbl.Lookup("gpt-4", errors.FallbackGeneral))
}

func TestLookup_FindsEntryInSpecificCategory(t *testing.T) {
	tbl := NewTable()
	tbl.ContextWindow["gpt-4"] = []string{"gpt-4-32k", "gpt-4-turbo"}

	got := tbl.Lookup("gpt-4", errors.FallbackContextWindow)
	assert.Equal(t, []string{"gpt-4-32k", "gpt-4-turbo"}, got)
}

func TestLookup_FallsBackToGeneralWhenCategoryMissing(t *testing.T) {
	tbl := NewTable()
	tbl.General["gpt-4"] = []string{"gpt-3.5-turbo"}

	got := tbl.Lookup("gpt-4", errors.FallbackRateLimit)
	assert.Equal(t, []string{"gpt-3.5-turbo"}, got)
}

func TestLookup_SpecificCategoryTakesPrecedenceOverGeneral(t *testing.T) {
	tbl := NewTable()
	tbl.General["gpt-4"] = []string{"gpt-3.5-turbo"}
	tbl.ContentPolicy["gpt-4"] = []string{"claude-3-haiku"}

	got := tbl.Lookup("gpt-4", errors.FallbackContentPolicy)
	assert.Equal(t, []string{"claude-3-haiku"}, got)
}

func TestLookup_GeneralCategoryNeverDoubleFallsBack(t *testing.T) {
	tbl := NewTable()
	tbl.General["other-model"] = []string{"x"}

	got := tbl.Lookup("gpt-4", errors.FallbackGeneral)
	assert.Nil(t, got)
}

func TestLookup_NoEntryAnywhereReturnsNil(t *testing.T) {
	tbl := NewTable()
	assert.Nil(t, tbl.Lookup("unknown-model", errors.FallbackContextWindow))
}

func TestLookup_UnrecognizedCategoryUsesGeneral(t *testing.T) {
	tbl := NewTable()
	tbl.General["gpt-4"] = []string{"gpt-3.5-turbo"}

	got := tbl.Lookup("gpt-4", errors.FallbackCategory("unknown"))
	assert.Equal(t, []string{"gpt-3.5-turbo"}, got)
}
