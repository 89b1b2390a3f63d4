// Package fallback implements the C4 fallback table: four named categories
// mapping a model name to an ordered list of alternative model names,
// grounded on the teacher's RoutingConfig fallback map shape (a single flat
// "general" map), generalized to spec §4.4's four categories.
package fallback

import (
	"github.com/blueberrycongee/llmrouter/pkg/errors"
)

// Table holds the four fallback categories. Zero value is usable (every
// lookup simply finds nothing).
type Table struct {
	General       map[string][]string
	ContextWindow map[string][]string
	ContentPolicy map[string][]string
	RateLimit     map[string][]string
}

// NewTable returns an empty table with initialized maps.
func NewTable() *Table {
	return &Table{
		General:       map[string][]string{},
		ContextWindow: map[string][]string{},
		ContentPolicy: map[string][]string{},
		RateLimit:     map[string][]string{},
	}
}

// Lookup returns the ordered fallback list for model under category,
// falling back to the General category if category has no entry, per spec
// §4.4. Returns nil if neither has an entry.
func (t *Table) Lookup(model string, category errors.FallbackCategory) []string {
	if t == nil {
		return nil
	}
	if list := t.categoryMap(category)[model]; len(list) > 0 {
		return list
	}
	if category != errors.FallbackGeneral {
		if list := t.General[model]; len(list) > 0 {
			return list
		}
	}
	return nil
}

func (t *Table) categoryMap(category errors.FallbackCategory) map[string][]string {
	switch category {
	case errors.FallbackContextWindow:
		return t.ContextWindow
	case errors.FallbackContentPolicy:
		return t.ContentPolicy
	case errors.FallbackRateLimit:
		return t.RateLimit
	default:
		return t.General
	}
}
