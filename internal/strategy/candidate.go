// Package strategy implements the C3 strategy executor: pure selection
// functions over a read-only candidate snapshot, grounded on the teacher's
// routers/*.go Pick implementations but generalized into standalone
// functions rather than one *Router per strategy.
package strategy

import "sort"

// Candidate is the read-only snapshot strategies select over. It is built
// by the router facade from the (already health/breaker/tag/limit-filtered)
// survivors of one attempt; strategies never see the live registry or
// mutate anything (spec §4.3 "pure functions of the candidate snapshot").
type Candidate struct {
	ID       string
	Priority int   // lower is preferred
	Weight   float64

	ActiveRequests int64

	TPMCurrent int64
	TPMLimit   int64 // 0 = unset
	RPMCurrent int64
	RPMLimit   int64 // 0 = unset

	AvgLatencyUS   float64
	SuccessSamples int64

	CostPerInputToken  float64
	CostPerOutputToken float64
	HasCost            bool

	// ModelGroup is used by RoundRobin to key its per-group counter.
	ModelGroup string
}

// Kind identifies a recognized routing strategy (spec §4.3, §6.2).
type Kind string

const (
	SimpleShuffle  Kind = "simple_shuffle"
	RoundRobin     Kind = "round_robin"
	LeastBusy      Kind = "least_busy"
	UsageBased     Kind = "usage_based"
	LatencyBased   Kind = "latency_based"
	CostBased      Kind = "cost_based"
	RateLimitAware Kind = "rate_limit_aware"
)

// sortByID returns a copy of candidates sorted by id, the deterministic
// iteration order spec §4.3 requires for SimpleShuffle and RoundRobin, and
// used here as the stable base for every strategy's tie-break.
func sortByID(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
