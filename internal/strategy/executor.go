package strategy

import "math/rand"

// Executor dispatches to the configured strategy. It owns the one piece of
// cross-call state the spec permits (RoundRobin's per-model-group counter);
// every other strategy is a pure function of the candidate snapshot.
type Executor struct {
	roundRobin *RoundRobinCounters
}

func NewExecutor() *Executor {
	return &Executor{roundRobin: NewRoundRobinCounters()}
}

// Select picks exactly one candidate from a non-empty list according to
// kind (spec §4.3). modelGroup is only consulted by RoundRobin.
func (e *Executor) Select(kind Kind, modelGroup string, candidates []Candidate) Candidate {
	switch kind {
	case RoundRobin:
		return e.roundRobin.SelectRoundRobin(modelGroup, candidates)
	case LeastBusy:
		return SelectLeastBusy(candidates)
	case UsageBased:
		return SelectUsageBased(candidates)
	case LatencyBased:
		return SelectLatencyBased(candidates)
	case CostBased:
		return SelectCostBased(candidates)
	case RateLimitAware:
		return SelectRateLimitAware(candidates)
	case SimpleShuffle:
		fallthrough
	default:
		return SelectSimpleShuffle(candidates, rand.Float64)
	}
}
