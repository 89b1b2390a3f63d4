package strategy

import (
	"sync"
	"sync/atomic"
)

// RoundRobinCounters holds the one piece of hidden state spec §4.3 permits:
// a monotone counter per model group, shared across calls to
// SelectRoundRobin. Grounded on routers/round_robin.go's per-model-group
// counter idiom, generalized to a lock-free map of atomics.
type RoundRobinCounters struct {
	counters sync.Map // model group -> *atomic.Int64
}

func NewRoundRobinCounters() *RoundRobinCounters {
	return &RoundRobinCounters{}
}

// SelectRoundRobin returns the candidate at (counter mod N) over the
// sorted-by-id candidate list, then advances the counter for modelGroup
// (spec §4.3 RoundRobin).
func (rr *RoundRobinCounters) SelectRoundRobin(modelGroup string, candidates []Candidate) Candidate {
	sorted := sortByID(candidates)
	ctr := rr.counterFor(modelGroup)
	n := ctr.Add(1) - 1
	idx := int(uint64(n) % uint64(len(sorted)))
	return sorted[idx]
}

func (rr *RoundRobinCounters) counterFor(modelGroup string) *atomic.Int64 {
	if v, ok := rr.counters.Load(modelGroup); ok {
		return v.(*atomic.Int64)
	}
	actual, _ := rr.counters.LoadOrStore(modelGroup, &atomic.Int64{})
	return actual.(*atomic.Int64)
}
