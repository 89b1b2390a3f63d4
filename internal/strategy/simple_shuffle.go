package strategy

// SelectSimpleShuffle performs weighted random selection (spec §4.3
// SimpleShuffle): draw r uniformly from [0, Σweight) and walk candidates in
// id order subtracting weights until r falls within a band. Candidates
// without an explicit weight default to weight 1 (spec §3 invariant 8,
// DeploymentConfig.weight default 1), so this always has well-defined
// weights, unlike the teacher's routers/shuffle.go which fell back to
// uniform random when no deployment declared a weight.
//
// randFloat64 must return a value in [0, 1); production callers pass
// math/rand's Float64, tests can supply a deterministic sequence.
func SelectSimpleShuffle(candidates []Candidate, randFloat64 func() float64) Candidate {
	sorted := sortByID(candidates)

	var total float64
	for _, c := range sorted {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	if total <= 0 {
		return sorted[0]
	}

	r := randFloat64() * total
	var cumulative float64
	for _, c := range sorted {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		cumulative += w
		if r < cumulative {
			return c
		}
	}
	return sorted[len(sorted)-1]
}
