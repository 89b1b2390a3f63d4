package strategy

import "math"

// SelectCostBased returns the candidate with the lowest
// cost_per_input_token + cost_per_output_token, treating deployments with no
// cost data as infinitely expensive, ties broken by priority then id (spec
// §4.3 CostBased). Grounded on routers/cost.go.
func SelectCostBased(candidates []Candidate) Candidate {
	sorted := sortByID(candidates)
	best := sorted[0]
	bestCost := cost(best)
	for _, c := range sorted[1:] {
		cc := cost(c)
		if cc < bestCost || (cc == bestCost && tieBreak(c, best)) {
			best = c
			bestCost = cc
		}
	}
	return best
}

func cost(c Candidate) float64 {
	if !c.HasCost {
		return math.Inf(1)
	}
	return c.CostPerInputToken + c.CostPerOutputToken
}
