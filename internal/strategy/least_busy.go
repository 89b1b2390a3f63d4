package strategy

// SelectLeastBusy returns the candidate with the fewest active_requests,
// ties broken by lower priority then by id (spec §4.3 LeastBusy). Grounded
// on routers/leastbusy.go's snapshot/filter/min-scan shape, but the teacher
// broke ties with a random pre-shuffle; spec §8 scenario 4 requires a
// deterministic, non-rotating tie-break instead.
func SelectLeastBusy(candidates []Candidate) Candidate {
	sorted := sortByID(candidates)
	best := sorted[0]
	for _, c := range sorted[1:] {
		if less := lessBusy(c, best); less {
			best = c
		}
	}
	return best
}

func lessBusy(a, b Candidate) bool {
	if a.ActiveRequests != b.ActiveRequests {
		return a.ActiveRequests < b.ActiveRequests
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}
