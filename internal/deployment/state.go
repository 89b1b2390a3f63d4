// Package deployment implements the lock-free per-deployment accounting
// (health, counters, EWMA latency, breaker window) that the rest of the
// router reads and mutates under contention.
package deployment

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Health is the coarse-grained health classification of a deployment.
type Health int32

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
	HealthCooldown
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// ewmaAlpha is the fixed smoothing factor mandated by spec §4.1.
const ewmaAlpha = 0.2

// minSamplesForLatencyRanking is the cold-start threshold used by the
// LatencyBased strategy (spec §4.3): deployments with fewer recorded
// successes are given an optimistic latency of zero.
const minSamplesForLatencyRanking = 5

// State is the lock-free mutable state of one deployment (spec §3
// "DeploymentState"). Every field is updated via sync/atomic except the
// breaker window, which is a short-lived mutex-guarded ring buffer per
// spec §9 ("the only lock in the hot path, and never held across any
// suspension").
type State struct {
	health atomic.Int32

	tpmCurrent atomic.Int64
	rpmCurrent atomic.Int64

	activeRequests atomic.Int64

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failRequests    atomic.Int64

	failsThisMinute atomic.Int64

	cooldownUntil atomic.Int64 // unix seconds; 0 = not in cooldown

	avgLatencyBits atomic.Uint64 // math.Float64bits(avg_latency_us)
	successSamples atomic.Int64  // count of record_success calls, for cold-start ranking

	lastRequestAt atomic.Int64 // unix nanos
	minuteResetAt atomic.Int64 // unix nanos

	window Window
}

// NewState returns a fresh, Unknown-health, zeroed deployment state.
func NewState() *State {
	s := &State{}
	now := time.Now()
	s.minuteResetAt.Store(now.UnixNano())
	s.health.Store(int32(HealthUnknown))
	return s
}

// Health returns the current health classification.
func (s *State) Health() Health { return Health(s.health.Load()) }

// SetHealth sets the health classification directly. Used by the breaker on
// state transitions and by the resetter for out-of-band health-check probes
// (spec §9 open question: probes never touch the breaker window, only health).
func (s *State) SetHealth(h Health) { s.health.Store(int32(h)) }

// ActiveRequests returns the live in-flight count.
func (s *State) ActiveRequests() int64 { return s.activeRequests.Load() }

// TotalRequests, SuccessRequests, FailRequests return lifetime counters.
func (s *State) TotalRequests() int64   { return s.totalRequests.Load() }
func (s *State) SuccessRequests() int64 { return s.successRequests.Load() }
func (s *State) FailRequests() int64    { return s.failRequests.Load() }

// FailsThisMinute returns the rolling per-minute failure count.
func (s *State) FailsThisMinute() int64 { return s.failsThisMinute.Load() }

// TPMCurrent, RPMCurrent return the current minute's usage.
func (s *State) TPMCurrent() int64 { return s.tpmCurrent.Load() }
func (s *State) RPMCurrent() int64 { return s.rpmCurrent.Load() }

// CooldownUntil returns the unix-seconds timestamp cooldown lapses at, or 0.
func (s *State) CooldownUntil() int64 { return s.cooldownUntil.Load() }

// SetCooldownUntil sets the cooldown expiry and, if in the future, marks the
// deployment Cooldown (spec §3 invariant 5).
func (s *State) SetCooldownUntil(at time.Time) {
	s.cooldownUntil.Store(at.Unix())
	if at.After(time.Now()) {
		s.SetHealth(HealthCooldown)
	}
}

// ClearCooldown zeroes the cooldown timestamp.
func (s *State) ClearCooldown() { s.cooldownUntil.Store(0) }

// AvgLatencyUS returns the current EWMA latency estimate in microseconds.
func (s *State) AvgLatencyUS() float64 {
	return math.Float64frombits(s.avgLatencyBits.Load())
}

// SuccessSamples returns how many successes have been recorded, used for the
// LatencyBased cold-start rule.
func (s *State) SuccessSamples() int64 { return s.successSamples.Load() }

// LastRequestAt returns the wall-clock time of the last dispatched attempt.
func (s *State) LastRequestAt() time.Time {
	ns := s.lastRequestAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// MinuteResetAt returns when the per-minute counters were last zeroed.
func (s *State) MinuteResetAt() time.Time {
	return time.Unix(0, s.minuteResetAt.Load())
}

// Window exposes the breaker's failure/attempt ring buffer (spec §3's
// "window" field; the breaker package operates on it).
func (s *State) Window() *Window { return &s.window }

// RecordAttempt accounts for a dispatched operation before it runs (spec
// §4.1 record_attempt). tokensHint, if > 0, is provisionally reserved
// against tpm_current; record_success reconciles it against actual usage.
func (s *State) RecordAttempt(tokensHint int64) {
	s.totalRequests.Add(1)
	s.activeRequests.Add(1)
	s.rpmCurrent.Add(1)
	if tokensHint > 0 {
		s.tpmCurrent.Add(tokensHint)
	}
	s.lastRequestAt.Store(time.Now().UnixNano())
}

// RecordSuccess accounts for a completed successful operation (spec §4.1
// record_success). tokensHint is the value previously passed to
// RecordAttempt, used to reconcile the provisional tpm reservation against
// actual usage; pass 0 if none was made.
func (s *State) RecordSuccess(actualTokens, tokensHint, latencyUS int64) {
	s.activeRequests.Add(-1)
	s.successRequests.Add(1)
	if diff := actualTokens - tokensHint; diff != 0 {
		s.tpmCurrent.Add(diff)
	}
	s.mergeLatency(float64(latencyUS))
	s.successSamples.Add(1)
}

// RecordFailure accounts for a failed operation (spec §4.1 record_failure).
// Appending to the breaker window is the breaker's responsibility (it reads
// the error Kind to decide whether the failure counts toward the window);
// this method only updates the counters.
func (s *State) RecordFailure() {
	s.activeRequests.Add(-1)
	s.failRequests.Add(1)
	s.failsThisMinute.Add(1)
}

// RecordCancelled decrements active_requests without touching success/fail
// counters (spec §5 cancellation semantics).
func (s *State) RecordCancelled() {
	s.activeRequests.Add(-1)
}

// mergeLatency updates the EWMA via a lock-free CAS retry loop. Under
// contention the writer with the stale read loses its update; this is
// acceptable since the estimate is advisory (spec §4.1, §9).
func (s *State) mergeLatency(observationUS float64) {
	for {
		oldBits := s.avgLatencyBits.Load()
		old := math.Float64frombits(oldBits)
		var next float64
		if old == 0 {
			next = observationUS
		} else {
			next = ewmaAlpha*observationUS + (1-ewmaAlpha)*old
		}
		newBits := math.Float64bits(next)
		if s.avgLatencyBits.CompareAndSwap(oldBits, newBits) {
			return
		}
	}
}

// IsAvailable reports whether this deployment may be selected right now
// (spec §4.1 is_available). It does not consult the breaker; the router
// facade applies breaker-open filtering separately (spec §4.6.ii).
func (s *State) IsAvailable(now time.Time, maxParallel int64, rpmLimit, tpmLimit int64, needTokens int64) bool {
	if s.Health() == HealthUnhealthy {
		return false
	}
	if cd := s.cooldownUntil.Load(); cd > 0 && now.Unix() < cd {
		return false
	}
	if maxParallel > 0 && s.activeRequests.Load() >= maxParallel {
		return false
	}
	if rpmLimit > 0 && s.rpmCurrent.Load() >= rpmLimit {
		return false
	}
	if tpmLimit > 0 && needTokens > 0 && s.tpmCurrent.Load()+needTokens > tpmLimit {
		return false
	}
	return true
}

// ResetMinute zeroes the per-minute counters (spec §4.1 reset_minute / §4.7).
// Idempotent within the same second: callers (the resetter) only invoke it
// once minute_reset_at is stale, so a second call before the next tick is a
// no-op in effect (the counters it would zero are already zero).
func (s *State) ResetMinute(now time.Time) {
	s.tpmCurrent.Store(0)
	s.rpmCurrent.Store(0)
	s.failsThisMinute.Store(0)
	s.minuteResetAt.Store(now.UnixNano())
}

// Window is a small, mutex-guarded ring buffer of recent operation outcomes
// used by the breaker to compute a failure-rate over a sliding time window
// (spec §3 "window", §9 "cap ≈ 64 timestamps... short spinlock").
type Window struct {
	mu      sync.Mutex
	entries [64]entry
	head    int
	size    int
}

type entry struct {
	at      time.Time
	failure bool
}

// Append records one operation outcome (spec §4.2's "append timestamp to a
// sliding window").
func (w *Window) Append(at time.Time, failure bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cap := len(w.entries)
	if w.size < cap {
		idx := (w.head + w.size) % cap
		w.entries[idx] = entry{at: at, failure: failure}
		w.size++
		return
	}
	// Full: overwrite the oldest slot (at head) with the new entry, then
	// advance head so it still points at the (new) oldest surviving entry.
	w.entries[w.head] = entry{at: at, failure: failure}
	w.head = (w.head + 1) % cap
}

// Counts returns the number of failures and total entries within
// windowSize of now, pruning (logically, not physically) anything older.
func (w *Window) Counts(now time.Time, windowSize time.Duration) (failures, total int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-windowSize)
	for i := 0; i < w.size; i++ {
		idx := (w.head + i) % len(w.entries)
		e := w.entries[idx]
		if e.at.Before(cutoff) {
			continue
		}
		total++
		if e.failure {
			failures++
		}
	}
	return failures, total
}

// Reset clears the window (spec §4.2 "transition to Closed... clear the
// window").
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.head = 0
	w.size = 0
}
