// Package breaker implements the per-deployment three-state circuit breaker
// (Closed/Open/HalfOpen) described in spec §4.2. It is the integrated
// successor to the teacher's unintegrated reference circuit breaker.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/llmrouter/internal/deployment"
)

// State is the circuit's current classification.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config parameterizes one breaker instance (spec §4.2, §3 RouterConfig's
// allowed_fails/cooldown_time feed these).
type Config struct {
	// FailureThreshold is the number of window failures that trips Open.
	FailureThreshold int
	// MinRequests is the minimum number of window entries (successes and
	// failures) required before FailureThreshold is honored.
	MinRequests int
	// WindowSize bounds how far back failures/attempts are counted.
	WindowSize time.Duration
	// Timeout is how long Open lasts before probing half-open.
	Timeout time.Duration
	// SuccessThreshold is the number of half-open probe successes needed to
	// close the circuit.
	SuccessThreshold int
}

// DefaultConfig mirrors spec §3's RouterConfig defaults (allowed_fails=3,
// cooldown_time=5s) plus a conservative min_requests/window_size pair.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		MinRequests:      3,
		WindowSize:       60 * time.Second,
		Timeout:          5 * time.Second,
		SuccessThreshold: 1,
	}
}

// Breaker is one deployment's circuit breaker. It is coupled to that
// deployment's State: half-open admission is gated on ActiveRequests()==0,
// and state transitions update State.Health/CooldownUntil directly so that
// spec §3 invariant 5 (cooldown_until>now implies health=Cooldown) holds.
type Breaker struct {
	state      atomic.Int32
	cooldownMu sync.Mutex // guards the cooldown_until extension on repeated Open
	successes  atomic.Int32

	cfg Config
	dep *deployment.State
}

// New creates a breaker bound to dep's window and counters.
func New(cfg Config, dep *deployment.State) *Breaker {
	return &Breaker{cfg: cfg, dep: dep}
}

// State returns the current breaker state.
func (b *Breaker) State() State { return State(b.state.Load()) }

// Allow reports whether a request may be dispatched to this deployment right
// now, performing the Open→HalfOpen transition as a side effect when the
// cooldown has elapsed (spec §4.2).
func (b *Breaker) Allow(now time.Time) bool {
	switch b.State() {
	case Closed:
		return true
	case Open:
		if now.Unix() >= b.dep.CooldownUntil() {
			b.transition(Open, HalfOpen)
			b.dep.SetHealth(deployment.HealthDegraded)
			b.successes.Store(0)
		} else {
			return false
		}
		fallthrough
	case HalfOpen:
		return b.dep.ActiveRequests() == 0
	default:
		return false
	}
}

// RecordSuccess reports a successful operation. In HalfOpen it counts toward
// success_threshold; reaching it closes the circuit and clears the window.
func (b *Breaker) RecordSuccess(now time.Time) {
	b.dep.Window().Append(now, false)
	switch b.State() {
	case HalfOpen:
		if int(b.successes.Add(1)) >= b.cfg.SuccessThreshold {
			b.transition(HalfOpen, Closed)
			b.dep.SetHealth(deployment.HealthHealthy)
			b.dep.ClearCooldown()
			b.dep.Window().Reset()
			b.successes.Store(0)
		}
	case Closed:
		b.dep.SetHealth(deployment.HealthHealthy)
	}
}

// RecordFailure reports a retryable failure. In Closed state it feeds the
// window and may trip Open once both failure_threshold and min_requests are
// satisfied. In HalfOpen any failure reopens the circuit. Fatal-per-deployment
// errors should call Trip directly instead (they open immediately without
// consulting the window, per spec §4.2).
func (b *Breaker) RecordFailure(now time.Time) {
	b.dep.Window().Append(now, true)
	switch b.State() {
	case Closed:
		failures, total := b.dep.Window().Counts(now, b.cfg.WindowSize)
		if failures >= b.cfg.FailureThreshold && total >= b.cfg.MinRequests {
			b.open(now)
		}
	case HalfOpen:
		b.open(now)
		b.successes.Store(0)
	}
}

// Trip opens the circuit unconditionally, bypassing the window threshold
// check. Used for fatal-per-deployment errors (spec §4.2).
func (b *Breaker) Trip(now time.Time) {
	b.dep.Window().Append(now, true)
	b.open(now)
}

func (b *Breaker) open(now time.Time) {
	b.cooldownMu.Lock()
	defer b.cooldownMu.Unlock()
	b.transition(b.State(), Open)
	b.dep.SetCooldownUntil(now.Add(b.cfg.Timeout))
}

// Reset forces the circuit back to Closed, clearing the window and cooldown.
func (b *Breaker) Reset() {
	b.transition(b.State(), Closed)
	b.dep.ClearCooldown()
	b.dep.SetHealth(deployment.HealthUnknown)
	b.dep.Window().Reset()
	b.successes.Store(0)
}

func (b *Breaker) transition(from, to State) {
	b.state.Store(int32(to))
	_ = from
}
