package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blueberrycongee/llmrouter/internal/deployment"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 2,
		MinRequests:      2,
		WindowSize:       time.Minute,
		Timeout:          5 * time.Second,
		SuccessThreshold: 1,
	}
}

func TestBreaker_StartsClosedAndAllows(t *testing.T) {
	b := New(testConfig(), deployment.NewState())
	now := time.Now()

	assert.Equal(t, Closed, b.State())
	assert.True(t, b.Allow(now))
}

func TestBreaker_TripsOpenAfterThresholdFailures(t *testing.T) {
	dep := deployment.NewState()
	b := New(testConfig(), dep)
	now := time.Now()

	b.RecordFailure(now)
	assert.Equal(t, Closed, b.State(), "one failure must not trip before min_requests")

	b.RecordFailure(now)
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow(now))
}

func TestBreaker_TripUnconditionallyOpensRegardlessOfWindow(t *testing.T) {
	dep := deployment.NewState()
	b := New(testConfig(), dep)
	now := time.Now()

	b.Trip(now)
	assert.Equal(t, Open, b.State())
	assert.True(t, dep.CooldownUntil() > 0)
}

// Closed -> Open -> HalfOpen -> Closed: the full recovery cycle spec §8
// scenario 3 exercises. Allow(now) is the only path that performs the
// Open->HalfOpen transition; a caller that instead reads State() would see
// Open forever.
func TestBreaker_FullRecoveryCycle(t *testing.T) {
	dep := deployment.NewState()
	cfg := testConfig()
	b := New(cfg, dep)

	t0 := time.Now()
	b.RecordFailure(t0)
	b.RecordFailure(t0)
	assert.Equal(t, Open, b.State(), "breaker should have tripped")
	assert.False(t, b.Allow(t0), "cooldown has not elapsed yet")
	assert.Equal(t, Open, b.State(), "Allow before cooldown elapses must not transition")

	afterCooldown := t0.Add(cfg.Timeout + time.Millisecond)
	allowed := b.Allow(afterCooldown)
	assert.True(t, allowed, "probe must be admitted once cooldown elapses")
	assert.Equal(t, HalfOpen, b.State())
	assert.Equal(t, deployment.HealthDegraded, dep.Health())

	b.RecordSuccess(afterCooldown)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, deployment.HealthHealthy, dep.Health())
	assert.EqualValues(t, 0, dep.CooldownUntil())
}

func TestBreaker_HalfOpenAdmitsOnlyOneProbeAtATime(t *testing.T) {
	dep := deployment.NewState()
	cfg := testConfig()
	b := New(cfg, dep)

	t0 := time.Now()
	b.Trip(t0)
	after := t0.Add(cfg.Timeout + time.Millisecond)
	assert.True(t, b.Allow(after))

	dep.RecordAttempt(0) // one probe now in flight
	assert.False(t, b.Allow(after), "a second concurrent probe must not be admitted")
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	dep := deployment.NewState()
	cfg := testConfig()
	b := New(cfg, dep)

	t0 := time.Now()
	b.Trip(t0)
	after := t0.Add(cfg.Timeout + time.Millisecond)
	allowed := b.Allow(after)
	assert.True(t, allowed)
	assert.Equal(t, HalfOpen, b.State())

	b.RecordFailure(after)
	assert.Equal(t, Open, b.State())
}

func TestBreaker_SuccessThresholdGreaterThanOneRequiresMultipleProbes(t *testing.T) {
	dep := deployment.NewState()
	cfg := testConfig()
	cfg.SuccessThreshold = 2
	b := New(cfg, dep)

	t0 := time.Now()
	b.Trip(t0)
	after := t0.Add(cfg.Timeout + time.Millisecond)
	assert.True(t, b.Allow(after))

	b.RecordSuccess(after)
	assert.Equal(t, HalfOpen, b.State(), "one success short of threshold stays half-open")

	b.RecordSuccess(after)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	dep := deployment.NewState()
	b := New(testConfig(), dep)
	now := time.Now()

	b.Trip(now)
	assert.Equal(t, Open, b.State())

	b.Reset()
	assert.Equal(t, Closed, b.State())
	assert.EqualValues(t, 0, dep.CooldownUntil())
	assert.Equal(t, deployment.HealthUnknown, dep.Health())
}
