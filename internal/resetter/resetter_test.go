package resetter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmrouter/internal/deployment"
	"github.com/blueberrycongee/llmrouter/internal/registry"
	"github.com/blueberrycongee/llmrouter/pkg/provider"
)

type stubProvider struct {
	health    provider.HealthStatus
	healthErr error
	checks    int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) ChatCompletion(context.Context, provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{}, nil
}

func (s *stubProvider) HealthCheck(context.Context) (provider.HealthStatus, error) {
	s.checks++
	return s.health, s.healthErr
}

func (s *stubProvider) CalculateCost(string, int, int) float64 { return 0 }

func newTestDeployment(t *testing.T, reg *registry.Registry, id string, p provider.Provider) *registry.Deployment {
	t.Helper()
	d := &registry.Deployment{
		ID:         id,
		ModelGroup: "gpt-4",
		Provider:   p,
		Config:     registry.Config{MaxParallel: 1, Weight: 1},
	}
	require.NoError(t, reg.Register(d))
	got, _ := reg.ByID(id)
	return got
}

func TestResetter_TickResetsStaleMinuteWindow(t *testing.T) {
	reg := registry.New()
	d := newTestDeployment(t, reg, "d1", &stubProvider{health: provider.HealthHealthy})

	d.State.RecordAttempt(0)
	require.EqualValues(t, 1, d.State.RPMCurrent())

	r := New(reg, nil)
	// Force the minute window to look stale without waiting a real minute.
	stale := time.Now().Add(-2 * windowAge)
	d.State.ResetMinute(stale)
	d.State.RecordAttempt(0)

	r.tick(context.Background(), time.Now())
	assert.EqualValues(t, 0, d.State.RPMCurrent())
}

func TestResetter_SkipsHealthCheckWhenRecentlyUsed(t *testing.T) {
	reg := registry.New()
	p := &stubProvider{health: provider.HealthHealthy}
	d := newTestDeployment(t, reg, "d1", p)
	d.State.RecordAttempt(0)

	r := New(reg, nil)
	r.tick(context.Background(), time.Now())

	assert.Zero(t, p.checks)
}

func TestResetter_ProbesIdleDeploymentAndUpdatesHealth(t *testing.T) {
	reg := registry.New()
	p := &stubProvider{health: provider.HealthDegraded}
	d := newTestDeployment(t, reg, "d1", p)
	d.State.SetHealth(deployment.HealthUnhealthy)

	r := New(reg, nil)
	// maybeHealthCheck gates on LastRequestAt, which RecordAttempt sets;
	// without ever attempting a request it stays zero and is skipped, so
	// exercise the idle path directly with a clock far enough in the future.
	d.State.RecordAttempt(0)
	future := time.Now().Add(healthCheckIdleAfter + time.Second)

	r.maybeHealthCheck(context.Background(), d, future)

	assert.EqualValues(t, 1, p.checks)
	assert.Equal(t, deployment.HealthDegraded, d.State.Health())
}

func TestResetter_HealthCheckFailureLeavesHealthUnchanged(t *testing.T) {
	reg := registry.New()
	p := &stubProvider{healthErr: assert.AnError}
	d := newTestDeployment(t, reg, "d1", p)
	d.State.SetHealth(deployment.HealthHealthy)
	d.State.RecordAttempt(0)

	r := New(reg, nil)
	future := time.Now().Add(healthCheckIdleAfter + time.Second)
	r.maybeHealthCheck(context.Background(), d, future)

	assert.EqualValues(t, 1, p.checks)
	assert.Equal(t, deployment.HealthHealthy, d.State.Health())
}

func TestHealthFromProvider(t *testing.T) {
	cases := map[provider.HealthStatus]deployment.Health{
		provider.HealthHealthy:   deployment.HealthHealthy,
		provider.HealthDegraded:  deployment.HealthDegraded,
		provider.HealthUnhealthy: deployment.HealthUnhealthy,
		provider.HealthUnknown:   deployment.HealthUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, healthFromProvider(in))
	}
}

func TestResetter_RunStopsOnContextCancel(t *testing.T) {
	reg := registry.New()
	r := New(reg, nil)
	r.interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
