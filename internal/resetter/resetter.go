// Package resetter implements the C7 minute-window resetter: a single
// long-lived background task that wakes every second and zeroes any
// deployment's per-minute counters once they go stale, plus an independent,
// rate-limited health-check probe for deployments that have gone idle
// (spec §4.7, §6.1). The teacher resets minute windows lazily inline
// (routers/base.go's updateUsageStats comparing a minute-key string on
// every write); spec §4.7 requires the independent-ticker design used here.
package resetter

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/blueberrycongee/llmrouter/internal/deployment"
	"github.com/blueberrycongee/llmrouter/internal/observability"
	"github.com/blueberrycongee/llmrouter/internal/registry"
	"github.com/blueberrycongee/llmrouter/pkg/provider"
)

// windowAge is how old a minute's counters may get before they are reset
// (spec §4.7: "older than 60s").
const windowAge = 60 * time.Second

// healthCheckIdleAfter is how long a deployment must have gone unused
// before the resetter spends a probe on it (spec §6.1: "deployments whose
// last_request_at is older than N minutes").
const healthCheckIdleAfter = 2 * time.Minute

// Resetter owns the one independent background task spec §4.7 describes.
// It holds no state of its own beyond a tick interval and a probe rate
// limiter; all mutable state lives on the registry's deployments.
type Resetter struct {
	registry *registry.Registry
	logger   *observability.Logger
	interval time.Duration
	probes   *rate.Limiter
}

// New returns a Resetter that ticks once per second and paces health-check
// probes to at most one per second across the whole registry (the
// ecosystem golang.org/x/time/rate limiter, used here in place of the
// teacher's hand-rolled token bucket — see DESIGN.md).
func New(reg *registry.Registry, logger *observability.Logger) *Resetter {
	if logger == nil {
		logger = observability.NewLogger(observability.LoggerConfig{}, nil)
	}
	return &Resetter{
		registry: reg,
		logger:   logger,
		interval: time.Second,
		probes:   rate.NewLimiter(rate.Limit(1), 1),
	}
}

// Run blocks until ctx is cancelled, ticking once per second. It is
// idempotent and safe to restart (spec §4.7): every tick independently
// recomputes which deployments are stale rather than carrying any
// incremental state across ticks.
func (r *Resetter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.tick(ctx, now)
		}
	}
}

func (r *Resetter) tick(ctx context.Context, now time.Time) {
	for _, d := range r.registry.All() {
		if now.Sub(d.State.MinuteResetAt()) >= windowAge {
			d.State.ResetMinute(now)
		}
		r.maybeHealthCheck(ctx, d, now)
	}
}

// maybeHealthCheck probes a deployment's provider if it has been idle past
// healthCheckIdleAfter. Per spec §9's open question, probe results update
// State.Health directly and never touch the breaker's failure window —
// they are kept fully separate from request-outcome accounting.
func (r *Resetter) maybeHealthCheck(ctx context.Context, d *registry.Deployment, now time.Time) {
	last := d.State.LastRequestAt()
	if last.IsZero() || now.Sub(last) < healthCheckIdleAfter {
		return
	}
	if !r.probes.Allow() {
		return
	}
	status, err := d.Provider.HealthCheck(ctx)
	if err != nil {
		r.logger.Debug("resetter: health check failed", "deployment", d.ID, "error", err)
		return
	}
	d.State.SetHealth(healthFromProvider(status))
}

func healthFromProvider(s provider.HealthStatus) deployment.Health {
	switch s {
	case provider.HealthHealthy:
		return deployment.HealthHealthy
	case provider.HealthDegraded:
		return deployment.HealthDegraded
	case provider.HealthUnhealthy:
		return deployment.HealthUnhealthy
	default:
		return deployment.HealthUnknown
	}
}
