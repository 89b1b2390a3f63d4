package router

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmrouter/internal/deployment"
	"github.com/blueberrycongee/llmrouter/internal/fallback"
	"github.com/blueberrycongee/llmrouter/internal/registry"
	"github.com/blueberrycongee/llmrouter/internal/strategy"
	pkgerrors "github.com/blueberrycongee/llmrouter/pkg/errors"
	"github.com/blueberrycongee/llmrouter/pkg/provider"
)

type fakeProvider struct{ name string }

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) ChatCompletion(context.Context, provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{Content: "ok"}, nil
}
func (f *fakeProvider) HealthCheck(context.Context) (provider.HealthStatus, error) {
	return provider.HealthHealthy, nil
}
func (f *fakeProvider) CalculateCost(string, int, int) float64 { return 0 }

func newDeployment(id, model string) *registry.Deployment {
	return &registry.Deployment{
		ID:         id,
		ModelGroup: model,
		Provider:   &fakeProvider{name: id},
		Config:     registry.Config{Weight: 1},
	}
}

func mustRegister(t *testing.T, reg *registry.Registry, d *registry.Deployment) {
	t.Helper()
	require.NoError(t, reg.Register(d))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NumRetries = 2
	cfg.RetryAfter = 0
	cfg.AllowedFails = 3
	cfg.CooldownTime = 5 * time.Second
	cfg.DefaultTimeout = time.Second
	cfg.MaxFallbacks = 5
	return cfg
}

func succeedOp(ctx context.Context, p provider.Provider) (any, int64, error) {
	return "done", 1, nil
}

func TestRoute_Success(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, newDeployment("d1", "gpt-4"))

	r := New(reg, nil, testConfig(), nil)
	result, err := r.Route(context.Background(), "gpt-4", RequestContext{}, succeedOp)
	require.NoError(t, err)
	assert.Equal(t, "d1", result.DeploymentID)
}

func TestRoute_ModelNotFound(t *testing.T) {
	reg := registry.New()
	r := New(reg, nil, testConfig(), nil)
	_, err := r.Route(context.Background(), "unknown", RequestContext{}, succeedOp)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestRoute_NoAvailableDeploymentWhenAllUnhealthy(t *testing.T) {
	reg := registry.New()
	d := newDeployment("d1", "gpt-4")
	mustRegister(t, reg, d)
	d.State.SetHealth(deployment.HealthUnhealthy)

	r := New(reg, nil, testConfig(), nil)
	_, err := r.Route(context.Background(), "gpt-4", RequestContext{}, succeedOp)
	assert.ErrorIs(t, err, ErrNoAvailableDeployment)
}

// Retryable errors consume the retry budget: with num_retries=2 and a single
// always-failing deployment, the operation is invoked exactly 3 times.
func TestRoute_RetryableErrorConsumesBudget(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, newDeployment("d1", "gpt-4"))

	cfg := testConfig()
	r := New(reg, nil, cfg, nil)

	var calls int32
	op := func(ctx context.Context, p provider.Provider) (any, int64, error) {
		atomic.AddInt32(&calls, 1)
		return nil, 0, pkgerrors.NewNetworkError(p.Name(), "gpt-4", "boom")
	}

	_, err := r.Route(context.Background(), "gpt-4", RequestContext{}, op)
	require.Error(t, err)
	assert.EqualValues(t, cfg.NumRetries+1, calls)
}

// A fatal-for-deployment error rotates to another candidate without consuming
// retry budget: with 2 candidates and the first always fatal, exactly 2 calls
// occur (one per deployment), not num_retries+1.
func TestRoute_FatalErrorRotatesWithoutDrainingRetries(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, newDeployment("bad", "gpt-4"))
	mustRegister(t, reg, newDeployment("good", "gpt-4"))

	// least_busy breaks the idle tie by id, so "bad" is selected first.
	cfg := testConfig()
	cfg.Strategy = strategy.LeastBusy
	r := New(reg, nil, cfg, nil)

	var calls int32
	op := func(ctx context.Context, p provider.Provider) (any, int64, error) {
		atomic.AddInt32(&calls, 1)
		if p.Name() == "bad" {
			return nil, 0, pkgerrors.NewAuthenticationError(p.Name(), "gpt-4", "bad key")
		}
		return "ok", 1, nil
	}

	result, err := r.Route(context.Background(), "gpt-4", RequestContext{}, op)
	require.NoError(t, err)
	assert.Equal(t, "good", result.DeploymentID)
	assert.EqualValues(t, 2, calls)
}

// A SkipDeployment error (context length exceeded) bypasses remaining
// retries on the model entirely and falls back, rather than rotating or
// retrying against the same model's other deployments.
func TestRoute_SkipDeploymentFallsBackImmediately(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, newDeployment("primary", "gpt-4"))
	mustRegister(t, reg, newDeployment("backup", "gpt-4-backup"))

	fb := fallback.NewTable()
	fb.ContextWindow["gpt-4"] = []string{"gpt-4-backup"}

	r := New(reg, fb, testConfig(), nil)

	var calls int32
	op := func(ctx context.Context, p provider.Provider) (any, int64, error) {
		atomic.AddInt32(&calls, 1)
		if p.Name() == "primary" {
			return nil, 0, pkgerrors.NewContextLengthExceededError(p.Name(), "gpt-4", "too long")
		}
		return "ok", 1, nil
	}

	result, err := r.Route(context.Background(), "gpt-4", RequestContext{}, op)
	require.NoError(t, err)
	assert.Equal(t, "backup", result.DeploymentID)
	assert.EqualValues(t, 2, calls) // one attempt on primary, one on the fallback
}

// A ContentFiltered error marked potentially_retryable is retried against the
// same deployment rather than skipped straight to fallback (spec §4.8).
func TestRoute_ContentFilteredPotentiallyRetryableRetriesSameDeployment(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, newDeployment("d1", "gpt-4"))

	r := New(reg, nil, testConfig(), nil)

	var calls int32
	op := func(ctx context.Context, p provider.Provider) (any, int64, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return nil, 0, pkgerrors.NewContentFilteredError(p.Name(), "gpt-4", "flagged", true)
		}
		return "ok", 1, nil
	}

	result, err := r.Route(context.Background(), "gpt-4", RequestContext{}, op)
	require.NoError(t, err)
	assert.Equal(t, "d1", result.DeploymentID)
	assert.EqualValues(t, 2, calls)
}

// A ContentFiltered error without the hint still skips straight to fallback.
func TestRoute_ContentFilteredWithoutHintSkipsDeployment(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, newDeployment("d1", "gpt-4"))

	r := New(reg, nil, testConfig(), nil)

	var calls int32
	op := func(ctx context.Context, p provider.Provider) (any, int64, error) {
		atomic.AddInt32(&calls, 1)
		return nil, 0, pkgerrors.NewContentFilteredError(p.Name(), "gpt-4", "flagged", false)
	}

	_, err := r.Route(context.Background(), "gpt-4", RequestContext{}, op)
	require.Error(t, err)
	assert.EqualValues(t, 1, calls)
}

// Cancellation propagates immediately without being retried or falling back.
func TestRoute_CancelledPropagatesImmediately(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, newDeployment("d1", "gpt-4"))

	r := New(reg, nil, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	op := func(ctx context.Context, p provider.Provider) (any, int64, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return nil, 0, ctx.Err()
	}

	_, err := r.Route(ctx, "gpt-4", RequestContext{}, op)
	require.Error(t, err)
	var llmErr *pkgerrors.LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, pkgerrors.KindCancelled, llmErr.Kind)
	assert.EqualValues(t, 1, calls)
}

// least_busy must deterministically pick the candidate with fewest active
// requests.
func TestRoute_LeastBusyPicksFewestActive(t *testing.T) {
	reg := registry.New()
	busy := newDeployment("busy", "gpt-4")
	idle := newDeployment("idle", "gpt-4")
	mustRegister(t, reg, busy)
	mustRegister(t, reg, idle)
	busy.State.RecordAttempt(0)
	busy.State.RecordAttempt(0)

	cfg := testConfig()
	cfg.Strategy = strategy.LeastBusy
	r := New(reg, nil, cfg, nil)

	result, err := r.Route(context.Background(), "gpt-4", RequestContext{}, succeedOp)
	require.NoError(t, err)
	assert.Equal(t, "idle", result.DeploymentID)
}

// Pre-call context-window checks, when enabled, filter out deployments whose
// MaxContextTokens cannot fit the request, forcing the fallback path.
func TestRoute_PreCallContextWindowCheckFiltersCandidate(t *testing.T) {
	reg := registry.New()
	small := newDeployment("small", "gpt-4")
	small.Config.MaxContextTokens = 100
	mustRegister(t, reg, small)

	cfg := testConfig()
	cfg.EnablePreCallChecks = true
	r := New(reg, nil, cfg, nil)

	_, err := r.Route(context.Background(), "gpt-4", RequestContext{
		EstimatedInputTokens: 1000, RequestedOutputTokens: 0,
	}, succeedOp)
	assert.ErrorIs(t, err, ErrNoAvailableDeployment)
}

// Tag filtering restricts candidates to those carrying every required tag
// when RequireAllTags is set.
func TestRoute_TagFilteringRequireAll(t *testing.T) {
	reg := registry.New()
	fast := newDeployment("fast", "gpt-4")
	fast.Tags = map[string]struct{}{"fast": {}, "cheap": {}}
	slow := newDeployment("slow", "gpt-4")
	slow.Tags = map[string]struct{}{"accurate": {}}
	mustRegister(t, reg, fast)
	mustRegister(t, reg, slow)

	r := New(reg, nil, testConfig(), nil)
	result, err := r.Route(context.Background(), "gpt-4", RequestContext{
		Tags: []string{"fast", "cheap"}, RequireAllTags: true,
	}, succeedOp)
	require.NoError(t, err)
	assert.Equal(t, "fast", result.DeploymentID)
}

// A deployment that opens its breaker after exhausting allowed_fails is
// excluded from the candidate snapshot on the next attempt.
func TestRoute_BreakerOpensAfterAllowedFails(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, newDeployment("d1", "gpt-4"))

	cfg := testConfig()
	cfg.AllowedFails = 1
	cfg.NumRetries = 0
	r := New(reg, nil, cfg, nil)

	failOp := func(ctx context.Context, p provider.Provider) (any, int64, error) {
		return nil, 0, pkgerrors.NewNetworkError(p.Name(), "gpt-4", "boom")
	}
	_, err := r.Route(context.Background(), "gpt-4", RequestContext{}, failOp)
	require.Error(t, err)

	_, err = r.Route(context.Background(), "gpt-4", RequestContext{}, succeedOp)
	assert.ErrorIs(t, err, ErrNoAvailableDeployment)
}

// num_retries=0 means exactly one attempt per model before giving up.
func TestRoute_ZeroRetriesMeansSingleAttempt(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, newDeployment("d1", "gpt-4"))

	cfg := testConfig()
	cfg.NumRetries = 0
	r := New(reg, nil, cfg, nil)

	var calls int32
	op := func(ctx context.Context, p provider.Provider) (any, int64, error) {
		atomic.AddInt32(&calls, 1)
		return nil, 0, pkgerrors.NewNetworkError(p.Name(), "gpt-4", "boom")
	}
	_, err := r.Route(context.Background(), "gpt-4", RequestContext{}, op)
	require.Error(t, err)
	assert.EqualValues(t, 1, calls)
}

// max_fallbacks=0 disables the fallback walk entirely even when a fallback
// entry exists.
func TestRoute_MaxFallbacksZeroDisablesFallback(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, newDeployment("primary", "gpt-4"))
	mustRegister(t, reg, newDeployment("backup", "gpt-4-backup"))

	fb := fallback.NewTable()
	fb.General["gpt-4"] = []string{"gpt-4-backup"}

	cfg := testConfig()
	cfg.MaxFallbacks = 0
	cfg.NumRetries = 0
	r := New(reg, fb, cfg, nil)

	var calls int32
	failOp := func(ctx context.Context, p provider.Provider) (any, int64, error) {
		atomic.AddInt32(&calls, 1)
		return nil, 0, pkgerrors.NewNetworkError(p.Name(), "gpt-4", "boom")
	}
	_, err := r.Route(context.Background(), "gpt-4", RequestContext{}, failOp)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrModelNotFound)
	assert.EqualValues(t, 1, calls) // primary only; the backup model is never tried
}

// SetConfig takes effect for calls issued after it returns; Route observes a
// stable Config snapshot for the duration of one call.
func TestRouter_SetConfigTakesEffect(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, newDeployment("d1", "gpt-4"))

	r := New(reg, nil, testConfig(), nil)
	assert.Equal(t, strategy.SimpleShuffle, r.Config().Strategy)

	next := r.Config()
	next.Strategy = strategy.LeastBusy
	r.SetConfig(next)
	assert.Equal(t, strategy.LeastBusy, r.Config().Strategy)
}

// Deregistering a deployment mid-flight removes it from future candidate
// snapshots but does not break an operation already dispatched against it.
func TestRouter_DeregisterDuringInFlightOperation(t *testing.T) {
	reg := registry.New()
	d := newDeployment("d1", "gpt-4")
	mustRegister(t, reg, d)

	r := New(reg, nil, testConfig(), nil)

	started := make(chan struct{})
	release := make(chan struct{})
	op := func(ctx context.Context, p provider.Provider) (any, int64, error) {
		close(started)
		<-release
		return "ok", 1, nil
	}

	resultCh := make(chan *Result, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := r.Route(context.Background(), "gpt-4", RequestContext{}, op)
		resultCh <- res
		errCh <- err
	}()

	<-started
	r.Deregister("d1")
	close(release)

	res := <-resultCh
	err := <-errCh
	require.NoError(t, err)
	assert.Equal(t, "d1", res.DeploymentID)

	_, err = r.Route(context.Background(), "gpt-4", RequestContext{}, succeedOp)
	assert.ErrorIs(t, err, ErrNoAvailableDeployment)
}
