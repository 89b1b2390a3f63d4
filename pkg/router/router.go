// Package router implements the C6 router facade: end-to-end execution of
// Route(model, context, operation) — alias resolution, candidate
// filtering, strategy selection, the retry/fallback search, and per-
// deployment accounting (spec §4.6). It is grounded on the teacher's
// routers/base.go PickWithContext filter pipeline (health → tags →
// TPM/RPM → default provider), generalized to add breaker-open filtering,
// and on the teacher's former root-level client.go retry/fallback walk for
// the outer model-queue shape.
package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/blueberrycongee/llmrouter/internal/breaker"
	"github.com/blueberrycongee/llmrouter/internal/fallback"
	"github.com/blueberrycongee/llmrouter/internal/observability"
	"github.com/blueberrycongee/llmrouter/internal/registry"
	"github.com/blueberrycongee/llmrouter/internal/strategy"
	pkgerrors "github.com/blueberrycongee/llmrouter/pkg/errors"
	"github.com/blueberrycongee/llmrouter/pkg/provider"
)

// Config is the router's tunable policy (spec §3 RouterConfig). It is
// immutable after construction; reconfiguration replaces the whole value
// via Router.SetConfig's atomic pointer swap — in-flight Route calls keep
// running under the Config they observed at entry (spec §9).
type Config struct {
	Strategy            strategy.Kind
	NumRetries          int           // default 3
	RetryAfter          time.Duration // default 0
	AllowedFails        int           // default 3
	CooldownTime        time.Duration // default 5s
	DefaultTimeout      time.Duration // default 60s
	MaxFallbacks        int           // default 5
	EnablePreCallChecks bool
}

// DefaultConfig returns spec §3's stated defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:       strategy.SimpleShuffle,
		NumRetries:     3,
		RetryAfter:     0,
		AllowedFails:   3,
		CooldownTime:   5 * time.Second,
		DefaultTimeout: 60 * time.Second,
		MaxFallbacks:   5,
	}
}

func (c Config) breakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.AllowedFails,
		MinRequests:      c.AllowedFails,
		WindowSize:       60 * time.Second,
		Timeout:          c.CooldownTime,
		SuccessThreshold: 1,
	}
}

// RequestContext carries per-call routing hints (spec §4.6 "context").
type RequestContext struct {
	// EstimatedInputTokens and RequestedOutputTokens feed the pre-call
	// context-window check (spec §4.6.ii) when EnablePreCallChecks is set.
	EstimatedInputTokens  int
	RequestedOutputTokens int
	// EstimatedTokens is the tokens_hint reserved against tpm_current
	// before dispatch (spec §4.1 record_attempt). Defaults to
	// EstimatedInputTokens+RequestedOutputTokens when zero.
	EstimatedTokens int64
	// TimeoutOverride, if non-zero, participates in the three-way timeout
	// minimum alongside the deployment and router defaults (spec §4.6.vi).
	TimeoutOverride time.Duration
	// Tags, if non-empty, filters candidates by tag (spec §4.6.ii).
	Tags          []string
	RequireAllTags bool
}

// Operation is the caller-supplied asynchronous call against one
// deployment's provider (spec §1, §4.6). It returns actualTokens (input+
// output actually consumed, for tpm reconciliation) alongside the
// result. Errors should be *pkgerrors.LLMError so the router can classify
// them (spec §4.8); any other error type is treated as KindOther.
type Operation func(ctx context.Context, p provider.Provider) (result any, actualTokens int64, err error)

// Result is what a successful Route call returns.
type Result struct {
	Value        any
	DeploymentID string
	Model        string
	LatencyUS    int64
}

// Sentinel errors (spec §4.6, §7) not otherwise carried by an *LLMError.
var (
	ErrModelNotFound       = errors.New("router: model not found")
	ErrNoAvailableDeployment = errors.New("router: no available deployment")
)

// Router is the C6 facade. It owns no mutable global state beyond the
// registry's lock-free indices, one short-lived mutex per breaker window,
// and the config pointer (spec §5).
type Router struct {
	registry *registry.Registry
	fallback *fallback.Table
	executor *strategy.Executor
	logger   *observability.Logger

	cfg atomic.Pointer[Config]

	breakersMu sync.Mutex
	breakers   map[string]*breaker.Breaker
}

// New constructs a Router over an existing registry and fallback table.
// logger may be nil, in which case a default text logger is used.
func New(reg *registry.Registry, fb *fallback.Table, cfg Config, logger *observability.Logger) *Router {
	if fb == nil {
		fb = fallback.NewTable()
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LoggerConfig{}, nil)
	}
	r := &Router{
		registry: reg,
		fallback: fb,
		executor: strategy.NewExecutor(),
		logger:   logger,
		breakers: make(map[string]*breaker.Breaker),
	}
	r.cfg.Store(&cfg)
	return r
}

// Config returns the currently active configuration snapshot.
func (r *Router) Config() Config { return *r.cfg.Load() }

// SetConfig atomically replaces the active configuration (spec §9
// "Configuration reload").
func (r *Router) SetConfig(cfg Config) { r.cfg.Store(&cfg) }

// Registry exposes the underlying deployment registry for callers that
// need to register/deregister deployments directly.
func (r *Router) Registry() *registry.Registry { return r.registry }

// breakerFor returns (creating if needed) the breaker bound to a
// deployment's state, under the config observed when first created.
func (r *Router) breakerFor(cfg Config, d *registry.Deployment) *breaker.Breaker {
	r.breakersMu.Lock()
	defer r.breakersMu.Unlock()
	if b, ok := r.breakers[d.ID]; ok {
		return b
	}
	b := breaker.New(cfg.breakerConfig(), d.State)
	r.breakers[d.ID] = b
	return b
}

// dropBreaker removes a deregistered deployment's breaker so it does not
// leak; safe to call even if none was ever created.
func (r *Router) dropBreaker(id string) {
	r.breakersMu.Lock()
	defer r.breakersMu.Unlock()
	delete(r.breakers, id)
}

// Deregister removes a deployment from routing consideration (spec §4.5
// deregister) and releases its breaker. The deployment's State remains
// live for any in-flight operation still holding a reference to it.
func (r *Router) Deregister(id string) {
	r.registry.Deregister(id)
	r.dropBreaker(id)
}

// Route executes spec §4.6's full algorithm: alias resolution, the
// retry/fallback walk over models, and per-attempt candidate filtering,
// selection, dispatch, and accounting.
func (r *Router) Route(ctx context.Context, model string, reqCtx RequestContext, op Operation) (*Result, error) {
	cfg := r.Config()

	canonical := r.registry.ResolveModel(model)
	if !r.registry.KnowsModel(canonical) {
		return nil, ErrModelNotFound
	}
	if reqCtx.EstimatedTokens == 0 {
		reqCtx.EstimatedTokens = int64(reqCtx.EstimatedInputTokens + reqCtx.RequestedOutputTokens)
	}

	modelsToTry := []string{canonical}
	seen := map[string]bool{canonical: true}
	fallbacksUsed := 0
	var lastErr error
	attemptedAny := false

	for len(modelsToTry) > 0 {
		m := modelsToTry[0]
		modelsToTry = modelsToTry[1:]

		result, tried, err := r.attemptModel(ctx, cfg, m, reqCtx, op)
		attemptedAny = attemptedAny || tried
		if err == nil {
			return result, nil
		}
		lastErr = err

		if isCancelled(err) {
			return nil, err
		}

		if fallbacksUsed < cfg.MaxFallbacks {
			kind := kindOf(err)
			candidates := r.fallback.Lookup(m, kind.FallbackCategory())
			added := 0
			for _, fb := range candidates {
				if !seen[fb] {
					seen[fb] = true
					modelsToTry = append(modelsToTry, fb)
					added++
				}
			}
			if added > 0 {
				r.logger.Info("router: falling back", "from_model", m, "kind", kind.String(), "to_models", added)
			}
			fallbacksUsed++
		}
	}

	if !attemptedAny && lastErr == nil {
		return nil, ErrNoAvailableDeployment
	}
	if lastErr == nil {
		lastErr = ErrNoAvailableDeployment
	}
	return nil, lastErr
}

// attemptModel runs the inner loop of spec §4.6 for one model name: up to
// NumRetries+1 dispatch attempts, rotating among that model's deployments.
// tried reports whether at least one deployment was ever selected, so the
// caller can distinguish "never found a candidate" from "found one and it
// failed" for the final ErrNoAvailableDeployment/last_error choice (§4.6.4).
func (r *Router) attemptModel(ctx context.Context, cfg Config, model string, reqCtx RequestContext, op Operation) (*Result, bool, error) {
	maxAttempts := cfg.NumRetries + 1
	attempts := 0
	tried := false
	var lastErr error

	for attempts < maxAttempts {
		now := time.Now()
		candidates := r.snapshotCandidates(cfg, model, reqCtx, now)
		if len(candidates) == 0 {
			if lastErr == nil {
				lastErr = ErrNoAvailableDeployment
			}
			break
		}

		tried = true
		d := r.selectOne(cfg, model, candidates)
		result, err := r.dispatch(ctx, cfg, d, reqCtx)
		if err == nil {
			return result, tried, nil
		}

		kind := kindOf(err)
		if isCancelled(err) {
			return nil, tried, err
		}

		switch {
		case kind.FatalForDeployment():
			r.breakerFor(cfg, d).Trip(time.Now())
			r.logger.WithDeployment(d.ID, model).Info("router: deployment opened (fatal error)", "kind", kind.String())
			lastErr = err
			if len(candidates) > 1 {
				continue // rotates to another deployment without consuming retry budget
			}
			attempts++
		case kind.SkipDeployment() && !potentiallyRetryable(err):
			// Bypasses remaining retries on this model entirely; the
			// fallback layer consults the appropriate category (§4.6.x).
			return nil, tried, err
		case !kind.Retryable() && !potentiallyRetryable(err):
			// Non-retryable and not fatal (KindOther): no further attempts on
			// this model and no breaker effect; the fallback layer consults
			// the general category.
			return nil, tried, err
		default: // retryable, including a ContentFiltered hit carrying the
			// potentially_retryable hint (§4.8)
			lastErr = err
			r.breakerFor(cfg, d).RecordFailure(time.Now())
			attempts++
			r.logger.WithDeployment(d.ID, model).Info("router: retrying", "attempt", attempts, "kind", kind.String())
			if attempts < maxAttempts {
				sleep(ctx, retryDelay(cfg, err))
			}
		}
	}

	if lastErr == nil {
		lastErr = ErrNoAvailableDeployment
	}
	return nil, tried, lastErr
}

// dispatch runs one operation against one selected deployment: record_attempt,
// invoke under a timeout, then record_success/record_failure (spec
// §4.6.iv-x, §5 cancellation).
func (r *Router) dispatch(ctx context.Context, cfg Config, d *registry.Deployment, reqCtx RequestContext) (*Result, error) {
	d.State.RecordAttempt(reqCtx.EstimatedTokens)

	timeout := minPositive(reqCtx.TimeoutOverride, time.Duration(d.Config.Timeout), cfg.DefaultTimeout)
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	value, actualTokens, err := op(opCtx, d.Provider)
	latencyUS := time.Since(start).Microseconds()

	if err == nil {
		d.State.RecordSuccess(actualTokens, reqCtx.EstimatedTokens, latencyUS)
		r.breakerFor(cfg, d).RecordSuccess(time.Now())
		return &Result{Value: value, DeploymentID: d.ID, Model: d.ModelGroup, LatencyUS: latencyUS}, nil
	}

	if ctx.Err() != nil {
		// The caller's own context was cancelled (not just our per-attempt
		// timeout): propagate Cancelled without touching the breaker or
		// counting this as a classified failure.
		d.State.RecordCancelled()
		return nil, pkgerrors.NewCancelledError(d.ProviderModel, d.ModelGroup, "route: caller cancelled")
	}
	if opCtx.Err() == context.DeadlineExceeded {
		d.State.RecordFailure()
		return nil, pkgerrors.NewTimeoutError(d.ProviderModel, d.ModelGroup, "route: operation exceeded timeout")
	}
	d.State.RecordFailure()
	return nil, err
}

// snapshotCandidates builds the filtered, wait-free candidate snapshot for
// one attempt (spec §4.6.ii): registered, is_available, breaker not Open,
// tag-matching, and (if enabled) the pre-call context-window check.
func (r *Router) snapshotCandidates(cfg Config, model string, reqCtx RequestContext, now time.Time) []*registry.Deployment {
	var base []*registry.Deployment
	if len(reqCtx.Tags) > 0 {
		base = r.registry.LookupByTags(model, reqCtx.Tags, reqCtx.RequireAllTags)
	} else {
		base = r.registry.LookupModel(model)
	}

	out := make([]*registry.Deployment, 0, len(base))
	for _, d := range base {
		if !d.State.IsAvailable(now, d.Config.MaxParallel, d.Config.RPMLimit, d.Config.TPMLimit, reqCtx.EstimatedTokens) {
			continue
		}
		if !r.breakerFor(cfg, d).Allow(now) {
			continue
		}
		if cfg.EnablePreCallChecks && d.Config.MaxContextTokens > 0 {
			need := reqCtx.EstimatedInputTokens + reqCtx.RequestedOutputTokens
			if need > d.Config.MaxContextTokens {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

// selectOne hands the candidate snapshot to the configured strategy (spec
// §4.3) and resolves the chosen Candidate.ID back to its *Deployment.
func (r *Router) selectOne(cfg Config, model string, candidates []*registry.Deployment) *registry.Deployment {
	byID := make(map[string]*registry.Deployment, len(candidates))
	strategyCandidates := make([]strategy.Candidate, 0, len(candidates))
	for _, d := range candidates {
		byID[d.ID] = d
		weight := d.Config.Weight
		if weight <= 0 {
			weight = 1
		}
		strategyCandidates = append(strategyCandidates, strategy.Candidate{
			ID:                 d.ID,
			Priority:           d.Config.Priority,
			Weight:             float64(weight),
			ActiveRequests:     d.State.ActiveRequests(),
			TPMCurrent:         d.State.TPMCurrent(),
			TPMLimit:           d.Config.TPMLimit,
			RPMCurrent:         d.State.RPMCurrent(),
			RPMLimit:           d.Config.RPMLimit,
			AvgLatencyUS:       d.State.AvgLatencyUS(),
			SuccessSamples:     d.State.SuccessSamples(),
			CostPerInputToken:  d.Config.CostPerInputToken,
			CostPerOutputToken: d.Config.CostPerOutputToken,
			HasCost:            d.Config.HasCost,
			ModelGroup:         model,
		})
	}
	picked := r.executor.Select(cfg.Strategy, model, strategyCandidates)
	return byID[picked.ID]
}

func kindOf(err error) pkgerrors.Kind {
	var llmErr *pkgerrors.LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Kind
	}
	return pkgerrors.KindOther
}

func isCancelled(err error) bool {
	return kindOf(err) == pkgerrors.KindCancelled
}

// potentiallyRetryable reports whether a ContentFiltered error carries the
// provider's potentially_retryable hint (§4.8), in which case it is retried
// against the same deployment instead of skipping straight to fallback.
func potentiallyRetryable(err error) bool {
	var llmErr *pkgerrors.LLMError
	if errors.As(err, &llmErr) && llmErr.Kind == pkgerrors.KindContentFiltered {
		return llmErr.PotentiallyRetryable
	}
	return false
}

// retryDelay honors a RateLimit error's provider-advertised RetryAfterHint
// in place of the configured retry_after, when present (spec §4.8).
func retryDelay(cfg Config, err error) time.Duration {
	var llmErr *pkgerrors.LLMError
	if errors.As(err, &llmErr) && llmErr.RetryAfterHint > 0 {
		return time.Duration(llmErr.RetryAfterHint) * time.Second
	}
	return cfg.RetryAfter
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func minPositive(values ...time.Duration) time.Duration {
	var min time.Duration
	for _, v := range values {
		if v <= 0 {
			continue
		}
		if min == 0 || v < min {
			min = v
		}
	}
	return min
}

// NewRequestID mints a request-scoped identifier for logging/tracing
// (ambient: teacher's pervasive google/uuid use for request tracking).
func NewRequestID() string { return uuid.NewString() }
