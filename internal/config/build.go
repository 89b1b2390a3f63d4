package config

import (
	"fmt"

	"github.com/blueberrycongee/llmrouter/internal/fallback"
	"github.com/blueberrycongee/llmrouter/internal/registry"
	"github.com/blueberrycongee/llmrouter/internal/strategy"
	"github.com/blueberrycongee/llmrouter/pkg/provider"
	pkgrouter "github.com/blueberrycongee/llmrouter/pkg/router"
)

// ProviderFactories maps a `provider:` adapter identifier (spec §6.2) to the
// constructor that builds it. Callers (cmd/gatewayrouter, tests) populate
// this from the adapters they link in; the core never hardcodes adapters.
type ProviderFactories map[string]provider.Factory

// BuildRegistry constructs a populated registry.Registry from the parsed
// model_list, instantiating one provider.Provider per deployment via
// factories. Deployment ids must be globally unique across the whole
// model_list (spec §3 invariant 1).
func BuildRegistry(cfg *Config, factories ProviderFactories) (*registry.Registry, error) {
	reg := registry.New()
	for _, m := range cfg.ModelList {
		for _, dc := range m.Deployments {
			factory, ok := factories[dc.Provider]
			if !ok {
				return nil, fmt.Errorf("model_list %q deployment %q: unknown provider %q", m.ModelName, dc.ID, dc.Provider)
			}
			p, err := factory(provider.Config{
				Name:                dc.ID,
				APIKey:              dc.APIKey,
				BaseURL:             dc.BaseURL,
				AllowPrivateBaseURL: dc.AllowPrivateBaseURL,
				Models:              []string{dc.Model},
				Headers:             dc.Headers,
			})
			if err != nil {
				return nil, fmt.Errorf("model_list %q deployment %q: build provider: %w", m.ModelName, dc.ID, err)
			}

			tags := make(map[string]struct{}, len(dc.Tags))
			for _, t := range dc.Tags {
				tags[t] = struct{}{}
			}

			weight := dc.Weight
			if weight <= 0 {
				weight = 1
			}

			if err := reg.Register(&registry.Deployment{
				ID:            dc.ID,
				ModelGroup:    m.ModelName,
				ProviderModel: dc.Model,
				Provider:      p,
				Tags:          tags,
				Config: registry.Config{
					TPMLimit:           dc.TPM,
					RPMLimit:           dc.RPM,
					MaxParallel:        dc.MaxParallel,
					Weight:             weight,
					Timeout:            int64(cfg.Router.RouterTimeout()),
					Priority:           dc.Priority,
					CostPerInputToken:  dc.CostPerInputToken,
					CostPerOutputToken: dc.CostPerOutputToken,
					HasCost:            dc.HasCost,
					MaxContextTokens:   dc.MaxContextTokens,
				},
			}); err != nil {
				return nil, fmt.Errorf("model_list %q deployment %q: %w", m.ModelName, dc.ID, err)
			}
		}
	}
	return reg, nil
}

// BuildFallbackTable converts router.fallbacks.* into a fallback.Table
// (spec §4.4, §6.2).
func BuildFallbackTable(cfg *Config) *fallback.Table {
	t := fallback.NewTable()
	t.General = copyMap(cfg.Router.Fallbacks.General)
	t.ContextWindow = copyMap(cfg.Router.Fallbacks.ContextWindow)
	t.ContentPolicy = copyMap(cfg.Router.Fallbacks.ContentPolicy)
	t.RateLimit = copyMap(cfg.Router.Fallbacks.RateLimit)
	return t
}

func copyMap(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// BuildRouterConfig converts router.* into a pkg/router.Config (spec §6.2).
func BuildRouterConfig(cfg *Config) (pkgrouter.Config, error) {
	kind, err := strategyKind(cfg.Router.RoutingStrategy)
	if err != nil {
		return pkgrouter.Config{}, err
	}
	return pkgrouter.Config{
		Strategy:            kind,
		NumRetries:          cfg.Router.NumRetries,
		RetryAfter:          cfg.Router.RetryAfterDuration(),
		AllowedFails:        cfg.Router.AllowedFails,
		CooldownTime:        cfg.Router.CooldownDuration(),
		DefaultTimeout:      cfg.Router.RouterTimeout(),
		MaxFallbacks:        cfg.Router.MaxFallbacks,
		EnablePreCallChecks: cfg.Router.EnablePreCallChecks,
	}, nil
}

func strategyKind(s string) (strategy.Kind, error) {
	if s == "" {
		return strategy.SimpleShuffle, nil
	}
	if !RecognizedStrategies[s] {
		return "", fmt.Errorf("config: unrecognized routing_strategy %q", s)
	}
	return strategy.Kind(s), nil
}
