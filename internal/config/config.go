// Package config provides configuration loading and hot-reload support for
// the router: a single top-level `router` object plus `model_list` (spec
// §6.2). It uses fsnotify to watch for file changes and atomic pointer
// swaps for zero-downtime updates, grounded on the teacher's
// internal/config/config.go + manager.go os.ExpandEnv → yaml.v3 unmarshal
// → validate pipeline, trimmed to the sections spec §6.2 names — the
// Server/Auth/Database/Cache/MCP/Vault/Tracing/CORS sections the teacher
// carried are dropped (see DESIGN.md; all are explicit core Non-goals).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blueberrycongee/llmrouter/pkg/provider"
)

// Config is the complete router configuration document (spec §6.2).
type Config struct {
	Router    RouterConfig  `yaml:"router"`
	ModelList []ModelEntry  `yaml:"model_list"`
	Logging   LoggingConfig `yaml:"logging"`
}

// RouterConfig mirrors spec §3's RouterConfig / §6.2's router.* options.
type RouterConfig struct {
	RoutingStrategy     string          `yaml:"routing_strategy"`
	NumRetries          int             `yaml:"num_retries"`
	RetryAfter          float64         `yaml:"retry_after"` // seconds
	AllowedFails        int             `yaml:"allowed_fails"`
	CooldownTime        float64         `yaml:"cooldown_time"` // seconds
	Timeout             float64         `yaml:"timeout"`       // seconds
	MaxFallbacks        int             `yaml:"max_fallbacks"`
	EnablePreCallChecks bool            `yaml:"enable_pre_call_checks"`
	Fallbacks           FallbacksConfig `yaml:"fallbacks"`
}

// FallbacksConfig names the four fallback categories (spec §4.4, §6.2).
type FallbacksConfig struct {
	General       map[string][]string `yaml:"general"`
	ContextWindow map[string][]string `yaml:"context_window"`
	ContentPolicy map[string][]string `yaml:"content_policy"`
	RateLimit     map[string][]string `yaml:"rate_limit"`
}

// ModelEntry is one model_list entry: a logical model name and its
// deployments (spec §6.2).
type ModelEntry struct {
	ModelName   string             `yaml:"model_name"`
	Deployments []DeploymentConfig `yaml:"deployments"`
}

// DeploymentConfig is one deployment binding (spec §3 Deployment, §6.2).
// Auth/endpoint fields beyond BaseURL/APIKey are adapter-opaque and carried
// through Headers.
type DeploymentConfig struct {
	ID                 string            `yaml:"id"`
	Provider           string            `yaml:"provider"` // adapter identifier, e.g. "openai"
	Model              string            `yaml:"model"`    // provider-native model id
	APIKey             string            `yaml:"api_key"`
	BaseURL            string            `yaml:"base_url"`
	AllowPrivateBaseURL bool             `yaml:"allow_private_base_url"`
	Headers            map[string]string `yaml:"headers"`

	RPM                int64   `yaml:"rpm"`
	TPM                int64   `yaml:"tpm"`
	MaxParallel        int64   `yaml:"max_parallel"`
	Weight             int     `yaml:"weight"`
	Priority           int     `yaml:"priority"`
	Tags               []string `yaml:"tags"`
	MaxContextTokens   int     `yaml:"max_context_tokens"`
	CostPerInputToken  float64 `yaml:"cost_per_input_token"`
	CostPerOutputToken float64 `yaml:"cost_per_output_token"`
	HasCost            bool    `yaml:"-"`
}

// LoggingConfig is the one ambient non-routing section carried over, since
// every component in this repo logs through internal/observability.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RecognizedStrategies lists the fixed set of routing_strategy values spec
// §6.2 recognizes.
var RecognizedStrategies = map[string]bool{
	"simple_shuffle":   true,
	"least_busy":       true,
	"usage_based":      true,
	"latency_based":    true,
	"cost_based":       true,
	"rate_limit_aware": true,
	"round_robin":      true,
}

// DefaultConfig returns spec §3's stated RouterConfig defaults.
func DefaultConfig() *Config {
	return &Config{
		Router: RouterConfig{
			RoutingStrategy: "simple_shuffle",
			NumRetries:      3,
			RetryAfter:      0,
			AllowedFails:    3,
			CooldownTime:    5,
			Timeout:         60,
			MaxFallbacks:    5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file. Environment
// variables in the form ${VAR_NAME} are expanded on string scalars before
// validation (spec §6.2).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	normalizeHasCost(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// normalizeHasCost records whether a cost was explicitly configured, since
// a zero-valued float is ambiguous between "unset" and "free" — the
// CostBased strategy (spec §4.3) must treat the former as infinite.
func normalizeHasCost(cfg *Config) {
	for mi := range cfg.ModelList {
		for di := range cfg.ModelList[mi].Deployments {
			d := &cfg.ModelList[mi].Deployments[di]
			d.HasCost = d.CostPerInputToken != 0 || d.CostPerOutputToken != 0
		}
	}
}

// Validate checks the configuration for errors (spec §6.2's constraints:
// num_retries >= 0, retry_after >= 0, allowed_fails >= 1, cooldown_time >=
// 0, timeout > 0, max_fallbacks >= 0).
func (c *Config) Validate() error {
	r := c.Router
	if r.RoutingStrategy != "" && !RecognizedStrategies[r.RoutingStrategy] {
		return fmt.Errorf("router.routing_strategy %q is not recognized", r.RoutingStrategy)
	}
	if r.NumRetries < 0 {
		return fmt.Errorf("router.num_retries cannot be negative")
	}
	if r.RetryAfter < 0 {
		return fmt.Errorf("router.retry_after cannot be negative")
	}
	if r.AllowedFails < 1 {
		return fmt.Errorf("router.allowed_fails must be at least 1")
	}
	if r.CooldownTime < 0 {
		return fmt.Errorf("router.cooldown_time cannot be negative")
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("router.timeout must be positive")
	}
	if r.MaxFallbacks < 0 {
		return fmt.Errorf("router.max_fallbacks cannot be negative")
	}

	seenModels := map[string]bool{}
	for mi, m := range c.ModelList {
		if m.ModelName == "" {
			return fmt.Errorf("model_list[%d]: model_name is required", mi)
		}
		seenModels[m.ModelName] = true
		if len(m.Deployments) == 0 {
			return fmt.Errorf("model_list[%d] %q: at least one deployment is required", mi, m.ModelName)
		}
		for di, d := range m.Deployments {
			if err := d.validate(); err != nil {
				return fmt.Errorf("model_list[%d] %q deployments[%d]: %w", mi, m.ModelName, di, err)
			}
		}
	}

	for category, mapping := range map[string]map[string][]string{
		"general":        r.Fallbacks.General,
		"context_window": r.Fallbacks.ContextWindow,
		"content_policy": r.Fallbacks.ContentPolicy,
		"rate_limit":     r.Fallbacks.RateLimit,
	} {
		for from := range mapping {
			if !seenModels[from] {
				return fmt.Errorf("router.fallbacks.%s: %q is not a model_list model_name", category, from)
			}
		}
	}

	return nil
}

func (d DeploymentConfig) validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if d.Model == "" {
		return fmt.Errorf("model is required")
	}
	if d.RPM < 0 {
		return fmt.Errorf("rpm cannot be negative")
	}
	if d.TPM < 0 {
		return fmt.Errorf("tpm cannot be negative")
	}
	if d.MaxParallel < 0 {
		return fmt.Errorf("max_parallel cannot be negative")
	}
	if d.Weight < 0 {
		return fmt.Errorf("weight cannot be negative")
	}
	if d.Priority < 0 {
		return fmt.Errorf("priority cannot be negative")
	}
	if d.BaseURL != "" {
		if err := provider.ValidateConfig(provider.Config{
			Name:                d.ID,
			BaseURL:             d.BaseURL,
			AllowPrivateBaseURL: d.AllowPrivateBaseURL,
			Headers:             d.Headers,
		}); err != nil {
			return err
		}
	}
	return nil
}

// RouterTimeout, RetryAfterDuration, and CooldownDuration convert the
// YAML's second-denominated floats into time.Duration for wiring into
// pkg/router.Config.
func (r RouterConfig) RouterTimeout() time.Duration { return floatSeconds(r.Timeout) }
func (r RouterConfig) RetryAfterDuration() time.Duration { return floatSeconds(r.RetryAfter) }
func (r RouterConfig) CooldownDuration() time.Duration { return floatSeconds(r.CooldownTime) }

func floatSeconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
