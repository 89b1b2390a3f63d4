// Command gatewayrouter is a minimal runnable example wiring
// internal/config, internal/registry, pkg/router and internal/resetter
// together with the openai/anthropic adapters. It issues one example chat
// completion against the configured model_list and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/blueberrycongee/llmrouter/internal/config"
	"github.com/blueberrycongee/llmrouter/internal/observability"
	"github.com/blueberrycongee/llmrouter/internal/resetter"
	"github.com/blueberrycongee/llmrouter/pkg/provider"
	"github.com/blueberrycongee/llmrouter/pkg/router"
	"github.com/blueberrycongee/llmrouter/providers/anthropic"
	"github.com/blueberrycongee/llmrouter/providers/openai"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gatewayrouter failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/config.yaml", "path to router configuration file")
	model := flag.String("model", "", "model_name to route an example request to")
	prompt := flag.String("prompt", "Say hello in one sentence.", "prompt for the example request")
	flag.Parse()

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(slogger)
	logger := observability.NewLogger(observability.LoggerConfig{JSONFormat: true}, nil)

	cfgMgr, err := config.NewManager(*configPath, slogger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer cfgMgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgMgr.Watch(ctx); err != nil {
		slogger.Warn("config hot-reload disabled", "error", err)
	}

	factories := config.ProviderFactories{
		openai.Name:    openai.NewFromConfig,
		anthropic.Name: anthropic.NewFromConfig,
	}

	cfg := cfgMgr.Get()
	reg, err := config.BuildRegistry(cfg, factories)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	fallbackTable := config.BuildFallbackTable(cfg)
	routerCfg, err := config.BuildRouterConfig(cfg)
	if err != nil {
		return fmt.Errorf("build router config: %w", err)
	}

	r := router.New(reg, fallbackTable, routerCfg, logger)

	rs := resetter.New(reg, logger)
	go rs.Run(ctx)

	// Reconfigure the router in place whenever the config file changes
	// (spec §9 configuration reload — no restart required).
	cfgMgr.OnChange(func(next *config.Config) {
		if nextRouterCfg, err := config.BuildRouterConfig(next); err != nil {
			slogger.Error("config reload: invalid router config, keeping previous", "error", err)
		} else {
			r.SetConfig(nextRouterCfg)
			slogger.Info("router config reloaded")
		}
	})

	targetModel := *model
	if targetModel == "" && len(cfg.ModelList) > 0 {
		targetModel = cfg.ModelList[0].ModelName
	}
	if targetModel == "" {
		return fmt.Errorf("no model_list entries configured; pass -model or populate model_list")
	}

	requestID := router.NewRequestID()
	callCtx, callCancel := context.WithTimeout(ctx, 60*time.Second)
	defer callCancel()

	result, err := r.Route(callCtx, targetModel, router.RequestContext{
		EstimatedInputTokens:  len(*prompt) / 4,
		RequestedOutputTokens: 256,
	}, func(opCtx context.Context, p provider.Provider) (any, int64, error) {
		resp, err := p.ChatCompletion(opCtx, provider.ChatRequest{
			Model:     targetModel,
			Messages:  []provider.ChatMessage{{Role: "user", Content: *prompt}},
			MaxTokens: 256,
		})
		if err != nil {
			return nil, 0, err
		}
		return resp, int64(resp.Usage.InputTokens + resp.Usage.OutputTokens), nil
	})
	if err != nil {
		return fmt.Errorf("request %s: route %q: %w", requestID, targetModel, err)
	}

	resp := result.Value.(*provider.ChatResponse)
	slogger.Info("gatewayrouter: request complete",
		"request_id", requestID,
		"model", targetModel,
		"deployment", result.DeploymentID,
		"latency_us", result.LatencyUS,
	)
	fmt.Println(resp.Content)
	return nil
}
