package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"missionforge/internal/config"
	"missionforge/internal/gateway"
	"missionforge/internal/planner"
	"missionforge/internal/router"
	"missionforge/internal/swarm"
)

// commandContext returns a context cancelled on SIGINT/SIGTERM and, when the
// --timeout flag is positive, after that long.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// buildGateway returns the Gemini gateway, or the local stub in offline mode.
func buildGateway(ctx context.Context) (gateway.Gateway, error) {
	if offline {
		logger.Info("Offline mode: gateway calls are answered locally")
		return gateway.NewStub(), nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gw, err := gateway.NewGenAIGateway(ctx, gateway.GenAIOptions{
		APIKey:  cfg.Gateway.APIKey,
		BaseURL: cfg.Gateway.BaseURL,
		Timeout: config.GetTimeouts().HTTPClientTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}
	return gw, nil
}

func buildSynthesizer(gw gateway.Gateway) *planner.Synthesizer {
	return planner.NewSynthesizer(gw, planner.Options{
		Model:   cfg.Models.Planner,
		Timeout: config.GetTimeouts().PlanTimeout,
	})
}

// buildCoordinator wires planner, router and coordinator over gw.
func buildCoordinator(gw gateway.Gateway, opts ...swarm.Option) *swarm.Coordinator {
	r := router.New(gw, router.OptionsFromConfig(cfg))
	return swarm.NewCoordinator(swarm.ConfigFromExecution(cfg.Execution), buildSynthesizer(gw), r, opts...)
}
