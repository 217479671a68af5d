package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"missionforge/internal/config"
	"missionforge/internal/natsbus"
	"missionforge/internal/swarm"
	"missionforge/internal/web"
)

var (
	serveAddr  string
	serveWatch bool
)

// serveCmd runs the HTTP/websocket control surface
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the mission API and live event stream",
	Long: `Starts the HTTP API (POST /api/missions, POST /api/missions/abort, ...)
and the websocket event stream at /ws. When enabled in config, mission events
are also published to NATS and missions are recorded in the SQLite journal.

Execution settings are reloaded from the config file for later missions.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload execution settings when the config file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	// The serve loop lives until a signal; --timeout does not apply.
	timeout = 0
	ctx, cancel := commandContext()
	defer cancel()

	gw, err := buildGateway(ctx)
	if err != nil {
		return err
	}

	hub := web.NewHub()
	sinks := swarm.MultiSink{swarm.NewLogSink(logger), hub}
	opts := []swarm.Option{}

	if cfg.IsNATSEnabled() {
		client, closeBus, err := natsbus.Open(cfg.NATS)
		if err != nil {
			return fmt.Errorf("failed to start event bus: %w", err)
		}
		defer closeBus()
		sinks = append(sinks, client)
		logger.Info("Publishing mission events to NATS", zap.String("url", cfg.NATS.URL), zap.Int("port", cfg.NATS.Port))
	}

	var history web.History
	if cfg.IsJournalEnabled() {
		journal, err := openJournal()
		if err != nil {
			return err
		}
		defer journal.Close()
		sinks = append(sinks, journal)
		opts = append(opts, swarm.WithReportHook(recordReport(journal)))
		history = journal
		logger.Info("Recording missions", zap.String("path", cfg.Journal.Path))
	}
	opts = append(opts, swarm.WithSink(sinks))

	coord := buildCoordinator(gw, opts...)
	srv := web.NewServer(ctx, web.Options{
		Coordinator: coord,
		Hub:         hub,
		History:     history,
		Logger:      logger,
		Version:     version,
	})

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.ListenAddr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx, addr, cfg.GetShutdownTimeout())
	})
	if serveWatch {
		g.Go(func() error {
			err := config.Watch(gctx, configPath, func(next *config.Config) {
				coord.SetConfig(swarm.ConfigFromExecution(next.Execution))
				logger.Info("Execution settings reloaded", zap.String("mode", string(next.Execution.Mode)))
			})
			if err != nil {
				logger.Warn("Config hot reload disabled", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		// Missions still running are aborted with the server.
		_ = coord.Abort()
		return nil
	})

	logger.Info("forge serving", zap.String("addr", addr))
	err = g.Wait()
	<-coord.Done()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
