// rebalancerd - Entry Point
//
// rebalancerd is the backend daemon for the portfolio rebalancing
// dashboard. It runs as a systemd service and is responsible for:
//   - Persisting recurring rebalance schedules and their cached next runs
//   - Evaluating due schedules against a trusted time source and
//     publishing fired/error events (NATS and dashboard websockets)
//   - Serving the dashboard HTTP API, including next-run previews and
//     a passthrough to the external brokerage API
//
// Configuration is loaded from /etc/rebalancerd/config.yaml (or the
// path given by -config).
//
// Lifecycle:
//  1. Load configuration from YAML file
//  2. Setup structured JSON logger
//  3. Open schedule store and build time source, brokerage client
//  4. Connect NATS publisher if configured
//  5. Notify systemd that service is ready (Type=notify)
//  6. Start watchdog goroutine if systemd provides WatchdogSec
//  7. Start trigger loop and HTTP server
//  8. Wait for shutdown signal (SIGTERM/SIGINT)
//  9. Notify systemd that service is stopping
//  10. Coordinated shutdown with timeout
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/foliokit/rebalancer/internal/api"
	"github.com/foliokit/rebalancer/internal/brokerage"
	"github.com/foliokit/rebalancer/internal/config"
	"github.com/foliokit/rebalancer/internal/events"
	"github.com/foliokit/rebalancer/internal/logging"
	"github.com/foliokit/rebalancer/internal/schedule"
	"github.com/foliokit/rebalancer/internal/shutdown"
	"github.com/foliokit/rebalancer/internal/systemd"
	"github.com/foliokit/rebalancer/internal/timesource"
	"github.com/foliokit/rebalancer/internal/trigger"
	"github.com/foliokit/rebalancer/internal/version"
)

// Default shutdown timeout - how long to wait for graceful shutdown
const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Use basic stderr logging before logger is configured
		fmt.Fprintf(os.Stderr, "ERROR: failed to load configuration from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel)

	logger.Info("rebalancerd starting",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("build_time", version.BuildTime),
		slog.String("config_path", *configPath),
		slog.String("listen_addr", cfg.ListenAddr),
		slog.String("platform_url", cfg.PlatformURL),
		slog.String("brokerage_url", cfg.BrokerageURL),
		slog.String("evaluation_schedule", cfg.EvaluationSchedule),
		slog.Bool("nats_enabled", cfg.NATSEnabled()),
	)

	// Shutdown context that listens for SIGTERM and SIGINT
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	coordinator := shutdown.NewCoordinator(logger)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("failed to create data directory",
			slog.String("path", cfg.DataDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	storePath := filepath.Join(cfg.DataDir, "schedules.db")
	store, err := schedule.Open(storePath)
	if err != nil {
		logger.Error("failed to open schedule store",
			slog.String("path", storePath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info("schedule store opened", slog.String("path", storePath))

	clock := timesource.New(
		cfg.PlatformURL,
		cfg.PlatformAPIKey,
		time.Duration(cfg.TimeCacheTTLSeconds)*time.Second,
		logger,
	)

	broker := brokerage.NewClient(cfg.BrokerageURL, logger)

	// Trigger loop evaluates due schedules on the configured cadence.
	trig, err := trigger.New(store, clock, cfg.EvaluationSchedule, logger)
	if err != nil {
		logger.Error("failed to create trigger", slog.String("error", err.Error()))
		os.Exit(1)
	}
	coordinator.Register("trigger", trig.Shutdown)

	// Websocket hub pushes fired/error events and schedule changes to
	// connected dashboard clients.
	hub := api.NewHub(logger)
	trig.AddPublisher(hub)

	// NATS publisher is optional; the dashboard works without it.
	var natsPublisher *events.Publisher
	if cfg.NATSEnabled() {
		logger.Info("NATS enabled, connecting",
			slog.String("servers", cfg.NATSServers),
			slog.String("environment", cfg.Environment),
		)
		natsPublisher, err = events.Connect(events.Config{
			Servers:     cfg.NATSServers,
			NKeySeed:    cfg.NATSNKeySeed,
			Environment: cfg.Environment,
		}, logger)
		if err != nil {
			logger.Warn("NATS connection failed, continuing without event publishing",
				slog.String("error", err.Error()),
			)
		} else {
			trig.AddPublisher(natsPublisher)
			coordinator.Register("nats", func(context.Context) error {
				natsPublisher.Close()
				return nil
			})
			logger.Info("NATS publisher connected")
		}
	}

	server := api.NewServer(api.Options{
		ListenAddr: cfg.ListenAddr,
		Store:      store,
		Clock:      clock,
		Brokerage:  broker,
		Hub:        hub,
		Healthy:    trig.IsHealthy,
		Logger:     logger,
	})
	coordinator.Register("api", server.Shutdown)

	// Notify systemd that we're ready
	systemd.NotifyReady()
	logger.Info("rebalancerd ready")

	// Start watchdog if systemd provides WatchdogSec; health tracks the
	// trigger loop since a wedged evaluator is the failure that matters.
	systemd.StartWatchdog(ctx, trig.IsHealthy)

	go trig.Run(ctx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, starting graceful shutdown")
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}

	// Notify systemd we're stopping
	systemd.NotifyStopping()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	exitCode := 0
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		exitCode = 1
	}

	if err := store.Close(); err != nil {
		logger.Warn("failed to close schedule store",
			slog.String("error", err.Error()),
		)
	}

	logger.Info("shutdown complete")
	os.Exit(exitCode)
}
