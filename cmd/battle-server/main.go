// Package main provides the appliance server for the image generation battle.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/vmud/AI-image-gen-battle/internal/backend"
	"github.com/vmud/AI-image-gen-battle/internal/config"
	"github.com/vmud/AI-image-gen-battle/internal/events"
	"github.com/vmud/AI-image-gen-battle/internal/fallback"
	"github.com/vmud/AI-image-gen-battle/internal/health"
	"github.com/vmud/AI-image-gen-battle/internal/metrics"
	"github.com/vmud/AI-image-gen-battle/internal/models"
	"github.com/vmud/AI-image-gen-battle/internal/platform"
	"github.com/vmud/AI-image-gen-battle/internal/server"
	"github.com/vmud/AI-image-gen-battle/internal/service"
	"github.com/vmud/AI-image-gen-battle/internal/telemetry"
)

func main() {
	configFile := flag.String("config", os.Getenv("BATTLE_CONFIG"), "optional YAML config file overlaid on the environment")
	flag.Parse()

	cfg := config.Load()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
		}
	}()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Platform
	detector := &platform.HostDetector{ForceSnapdragon: cfg.ForceSnapdragon, ForceCPU: cfg.ForceCPU}
	caps, err := detector.DetectPlatform(ctx)
	if err != nil {
		return fmt.Errorf("detect platform: %w", err)
	}
	if cfg.Platform != "" && !cfg.ForceSnapdragon {
		class, err := platform.ParseClass(cfg.Platform)
		if err != nil {
			return fmt.Errorf("BATTLE_PLATFORM: %w", err)
		}
		if class != caps.Class {
			logger.Warn("configured platform differs from detection", "configured", class, "detected", caps.Class)
		}
		caps.Class = class
		caps.AccelerationKind = platform.ProfileFor(class).AccelerationKind
	}
	state := platform.NewState(caps)
	logger.Info("starting battle-server",
		"port", cfg.ServerPort,
		"platform", caps.Class,
		"processor", caps.ProcessorModel,
		"acceleration", caps.AccelerationKind,
		"acceleration_available", caps.AccelerationAvailable)

	// Backends
	catalog, err := fallback.EnsureAssets(cfg.AssetsDir, platform.Classes(), config.Component(logger, "fallback"))
	if err != nil {
		// Generation still works from synthesized placeholders.
		logger.Warn("emergency assets unavailable", "dir", cfg.AssetsDir, "error", err)
		catalog = fallback.NewCatalog(cfg.AssetsDir, nil)
	}
	emergency := fallback.New(fallback.Options{
		Catalog:   catalog,
		Platform:  state,
		TimeScale: cfg.FallbackTimeScale,
		Logger:    config.Component(logger, "fallback"),
	})

	var (
		realGen backend.Generator
		devices backend.DeviceReporter
	)
	if cfg.BackendURL != "" {
		remote := backend.NewRemote(cfg.BackendURL, config.Component(logger, "backend"))
		realGen, devices = remote, remote
		logger.Info("real backend configured", "url", cfg.BackendURL)
	} else {
		logger.Info("no real backend configured, using emergency generator only")
	}

	// Core services
	collector := metrics.NewCollector()
	dist := events.NewDistributor(cfg.SubscriberBuffer)

	monitor := health.NewMonitor(health.Config{
		ModelPaths:        cfg.ModelPaths,
		MinFreeMemoryGB:   cfg.MinFreeMemoryGB,
		MaxMemoryPercent:  cfg.MaxMemoryPercent,
		MinFreeDiskGB:     cfg.MinFreeDiskGB,
		DataDir:           cfg.GeneratedDir,
		TempDirs:          cfg.TempDirs,
		MaxGenerationTime: cfg.MaxGenerationTime,
		ForcedClass:       cfg.ForceSnapdragon,
		ForceCPU:          cfg.ForceCPU,
		AutoEmergency:     cfg.AutoEmergency,
	}, telemetry.Host{}, detector, state, devices, config.Component(logger, "health"))

	var orch *service.Orchestrator
	sampler := telemetry.NewSampler(telemetry.Host{}, state, dist, cfg.TelemetryInterval,
		func() bool { return orch.ActiveCount() > 0 }, config.Component(logger, "telemetry"))

	orch = service.New(service.Options{
		HistorySize:   cfg.HistorySize,
		OrphanTimeout: cfg.OrphanTimeout,
		ForceFallback: cfg.ForceFallback,
		GeneratedDir:  cfg.GeneratedDir,
		Real:          realGen,
		Fallback:      emergency,
		Platform:      state,
		Health:        monitor,
		Telemetry:     sampler,
		Events:        dist,
		Metrics:       collector,
		Logger:        config.Component(logger, "orchestrator"),
	})
	monitor.Attach(orch)
	dist.SetSnapshotSource(func() models.StatusView { return orch.GetStatus("") })

	srv := server.New(server.Deps{
		Jobs:         orch,
		Events:       dist,
		Health:       monitor,
		Platform:     state,
		Metrics:      collector,
		GeneratedDir: cfg.GeneratedDir,
		AssetsDir:    cfg.AssetsDir,
		Logger:       config.Component(logger, "server"),
	})

	// Background loops
	var wg sync.WaitGroup
	loops := []func(context.Context){
		sampler.Run,
		func(ctx context.Context) { monitor.Run(ctx, cfg.HealthInterval) },
		func(ctx context.Context) { orch.RunReaper(ctx, cfg.ReapInterval) },
	}
	for _, loop := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(ctx)
		}()
	}

	httpServer := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     srv.Handler(),
		ReadTimeout: 5 * time.Second,
		// No write timeout: the event stream is long-lived.
		IdleTimeout: 120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("control API available", "url", fmt.Sprintf("http://localhost:%s/", cfg.ServerPort))
		logger.Info("event stream available", "url", fmt.Sprintf("ws://localhost:%s/events", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("listen: %w", err)
		}
	}

	logger.Info("shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
	}
	wg.Wait()
	if err := dist.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close events: %w", err))
	}

	logger.Info("server stopped")
	return errors.Join(errs...)
}
