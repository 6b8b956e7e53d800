package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/backend"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/config"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/dispatch"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/domain"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/httpapi"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/lifecycle"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/notification"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/observability"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/ratelimit"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/registry"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/selector"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/storage"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/vertical"
)

var (
	serveConfigPath string
	serveListenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the lifecycle sweeper",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `cockpitd --config path` and `cockpitd serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveListenAddr, "listen", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe wires every component and blocks until a shutdown signal.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("COCKPIT_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if serveListenAddr != "" {
		cfg.Server.ListenAddr = serveListenAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("starting cockpit trial runtime", slog.String("config", serveConfigPath))

	verticals, err := vertical.Load(cfg.VerticalsFile)
	if err != nil {
		return fmt.Errorf("loading vertical catalog: %w", err)
	}

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Trial event journal (optional).
	events, err := storage.Open(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("opening event journal: %w", err)
	}
	if events != nil {
		defer events.Close()
		logger.Info("event journal enabled", slog.String("driver", events.Driver()))
		if obs != nil && obs.Health != nil {
			obs.Health.AddCheck("event_journal", func(ctx context.Context) error {
				_, err := events.Events(ctx, "00000000-0000-0000-0000-000000000000", 1)
				return err
			})
		}
	}

	// Notification dispatcher: webhook when configured, log-only otherwise.
	var senders []notification.Sender
	if cfg.Notification != nil && cfg.Notification.WebhookURL != "" {
		senders = append(senders, notification.NewWebhookSender(cfg.Notification.WebhookURL))
	}
	notifier := notification.NewDispatcher(logger, senders...)

	engine := lifecycle.NewEngine(lifecycle.Config{
		WarningThresholdDays: cfg.Trial.WarningThreshold(),
		FreezeDuration:       cfg.Trial.FreezeDuration(),
	}, notifier, logger)

	clock := domain.RealClock{}
	reg := registry.New(verticals, cfg.Trial.TrialDuration(), clock, logger)

	exec, err := buildBackend(&cfg.Backend, logger)
	if err != nil {
		return err
	}

	var lcMetrics *lifecycle.Metrics
	var dpMetrics *dispatch.Metrics
	if obs != nil && obs.Metrics != nil {
		lcMetrics = lifecycle.NewMetrics(obs.Metrics.Registry)
		dpMetrics = dispatch.NewMetrics(obs.Metrics.Registry)
	}

	var recorder dispatch.EventRecorder
	var sweepRecorder lifecycle.EventRecorder
	if events != nil {
		recorder = events
		sweepRecorder = events
	}

	sweeper, err := lifecycle.NewSweeper(reg, engine, exec, sweepRecorder, clock, lcMetrics, logger, cfg.Sweep.CronSchedule())
	if err != nil {
		return err
	}
	if cfg.Sweep.Enabled {
		cancelSweeper := sweeper.Start(ctx)
		defer cancelSweeper()
		logger.Info("lifecycle sweeper scheduled", slog.String("schedule", cfg.Sweep.CronSchedule()))
	}

	dispatchCfg := dispatch.Config{
		Registry:  reg,
		Verticals: verticals,
		Engine:    engine,
		Selector:  selector.New(selector.DefaultRoutes()),
		Backend:   exec,
		Recorder:  recorder,
		Clock:     clock,
		Timeout:   cfg.Backend.QueryTimeout(),
		Metrics:   dpMetrics,
		Logger:    logger,
	}
	if obs != nil && obs.Tracer != nil {
		dispatchCfg.Tracer = obs.Tracer.Tracer()
	}
	dispatcher := dispatch.New(dispatchCfg)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		QueriesPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
		BurstSize:        cfg.Server.RateLimit.BurstSize,
	})

	httpCfg := httpapi.Config{
		ListenAddr:     cfg.Server.Addr(),
		EnableDocs:     cfg.Server.EnableDocs,
		APIKeys:        cfg.Server.APIKeys,
		MaxRequestSize: cfg.Server.MaxRequestSize,
	}
	if obs != nil {
		httpCfg.Metrics = obs.Metrics
		httpCfg.HealthChecker = obs.Health
		if obs.Metrics != nil {
			httpCfg.MetricsRegistry = obs.Metrics.Registry
		}
		if obs.Tracer != nil {
			httpCfg.Tracer = obs.Tracer.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}

	server := httpapi.NewServer(httpCfg, reg, verticals, dispatcher, sweeper, limiter, clock, logger)
	if events != nil {
		server.WithEventStore(events)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("http server exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("stopping http server", slog.String("error", err.Error()))
	}
	notifier.Flush()
	obs.Shutdown(shutdownCtx)

	return nil
}

// buildBackend selects the execution backend from config.
func buildBackend(cfg *config.BackendConfig, logger *slog.Logger) (backend.Backend, error) {
	switch cfg.BackendDriver() {
	case "mock":
		return backend.NewMockBackend(), nil
	case "process":
		return backend.NewProcessBackend(backend.ProcessConfig{
			Runner:         cfg.RunnerCommand(),
			DefaultTimeout: cfg.QueryTimeout(),
			MaxCPUSeconds:  cfg.MaxCPUSeconds,
			MaxMemoryMB:    cfg.MaxMemoryMB,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown backend driver %q", cfg.Driver)
	}
}
