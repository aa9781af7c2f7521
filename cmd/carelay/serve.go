package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"carelay/internal/bus"
	"carelay/internal/config"
	"carelay/internal/constants"
	"carelay/internal/features"
	"carelay/internal/metrics"
	"carelay/internal/models"
	"carelay/internal/service"
	"carelay/internal/tracing"
	"carelay/internal/versioning"
	"carelay/pkg/circuitbreaker"
	"carelay/pkg/page"
	"carelay/pkg/page/wsbridge"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay: page bridge, scanner, forward queue and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := config.RequireDestinations(cfg); err != nil {
		return err
	}

	logger := newLogger(cfg, opts.verbose, true)
	logger.WithFields(logrus.Fields{
		"version": versioning.Version,
		"commit":  versioning.GitCommit,
		"build":   versioning.BuildTime,
	}).Info("Starting carelay")
	if opts.verbose {
		logger.Info("Verbose logging enabled - chat titles and message previews will be logged")
	}
	ctx = service.WithVerbose(ctx, opts.verbose)

	flags := features.NewFlagManager()
	if err := flags.LoadFromConfig(cfg.Features); err != nil {
		logger.WithError(err).Warn("Ignoring unknown feature flags")
	}
	flags.LoadFromEnvironment()

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.WithError(err).Warn("Failed to initialize tracing")
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to shutdown tracing")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close store")
		}
	}()

	bridge := wsbridge.New(wsbridge.Config{
		CallTimeout:    time.Duration(cfg.Page.CallTimeoutMs) * time.Millisecond,
		OriginPatterns: cfg.Server.AllowedOrigins,
	}, logger, m)

	breaker := newPageBreaker(cfg.Page, logger)
	adapter := page.Guard(bridge, breaker)

	bgEnd, pageEnd := bus.NewPair(logger, "background", "page")

	deps := ServerDeps{
		Store:      store,
		Flags:      flags,
		PageSocket: bridge,
		Gatherer:   reg,
		Metrics:    m,
	}
	var auditor service.ForwardAuditor
	if db != nil {
		auditor = db
		deps.Forwards = db
	}

	bg := service.NewBackground(bgEnd, store, flags, auditor, cfg, logger, m)
	agent := service.NewPageAgent(pageEnd, adapter, breaker, store, flags, cfg, logger, m)
	deps.Background = bg
	deps.Agent = agent

	server := NewServer(cfg.Server, deps, logger, opts.verbose)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bg.Run(gctx) })
	g.Go(func() error { return agent.Run(gctx) })
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
		defer cancel()
		bridge.Close()
		return server.Shutdown(shutdownCtx)
	})
	if opts.configPath != "" {
		g.Go(func() error {
			watchConfig(gctx, opts.configPath, logger, flags, agent, opts.verbose)
			return nil
		})
	}

	err = g.Wait()
	logger.Info("carelay stopped")
	return err
}

func newPageBreaker(cfg models.PageConfig, logger *logrus.Logger) *circuitbreaker.CircuitBreaker {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures <= 0 {
		maxFailures = constants.DefaultBreakerMaxFailures
	}
	cooldown := cfg.BreakerCooldownSec
	if cooldown <= 0 {
		cooldown = constants.DefaultBreakerCooldownSec
	}
	return circuitbreaker.New("page", uint32(maxFailures), time.Duration(cooldown)*time.Second, logger,
		circuitbreaker.WithFailurePredicate(page.CountsAsPageFailure))
}

// watchConfig applies log level and feature flag changes from the config
// file and drops the page agent's settings cache on every reload.
func watchConfig(ctx context.Context, path string, logger *logrus.Logger, flags *features.FlagManager,
	agent *service.PageAgent, verbose bool) {
	watcher := config.NewConfigWatcher(path, logger)
	watcher.OnConfigChange(func(c *models.Config) {
		applyLogLevel(logger, c.LogLevel, verbose)
		if err := flags.LoadFromConfig(c.Features); err != nil {
			logger.WithError(err).Warn("Ignoring unknown feature flags")
		}
		agent.RefreshSettings()
	})
	if err := watcher.Start(ctx); err != nil {
		logger.WithError(err).Warn("Configuration watcher stopped")
	}
}
