package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"songforge/pkg/api"
	"songforge/pkg/auth"
	"songforge/pkg/config"
	"songforge/pkg/data"
	"songforge/pkg/events"
	"songforge/pkg/reputation"
	"songforge/pkg/scheduler"
	"songforge/pkg/session"
	"songforge/pkg/utils"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	debug      = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := utils.DefaultLogConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Debug = *debug
	logger, err := utils.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Repository: Postgres when configured, in-memory otherwise.
	var repo data.Repository
	if cfg.Database.URL != "" {
		pg, err := data.NewPostgresRepository(ctx, cfg.Database.URL, logger)
		if err != nil {
			return fmt.Errorf("initializing repository: %w", err)
		}
		defer pg.Close()
		repo = pg
	} else {
		logger.Warn("No database configured, using in-memory repository")
		repo = data.NewMemoryRepository()
	}

	// Event fan-out: hub plus whichever external sinks are configured.
	var sinks []events.Sink
	if cfg.Events.RedisURL != "" {
		redisSink, err := events.NewRedisPublisher(cfg.Events.RedisURL)
		if err != nil {
			return fmt.Errorf("initializing redis publisher: %w", err)
		}
		defer redisSink.Close()
		sinks = append(sinks, redisSink)
	}
	if len(cfg.Events.KafkaBrokers) > 0 {
		relay, err := events.NewGenerationRelay(cfg.Events.KafkaBrokers,
			cfg.Events.GenerationTopic, string(data.StageGeneration))
		if err != nil {
			return fmt.Errorf("initializing generation relay: %w", err)
		}
		defer relay.Close()
		sinks = append(sinks, relay)
	}

	hub := events.NewHub(logger, sinks...)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := hub.Close(shutdownCtx); err != nil {
			logger.Warn("Event hub did not drain in time", zap.Error(err))
		}
	}()

	rep := reputation.NewEngine(repo, logger, reputation.Rewards{
		VoteCast:           cfg.Reputation.VoteCastScore,
		SubmissionAccepted: cfg.Reputation.SubmissionAcceptedScore,
		SessionWon:         cfg.Reputation.SessionWonScore,
	})

	core := session.New(repo, rep, hub, logger)

	if cfg.Sweeper.Enabled {
		sweeper, err := scheduler.NewSweeper(repo, core.Sessions, cfg.Sweeper.Schedule, logger)
		if err != nil {
			return fmt.Errorf("initializing sweeper: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewServer(core, rep, verifier, logger).Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	return nil
}
