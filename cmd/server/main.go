package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BioHazard786/Tandem/internal/config"
	"github.com/BioHazard786/Tandem/internal/logging"
	"github.com/BioHazard786/Tandem/internal/matchmaking"
	"github.com/BioHazard786/Tandem/internal/metrics"
	"github.com/BioHazard786/Tandem/internal/presence"
	"github.com/BioHazard786/Tandem/internal/server"
	"github.com/BioHazard786/Tandem/internal/signaling"
	"github.com/BioHazard786/Tandem/internal/version"
)

func main() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	logger, err := logging.New(os.Stderr, level, os.Getenv("LOG_FORMAT"))
	if err != nil {
		logger, _ = logging.New(os.Stderr, "info", logging.FormatText)
		logger.Error("Invalid logging configuration", "error", err)
	}
	slog.SetDefault(logger)

	cfg, err := config.LoadServer(os.LookupEnv)
	if err != nil {
		logger.Error("Invalid server configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	store := presence.NewMemory()
	mm := matchmaking.New(matchmaking.Options{
		Presence:      store,
		RetryInterval: cfg.MatchRetryInterval,
		Metrics:       m,
		Logger:        logger.With("component", "matchmaker"),
	})
	relay := signaling.NewRelay(mm, signaling.RelayOptions{
		MailboxSize:         cfg.RelayMailboxSize,
		MaxDeliveryAttempts: cfg.RelayDeliveryAttempts,
		RetryBackoff:        cfg.RelayRetryBackoff,
		Metrics:             m,
		Logger:              logger.With("component", "relay"),
	})
	hub := signaling.NewHub(signaling.HubOptions{
		Matchmaker:     mm,
		Relay:          relay,
		Presence:       store,
		Metrics:        m,
		Logger:         logger.With("component", "hub"),
		RoomHistoryTTL: cfg.RoomHistoryTTL,
		SignalRate:     rate.Limit(cfg.MaxMessagesPerSecond),
		SignalBurst:    cfg.MaxMessagesPerSecond,
	})

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.NewRouter(server.Options{
			Hub:            hub,
			Metrics:        m,
			Logger:         logger,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting signaling server", "addr", cfg.ListenAddr, "version", version.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
