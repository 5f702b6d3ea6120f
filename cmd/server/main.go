package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foresight/market-engine/internal/api"
	"github.com/foresight/market-engine/internal/bootstrap"
	"github.com/foresight/market-engine/internal/config"
	"github.com/foresight/market-engine/internal/jobs"
)

func main() {
	configPath := flag.String("config", os.Getenv("MARKET_CONFIG"), "path to TOML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := bootstrap.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("market-engine exited", "err", err)
		os.Exit(1)
	}
	logger.Info("market-engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	app, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	hub := api.NewHub(logger)
	handler := api.NewHandler(app.Engine, hub, api.Options{
		RequestTimeout:  cfg.Server.RequestTimeout.Duration,
		TradesPerSecond: cfg.Server.TradesPerSecond,
		TradeBurst:      cfg.Server.TradeBurst,
		Logger:          logger,
	})
	scheduler := jobs.NewScheduler(app.Engine, cfg.Jobs.SettleInterval.Duration, cfg.Jobs.SampleInterval.Duration, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout.Duration + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })

	g.Go(func() error {
		logger.Info("market-engine listening", "addr", cfg.Server.Addr, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down market-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
