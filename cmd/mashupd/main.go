package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MikeSquared-Agency/Mashup/internal/analyte"
	"github.com/MikeSquared-Agency/Mashup/internal/api"
	"github.com/MikeSquared-Agency/Mashup/internal/bands"
	"github.com/MikeSquared-Agency/Mashup/internal/config"
	"github.com/MikeSquared-Agency/Mashup/internal/hermes"
	"github.com/MikeSquared-Agency/Mashup/internal/logging"
	"github.com/MikeSquared-Agency/Mashup/internal/lookup"
	"github.com/MikeSquared-Agency/Mashup/internal/metrics"
	"github.com/MikeSquared-Agency/Mashup/internal/resultcache"
	"github.com/MikeSquared-Agency/Mashup/internal/scoring"
	"github.com/MikeSquared-Agency/Mashup/internal/session"
	"github.com/MikeSquared-Agency/Mashup/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	kv, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL, cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer kv.Close()
	logger.Info("store opened", "driver", cfg.Database.Driver)

	// Hermes (optional)
	var hermesClient hermes.Client
	if cfg.Hermes.URL != "" {
		hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to hermes, running without events", "error", err)
		} else {
			hermesClient = hc
			defer hc.Close()
			logger.Info("connected to hermes")
		}
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	mode := analyte.ModeStrict
	if !cfg.Engine.StrictRanking {
		mode = analyte.ModeFree
	}

	mgr := session.NewManager(ctx, session.Config{
		DefaultPercentile: cfg.Engine.DefaultPercentile,
		DefaultMode:       mode,
		LookupTimeout:     cfg.LookupTimeout(),
	}, session.Deps{
		Lookup:     lookup.NewHTTPClient(cfg.DataAPI.URL, cfg.DataAPI.Timeout()),
		Scorer:     scoring.NewHTTPClient(cfg.Scoring.URL, cfg.Scoring.Timeout()),
		IndexCache: resultcache.New(kv, store.KeyIndexPlotData, logger, resultcache.WithObserver(m)),
		BandCache:  resultcache.New(kv, store.KeyBandPlotData, logger, resultcache.WithObserver(m)),
		BandConfig: bands.NewStore(kv, logger),
		Events:     hermesClient,
		Observer:   m,
	}, logger)

	// Idle session reaper
	if ttl := cfg.SessionTTL(); ttl > 0 {
		reaper := session.NewReaper(mgr, ttl, time.Minute, logger)
		reaper.Start(ctx)
		defer reaper.Stop()
		logger.Info("session reaper started", "ttl", ttl)
	}

	// API server
	router := api.NewRouter(mgr, cfg.Server.AdminToken, cfg.Server.RateLimit, logger)
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: api.NewMetricsRouter(reg),
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	cancel()
	mgr.Wait()

	logger.Info("shutdown complete")
}
