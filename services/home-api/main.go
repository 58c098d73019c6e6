package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"

	"meteo-dashboard/services/internal/devicemeta"
	"meteo-dashboard/services/internal/logging"
	"meteo-dashboard/services/internal/respcache"
	"meteo-dashboard/services/internal/series"
	"meteo-dashboard/services/internal/store"
)

func main() {
	// 1. Configuration
	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	loc, _ := cfg.Location()

	// 2. Logging
	logger, logCloser := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Service: "home-api"})
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("starting home api", "port", cfg.HTTPPort, "base_path", cfg.BasePath, "tz", loc.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Valkey
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.ValkeyAddr,
		Password: cfg.ValkeyPassword,
		DB:       cfg.ValkeyDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Queries answer 503 until the store is back.
		logger.Warn("valkey not reachable at startup", "addr", cfg.ValkeyAddr, "error", err)
	}

	// 4. Wiring
	st := store.New(rdb, store.WithFieldBatchSize(cfg.FieldBatchSize), store.WithLogger(logger))
	devices := devicemeta.New(st, devicemeta.WithTTL(cfg.DeviceCacheTTL), devicemeta.WithLogger(logger))
	go devices.StartAutoRefresh(ctx)

	engine := series.New(st, devices,
		series.WithLocation(loc),
		series.WithRainDevice(cfg.RainDevice),
		series.WithLogger(logger),
	)
	cache := respcache.New[cached](cfg.ResponseCacheSize, cfg.ResponseCacheTTL)
	svc := NewService(engine, devices, cache, logger)
	api := NewAPIHandler(svc, st, logger)

	// 5. Routes and middleware
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, cfg.BasePath)
	handler := Chain(mux,
		RequestID,
		AccessLog(logger),
		Compress,
		CORS(cfg.CORSOrigins),
		RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 6. Serve until a signal arrives
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "address", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}
}
