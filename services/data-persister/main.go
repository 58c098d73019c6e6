package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"meteo-dashboard/services/internal/logging"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. MQTT client. It exists before the logger so log lines can be
	// forwarded; the handlers only run once Connect is called below.
	var (
		logger    *slog.Logger
		persister *Persister
	)
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	// Clean session: subscribe again on every (re)connect.
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		token := client.Subscribe(cfg.InputTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			_ = persister.Handle(ctx, msg.Topic(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			logger.Error("subscribe failed", "topic", cfg.InputTopic, "error", token.Error())
			return
		}
		logger.Info("listening", "topic", cfg.InputTopic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})
	client := mqtt.NewClient(opts)

	// 3. Logging
	var forward io.Writer
	if cfg.LogTopicPrefix != "" {
		forward = logging.NewMQTTWriter(client, cfg.LogTopicPrefix, "data-persister")
	}
	logger, logCloser := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Service: "data-persister",
		Forward: forward,
	})
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("starting data persister", "broker", cfg.MQTTBroker, "topic", cfg.InputTopic, "tz", loc.String())

	// 4. Valkey (required)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.ValkeyAddr,
		Password: cfg.ValkeyPassword,
		DB:       cfg.ValkeyDB,
	})
	defer rdb.Close()
	st := store.New(rdb, store.WithLogger(logger))
	if err := st.Ping(ctx); err != nil {
		logger.Error("valkey unreachable", "addr", cfg.ValkeyAddr, "error", err)
		os.Exit(1)
	}

	// 5. Postgres archive (optional)
	var archive Archiver
	if cfg.PostgresURL != "" {
		pg, err := NewPostgresArchive(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("postgres archive unavailable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		archive = pg
		logger.Info("postgres archive enabled")
	}

	persister = NewPersister(NewRepository(st, archive), loc, logger)

	// 6. Health and metrics
	if cfg.HTTPPort != "" {
		go startHealthServer(cfg.HTTPPort, st, logger)
	}

	// 7. Connect and run until a signal arrives
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Error("mqtt connection failed", "error", token.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)

	<-ctx.Done()
	logger.Info("shutting down")
}

func startHealthServer(port string, st *store.Store, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "valkey unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("health server listening", "port", port)
	if err := server.ListenAndServe(); err != nil {
		logger.Error("health server failed", "error", err)
	}
}
