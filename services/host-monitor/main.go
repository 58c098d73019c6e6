package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meteo-dashboard/services/internal/logging"
)

// mqttPublisher publishes with QoS 1 so the persister sees every reading.
type mqttPublisher struct {
	client mqtt.Client
}

// Publish waits for the broker acknowledgement or ctx.
func (p mqttPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var logger *slog.Logger
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})
	client := mqtt.NewClient(opts)

	var forward io.Writer
	if cfg.LogTopicPrefix != "" {
		forward = logging.NewMQTTWriter(client, cfg.LogTopicPrefix, "host-monitor")
	}
	logger, logCloser := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Service: "host-monitor",
		Forward: forward,
	})
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("starting host monitor", "topic", cfg.Topic(), "interval", cfg.Interval)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Error("mqtt connect failed", "broker", cfg.MQTTBroker, "error", token.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)

	if cfg.HTTPPort != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		server := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer server.Close()
	}

	NewMonitor(cfg.Topic(), mqttPublisher{client: client}, logger).Run(ctx, cfg.Interval)
	logger.Info("shutting down")
}
