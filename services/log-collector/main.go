package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"meteo-dashboard/services/internal/logging"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// The collector's own lines go to stdout only.
	logger, logCloser := logging.New(logging.Options{Level: cfg.LogLevel, Service: "log-collector"})
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("starting log collector", "dir", cfg.LogDir, "topic", cfg.Subscription())

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		logger.Error("cannot create log directory", "dir", cfg.LogDir, "error", err)
		os.Exit(1)
	}
	collector := NewCollector(cfg.LogDir, logger)
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error("closing log files", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		token := client.Subscribe(cfg.Subscription(), 0, func(_ mqtt.Client, msg mqtt.Message) {
			if err := collector.Handle(msg.Topic(), msg.Payload()); err != nil {
				logger.Warn("log line dropped", "topic", msg.Topic(), "error", err)
			}
		})
		if token.Wait() && token.Error() != nil {
			logger.Error("subscribe failed", "topic", cfg.Subscription(), "error", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Error("mqtt connection failed", "error", token.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)

	<-ctx.Done()
	logger.Info("shutting down")
}
