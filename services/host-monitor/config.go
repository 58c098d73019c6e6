package main

import (
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"meteo-dashboard/services/internal/logging"
)

// Config holds the monitor settings, read from the environment (a .env
// file is loaded first when present).
type Config struct {
	MQTTBroker   string
	MQTTClientID string

	// DeviceID is the device the board temperature is reported as.
	DeviceID string
	// TopicPrefix + "/" + DeviceID is the publish topic.
	TopicPrefix string

	// Interval between two reports (e.g. "1h", "15m").
	Interval time.Duration

	// HTTPPort serves /metrics with the host gauges; empty turns it off.
	HTTPPort string

	LogLevel string
	LogFile  string

	// LogTopicPrefix forwards log lines to <prefix>/host-monitor; empty turns it off.
	LogTopicPrefix string
}

// LoadConfig reads the settings and reports every invalid one at once.
func LoadConfig() (Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrapf(err, "load %s", envFile)
	}

	cfg := Config{
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "host-monitor"),
		DeviceID:     getEnv("DEVICE_ID", "host"),
		TopicPrefix:  getEnv("OUTPUT_TOPIC_PREFIX", "sensors"),
		HTTPPort:     getEnv("HTTP_PORT", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFile:      getEnv("LOG_FILE", ""),

		LogTopicPrefix: getEnv("LOG_TOPIC_PREFIX", logging.DefaultTopicPrefix),
	}

	var merr *multierror.Error
	interval, err := time.ParseDuration(getEnv("MONITOR_INTERVAL", "1h"))
	if err != nil {
		merr = multierror.Append(merr, errors.Wrap(err, "MONITOR_INTERVAL"))
	} else if interval <= 0 {
		merr = multierror.Append(merr, errors.New("MONITOR_INTERVAL must be positive"))
	}
	cfg.Interval = interval

	if cfg.MQTTBroker == "" {
		merr = multierror.Append(merr, errors.New("MQTT_BROKER must be set"))
	}
	if cfg.DeviceID == "" {
		merr = multierror.Append(merr, errors.New("DEVICE_ID must be set"))
	}
	return cfg, merr.ErrorOrNil()
}

// Topic is where readings are published.
func (c Config) Topic() string {
	return c.TopicPrefix + "/" + c.DeviceID
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
