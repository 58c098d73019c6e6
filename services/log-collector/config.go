package main

import (
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"meteo-dashboard/services/internal/logging"
)

// Config holds the collector settings, read from the environment (a .env
// file is loaded first when present).
type Config struct {
	MQTTBroker   string
	MQTTClientID string

	// TopicPrefix is the level services publish under; the collector
	// subscribes to <prefix>/+.
	TopicPrefix string

	// LogDir receives one rotated <service>.log per service.
	LogDir string

	LogLevel string
}

// LoadConfig reads the settings and reports every invalid one at once.
func LoadConfig() (Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrapf(err, "load %s", envFile)
	}

	cfg := Config{
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "log-collector"),
		TopicPrefix:  getEnv("LOG_TOPIC_PREFIX", logging.DefaultTopicPrefix),
		LogDir:       getEnv("LOG_DIR", "/var/log/meteo"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	var merr *multierror.Error
	if cfg.MQTTBroker == "" {
		merr = multierror.Append(merr, errors.New("MQTT_BROKER must be set"))
	}
	if cfg.TopicPrefix == "" {
		merr = multierror.Append(merr, errors.New("LOG_TOPIC_PREFIX must be set"))
	}
	if cfg.LogDir == "" {
		merr = multierror.Append(merr, errors.New("LOG_DIR must be set"))
	}
	return cfg, merr.ErrorOrNil()
}

// Subscription is the topic filter covering every service.
func (c Config) Subscription() string {
	return c.TopicPrefix + "/+"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
