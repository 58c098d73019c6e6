package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"meteo-dashboard/services/internal/devicemeta"
	"meteo-dashboard/services/internal/respcache"
	"meteo-dashboard/services/internal/series"
	"meteo-dashboard/services/internal/store"
)

// Config holds every setting of the API. Precedence, lowest first: built-in
// defaults, the YAML file named by CONFIG_FILE, environment variables
// (a .env file is loaded into the environment first).
type Config struct {
	// HTTPPort is the port the HTTP server listens on.
	HTTPPort string `yaml:"http_port"`

	// BasePath prefixes every route, e.g. /rasp/data.
	BasePath string `yaml:"base_path"`

	// Valkey/Redis connection holding the samples.
	ValkeyAddr     string `yaml:"valkey_addr"`
	ValkeyPassword string `yaml:"valkey_password"`
	ValkeyDB       int    `yaml:"valkey_db"`

	// TZName is the zone stored datetimes were written in ("Local" or an
	// IANA name such as Europe/Paris).
	TZName string `yaml:"tz_name"`

	// RainDevice is the device whose rain series is charted.
	RainDevice string `yaml:"rain_device"`

	ResponseCacheTTL  time.Duration `yaml:"response_cache_ttl"`
	ResponseCacheSize int           `yaml:"response_cache_size"`
	DeviceCacheTTL    time.Duration `yaml:"device_cache_ttl"`
	FieldBatchSize    int           `yaml:"field_batch_size"`

	// RateLimitRPS is the per-client request rate; 0 disables limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	CORSOrigins []string `yaml:"cors_origins"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

func defaultConfig() Config {
	return Config{
		HTTPPort:          "3000",
		BasePath:          "/rasp",
		ValkeyAddr:        "localhost:6379",
		TZName:            "Local",
		RainDevice:        series.DefaultRainDevice,
		ResponseCacheTTL:  respcache.DefaultTTL,
		ResponseCacheSize: respcache.DefaultSize,
		DeviceCacheTTL:    devicemeta.DefaultTTL,
		FieldBatchSize:    store.DefaultFieldBatchSize,
		RateLimitBurst:    20,
		CORSOrigins:       []string{"*"},
		LogLevel:          "info",
	}
}

// LoadConfig builds the configuration and validates it. Every problem is
// reported, not just the first.
func LoadConfig() (Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrapf(err, "load %s", envFile)
	}

	cfg := defaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	var merr *multierror.Error
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.BasePath = getEnv("BASE_PATH", cfg.BasePath)
	cfg.ValkeyAddr = getEnv("VALKEY_ADDR", cfg.ValkeyAddr)
	cfg.ValkeyPassword = getEnv("VALKEY_PASSWORD", cfg.ValkeyPassword)
	cfg.ValkeyDB = getEnvInt("VALKEY_DB", cfg.ValkeyDB, &merr)
	cfg.TZName = getEnv("TZ_NAME", cfg.TZName)
	cfg.RainDevice = getEnv("RAIN_DEVICE", cfg.RainDevice)
	cfg.ResponseCacheTTL = getEnvDuration("RESPONSE_CACHE_TTL", cfg.ResponseCacheTTL, &merr)
	cfg.ResponseCacheSize = getEnvInt("RESPONSE_CACHE_SIZE", cfg.ResponseCacheSize, &merr)
	cfg.DeviceCacheTTL = getEnvDuration("DEVICE_CACHE_TTL", cfg.DeviceCacheTTL, &merr)
	cfg.FieldBatchSize = getEnvInt("FIELD_BATCH_SIZE", cfg.FieldBatchSize, &merr)
	cfg.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS, &merr)
	cfg.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", cfg.RateLimitBurst, &merr)
	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		cfg.CORSOrigins = splitList(v)
	}
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	if err := merr.ErrorOrNil(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var merr *multierror.Error
	if c.HTTPPort == "" {
		merr = multierror.Append(merr, errors.New("HTTP_PORT must be set"))
	}
	if c.ValkeyAddr == "" {
		merr = multierror.Append(merr, errors.New("VALKEY_ADDR must be set"))
	}
	if c.BasePath != "" && !strings.HasPrefix(c.BasePath, "/") {
		merr = multierror.Append(merr, errors.Errorf("BASE_PATH %q must start with /", c.BasePath))
	}
	if c.ResponseCacheTTL <= 0 {
		merr = multierror.Append(merr, errors.New("RESPONSE_CACHE_TTL must be positive"))
	}
	if c.ResponseCacheSize <= 0 {
		merr = multierror.Append(merr, errors.New("RESPONSE_CACHE_SIZE must be positive"))
	}
	if c.DeviceCacheTTL <= 0 {
		merr = multierror.Append(merr, errors.New("DEVICE_CACHE_TTL must be positive"))
	}
	if c.FieldBatchSize <= 0 {
		merr = multierror.Append(merr, errors.New("FIELD_BATCH_SIZE must be positive"))
	}
	if c.RateLimitRPS < 0 {
		merr = multierror.Append(merr, errors.New("RATE_LIMIT_RPS must not be negative"))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		merr = multierror.Append(merr, errors.New("RATE_LIMIT_BURST must be positive when rate limiting is on"))
	}
	if _, err := c.Location(); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}

// Location resolves TZName.
func (c Config) Location() (*time.Location, error) {
	if c.TZName == "" || c.TZName == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TZName)
	if err != nil {
		return nil, errors.Wrapf(err, "TZ_NAME %q", c.TZName)
	}
	return loc, nil
}

// getEnv returns the variable, or fallback when it is not set.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int, merr **multierror.Error) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*merr = multierror.Append(*merr, errors.Wrapf(err, "%s", key))
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64, merr **multierror.Error) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		*merr = multierror.Append(*merr, errors.Wrapf(err, "%s", key))
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration, merr **multierror.Error) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		*merr = multierror.Append(*merr, errors.Wrapf(err, "%s", key))
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
