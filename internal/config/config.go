package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	StoreDriver  string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	JWTPublicKey string
	OTLPEndpoint string
	OTLPInsecure bool
	Environment  string
	LogLevel     string

	TraceSampleRatio float64

	LockTimeout      time.Duration
	SweepInterval    time.Duration
	SweepBatch       int
	SweepConcurrency int
	OutboxInterval   time.Duration
	RateSource       string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		StoreDriver:  getenv("STORE_DRIVER", "crdb"),
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      getenv("MONGO_DB", "seatbook"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		JWTPublicKey: os.Getenv("JWT_PUBLIC_KEY"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Environment:  getenv("DEPLOY_ENV", "dev"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		RateSource:   getenv("RATE_SOURCE", "env"),
	}

	var err error
	if cfg.LockTimeout, err = duration("LOCK_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = duration("SWEEP_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.OutboxInterval, err = duration("OUTBOX_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.OTLPInsecure, err = boolean("OTEL_EXPORTER_OTLP_INSECURE", true); err != nil {
		return nil, err
	}
	if cfg.TraceSampleRatio, err = ratio("OTEL_TRACES_SAMPLER_ARG", 1); err != nil {
		return nil, err
	}
	if cfg.SweepBatch, err = integer("SWEEP_BATCH", 100); err != nil {
		return nil, err
	}
	if cfg.SweepConcurrency, err = integer("SWEEP_CONCURRENCY", 4); err != nil {
		return nil, err
	}

	switch cfg.StoreDriver {
	case "crdb", "memory":
	default:
		return nil, errors.Newf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	switch cfg.RateSource {
	case "env", "mongo":
	default:
		return nil, errors.Newf("unknown RATE_SOURCE %q", cfg.RateSource)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	if d <= 0 {
		return fallback, nil
	}
	return d, nil
}

func integer(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	if n <= 0 {
		return fallback, nil
	}
	return n, nil
}

func boolean(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.Wrapf(err, "parse %s", key)
	}
	return b, nil
}

func ratio(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	if f < 0 || f > 1 {
		return 0, errors.Newf("%s must be between 0 and 1, got %s", key, raw)
	}
	return f, nil
}
