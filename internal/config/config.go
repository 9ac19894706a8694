package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	HTTPAddr     string
	OTLPEndpoint string
	LogLevel     string

	HoldTTL              time.Duration
	SweepInterval        time.Duration
	SweepBatchSize       int
	AvailabilityCacheTTL time.Duration
	IdempotencyTTL       time.Duration
	RateLimitPerMinute   int
	OutboxInterval       time.Duration
	OutboxBatchSize      int
	PaymentsQueue        string
	TxMaxRetries         int
	AutoMigrate          bool
	TrustProxyHeaders    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		CRDBDSN:       os.Getenv("CRDB_DSN"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDB:       getenv("MONGO_DB", "holds"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RabbitURL:     os.Getenv("RABBIT_URL"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		PaymentsQueue: getenv("PAYMENTS_QUEUE", "payments.webhooks"),
	}

	var err error
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"HOLD_TTL", 2 * time.Minute, &cfg.HoldTTL},
		{"SWEEP_INTERVAL", time.Minute, &cfg.SweepInterval},
		{"AVAILABILITY_CACHE_TTL", 5 * time.Second, &cfg.AvailabilityCacheTTL},
		{"IDEMPOTENCY_TTL", 24 * time.Hour, &cfg.IdempotencyTTL},
		{"OUTBOX_INTERVAL", 5 * time.Second, &cfg.OutboxInterval},
	}
	for _, d := range durations {
		if *d.dst, err = durationEnv(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"SWEEP_BATCH_SIZE", 500, &cfg.SweepBatchSize},
		{"RATE_LIMIT_PER_MINUTE", 120, &cfg.RateLimitPerMinute},
		{"OUTBOX_BATCH_SIZE", 50, &cfg.OutboxBatchSize},
		{"TX_MAX_RETRIES", 5, &cfg.TxMaxRetries},
	}
	for _, i := range ints {
		if *i.dst, err = intEnv(i.key, i.def); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("AUTO_MIGRATE"); v != "" {
		if cfg.AutoMigrate, err = strconv.ParseBool(v); err != nil {
			return nil, errors.Wrapf(err, "parse AUTO_MIGRATE %q", v)
		}
	}

	if v := os.Getenv("TRUST_PROXY_HEADERS"); v != "" {
		if cfg.TrustProxyHeaders, err = strconv.ParseBool(v); err != nil {
			return nil, errors.Wrapf(err, "parse TRUST_PROXY_HEADERS %q", v)
		}
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s %q", key, v)
	}
	if d <= 0 {
		return 0, errors.Newf("%s must be positive, got %s", key, v)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s %q", key, v)
	}
	if n <= 0 {
		return 0, errors.Newf("%s must be positive, got %d", key, n)
	}
	return n, nil
}
