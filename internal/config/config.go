// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorageDynamoDB = "dynamodb"
	StoragePostgres = "postgres"
)

// Event sinks.
const (
	SinkSQS   = "sqs"
	SinkKafka = "kafka"
)

// Config holds every setting the binaries read. AWS_REGION and
// AWS_ENDPOINT_OVERRIDE are read by internal/aws directly.
type Config struct {
	Env         string
	HTTPAddr    string
	RunLocal    bool
	LogLevel    string
	ServiceName string

	StorageBackend   string
	IdempotencyTable string
	OrdersTable      string
	OutboxTable      string
	PostgresDSN      string

	EventSink      string
	OrdersQueueURL string
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroupID   string
	KafkaDLQTopic  string

	CatalogURL      string
	CatalogTimeout  time.Duration
	CatalogPolicy   string
	RedisAddr       string
	CatalogCacheTTL time.Duration

	IdempotencyTTL         time.Duration
	IdempotencyStaleAfter  time.Duration
	IdempotencyMaxAttempts int

	RelayInterval   time.Duration
	RelayBatchSize  int
	RelayMaxRetries int

	MetricsNamespace   string
	CORSAllowedOrigins []string
}

// Load reads .env when present, then the environment. Malformed values and
// invalid combinations are all reported in one error.
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		Env:         getEnv("APP_ENV", "development"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		RunLocal:    getEnvBool("RUN_LOCAL", false, &errs),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ServiceName: getEnv("SERVICE_NAME", "medsupply-orders"),

		StorageBackend:   strings.ToLower(getEnv("STORAGE_BACKEND", StorageDynamoDB)),
		IdempotencyTable: os.Getenv("IDEMPOTENCY_TABLE"),
		OrdersTable:      os.Getenv("ORDERS_TABLE"),
		OutboxTable:      os.Getenv("OUTBOX_TABLE"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),

		EventSink:      strings.ToLower(getEnv("EVENT_SINK", SinkSQS)),
		OrdersQueueURL: os.Getenv("ORDERS_QUEUE_URL"),
		KafkaBrokers:   splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "orders.events"),
		KafkaGroupID:   getEnv("KAFKA_GROUP_ID", "orders-fulfillment"),
		KafkaDLQTopic:  os.Getenv("KAFKA_DLQ_TOPIC"),

		CatalogURL:      os.Getenv("CATALOG_URL"),
		CatalogTimeout:  getEnvDuration("CATALOG_TIMEOUT", 2*time.Second, &errs),
		CatalogPolicy:   getEnv("CATALOG_POLICY", "fail_open"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		CatalogCacheTTL: getEnvDuration("CATALOG_CACHE_TTL", 5*time.Minute, &errs),

		IdempotencyTTL:         getEnvDuration("IDEMPOTENCY_TTL", 48*time.Hour, &errs),
		IdempotencyStaleAfter:  getEnvDuration("IDEMPOTENCY_STALE_AFTER", 30*time.Second, &errs),
		IdempotencyMaxAttempts: getEnvInt("IDEMPOTENCY_MAX_ATTEMPTS", 3, &errs),

		RelayInterval:   getEnvDuration("RELAY_INTERVAL", 5*time.Second, &errs),
		RelayBatchSize:  getEnvInt("RELAY_BATCH_SIZE", 25, &errs),
		RelayMaxRetries: getEnvInt("RELAY_MAX_RETRIES", 5, &errs),

		MetricsNamespace:   os.Getenv("METRICS_NAMESPACE"),
		CORSAllowedOrigins: splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings for the selected backend and sink.
func (c *Config) Validate() error {
	var errs []error
	switch c.StorageBackend {
	case StorageDynamoDB:
		if c.IdempotencyTable == "" || c.OrdersTable == "" || c.OutboxTable == "" {
			errs = append(errs, errors.New("IDEMPOTENCY_TABLE, ORDERS_TABLE and OUTBOX_TABLE are required for dynamodb storage"))
		}
	case StoragePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be %s or %s, got %q", StorageDynamoDB, StoragePostgres, c.StorageBackend))
	}

	switch c.EventSink {
	case SinkSQS:
		if c.OrdersQueueURL == "" {
			errs = append(errs, errors.New("ORDERS_QUEUE_URL is required for the sqs sink"))
		}
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			errs = append(errs, errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required for the kafka sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("EVENT_SINK must be %s or %s, got %q", SinkSQS, SinkKafka, c.EventSink))
	}

	if c.CatalogPolicy != "fail_open" && c.CatalogPolicy != "fail_closed" {
		errs = append(errs, fmt.Errorf("CATALOG_POLICY must be fail_open or fail_closed, got %q", c.CatalogPolicy))
	}
	if c.CatalogTimeout <= 0 {
		errs = append(errs, errors.New("CATALOG_TIMEOUT must be > 0"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_TTL must be > 0"))
	}
	if c.IdempotencyStaleAfter < 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_STALE_AFTER must be >= 0"))
	}
	if c.IdempotencyMaxAttempts <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_MAX_ATTEMPTS must be > 0"))
	}
	if c.RelayInterval <= 0 {
		errs = append(errs, errors.New("RELAY_INTERVAL must be > 0"))
	}
	if c.RelayBatchSize <= 0 || c.RelayBatchSize > 100 {
		errs = append(errs, errors.New("RELAY_BATCH_SIZE must be between 1 and 100"))
	}
	if c.RelayMaxRetries <= 0 {
		errs = append(errs, errors.New("RELAY_MAX_RETRIES must be > 0"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return b
}

func getEnvInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return d
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
