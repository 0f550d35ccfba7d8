package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/imrishuroy/medsupply-orderflow/internal/config"
	"github.com/imrishuroy/medsupply-orderflow/internal/kafka"
	"github.com/imrishuroy/medsupply-orderflow/internal/outbox"
)

func testConfig() *config.Config {
	return &config.Config{
		ServiceName:            "orders-test",
		StorageBackend:         config.StorageDynamoDB,
		IdempotencyTable:       "idempotency",
		OrdersTable:            "orders",
		OutboxTable:            "outbox",
		EventSink:              config.SinkSQS,
		OrdersQueueURL:         "http://localhost:4566/000000000000/orders",
		CatalogPolicy:          "fail_open",
		CatalogTimeout:         time.Second,
		IdempotencyTTL:         time.Hour,
		IdempotencyMaxAttempts: 3,
		RelayInterval:          time.Second,
		RelayBatchSize:         10,
		RelayMaxRetries:        3,
	}
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBuild_DynamoDBWithSQS(t *testing.T) {
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("AWS_ENDPOINT_OVERRIDE", "http://localhost:4566")

	a, err := Build(context.Background(), testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	if a.Service == nil || a.Outbox == nil {
		t.Fatal("service or outbox not wired")
	}
	if _, ok := a.Outbox.(*outbox.Store); !ok {
		t.Fatalf("expected dynamodb outbox store, got %T", a.Outbox)
	}
	if _, ok := a.Sink.(*outbox.SQSSink); !ok {
		t.Fatalf("expected sqs sink, got %T", a.Sink)
	}
	if a.Metrics != nil {
		t.Fatal("metrics must stay off without a namespace")
	}
	if a.NewRelay() == nil {
		t.Fatal("relay not built")
	}
}

func TestBuild_KafkaSinkWithCachedCatalog(t *testing.T) {
	t.Setenv("AWS_REGION", "us-east-1")
	cfg := testConfig()
	cfg.EventSink = config.SinkKafka
	cfg.KafkaBrokers = []string{"localhost:9092"}
	cfg.KafkaTopic = "orders.events"
	cfg.CatalogURL = "http://catalog.local"
	cfg.RedisAddr = "localhost:6379"
	cfg.MetricsNamespace = "MedSupply/Orders"

	a, err := Build(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := a.Sink.(*kafka.Producer); !ok {
		t.Fatalf("expected kafka producer, got %T", a.Sink)
	}
	if a.Metrics == nil {
		t.Fatal("metrics not wired")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestBuild_RejectsUnknownPolicy(t *testing.T) {
	t.Setenv("AWS_REGION", "us-east-1")
	cfg := testConfig()
	cfg.CatalogPolicy = "sometimes"
	if _, err := Build(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected error for unknown catalog policy")
	}
}
