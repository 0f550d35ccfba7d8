// Package app wires configuration into the stores, sinks and service shared
// by the api, relay and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/medsupply-orderflow/internal/aws"
	"github.com/imrishuroy/medsupply-orderflow/internal/catalog"
	"github.com/imrishuroy/medsupply-orderflow/internal/config"
	"github.com/imrishuroy/medsupply-orderflow/internal/idempotency"
	"github.com/imrishuroy/medsupply-orderflow/internal/kafka"
	"github.com/imrishuroy/medsupply-orderflow/internal/orders"
	"github.com/imrishuroy/medsupply-orderflow/internal/outbox"
	"github.com/imrishuroy/medsupply-orderflow/internal/postgres"
	"github.com/imrishuroy/medsupply-orderflow/internal/service"
)

// App holds the wired components. Close releases pools and producers.
type App struct {
	Config  *config.Config
	Log     *slog.Logger
	Service *service.Service
	Outbox  outbox.Repository
	Sink    outbox.Sink
	Metrics outbox.Counter

	closers []func() error
}

// storage is what one backend provides to the rest of the wiring.
type storage struct {
	ledger idempotency.Backend
	orders service.OrderRepository
	outbox outbox.Repository
}

// Build wires every component selected by cfg. AWS clients are only created
// when a DynamoDB store, SQS sink or CloudWatch metrics need them.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	var clients *aws.Clients
	if cfg.StorageBackend == config.StorageDynamoDB || cfg.EventSink == config.SinkSQS || cfg.MetricsNamespace != "" {
		c, err := aws.NewClients(ctx)
		if err != nil {
			return nil, fmt.Errorf("init aws clients: %w", err)
		}
		clients = c
	}

	st, err := a.buildStorage(ctx, clients)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Outbox = st.outbox

	if err := a.buildSink(clients); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.MetricsNamespace != "" {
		a.Metrics = aws.NewMetricsRecorder(clients.CloudWatch, cfg.MetricsNamespace, cfg.ServiceName)
	}

	resolver, err := a.buildCatalog()
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := service.Deps{
		Ledger: idempotency.NewLedger(st.ledger, idempotency.Options{
			TTL:         cfg.IdempotencyTTL,
			StaleAfter:  cfg.IdempotencyStaleAfter,
			MaxAttempts: cfg.IdempotencyMaxAttempts,
		}),
		Orders:     st.orders,
		Catalog:    resolver,
		Dispatcher: outbox.NewDispatcher(st.outbox, a.Sink, cfg.ServiceName, 0, log),
		Metrics:    a.Metrics,
		Logger:     log,
	}
	a.Service = service.New(deps)
	return a, nil
}

func (a *App) buildStorage(ctx context.Context, clients *aws.Clients) (storage, error) {
	cfg := a.Config
	switch cfg.StorageBackend {
	case config.StorageDynamoDB:
		ledger := idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable)
		events := outbox.NewStore(clients.DynamoDB, cfg.OutboxTable)
		return storage{
			ledger: ledger,
			orders: orders.NewStore(clients.DynamoDB, cfg.OrdersTable, ledger, events),
			outbox: events,
		}, nil
	case config.StoragePostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return storage{}, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := postgres.Migrate(ctx, pool); err != nil {
			return storage{}, err
		}
		return storage{
			ledger: postgres.NewLedgerStore(pool),
			orders: postgres.NewOrderStore(pool),
			outbox: postgres.NewOutboxStore(pool),
		}, nil
	}
	return storage{}, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

func (a *App) buildSink(clients *aws.Clients) error {
	cfg := a.Config
	switch cfg.EventSink {
	case config.SinkSQS:
		a.Sink = outbox.NewSQSSink(aws.NewPublisher(clients.SQS, cfg.OrdersQueueURL))
		return nil
	case config.SinkKafka:
		p := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, p.Close)
		a.Sink = p
		return nil
	}
	return fmt.Errorf("unknown event sink %q", cfg.EventSink)
}

// buildCatalog returns a resolver without lookup when CATALOG_URL is unset,
// which accepts every SKU unenriched.
func (a *App) buildCatalog() (*catalog.Resolver, error) {
	cfg := a.Config
	policy, err := catalog.ParsePolicy(cfg.CatalogPolicy)
	if err != nil {
		return nil, err
	}
	if cfg.CatalogURL == "" {
		a.Log.Warn("CATALOG_URL not set, sku checks disabled")
		return catalog.NewResolver(nil, policy, a.Log), nil
	}

	var lookup catalog.Lookup = catalog.NewClient(cfg.CatalogURL, cfg.CatalogTimeout)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, rdb.Close)
		lookup = catalog.NewCache(lookup, rdb, cfg.CatalogCacheTTL, a.Log)
	}
	return catalog.NewResolver(lookup, policy, a.Log), nil
}

// NewRelay returns the outbox relay over the configured store and sink.
func (a *App) NewRelay() *outbox.Relay {
	return outbox.NewRelay(a.Outbox, a.Sink, a.Metrics, a.Log, outbox.RelayConfig{
		Producer:   a.Config.ServiceName,
		BatchSize:  a.Config.RelayBatchSize,
		MaxRetries: a.Config.RelayMaxRetries,
		Interval:   a.Config.RelayInterval,
	})
}

// Close releases resources in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
