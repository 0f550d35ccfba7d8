package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/medsupply-orderflow/internal/app"
	"github.com/imrishuroy/medsupply-orderflow/internal/config"
	"github.com/imrishuroy/medsupply-orderflow/internal/logging"
	"github.com/imrishuroy/medsupply-orderflow/internal/outbox"
)

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred cleanup runs on every path.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}
	logger := logging.New(cfg.LogLevel, cfg.ServiceName+"-relay")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to wire app", "error", err)
		return 1
	}
	defer a.Close()

	relay := a.NewRelay()

	// Locally the relay polls on RELAY_INTERVAL until interrupted.
	if cfg.RunLocal {
		logger.Info("relay polling", "interval", cfg.RelayInterval, "batch", cfg.RelayBatchSize)
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("relay stopped", "error", err)
			return 1
		}
		return 0
	}

	// Deployed, an EventBridge schedule invokes one pass per tick.
	lambda.Start(func(ctx context.Context, _ events.CloudWatchEvent) (outbox.Stats, error) {
		return relay.RunOnce(ctx)
	})
	return 0
}
