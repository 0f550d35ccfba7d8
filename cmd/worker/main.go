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
	"github.com/imrishuroy/medsupply-orderflow/internal/kafka"
	"github.com/imrishuroy/medsupply-orderflow/internal/logging"
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
	logger := logging.New(cfg.LogLevel, cfg.ServiceName+"-worker")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to wire app", "error", err)
		return 1
	}
	defer a.Close()

	p := NewProcessor(a.Service, logger)

	// Locally with the kafka sink, consume the topic directly.
	if cfg.RunLocal && cfg.EventSink == config.SinkKafka {
		c := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic, logger)
		if cfg.KafkaDLQTopic != "" {
			c.WithDeadLetter(cfg.KafkaBrokers, cfg.KafkaDLQTopic)
		}
		logger.Info("consuming", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroupID, "dead_letter", cfg.KafkaDLQTopic)
		if err := c.Run(ctx, p.HandleMessage); err != nil {
			logger.Error("consumer stopped", "error", err)
			return 1
		}
		return 0
	}

	// If RUN_LOCAL=true, process a single message body from LOCAL_SQS_BODY.
	if cfg.RunLocal {
		return runLocalMessage(ctx, p, os.Getenv("LOCAL_SQS_BODY"))
	}

	lambda.Start(p.Handle)
	return 0
}

func runLocalMessage(ctx context.Context, p *Processor, body string) int {
	if body == "" {
		slog.Error("LOCAL_SQS_BODY is required when RUN_LOCAL=true with the sqs sink")
		return 1
	}
	resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}})
	if err == nil && len(resp.BatchItemFailures) > 0 {
		err = errors.New("local message failed")
	}
	if err != nil {
		slog.Error("local run failed", "error", err)
		return 1
	}
	return 0
}
