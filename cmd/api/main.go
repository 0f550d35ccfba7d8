package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/medsupply-orderflow/internal/app"
	"github.com/imrishuroy/medsupply-orderflow/internal/config"
	"github.com/imrishuroy/medsupply-orderflow/internal/handlers"
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
	logger := logging.New(cfg.LogLevel, cfg.ServiceName)
	slog.SetDefault(logger)

	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to wire app", "error", err)
		return 1
	}
	defer a.Close()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := handlers.NewRouter(a.Service, handlers.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
	})

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.RunLocal {
		logger.Info("running local server", "addr", cfg.HTTPAddr, "storage", cfg.StorageBackend, "sink", cfg.EventSink)
		if err := r.Run(cfg.HTTPAddr); err != nil {
			logger.Error("failed to run local server", "error", err)
			return 1
		}
		return 0
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
	return 0
}
