// Command stream is the Lambda handler that cascades deletes from the
// DynamoDB table's change stream.
package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/jacentio/storefront/internal/backend"
	"github.com/jacentio/storefront/internal/config"
	"github.com/jacentio/storefront/internal/logging"
	"github.com/jacentio/storefront/marketplace"
	"github.com/jacentio/storefront/store"
	"github.com/jacentio/storefront/stream"
)

func main() {
	cfg, err := config.Load(os.Getenv("STOREFRONT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.Store.Backend = config.BackendDynamoDB

	logger, err := logging.New(cfg.Environment, cfg.Log.Level)
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Observability.Tracing {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		defer tp.Shutdown(context.Background())
	}

	backing, err := backend.Open(context.Background(), cfg, backend.Options{Logger: logger})
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	s := store.New(backing, cfg.StoreOptions())
	s.SetLogger(logger)

	m := marketplace.New(s, logger)
	h := stream.NewHandler(m, m.Registry(), logger)

	logger.Info("stream handler initialized", zap.String("table", cfg.DynamoDB.Table))
	if os.Getenv("REPORT_BATCH_ITEM_FAILURES") == "true" {
		lambda.Start(h.HandleBatch)
		return
	}
	lambda.Start(h.HandleCascadeDelete)
}
