// Package backend opens the kv.Store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jacentio/storefront/internal/config"
	"github.com/jacentio/storefront/kv"
	"github.com/jacentio/storefront/kv/dynamokv"
	"github.com/jacentio/storefront/kv/kvobs"
	"github.com/jacentio/storefront/kv/memkv"
	"github.com/jacentio/storefront/kv/rediskv"
	"github.com/jacentio/storefront/kv/sqlitekv"
)

// TracerName names the tracer used when Options.Tracer is unset.
const TracerName = "github.com/jacentio/storefront/kv"

// Options supplies the observability sinks for the decorators enabled in
// config.ObservabilityConfig.
type Options struct {
	Registerer prometheus.Registerer
	Tracer     trace.Tracer
	Logger     *zap.Logger
}

// Open opens the configured backend and wraps it with the enabled
// decorators: metrics innermost, then tracing, then the circuit breaker.
func Open(ctx context.Context, cfg *config.Config, opts Options) (kv.Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts.Logger.Info("opened store backend", zap.String("backend", cfg.Store.Backend))

	obs := cfg.Observability
	if obs.Metrics {
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		s = kvobs.WithMetrics(s, kvobs.NewMetrics("storefront", reg))
	}
	if obs.Tracing {
		tracer := opts.Tracer
		if tracer == nil {
			tracer = otel.Tracer(TracerName)
		}
		s = kvobs.WithTracing(s, tracer)
	}
	if obs.Breaker {
		bc := kvobs.DefaultBreakerConfig("kv-" + cfg.Store.Backend)
		if obs.BreakerTimeout > 0 {
			bc.Timeout = obs.BreakerTimeout
		}
		s = kvobs.WithBreaker(s, bc, opts.Logger)
	}
	return s, nil
}

func open(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memkv.New(), nil
	case config.BackendSQLite:
		s, err := sqlitekv.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Store.Path, err)
		}
		return s, nil
	case config.BackendDynamoDB:
		client, err := NewDynamoDBClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		if cfg.DynamoDB.CreateTable {
			if err := dynamokv.EnsureTable(ctx, client, cfg.DynamoDB.Table); err != nil {
				return nil, err
			}
		}
		return dynamokv.New(client, cfg.DynamoDB.Table), nil
	case config.BackendRedis:
		opts := rediskv.DefaultOptions()
		opts.Address = cfg.Redis.Address
		opts.Password = cfg.Redis.Password
		opts.DB = cfg.Redis.DB
		if cfg.Redis.Namespace != "" {
			opts.Namespace = cfg.Redis.Namespace
		}
		return rediskv.Open(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// NewDynamoDBClient builds a DynamoDB client from the default AWS credential
// chain, pointed at cfg.Endpoint when set.
func NewDynamoDBClient(ctx context.Context, cfg config.DynamoDBConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
