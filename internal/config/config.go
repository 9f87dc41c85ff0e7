// Package config loads process configuration from an optional YAML file
// overlaid with environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/storefront/store"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
	Test        Environment = "test"
)

// Backend names accepted by Store.Backend.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
)

// DefaultSQLitePath is the local development database.
const DefaultSQLitePath = "./dev-kv.sqlite3"

// Config is the process configuration.
type Config struct {
	Environment   Environment         `yaml:"environment"`
	Log           LogConfig           `yaml:"log"`
	Store         StoreConfig         `yaml:"store"`
	DynamoDB      DynamoDBConfig      `yaml:"dynamodb"`
	Redis         RedisConfig         `yaml:"redis"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `yaml:"level"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	DiagnoseConflicts     bool   `yaml:"diagnose_conflicts"`
	MaxPageSize           int    `yaml:"max_page_size"`
	BatchSize             int    `yaml:"batch_size"`
	CompareAndSwapRetries uint64 `yaml:"compare_and_swap_retries"`
}

type DynamoDBConfig struct {
	Table  string `yaml:"table"`
	Region string `yaml:"region"`

	// Endpoint overrides the service endpoint, e.g. DynamoDB Local.
	Endpoint string `yaml:"endpoint"`

	// CreateTable creates the table on startup when it is missing.
	CreateTable bool `yaml:"create_table"`
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

type ObservabilityConfig struct {
	Metrics bool `yaml:"metrics"`
	Tracing bool `yaml:"tracing"`
	Breaker bool `yaml:"breaker"`

	// BreakerTimeout is how long an open breaker waits before probing.
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Environment: Development,
		Log:         LogConfig{Level: "info"},
		Store: StoreConfig{
			Backend:   BackendSQLite,
			Path:      DefaultSQLitePath,
			BatchSize: store.DefaultConfig().BatchSize,
		},
		DynamoDB: DynamoDBConfig{
			Table:  "storefront",
			Region: "us-east-1",
		},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			Namespace: "storefront",
		},
		Observability: ObservabilityConfig{
			BreakerTimeout: 60 * time.Second,
		},
	}
}

// Load reads path, when non-empty, over the defaults and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Environment = Environment(getEnv("ENVIRONMENT", string(c.Environment)))
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.Path = getEnv("STORE_PATH", c.Store.Path)
	c.Store.DiagnoseConflicts = getEnvBool("STORE_DIAGNOSE_CONFLICTS", c.Store.DiagnoseConflicts)
	c.DynamoDB.Table = getEnv("DYNAMODB_TABLE", c.DynamoDB.Table)
	c.DynamoDB.Endpoint = getEnv("DYNAMODB_ENDPOINT", c.DynamoDB.Endpoint)
	c.DynamoDB.Region = getEnv("AWS_REGION", c.DynamoDB.Region)
	c.DynamoDB.CreateTable = getEnvBool("DYNAMODB_CREATE_TABLE", c.DynamoDB.CreateTable)
	c.Redis.Address = getEnv("REDIS_ADDR", c.Redis.Address)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Observability.Metrics = getEnvBool("ENABLE_METRICS", c.Observability.Metrics)
	c.Observability.Tracing = getEnvBool("ENABLE_TRACING", c.Observability.Tracing)
	c.Observability.Breaker = getEnvBool("ENABLE_BREAKER", c.Observability.Breaker)
}

// Validate checks the configuration for the selected backend.
func (c *Config) Validate() error {
	var errs []error
	switch c.Environment {
	case Development, Production, Test:
	default:
		errs = append(errs, fmt.Errorf("unknown environment %q", c.Environment))
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" {
			errs = append(errs, errors.New("dynamodb.table is required"))
		}
		if c.DynamoDB.Region == "" {
			errs = append(errs, errors.New("dynamodb.region is required"))
		}
	case BackendRedis:
		if c.Redis.Address == "" {
			errs = append(errs, errors.New("redis.address is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Store.MaxPageSize < 0 {
		errs = append(errs, errors.New("store.max_page_size must not be negative"))
	}
	return errors.Join(errs...)
}

// StoreOptions returns the repository configuration.
func (c *Config) StoreOptions() store.Config {
	sc := store.DefaultConfig()
	sc.DiagnoseConflicts = c.Store.DiagnoseConflicts
	sc.MaxPageSize = c.Store.MaxPageSize
	if c.Store.BatchSize > 0 {
		sc.BatchSize = c.Store.BatchSize
	}
	sc.CompareAndSwapRetries = c.Store.CompareAndSwapRetries
	return sc
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
