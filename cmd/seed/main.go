// Command seed fills the configured store with random marketplace data.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/jacentio/storefront/internal/backend"
	"github.com/jacentio/storefront/internal/config"
	"github.com/jacentio/storefront/internal/logging"
	"github.com/jacentio/storefront/marketplace"
	"github.com/jacentio/storefront/marketplace/random"
	"github.com/jacentio/storefront/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	plan := random.DefaultPlan()
	configPath := flag.String("config", os.Getenv("STOREFRONT_CONFIG"), "path to a YAML config file")
	seed := flag.Uint64("seed", 0, "random seed (0 picks one)")
	flag.IntVar(&plan.Categories, "categories", plan.Categories, "product categories to create")
	flag.IntVar(&plan.Brands, "brands", plan.Brands, "brands to create")
	flag.IntVar(&plan.ProductsPerBrand, "products", plan.ProductsPerBrand, "products per brand")
	flag.IntVar(&plan.Customers, "customers", plan.Customers, "customers to create")
	flag.IntVar(&plan.Concurrency, "concurrency", plan.Concurrency, "concurrent writers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Environment, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backing, err := backend.Open(ctx, cfg, backend.Options{Logger: logger})
	if err != nil {
		return err
	}
	s := store.New(backing, cfg.StoreOptions())
	s.SetLogger(logger)
	defer s.Close()

	m := marketplace.New(s, logger)
	sum, err := random.Seed(ctx, m, random.New(*seed), plan)
	if err != nil {
		return err
	}

	logger.Info("seed complete",
		zap.String("backend", cfg.Store.Backend),
		zap.Int("categories", sum.Categories),
		zap.Int("users", sum.Users),
		zap.Int("brands", sum.Brands),
		zap.Int("products", sum.Products),
		zap.Int("customers", sum.Customers),
		zap.Int("orders", sum.Orders),
	)
	return nil
}
