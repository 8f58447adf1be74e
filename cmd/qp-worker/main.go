package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/greenvalley/quoting/internal/config"
	"github.com/greenvalley/quoting/internal/event"
	"github.com/greenvalley/quoting/internal/log"
	"github.com/greenvalley/quoting/internal/propagation"
	"github.com/greenvalley/quoting/internal/repository"
	"github.com/greenvalley/quoting/internal/storage/db"
	"github.com/greenvalley/quoting/internal/storage/mq"
	"github.com/greenvalley/quoting/internal/telemetry"
	"github.com/greenvalley/quoting/pkg/cmdutil"
)

func main() {
	if err := run(); err != nil {
		fmt.Printf("error running worker application: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	time.Local = time.UTC

	type Config struct {
		Log         config.Log
		Postgres    config.Postgres
		Kafka       config.Kafka
		Otel        config.Otel
		Propagation config.Propagation
	}
	cfg, err := config.New[Config]()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logger := log.NewSlogLogger(cfg.Log)

	cleanupTracer, err := telemetry.InitTracer(ctx, cfg.Otel)
	if err != nil {
		return fmt.Errorf("error initializing tracer: %w", err)
	}
	defer func() {
		if err := cleanupTracer(ctx); err != nil {
			logger.ErrorContext(ctx, "error cleaning up tracer", slog.Any("error", err))
		}
	}()

	pgxPool, err := db.NewPgxPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("error creating pgx pool: %w", err)
	}
	defer pgxPool.Close()

	dbClient := db.NewClient(pgxPool)

	kafkaConsumer, err := mq.NewKafkaConsumer(ctx, cfg.Kafka, logger)
	if err != nil {
		return fmt.Errorf("error creating kafka consumer: %w", err)
	}
	defer kafkaConsumer.Close()

	productRepository := repository.NewProductRepository(dbClient)
	quoteRepository := repository.NewQuoteRepository(dbClient)
	taskRepository := repository.NewTaskRepository(dbClient)
	leaseRepository := repository.NewLeaseRepository(dbClient)

	coordinator := propagation.NewCoordinator(
		cfg.Propagation,
		logger,
		productRepository,
		quoteRepository,
		taskRepository,
		leaseRepository,
		propagation.NewMetrics(),
	)

	interruptChan := cmdutil.InterruptChan()
	var wg sync.WaitGroup

	wg.Go(func() {
		cleanup := coordinator.Run(ctx)
		logger.InfoContext(ctx, "propagation coordinator started")

		<-interruptChan

		logger.InfoContext(ctx, "propagation coordinator is shutting down")
		cleanup()

		logger.InfoContext(ctx, "propagation coordinator is stopped")
	})

	wg.Go(func() {
		svc := event.New(logger, kafkaConsumer, coordinator)
		cleanup, err := svc.Run(ctx)
		if err != nil {
			panic(fmt.Errorf("error running event service: %w", err))
		}
		logger.InfoContext(ctx, "event service started")

		<-interruptChan

		logger.InfoContext(ctx, "event service is shutting down")
		cleanup()

		logger.InfoContext(ctx, "event service is stopped")
	})

	wg.Wait()

	return nil
}
