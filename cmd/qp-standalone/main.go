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
	"github.com/greenvalley/quoting/internal/http"
	"github.com/greenvalley/quoting/internal/log"
	"github.com/greenvalley/quoting/internal/propagation"
	"github.com/greenvalley/quoting/internal/relay"
	"github.com/greenvalley/quoting/internal/repository"
	"github.com/greenvalley/quoting/internal/service"
	"github.com/greenvalley/quoting/internal/storage/db"
	"github.com/greenvalley/quoting/internal/storage/mq"
	"github.com/greenvalley/quoting/internal/telemetry"
	"github.com/greenvalley/quoting/pkg/cmdutil"
	"github.com/greenvalley/quoting/pkg/validator"
)

func main() {
	if err := run(); err != nil {
		fmt.Printf("error running standalone application: %v\n", err)
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
		HTTP        config.HTTP
		Relay       config.Relay
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

	kafkaProducer, err := mq.NewKafkaProducer(ctx, cfg.Kafka)
	if err != nil {
		return fmt.Errorf("error creating kafka producer: %w", err)
	}
	defer kafkaProducer.Close()

	kafkaConsumer, err := mq.NewKafkaConsumer(ctx, cfg.Kafka, logger)
	if err != nil {
		return fmt.Errorf("error creating kafka consumer: %w", err)
	}
	defer kafkaConsumer.Close()

	validate, err := validator.NewDefaultValidator()
	if err != nil {
		return fmt.Errorf("error creating validator: %w", err)
	}

	productRepository := repository.NewProductRepository(dbClient)
	quoteRepository := repository.NewQuoteRepository(dbClient)
	taskRepository := repository.NewTaskRepository(dbClient)
	leaseRepository := repository.NewLeaseRepository(dbClient)
	outboxMsgRepository := repository.NewOutboxMsgRepository(dbClient)

	coordinator := propagation.NewCoordinator(
		cfg.Propagation,
		logger,
		productRepository,
		quoteRepository,
		taskRepository,
		leaseRepository,
		propagation.NewMetrics(),
	)

	productService := service.NewProductService(logger, dbClient, productRepository, outboxMsgRepository)
	quoteService := service.NewQuoteService(dbClient, quoteRepository, productRepository)
	taskService := service.NewTaskService(taskRepository, coordinator)

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

	wg.Go(func() {
		svc := http.New(cfg.HTTP, logger, validate, productService, quoteService, taskService)
		cleanup, err := svc.Run(ctx)
		if err != nil {
			panic(fmt.Errorf("error running http service: %w", err))
		}

		logger.InfoContext(ctx, "http service started", slog.String("address", fmt.Sprintf(":%d", cfg.HTTP.Port)))

		<-interruptChan

		logger.InfoContext(ctx, "http service is shutting down")
		if err := cleanup(ctx); err != nil {
			logger.ErrorContext(ctx, "error shutting down http service", slog.Any("error", err))
		}

		logger.InfoContext(ctx, "http service is stopped")
	})

	wg.Go(func() {
		svc := relay.NewService(cfg.Relay, logger, dbClient, outboxMsgRepository, kafkaProducer)
		cleanup := svc.Run(ctx)
		logger.InfoContext(ctx, "relay service started")

		<-interruptChan

		logger.InfoContext(ctx, "relay service is shutting down")
		cleanup()

		logger.InfoContext(ctx, "relay service is stopped")
	})

	wg.Wait()

	return nil
}
