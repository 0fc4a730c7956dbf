// Package main runs the registry sync worker. It consumes registry events
// from Kafka into Postgres, keeps the Redis key cache coherent, and serves
// health and metrics endpoints on the ops address.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"sumbandila/internal/audit"
	"sumbandila/internal/credential/metrics"
	"sumbandila/internal/platform/config"
	"sumbandila/internal/platform/database"
	"sumbandila/internal/platform/health"
	"sumbandila/internal/platform/kafka"
	"sumbandila/internal/platform/kafka/consumer"
	"sumbandila/internal/platform/logger"
	"sumbandila/internal/platform/redis"
	"sumbandila/internal/platform/tracer"
	"sumbandila/internal/registry/events"
	regmetrics "sumbandila/internal/registry/metrics"
	"sumbandila/internal/registry/store"
)

const (
	shutdownTimeout = 10 * time.Second
	auditBufferSize = 1024
)

func main() {
	configFile := flag.String("config", os.Getenv("SUMBANDILA_CONFIG"), "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if !cfg.Kafka.Enabled() {
		return errors.New("kafka.brokers is required")
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}

	log.Info("initializing registry sync worker",
		"env", cfg.Env,
		"ops_addr", cfg.OpsAddr,
		"topic", events.TopicRegistry,
	)

	pool, err := database.New(ctx, cfg.Database, database.WithLogger(log))
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pool.Migrate(ctx); err != nil {
		return err
	}
	if err := pool.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	registry := store.NewPostgres(pool.DB())

	auditor := audit.NewPublisher(audit.NewPostgresStore(pool.DB()),
		audit.WithAsyncBuffer(auditBufferSize),
		audit.WithPublisherLogger(log),
	)
	defer auditor.Close()

	m := metrics.New()
	opts := []events.Option{
		events.WithLogger(log),
		events.WithMetrics(m),
		events.WithTracer(tracer.NewOTel()),
		events.WithAuditor(auditor),
	}

	cache, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
		if err := cache.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return err
		}
		opts = append(opts, events.WithCacheInvalidator(
			store.NewRedisKeyCache(cache.Client, registry, cfg.Redis.KeyCacheTTL, regmetrics.New()),
		))
	} else {
		log.Warn("redis not configured, key cache invalidation disabled")
	}

	handler := events.NewHandler(registry, opts...)
	cons, err := consumer.New(cfg.Kafka.Consumer(events.TopicRegistry), handler, log)
	if err != nil {
		return err
	}

	ops := health.New(cfg.Env, prometheus.DefaultGatherer)
	ops.RegisterCheck("database", pool.Health)
	if cache != nil {
		ops.RegisterCheck("redis", cache.Health)
	}
	brokers := kafka.NewHealthChecker(cfg.Kafka.Brokers, events.TopicRegistry)
	ops.RegisterCheck(brokers.Name(), brokers.Check)

	srv := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           ops.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting ops server", "addr", cfg.OpsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("consuming registry events", "group", cfg.Kafka.GroupID)
		return cons.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown ops server: %w", err))
		}
		if err := cons.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop consumer: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
