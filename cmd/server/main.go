package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"actions/internal/action"
	"actions/internal/action/service"
	"actions/internal/ingress"
	"actions/internal/ingress/dedupe"
	"actions/internal/lifecycle"
	"actions/internal/outbox"
	"actions/internal/platform/config"
	"actions/internal/platform/httpserver"
	"actions/internal/platform/kafka/admin"
	"actions/internal/platform/kafka/consumer"
	"actions/internal/platform/kafka/producer"
	"actions/internal/platform/logger"
	"actions/internal/platform/metrics"
	"actions/internal/platform/postgres"
	redisplatform "actions/internal/platform/redis"
	httptransport "actions/internal/transport/http"
	"actions/pkg/platform/circuit"
	"actions/pkg/platform/clock"
)

// main wires dependencies and runs the four long-lived workers: the Kafka
// consumer, the lifecycle sweeper, the outbox publisher, and the HTTP server.
// Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(logger.ParseLevel(cfg.LogLevel))

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("service exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.VerifySchema(ctx, pool); err != nil {
		return err
	}

	redisClient, err := redisplatform.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	m := metrics.New()
	clk := clock.System{}

	store := action.NewPostgresStore(pool, m)
	engine := lifecycle.NewEngine(store, clk, log, m, cfg.OverdueGrace)
	svc := service.New(store, engine, log, m)

	prod, err := producer.New(cfg.Kafka.Brokers, cfg.Kafka.OutboundTopic)
	if err != nil {
		return err
	}
	defer prod.Close()

	seen := dedupe.NewRedisStore(redisClient.Client, dedupe.Config{TTL: cfg.DedupeTTL})
	handler := ingress.NewHandler(svc, seen, log, m, cfg.MalformedRetryBudget)

	cons, err := consumer.New(consumer.Config{
		Brokers:           cfg.Kafka.Brokers,
		Group:             cfg.Kafka.Group,
		Topics:            cfg.Kafka.InboundTopics,
		ProcessingTimeout: cfg.ProcessingTimeout,
	}, handler, log)
	if err != nil {
		return err
	}
	defer cons.Close()

	topics := append(append([]string{}, cfg.Kafka.InboundTopics...), cfg.Kafka.OutboundTopic)
	if err := admin.VerifyTopics(ctx, cons.Client(), topics...); err != nil {
		return err
	}

	outboxStore := outbox.NewPostgresStore(pool)
	publisher := outbox.NewPublisher(
		outboxStore,
		prod,
		circuit.New(5, 30*time.Second),
		clk,
		log,
		m,
		outbox.PublisherConfig{
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
			MaxAttempts:  cfg.OutboxMaxAttempts,
			BaseBackoff:  cfg.OutboxBaseBackoff,
		},
	)

	sweeper := lifecycle.NewSweeper(engine, log, cfg.SweepInterval, cfg.SweepBatchSize)

	router := httptransport.NewRouter(httptransport.NewHandler(svc, outboxStore, clk, log), log, map[string]httptransport.HealthChecker{
		"postgres": func() error {
			hctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(hctx)
		},
		"redis": func() error {
			hctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(hctx)
		},
	})
	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting trainee actions service",
		"addr", cfg.Addr,
		"kafka_group", cfg.Kafka.Group,
		"inbound_topics", cfg.Kafka.InboundTopics,
		"outbound_topic", cfg.Kafka.OutboundTopic,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCancel(cons.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCancel(sweeper.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCancel(publisher.Run(gctx))
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
