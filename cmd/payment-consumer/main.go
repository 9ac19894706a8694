package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/inventory-holds/internal/adapters/crdb"
	"github.com/robertarktes/inventory-holds/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/inventory-holds/internal/adapters/redis"
	"github.com/robertarktes/inventory-holds/internal/clock"
	"github.com/robertarktes/inventory-holds/internal/config"
	"github.com/robertarktes/inventory-holds/internal/holds"
	"github.com/robertarktes/inventory-holds/internal/ledger"
	"github.com/robertarktes/inventory-holds/internal/observability"
	"github.com/robertarktes/inventory-holds/internal/orders"
	"github.com/robertarktes/inventory-holds/internal/webhook"
)

const prefetch = 16

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "payment-consumer")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)
	observability.InitMetrics()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool, crdb.WithMaxRetries(cfg.TxMaxRetries))

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	queue, err := rabbit.NewConsumer(conn, cfg.PaymentsQueue, prefetch)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer queue.Close()

	clk := clock.NewSystem()
	recorder := observability.NewRecorder(logger, nil)
	stock := ledger.New(repo, redisadapter.NewCache(redisClient), clk, recorder, logger, ledger.WithCacheTTL(cfg.AvailabilityCacheTTL))
	holdManager := holds.NewManager(repo, stock, clk, recorder, logger, cfg.HoldTTL)
	lifecycle := orders.NewLifecycle(repo, holdManager, stock, clk, logger)
	reconciler := webhook.NewReconciler(repo, lifecycle, stock, clk, recorder, logger)

	deliveries, err := queue.Consume(ctx, "payment-consumer")
	if err != nil {
		log.Fatalf("failed to consume %s: %v", cfg.PaymentsQueue, err)
	}

	logger.WithField("queue", cfg.PaymentsQueue).Info("Payment consumer started")
	if err := webhook.NewConsumer(reconciler, logger).Run(ctx, deliveries); err != nil {
		logger.WithError(err).Error("Payment consumer stopped with error")
		return
	}
	logger.Info("Shutdown payment consumer")
}
