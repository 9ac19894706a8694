package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/inventory-holds/internal/adapters/crdb"
	"github.com/robertarktes/inventory-holds/internal/adapters/rabbit"
	"github.com/robertarktes/inventory-holds/internal/clock"
	"github.com/robertarktes/inventory-holds/internal/config"
	"github.com/robertarktes/inventory-holds/internal/observability"
	"github.com/robertarktes/inventory-holds/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "outbox-publisher")
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

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	publisher, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer publisher.Close()

	relay := outbox.NewRelay(repo, publisher, clock.NewSystem(), logger, cfg.OutboxBatchSize)

	logger.Info("Outbox publisher started")
	if err := relay.Run(ctx, cfg.OutboxInterval); err != nil {
		logger.WithError(err).Error("Outbox publisher stopped with error")
		return
	}
	logger.Info("Shutdown outbox publisher")
}
