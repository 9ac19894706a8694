package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/inventory-holds/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/inventory-holds/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/inventory-holds/internal/adapters/redis"
	"github.com/robertarktes/inventory-holds/internal/clock"
	"github.com/robertarktes/inventory-holds/internal/config"
	"github.com/robertarktes/inventory-holds/internal/expiry"
	"github.com/robertarktes/inventory-holds/internal/holds"
	"github.com/robertarktes/inventory-holds/internal/ledger"
	"github.com/robertarktes/inventory-holds/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "expiry-worker")
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

	var audit observability.AuditSink
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		audit = mongoadapter.NewAuditLog(mongoClient.Database(cfg.MongoDB))
	}

	clk := clock.NewSystem()
	recorder := observability.NewRecorder(logger, audit)
	stock := ledger.New(repo, redisadapter.NewCache(redisClient), clk, recorder, logger, ledger.WithCacheTTL(cfg.AvailabilityCacheTTL))
	holdManager := holds.NewManager(repo, stock, clk, recorder, logger, cfg.HoldTTL)
	sweeper := expiry.NewSweeper(repo, holdManager, stock, clk, recorder, logger, cfg.SweepBatchSize)

	logger.WithField("interval", cfg.SweepInterval.String()).Info("Expiry worker started")
	if err := sweeper.Run(ctx, cfg.SweepInterval); err != nil {
		logger.WithError(err).Error("Expiry worker stopped with error")
		return
	}
	logger.Info("Shutdown expiry worker")
}
