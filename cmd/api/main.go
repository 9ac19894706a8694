package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/inventory-holds/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/inventory-holds/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/inventory-holds/internal/adapters/redis"
	"github.com/robertarktes/inventory-holds/internal/clock"
	"github.com/robertarktes/inventory-holds/internal/config"
	"github.com/robertarktes/inventory-holds/internal/holds"
	httphandler "github.com/robertarktes/inventory-holds/internal/http"
	"github.com/robertarktes/inventory-holds/internal/idempotency"
	"github.com/robertarktes/inventory-holds/internal/ledger"
	"github.com/robertarktes/inventory-holds/internal/observability"
	"github.com/robertarktes/inventory-holds/internal/orders"
	"github.com/robertarktes/inventory-holds/internal/rateLimit"
	"github.com/robertarktes/inventory-holds/internal/webhook"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "inventory-api")
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
	if cfg.AutoMigrate {
		if err := crdb.Migrate(ctx, pool); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
	}
	repo := crdb.NewRepository(pool, crdb.WithMaxRetries(cfg.TxMaxRetries))

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	checks := map[string]httphandler.CheckFunc{
		"crdb": repo.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}

	var (
		audit   observability.AuditSink
		catalog httphandler.Catalog
	)
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		db := mongoClient.Database(cfg.MongoDB)
		audit = mongoadapter.NewAuditLog(db)
		catalog = mongoadapter.NewCatalogRepository(db)
		checks["mongo"] = func(ctx context.Context) error {
			return mongoClient.Ping(ctx, nil)
		}
	}

	clk := clock.NewSystem()
	recorder := observability.NewRecorder(logger, audit)

	stock := ledger.New(repo, redisadapter.NewCache(redisClient), clk, recorder, logger, ledger.WithCacheTTL(cfg.AvailabilityCacheTTL))
	holdManager := holds.NewManager(repo, stock, clk, recorder, logger, cfg.HoldTTL)
	lifecycle := orders.NewLifecycle(repo, holdManager, stock, clk, logger)
	reconciler := webhook.NewReconciler(repo, lifecycle, stock, clk, recorder, logger)

	handlers := httphandler.NewHandlers(httphandler.Deps{
		Holds:        holdManager,
		Orders:       lifecycle,
		Payments:     reconciler,
		Products:     repo,
		Availability: stock,
		Catalog:      catalog,
		Checks:       checks,
		Logger:       logger,
	})

	router := httphandler.SetupRouter(handlers, logger, httphandler.RouterOptions{
		Limiter:            rateLimit.NewRateLimiter(redisClient),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustProxyHeaders:  cfg.TrustProxyHeaders,
		Idempotency:        idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL, logger),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("API stopped with error")
		return
	}
	logger.Info("Server exiting")
}
