package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-booking/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/seat-booking/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/seat-booking/internal/adapters/redis"
	"github.com/robertarktes/seat-booking/internal/config"
	"github.com/robertarktes/seat-booking/internal/inventory"
	"github.com/robertarktes/seat-booking/internal/ledger"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/orders"
	"github.com/robertarktes/seat-booking/internal/pricing"
	"github.com/robertarktes/seat-booking/internal/sweeper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.StoreDriver != "crdb" {
		log.Fatalf("expiry worker needs a shared store, STORE_DRIVER=%s", cfg.StoreDriver)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool, crdb.WithLockTimeout(cfg.LockTimeout))

	// Expiry never prices or claims seats, so the manager gets an empty layout set and the
	// configured rate source only to satisfy its constructor.
	layouts, err := inventory.NewLayouts()
	if err != nil {
		log.Fatalf("failed to build layouts: %v", err)
	}
	opts := []orders.Option{}
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		opts = append(opts, orders.WithAuditor(mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)))
	}
	mgr := orders.NewManager(repo, inventory.NewInventory(repo, layouts, logger), pricing.NewEngine(config.NewEnvRates()),
		ledger.NewLedger(repo, logger), logger, opts...)

	swOpts := []sweeper.Option{sweeper.WithBatch(cfg.SweepBatch), sweeper.WithConcurrency(cfg.SweepConcurrency)}
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		host, _ := os.Hostname()
		swOpts = append(swOpts, sweeper.WithLease(redisadapter.NewCache(redisClient), host+"-"+uuid.NewString()[:8]))
	}

	logger.WithField("interval", cfg.SweepInterval.String()).Info("expiry worker started")
	sweeper.New(repo, mgr, logger, swOpts...).Run(ctx, cfg.SweepInterval)
	logger.Info("Shutdown expiry worker")
}
