package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-booking/internal/adapters/crdb"
	"github.com/robertarktes/seat-booking/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/seat-booking/internal/adapters/mongo"
	"github.com/robertarktes/seat-booking/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/seat-booking/internal/adapters/redis"
	"github.com/robertarktes/seat-booking/internal/config"
	httphandler "github.com/robertarktes/seat-booking/internal/http"
	"github.com/robertarktes/seat-booking/internal/idempotency"
	"github.com/robertarktes/seat-booking/internal/inventory"
	"github.com/robertarktes/seat-booking/internal/ledger"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/orders"
	"github.com/robertarktes/seat-booking/internal/outbox"
	"github.com/robertarktes/seat-booking/internal/payments"
	"github.com/robertarktes/seat-booking/internal/pricing"
	"github.com/robertarktes/seat-booking/internal/rateLimit"
	"github.com/robertarktes/seat-booking/internal/store"
	"github.com/robertarktes/seat-booking/internal/sweeper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MongoURI == "" {
		log.Fatal("MONGO_URI is required: venue layouts live in the catalog")
	}
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)

	layouts, err := mongoadapter.NewVenueCatalog(mongoDB, logger).LoadLayouts(ctx)
	if err != nil {
		log.Fatalf("failed to load venue layouts: %v", err)
	}

	st, ready, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer closeStore()

	var rates pricing.RateSource = config.NewEnvRates()
	if cfg.RateSource == "mongo" {
		rates = mongoadapter.NewRateRepository(mongoDB)
	}
	if _, err := rates.Rates(ctx); err != nil {
		// Orders fail with a configuration error until the table is fixed; the service still starts.
		logger.WithError(err).Error("rate table is not usable")
	}

	inv := inventory.NewInventory(st, layouts, logger)
	l := ledger.NewLedger(st, logger)
	mgr := orders.NewManager(st, inv, pricing.NewEngine(rates), l, logger,
		orders.WithAuditor(mongoadapter.NewAuditLogger(mongoDB, logger)))

	deps := httphandler.RouterDeps{Logger: logger}
	if deps.AdminKey, err = httphandler.ParsePublicKey(cfg.JWTPublicKey); err != nil {
		log.Fatalf("failed to parse JWT_PUBLIC_KEY: %v", err)
	}
	if deps.AdminKey == nil {
		logger.Warn("JWT_PUBLIC_KEY not set, admin routes are unauthenticated")
	}
	var lease sweeper.Lease
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		cache := redisadapter.NewCache(redisClient)
		deps.Idempotency = idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), 24*time.Hour)
		deps.RateLimiter = rateLimit.NewRateLimiter(cache, logger)
		lease = cache
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httphandler.SetupRouter(httphandler.NewHandlers(mgr, inv, l, logger, ready), deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer conn.Close()
		consumer, err := rabbit.NewConsumer(conn, rabbit.PaymentsQueue, 16)
		if err != nil {
			log.Fatalf("failed to create consumer: %v", err)
		}
		defer consumer.Close()
		deliveries, err := consumer.Consume(gctx)
		if err != nil {
			log.Fatalf("failed to consume payments: %v", err)
		}
		listener := payments.NewListener(mgr, logger)
		g.Go(func() error {
			listener.Run(gctx, deliveries)
			return nil
		})
		// The standalone relay cannot read a process-local outbox.
		if cfg.StoreDriver == "memory" {
			rabbitPub, err := rabbit.NewPublisher(conn)
			if err != nil {
				log.Fatalf("failed to create publisher: %v", err)
			}
			defer rabbitPub.Close()
			relay := outbox.NewPublisher(st, rabbitPub, logger, 100)
			g.Go(func() error {
				relay.Run(gctx, cfg.OutboxInterval)
				return nil
			})
		}
	} else {
		logger.Warn("RABBIT_URL not set, payment confirmations only arrive over HTTP")
	}

	// A process-local store is invisible to the standalone expiry worker, so sweep here.
	if cfg.StoreDriver == "memory" {
		opts := []sweeper.Option{sweeper.WithBatch(cfg.SweepBatch), sweeper.WithConcurrency(cfg.SweepConcurrency)}
		if lease != nil {
			host, _ := os.Hostname()
			opts = append(opts, sweeper.WithLease(lease, host))
		}
		sw := sweeper.New(st, mgr, logger, opts...)
		g.Go(func() error {
			sw.Run(gctx, cfg.SweepInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("api stopped with error")
		os.Exit(1)
	}
	logger.Info("Server exiting")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(context.Context) error, func(), error) {
	if cfg.StoreDriver == "memory" {
		return memory.NewStore(memory.WithLockTimeout(cfg.LockTimeout)), nil, func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "connect to crdb")
	}
	repo := crdb.NewRepository(pool, crdb.WithLockTimeout(cfg.LockTimeout))
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return repo, pool.Ping, pool.Close, nil
}
