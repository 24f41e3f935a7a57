package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-booking/internal/adapters/crdb"
	"github.com/robertarktes/seat-booking/internal/adapters/rabbit"
	"github.com/robertarktes/seat-booking/internal/config"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.StoreDriver != "crdb" {
		log.Fatalf("outbox publisher needs a shared store, STORE_DRIVER=%s", cfg.StoreDriver)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "outbox-publisher")
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

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer rabbitPub.Close()

	logger.Info("Outbox publisher started")
	outbox.NewPublisher(repo, rabbitPub, logger, 100).Run(ctx, cfg.OutboxInterval)
	logger.Info("Shutdown outbox publisher")
}
