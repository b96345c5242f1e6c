package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"scanattend/internal/config"
	"scanattend/internal/directory"
	"scanattend/internal/logging"
	"scanattend/internal/notify"
	"scanattend/internal/queue"
	"scanattend/internal/store"
)

// Worker consumes attendance events and notifies linked guardians.
func main() {
	cfg, err := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if cfg.QueueBackend == "memory" {
		logger.Fatal("QUEUE_BACKEND=memory runs the worker inside the API process; nothing to do here")
	}
	if cfg.StoreBackend == "memory" {
		logger.Fatal("the standalone worker needs the shared Postgres directory")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	defer db.Close()
	if err != nil {
		logger.Fatalf("db connect failed: %v", err)
	}

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warnf("redis at %s not reachable yet; consumer will keep retrying", cfg.RedisAddr)
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, logger)
	mailer := notify.NewMailer(cfg, logger)
	fanout := notify.NewFanout(directory.NewPostgres(db.Client), mailer, cfg.Location, cfg.MailTimeout, logger)

	logger.WithField("mail_backend", cfg.MailBackend).Info("worker started, waiting for events...")
	if err := notify.NewWorker(q, fanout, 8, logger).Run(ctx); err != nil {
		logger.Fatalf("queue consume failed: %v", err)
	}
	logger.Info("worker stopped")
}
