package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"scanattend/internal/attendance"
	"scanattend/internal/config"
	"scanattend/internal/directory"
	"scanattend/internal/handler"
	"scanattend/internal/keylock"
	"scanattend/internal/logging"
	"scanattend/internal/notify"
	"scanattend/internal/opticclient"
	"scanattend/internal/queue"
	"scanattend/internal/store"
)

func main() {
	cfg, err := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handler.HealthChecker{}

	var (
		dir  directory.Store
		repo attendance.Repository
	)
	if cfg.StoreBackend == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		dir = directory.NewMemory()
		repo = attendance.NewMemoryRepository()
	} else {
		db, err := store.NewDB(cfg.DatabaseURL)
		defer db.Close()
		if err != nil {
			return err
		}
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		checks["db"] = db
		dir = directory.NewPostgres(db.Client)
		repo = attendance.NewPostgresRepository(db.Client)
	}

	var redisClient *store.Redis
	if cfg.QueueBackend != "memory" || cfg.LockBackend == "redis" {
		var err error
		redisClient, err = store.NewRedis(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		checks["redis"] = redisClient
	}

	var locker keylock.Locker = keylock.NewLocal()
	if cfg.LockBackend == "redis" {
		locker = keylock.NewRedis(redisClient.Client, cfg.LockTTL, logger)
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, logger)
	}

	policy := attendance.Policy{Start: cfg.SchoolStart, Grace: cfg.LateGrace, Location: cfg.Location}
	recorder := attendance.NewRecorder(repo, locker, policy, logger)
	svc := attendance.NewService(directory.NewResolver(dir), recorder, notify.NewPublisher(q), logger)

	// Single-process deployments run the notification worker alongside the API.
	workerDone := make(chan struct{})
	if cfg.QueueBackend == "memory" {
		fanout := notify.NewFanout(dir, notify.NewMailer(cfg, logger), cfg.Location, cfg.MailTimeout, logger)
		go func() {
			defer close(workerDone)
			if err := notify.NewWorker(q, fanout, 4, logger).Run(ctx); err != nil {
				logger.Errorf("worker: %v", err)
			}
		}()
	} else {
		close(workerDone)
	}

	var optic handler.ImageDecoder
	if cfg.OpticServiceURL != "" {
		oc := opticclient.New(cfg.OpticServiceURL, 10*time.Second)
		if err := oc.Health(ctx); err != nil {
			logger.Warnf("optical decode service not available: %v", err)
		}
		optic = oc
	}

	h := handler.New(handler.Deps{
		Service:   svc,
		Records:   repo,
		Reports:   attendance.NewReports(repo, dir),
		Directory: dir,
		Optic:     optic,
		Checks:    checks,
		Log:       logger,
	}, handler.Options{
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		AccessTTL:       cfg.AccessTTL,
		EnrollKey:       cfg.StationEnrollKey,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Production:      gin.Mode() == gin.ReleaseMode,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server forced shutdown: %v", err)
	}

	// Let queued hand-offs land before the worker stops consuming.
	svc.Wait()
	cancel()
	<-workerDone

	logger.Info("server exited")
	return nil
}
