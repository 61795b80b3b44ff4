package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/bootstrap"
	"github.com/cuongbtq/turnover-dispatch/internal/config"
	"github.com/cuongbtq/turnover-dispatch/internal/escalation"
	"github.com/cuongbtq/turnover-dispatch/internal/worker"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = instanceID()
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL client and storage
	dbClient, store, err := bootstrap.InitPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	// Initialize RabbitMQ client
	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	redisClient, err := bootstrap.InitRedis(ctx, &cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	core := bootstrap.NewCore(cfg, store, rabbitClient, appLogger.Logger)

	// The sweep runs here so expiry keeps working while the API scales to zero
	var elector escalation.Elector
	if cfg.Dispatch.LeaderLock.Enabled && redisClient != nil {
		elector = escalation.NewLeaderLock(redisClient, cfg.Dispatch.LeaderLock.Key, workerID, cfg.Dispatch.LeaderLock.TTL)
	}

	scheduler, err := escalation.NewScheduler(core.Engine, elector, appLogger.Component("escalation"), escalation.Config{
		Schedule:  cfg.Dispatch.SweepSchedule,
		BatchSize: cfg.Dispatch.SweepBatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create escalation scheduler: %w", err)
	}

	w := worker.NewWorker(&worker.Config{
		Logger:          appLogger.Component("worker"),
		Consumer:        rabbitClient,
		Deliverer:       worker.NewWebhookDeliverer(cfg.Notification.WebhookURL, cfg.Notification.Timeout),
		WorkerID:        workerID,
		Concurrency:     cfg.Worker.Concurrency,
		PrefetchCount:   cfg.RabbitMQ.Consumer.PrefetchCount,
		DeliveryTimeout: cfg.Worker.DeliveryTimeout,
		RetryAttempts:   cfg.Worker.RetryAttempts,
		RetryBackoff:    cfg.Worker.RetryBackoff,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Start(gctx)
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		return core.Recorder.Run(gctx)
	})

	appLogger.Info("Worker service is running")

	<-gctx.Done()
	appLogger.Info("Shutting down worker...")
	w.Stop()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			appLogger.Error("Worker stopped with error", slog.Any("error", err))
			return err
		}
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Shutdown timeout exceeded, forcing exit")
		return fmt.Errorf("worker shutdown timed out after %s", cfg.Worker.ShutdownTimeout)
	}

	appLogger.Info("Worker shutdown complete")
	return nil
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
