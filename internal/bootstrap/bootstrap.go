// Package bootstrap builds the clients and services shared by the API and worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/audit"
	"github.com/cuongbtq/turnover-dispatch/internal/config"
	"github.com/cuongbtq/turnover-dispatch/internal/dispatch"
	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/cuongbtq/turnover-dispatch/internal/eligibility"
	"github.com/cuongbtq/turnover-dispatch/internal/notify"
	"github.com/cuongbtq/turnover-dispatch/internal/storage"
	"github.com/cuongbtq/turnover-dispatch/shared/logger"
	"github.com/cuongbtq/turnover-dispatch/shared/postgresql"
	"github.com/cuongbtq/turnover-dispatch/shared/rabbitmq"
	"github.com/redis/go-redis/v9"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// PostgreSQLConfig maps the database section onto the client config
func PostgreSQLConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectAttempts: 5,
		ConnectBackoff:  time.Second,
	}
}

// InitPostgreSQL connects to the database and applies migrations when enabled
func InitPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, *storage.Storage, error) {
	client, err := postgresql.NewClient(ctx, PostgreSQLConfig(cfg), logger)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStorage(client.GetDB(), logger)
	if cfg.AutoMigrate {
		if err := store.RunMigrations(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return client, store, nil
}

// RabbitMQConfig maps the rabbitmq section onto the client config
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		QueueName:          cfg.Queue.Name,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.Queue.DeadLetterExchange,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQConfig(cfg), logger)
}

// InitRedis connects to Redis. It returns nil when Redis is disabled.
func InitRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Redis connection established", slog.String("addr", cfg.Addr))
	return client, nil
}

// Core is the offer engine with the services it writes through
type Core struct {
	Engine    *dispatch.Engine
	Recorder  *audit.Recorder
	Publisher *notify.Publisher
}

// NewCore wires the engine onto store and broker
func NewCore(cfg *config.Config, store *storage.Storage, broker notify.MessagePublisher, logger *slog.Logger) *Core {
	recorder := audit.NewRecorder(store, logger.With(slog.String("component", "audit")), audit.Config{
		BufferSize:    cfg.Audit.BufferSize,
		RetryAttempts: cfg.Audit.RetryAttempts,
		RetryBackoff:  cfg.Audit.RetryBackoff,
		FlushInterval: cfg.Audit.FlushInterval,
	})
	publisher := notify.NewPublisher(broker, logger.With(slog.String("component", "notify")))

	engine := dispatch.NewEngine(dispatch.Dependencies{
		Store:    store,
		Staff:    store,
		Resolver: eligibility.NewResolver(eligibility.DefaultLadder),
		Notifier: publisher,
		Audit:    recorder,
		Logger:   logger.With(slog.String("component", "dispatch")),
		Config:   EngineConfig(cfg),
	})

	return &Core{Engine: engine, Recorder: recorder, Publisher: publisher}
}

// EngineConfig maps the dispatch and timing sections onto the engine config
func EngineConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		MaxAttempts:       cfg.Dispatch.MaxAttempts,
		ExpiryWindow:      cfg.Dispatch.ExpiryWindow,
		Timing:            cfg.Timing.Apply(domain.DefaultTiming()),
		AutoOffer:         cfg.Dispatch.AutoOffer,
		NotifyConcurrency: cfg.Dispatch.NotifyConcurrency,
	}
}
