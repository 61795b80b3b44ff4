package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/turnover-dispatch/internal/config"
	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngineConfig(t *testing.T) {
	inspection := false
	cfg := &config.Config{
		Dispatch: config.DispatchConfig{
			MaxAttempts:       4,
			ExpiryWindow:      20 * time.Minute,
			AutoOffer:         true,
			NotifyConcurrency: 16,
		},
		Timing: config.TimingConfig{
			CleaningDuration: 5 * time.Hour,
			CreateInspection: &inspection,
		},
	}

	got := EngineConfig(cfg)

	assert.Equal(t, 4, got.MaxAttempts)
	assert.Equal(t, 20*time.Minute, got.ExpiryWindow)
	assert.True(t, got.AutoOffer)
	assert.Equal(t, 16, got.NotifyConcurrency)
	assert.Equal(t, 5*time.Hour, got.Timing.CleaningDuration)
	assert.False(t, got.Timing.CreateInspection)
	assert.Equal(t, domain.DefaultTiming().CleaningStartOffset, got.Timing.CleaningStartOffset)
}

func TestRabbitMQConfig(t *testing.T) {
	got := RabbitMQConfig(&config.RabbitMQConfig{
		Host:       "rabbit",
		Port:       5672,
		Exchange:   config.ExchangeConfig{Name: "dispatch_notifications", Type: "direct"},
		Queue:      config.QueueConfig{Name: "dispatch_notifications", DeadLetterExchange: "dispatch_dlx"},
		RoutingKey: "notification",
		Publish:    config.PublishConfig{RetryAttempts: 3, RetryInterval: time.Second, BackoffMultiplier: 2},
	})

	assert.Equal(t, "rabbit", got.Host)
	assert.Equal(t, "dispatch_notifications", got.ExchangeName)
	assert.Equal(t, "dispatch_dlx", got.DeadLetterExchange)
	assert.Equal(t, "notification", got.RoutingKey)
	assert.Equal(t, 3, got.PublishRetries)
	assert.Equal(t, 2.0, got.PublishBackoffMult)
}

func TestPostgreSQLConfig(t *testing.T) {
	got := PostgreSQLConfig(&config.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "dispatch",
		Password: "pw",
		Database: "dispatch_db",
		SSLMode:  "disable",
	})

	assert.Equal(t, "host=db port=5432 user=dispatch password=pw dbname=dispatch_db sslmode=disable", got.DSN())
	assert.Equal(t, 5, got.ConnectAttempts)
}

func TestInitRedis(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		client, err := InitRedis(ctx, &config.RedisConfig{Enabled: false}, discardLogger())
		require.NoError(t, err)
		assert.Nil(t, client)
	})

	t.Run("reachable", func(t *testing.T) {
		mr := miniredis.RunT(t)

		client, err := InitRedis(ctx, &config.RedisConfig{Enabled: true, Addr: mr.Addr()}, discardLogger())
		require.NoError(t, err)
		require.NotNil(t, client)
		defer client.Close()

		require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
		assert.Equal(t, "v", mustGet(t, mr, "k"))
	})

	t.Run("unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		client, err := InitRedis(ctx, &config.RedisConfig{Enabled: true, Addr: addr}, discardLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ping redis")
		assert.Nil(t, client)
	})
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
