package config

import (
	"testing"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DISPATCH_TEST_DB_PASSWORD", "s3cret")

			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "s3cret", cfg.Database.Password)
				assert.Equal(t, "dispatch_db", cfg.Database.Database)
				assert.Equal(t, "dispatch_notifications", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "dispatch_notifications_dlx", cfg.RabbitMQ.Queue.DeadLetterExchange)
				assert.Equal(t, "dispatch-api-service", cfg.App.Name)
				assert.Equal(t, 15*time.Minute, cfg.Dispatch.ExpiryWindow)
				assert.Equal(t, "*/2 * * * *", cfg.Dispatch.SweepSchedule)
				assert.True(t, cfg.Dispatch.AutoOffer)
				assert.Equal(t, 5, cfg.RateLimit.Capacity)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/invalid_port.yaml")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "direct", cfg.RabbitMQ.Exchange.Type)
	assert.Equal(t, 2.0, cfg.RabbitMQ.Publish.BackoffMultiplier)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Dispatch.ExpiryWindow)
	assert.Equal(t, "@every 1m", cfg.Dispatch.SweepSchedule)
	assert.Equal(t, "dispatch:sweep:leader", cfg.Dispatch.LeaderLock.Key)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.LeaderLock.TTL)
	assert.Equal(t, 5*time.Second, cfg.Notification.Timeout)
}

func TestTimingConfig_Apply(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	timing := cfg.Timing.Apply(domain.DefaultTiming())
	defaults := domain.DefaultTiming()

	assert.Equal(t, 4*time.Hour, timing.CleaningDuration)
	assert.False(t, timing.CreateInspection)
	assert.Equal(t, defaults.CleaningStartOffset, timing.CleaningStartOffset)
	assert.Equal(t, defaults.MaintenanceDuration, timing.MaintenanceDuration)

	assert.Equal(t, defaults, TimingConfig{}.Apply(defaults))
}

func validAPIConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "dispatch_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "dispatch_notifications"},
			Queue:    QueueConfig{Name: "dispatch_notifications"},
		},
		Dispatch: DispatchConfig{
			MaxAttempts:  3,
			ExpiryWindow: 15 * time.Minute,
		},
	}
}

func validWorkerConfig() *Config {
	cfg := validAPIConfig()
	cfg.Server.Port = 0
	cfg.Worker = WorkerConfig{
		Concurrency:     4,
		DeliveryTimeout: 10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
	cfg.Notification.WebhookURL = "http://localhost:9000/notifications"
	return cfg
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "zero max attempts",
			mutate:    func(c *Config) { c.Dispatch.MaxAttempts = 0 },
			errString: "dispatch max_attempts must be at least 1",
		},
		{
			name:      "zero expiry window",
			mutate:    func(c *Config) { c.Dispatch.ExpiryWindow = 0 },
			errString: "dispatch expiry_window must be greater than 0",
		},
		{
			name: "rate limit without redis",
			mutate: func(c *Config) {
				c.RateLimit = RateLimitConfig{Enabled: true, Capacity: 5, RefillPerSecond: 1}
			},
			errString: "rate_limit requires redis",
		},
		{
			name: "rate limit without capacity",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.RateLimit = RateLimitConfig{Enabled: true, RefillPerSecond: 1}
			},
			errString: "rate_limit capacity",
		},
		{
			name: "rate limit with redis",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.RateLimit = RateLimitConfig{Enabled: true, Capacity: 5, RefillPerSecond: 1}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config without server port",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero delivery timeout",
			mutate:    func(c *Config) { c.Worker.DeliveryTimeout = 0 },
			errString: "worker delivery_timeout must be greater than 0",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			errString: "worker shutdown_timeout must be greater than 0",
		},
		{
			name:      "missing webhook url",
			mutate:    func(c *Config) { c.Notification.WebhookURL = "" },
			errString: "notification webhook_url is required",
		},
		{
			name:      "leader lock without redis",
			mutate:    func(c *Config) { c.Dispatch.LeaderLock.Enabled = true },
			errString: "leader_lock requires redis",
		},
		{
			name:      "missing database",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validWorkerConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
