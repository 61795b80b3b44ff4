package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Redis        RedisConfig        `yaml:"redis"`
	Logging      LoggingConfig      `yaml:"logging"`
	App          AppConfig          `yaml:"app"`
	Worker       WorkerConfig       `yaml:"worker"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Timing       TimingConfig       `yaml:"timing"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Notification NotificationConfig `yaml:"notification"`
	Audit        AuditConfig        `yaml:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	// AutoMigrate applies the embedded schema on start
	AutoMigrate bool `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds exchange settings
type ExchangeConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// QueueConfig holds queue settings
type QueueConfig struct {
	Name string `yaml:"name"`
	// DeadLetterExchange receives notifications that ran out of retries
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
}

// ConnectionConfig holds connection retry settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the Redis connection used for rate limiting and sweep leadership
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds notification worker configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	Concurrency     int           `yaml:"concurrency"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DispatchConfig holds offer engine and sweep settings
type DispatchConfig struct {
	MaxAttempts       int              `yaml:"max_attempts"`
	ExpiryWindow      time.Duration    `yaml:"expiry_window"`
	AutoOffer         bool             `yaml:"auto_offer"`
	NotifyConcurrency int              `yaml:"notify_concurrency"`
	SweepSchedule     string           `yaml:"sweep_schedule"`
	SweepBatchSize    int              `yaml:"sweep_batch_size"`
	LeaderLock        LeaderLockConfig `yaml:"leader_lock"`
}

// LeaderLockConfig controls sweep leader election through Redis
type LeaderLockConfig struct {
	Enabled bool          `yaml:"enabled"`
	Key     string        `yaml:"key"`
	TTL     time.Duration `yaml:"ttl"`
}

// TimingConfig holds the offsets used to schedule jobs from a checkout
type TimingConfig struct {
	CleaningStartOffset    time.Duration `yaml:"cleaning_start_offset"`
	CleaningDuration       time.Duration `yaml:"cleaning_duration"`
	CreateInspection       *bool         `yaml:"create_inspection"`
	InspectionDuration     time.Duration `yaml:"inspection_duration"`
	MaintenanceStartOffset time.Duration `yaml:"maintenance_start_offset"`
	MaintenanceDuration    time.Duration `yaml:"maintenance_duration"`
}

// RateLimitConfig holds the per-staff accept limiter settings
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Capacity        int           `yaml:"capacity"`
	RefillPerSecond float64       `yaml:"refill_per_second"`
	TTL             time.Duration `yaml:"ttl"`
}

// NotificationConfig holds the downstream delivery endpoint
type NotificationConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// AuditConfig holds audit buffering settings
type AuditConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
	if c.RabbitMQ.Publish.BackoffMultiplier <= 0 {
		c.RabbitMQ.Publish.BackoffMultiplier = 2
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Dispatch.MaxAttempts <= 0 {
		c.Dispatch.MaxAttempts = 3
	}
	if c.Dispatch.ExpiryWindow <= 0 {
		c.Dispatch.ExpiryWindow = 15 * time.Minute
	}
	if c.Dispatch.SweepSchedule == "" {
		c.Dispatch.SweepSchedule = "@every 1m"
	}
	if c.Dispatch.LeaderLock.Key == "" {
		c.Dispatch.LeaderLock.Key = "dispatch:sweep:leader"
	}
	if c.Dispatch.LeaderLock.TTL <= 0 {
		c.Dispatch.LeaderLock.TTL = 30 * time.Second
	}
	if c.Notification.Timeout <= 0 {
		c.Notification.Timeout = 5 * time.Second
	}
}

// Apply overlays the configured timing on base
func (t TimingConfig) Apply(base domain.Timing) domain.Timing {
	if t.CleaningStartOffset > 0 {
		base.CleaningStartOffset = t.CleaningStartOffset
	}
	if t.CleaningDuration > 0 {
		base.CleaningDuration = t.CleaningDuration
	}
	if t.CreateInspection != nil {
		base.CreateInspection = *t.CreateInspection
	}
	if t.InspectionDuration > 0 {
		base.InspectionDuration = t.InspectionDuration
	}
	if t.MaintenanceStartOffset > 0 {
		base.MaintenanceStartOffset = t.MaintenanceStartOffset
	}
	if t.MaintenanceDuration > 0 {
		base.MaintenanceDuration = t.MaintenanceDuration
	}
	return base
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if err := c.validateDispatch(); err != nil {
		return err
	}

	if c.RateLimit.Enabled {
		if !c.Redis.Enabled {
			return fmt.Errorf("rate_limit requires redis to be enabled")
		}
		if c.RateLimit.Capacity <= 0 {
			return fmt.Errorf("rate_limit capacity must be greater than 0")
		}
		if c.RateLimit.RefillPerSecond <= 0 {
			return fmt.Errorf("rate_limit refill_per_second must be greater than 0")
		}
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if err := c.validateDispatch(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.DeliveryTimeout <= 0 {
		return fmt.Errorf("worker delivery_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Notification.WebhookURL == "" {
		return fmt.Errorf("notification webhook_url is required")
	}

	if c.Dispatch.LeaderLock.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("dispatch leader_lock requires redis to be enabled")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func (c *Config) validateDispatch() error {
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch max_attempts must be at least 1")
	}

	if c.Dispatch.ExpiryWindow <= 0 {
		return fmt.Errorf("dispatch expiry_window must be greater than 0")
	}

	return nil
}
