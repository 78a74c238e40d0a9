package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration. Values come from
// the YAML file and are then overridden by environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Queues    QueuesConfig    `yaml:"queues"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Execution ExecutionConfig `yaml:"execution"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL             string        `yaml:"url" env:"DATABASE_URL"`
	Host            string        `yaml:"host" env:"DB_HOST"`
	Port            int           `yaml:"port" env:"DB_PORT"`
	User            string        `yaml:"user" env:"DB_USER"`
	Password        string        `yaml:"password" env:"DB_PASSWORD"`
	Database        string        `yaml:"database" env:"DB_NAME"`
	SSLMode         string        `yaml:"sslmode" env:"DB_SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection configuration
type RabbitMQConfig struct {
	URL        string           `yaml:"url" env:"AMQP_URL"`
	Host       string           `yaml:"host" env:"RABBITMQ_HOST"`
	Port       int              `yaml:"port" env:"RABBITMQ_PORT"`
	User       string           `yaml:"user" env:"RABBITMQ_USER"`
	Password   string           `yaml:"password" env:"RABBITMQ_PASSWORD"`
	VHost      string           `yaml:"vhost" env:"RABBITMQ_VHOST"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// RedisConfig holds the optional Redis connection used for scheduler de-duplication
type RedisConfig struct {
	Addr        string        `yaml:"addr" env:"REDIS_ADDR"`
	Password    string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"REDIS_DB"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Enabled reports whether Redis is configured
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Format       string `yaml:"format" env:"LOG_FORMAT"`
	Output       string `yaml:"output" env:"LOG_OUTPUT"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"APP_ENV"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	// EnabledQueues restricts which handlers run; empty means all
	EnabledQueues   []string      `yaml:"enabled_queues" env:"ENABLED_QUEUES" envSeparator:","`
	ScratchDir      string        `yaml:"scratch_dir" env:"WORKER_SCRATCH_DIR"`
	ConsumerTag     string        `yaml:"consumer_tag" env:"WORKER_CONSUMER_TAG"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// QueuesConfig holds the broker queue name of every handler
type QueuesConfig struct {
	Scheduler string `yaml:"scheduler" env:"SCHEDULER_QUEUE_NAME"`
	Test      string `yaml:"test" env:"TEST_QUEUE_NAME"`
}

// SchedulerConfig holds scheduler matching engine and tick publishing configuration
type SchedulerConfig struct {
	ShardSize            int           `yaml:"shard_size" env:"SCHEDULER_SHARD_SIZE"`
	TriggerRatePerSecond float64       `yaml:"trigger_rate_per_second" env:"SCHEDULER_TRIGGER_RATE"`
	TriggerBurst         int           `yaml:"trigger_burst"`
	FireGuardTTL         time.Duration `yaml:"fire_guard_ttl"`
	FireGuardPrefix      string        `yaml:"fire_guard_prefix"`
	// TestDID replaces the generated actor identity; for tests only
	TestDID string `yaml:"test_did" env:"TEST_DID"`
}

// ExecutionConfig holds the application server the scheduler triggers executions on
type ExecutionConfig struct {
	AppURL  string        `yaml:"app_url" env:"APP_URL"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load reads the configuration file, applies environment overrides and fills defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills unset values
func (c *Config) ApplyDefaults() {
	if c.Queues.Scheduler == "" {
		c.Queues.Scheduler = "scheduler"
	}
	if c.Queues.Test == "" {
		c.Queues.Test = "test-queue"
	}
	if c.Scheduler.ShardSize <= 0 {
		c.Scheduler.ShardSize = 500
	}
	if c.Scheduler.TriggerBurst <= 0 {
		c.Scheduler.TriggerBurst = 1
	}
	if c.Scheduler.FireGuardTTL <= 0 {
		c.Scheduler.FireGuardTTL = 2 * time.Minute
	}
	if c.Scheduler.FireGuardPrefix == "" {
		c.Scheduler.FireGuardPrefix = "scheduler:fired:"
	}
	if c.Execution.Timeout <= 0 {
		c.Execution.Timeout = 30 * time.Second
	}
	if c.Worker.ScratchDir == "" {
		c.Worker.ScratchDir = filepath.Join(os.TempDir(), "automation-worker")
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	enabled := make([]string, 0, len(c.Worker.EnabledQueues))
	for _, name := range c.Worker.EnabledQueues {
		if name = strings.TrimSpace(name); name != "" {
			enabled = append(enabled, name)
		}
	}
	c.Worker.EnabledQueues = enabled
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateConnections(); err != nil {
		return err
	}

	if c.Execution.AppURL == "" {
		return fmt.Errorf("execution app_url is required")
	}

	u, err := url.Parse(c.Execution.AppURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid execution app_url: %q", c.Execution.AppURL)
	}

	if c.Scheduler.TriggerRatePerSecond < 0 {
		return fmt.Errorf("scheduler trigger_rate_per_second must not be negative")
	}

	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.validateConnections()
}

// ValidateCLIConfig checks the settings jobctl needs
func (c *Config) ValidateCLIConfig() error {
	return c.validateConnections()
}

func (c *Config) validateConnections() error {
	if c.Database.URL == "" {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.RabbitMQ.URL == "" {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
	}

	if c.Queues.Scheduler == "" || c.Queues.Test == "" {
		return errors.New("queue names must not be empty")
	}

	if c.Scheduler.ShardSize <= 0 {
		return fmt.Errorf("scheduler shard_size must be greater than 0")
	}

	return nil
}
