package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/cuongbtq/automation-worker/internal/config"
	"github.com/cuongbtq/automation-worker/internal/execution"
	"github.com/cuongbtq/automation-worker/internal/queues"
	"github.com/cuongbtq/automation-worker/internal/scheduler"
	"github.com/cuongbtq/automation-worker/internal/worker"
	"github.com/cuongbtq/automation-worker/internal/worker/storage"
	"github.com/cuongbtq/automation-worker/shared/logger"
	"github.com/cuongbtq/automation-worker/shared/postgresql"
	"github.com/cuongbtq/automation-worker/shared/rabbitmq"
	sharedredis "github.com/cuongbtq/automation-worker/shared/redis"
	"github.com/joho/godotenv"
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
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	guard, closeGuard, err := initFireGuard(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize fire guard: %w", err)
	}
	defer closeGuard()

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)

	executions := execution.NewClient(execution.Config{
		AppURL:  cfg.Execution.AppURL,
		Timeout: cfg.Execution.Timeout,
		Logger:  appLogger.Logger,
	})

	registry := worker.NewRegistry()
	started, err := queues.Load(registry, queues.Dependencies{
		Logger: appLogger.Logger,
		Queue: worker.QueueConfig{
			Store:       store,
			Logger:      appLogger.Logger,
			ScratchDir:  cfg.Worker.ScratchDir,
			ConsumerTag: cfg.Worker.ConsumerTag,
		},
		SchedulerQueueName:   cfg.Queues.Scheduler,
		TestQueueName:        cfg.Queues.Test,
		ScheduleStore:        store,
		Triggerer:            executions,
		Guard:                guard,
		TriggerRatePerSecond: cfg.Scheduler.TriggerRatePerSecond,
		TriggerBurst:         cfg.Scheduler.TriggerBurst,
		ActorID:              cfg.Scheduler.TestDID,
	}, cfg.Worker.EnabledQueues)
	if err != nil {
		return fmt.Errorf("failed to load queues: %w", err)
	}

	appLogger.Info("Queues registered",
		slog.Any("queues", started),
	)

	manager := worker.NewManager(&worker.Config{
		Logger:   appLogger.Logger,
		Registry: registry,
		Channel:  rabbitClient.GetChannel(),
		Closed:   rabbitClient.NotifyClose(),
	})

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- manager.Run(ctx)
	}()

	appLogger.Info("Worker service started successfully")

	select {
	case err := <-errChan:
		// Broker loss is fatal; the supervisor restarts the process
		if err != nil {
			return fmt.Errorf("worker stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
		appLogger.Info("Received signal, shutting down gracefully")
	}

	// In-flight messages finish before the manager returns
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, worker.ErrBrokerClosed) {
			appLogger.Error("Worker error during shutdown",
				slog.Any("error", err),
			)
		}
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		URL:             cfg.URL,
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
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		URL:               cfg.URL,
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		ConnectionTimeout: cfg.Connection.ConnectionTimeout,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initFireGuard connects to Redis when configured. Without Redis every
// due schedule fires and duplicate ticks are not suppressed.
func initFireGuard(cfg *config.Config, logger *slog.Logger) (scheduler.FireGuard, func(), error) {
	if !cfg.Redis.Enabled() {
		logger.Warn("Redis not configured, scheduler fire de-duplication disabled")
		return scheduler.NopGuard{}, func() {}, nil
	}

	client, err := sharedredis.NewClient(&sharedredis.Config{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	guard := scheduler.NewRedisGuard(client, cfg.Scheduler.FireGuardPrefix, cfg.Scheduler.FireGuardTTL)
	return guard, func() { client.Close() }, nil
}
