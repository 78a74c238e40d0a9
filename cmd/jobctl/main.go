package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/automation-worker/internal/api/storage"
	"github.com/cuongbtq/automation-worker/internal/cli"
	"github.com/cuongbtq/automation-worker/internal/config"
	"github.com/cuongbtq/automation-worker/internal/producer"
	workerstorage "github.com/cuongbtq/automation-worker/internal/worker/storage"
	"github.com/cuongbtq/automation-worker/shared/logger"
	"github.com/cuongbtq/automation-worker/shared/postgresql"
	"github.com/cuongbtq/automation-worker/shared/rabbitmq"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	defaultConfigPath := os.Getenv("JOBCTL_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/jobctl/config.yaml"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(open, defaultConfigPath).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// open connects to PostgreSQL and RabbitMQ and builds the producer
func open(configPath string) (cli.Producer, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateCLIConfig(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       "stderr",
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		URL:      cfg.Database.URL,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	}, appLogger.Logger)
	if err != nil {
		appLogger.Close()
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
		URL:                cfg.RabbitMQ.URL,
		Host:               cfg.RabbitMQ.Host,
		Port:               cfg.RabbitMQ.Port,
		User:               cfg.RabbitMQ.User,
		Password:           cfg.RabbitMQ.Password,
		VHost:              cfg.RabbitMQ.VHost,
		RetryAttempts:      cfg.RabbitMQ.Connection.RetryAttempts,
		RetryInterval:      cfg.RabbitMQ.Connection.RetryInterval,
		Heartbeat:          cfg.RabbitMQ.Connection.Heartbeat,
		ConnectionTimeout:  cfg.RabbitMQ.Connection.ConnectionTimeout,
		PublishRetries:     cfg.RabbitMQ.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.RabbitMQ.Publish.RetryInterval,
		PublishBackoffMult: cfg.RabbitMQ.Publish.BackoffMultiplier,
	}, appLogger.Logger)
	if err != nil {
		dbClient.Close()
		appLogger.Close()
		return nil, nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	closeAll := func() {
		rabbitClient.Close()
		dbClient.Close()
		appLogger.Close()
	}

	for _, name := range []string{cfg.Queues.Scheduler, cfg.Queues.Test} {
		if err := rabbitClient.DeclareQueue(name); err != nil {
			closeAll()
			return nil, nil, err
		}
	}

	p := producer.New(producer.Config{
		Publisher:      rabbitClient,
		Jobs:           storage.NewStorage(dbClient.GetDB()),
		Schedules:      workerstorage.NewStorage(dbClient.GetDB(), appLogger.Logger),
		SchedulerQueue: cfg.Queues.Scheduler,
		ShardSize:      cfg.Scheduler.ShardSize,
		Logger:         appLogger.Logger.With(slog.String("component", "jobctl")),
	})

	return p, closeAll, nil
}
