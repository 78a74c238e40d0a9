package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// ErrBrokerClosed is returned by Run when the broker connection or channel goes away
var ErrBrokerClosed = errors.New("broker connection closed")

// Config holds manager configuration
type Config struct {
	Logger   *slog.Logger
	Registry *Registry
	// Channel is the single channel every queue consumes on
	Channel Channel
	// Closed receives connection or channel close notifications
	Closed <-chan *amqp.Error
}

// Manager runs every registered queue on one shared broker channel
type Manager struct {
	logger   *slog.Logger
	registry *Registry
	channel  Channel
	closed   <-chan *amqp.Error
}

// NewManager creates a new manager instance
func NewManager(cfg *Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		logger:   logger,
		registry: cfg.Registry,
		channel:  cfg.Channel,
		closed:   cfg.Closed,
	}
}

// Run starts all queues and blocks until ctx is canceled (returns nil) or the
// broker transport fails (returns an error). There is no reconnect; the
// process is expected to exit and be restarted by its supervisor.
func (m *Manager) Run(ctx context.Context) error {
	if m.registry == nil || m.registry.Len() == 0 {
		return fmt.Errorf("no queues registered")
	}

	m.logger.Info("Starting queues",
		slog.Any("queues", m.registry.Names()),
	)

	g, gctx := errgroup.WithContext(ctx)

	for _, listener := range m.registry.Listeners() {
		g.Go(func() error {
			return listener.Listen(gctx, m.channel)
		})
	}

	g.Go(func() error {
		return m.watchBroker(gctx)
	})

	err := g.Wait()
	if err != nil {
		m.logger.Error("Worker stopped with fatal error",
			slog.Any("error", err),
		)
		return err
	}

	m.logger.Info("Worker stopped")
	return nil
}

// watchBroker turns a close notification into a fatal error
func (m *Manager) watchBroker(ctx context.Context) error {
	if m.closed == nil {
		<-ctx.Done()
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case amqpErr, ok := <-m.closed:
		if !ok || amqpErr == nil {
			return ErrBrokerClosed
		}
		return fmt.Errorf("%w: %s (code %d)", ErrBrokerClosed, amqpErr.Reason, amqpErr.Code)
	}
}
