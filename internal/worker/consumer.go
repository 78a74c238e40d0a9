package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// prefetchCount bounds unacknowledged deliveries per consumer. One message in
// flight keeps each queue strictly sequential.
const prefetchCount = 1

// Channel is the subset of *amqp.Channel a queue consumes with
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Listen declares the durable queue, limits prefetch to one and processes
// deliveries until ctx is canceled or the broker closes the delivery stream
func (q *Queue[P]) Listen(ctx context.Context, ch Channel) error {
	deliveries, err := q.setupConsumer(ch)
	if err != nil {
		return err
	}

	q.logger.Info("Queue listening")

	// In-flight messages run to completion even when shutdown starts
	processCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Queue stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				q.logger.Warn("RabbitMQ delivery channel closed")
				return fmt.Errorf("queue %s: %w", q.name, domain.ErrDeliveriesClosed)
			}

			q.logger.Debug("Message received",
				slog.Uint64("delivery_tag", delivery.DeliveryTag),
				slog.Bool("redelivered", delivery.Redelivered),
			)

			q.process(processCtx, ctx.Done(), delivery)
		}
	}
}

// setupConsumer declares the queue, sets QoS and starts a manual-ack consumer
func (q *Queue[P]) setupConsumer(ch Channel) (<-chan amqp.Delivery, error) {
	if ch == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	_, err := ch.QueueDeclare(
		q.name, // name
		true,   // durable
		false,  // auto-delete
		false,  // exclusive
		false,  // no-wait
		nil,    // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", q.name, err)
	}

	// global=false: the limit applies to the consumer created next on this channel
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.Consume(
		q.name,        // queue
		q.consumerTag, // consumer tag
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", q.name, err)
	}

	q.logger.Info("RabbitMQ consumer started",
		slog.Int("prefetch_count", prefetchCount),
		slog.String("consumer_tag", q.consumerTag),
	)

	return deliveries, nil
}
