package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/automation-worker/internal/scheduler"
	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	"github.com/cuongbtq/automation-worker/shared/rabbitmq"
	"github.com/google/uuid"
)

// Publisher sends one message to a durable queue
type Publisher interface {
	PublishToQueue(ctx context.Context, queue string, msg rabbitmq.Message) error
}

// JobCreator inserts the job record before its message is published
type JobCreator interface {
	CreateJob(ctx context.Context, job *domain.Job) error
}

// ScheduleCounter counts the stored schedules
type ScheduleCounter interface {
	CountSchedules(ctx context.Context) (int, error)
}

var (
	// ErrQueueNameRequired is returned when a job has no target queue
	ErrQueueNameRequired = errors.New("queue name is required")

	// ErrPayloadNotObject is returned when a job payload is not a JSON object
	ErrPayloadNotObject = errors.New("payload must be a JSON object")
)

// Config holds producer configuration
type Config struct {
	Publisher      Publisher
	Jobs           JobCreator
	Schedules      ScheduleCounter
	SchedulerQueue string
	ShardSize      int
	Logger         *slog.Logger
	Now            func() time.Time
}

// Producer publishes jobs and scheduler ticks
type Producer struct {
	publisher      Publisher
	jobs           JobCreator
	schedules      ScheduleCounter
	schedulerQueue string
	shardSize      int
	logger         *slog.Logger
	now            func() time.Time
}

// New creates a new producer
func New(cfg Config) *Producer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	schedulerQueue := cfg.SchedulerQueue
	if schedulerQueue == "" {
		schedulerQueue = domain.DefaultSchedulerQueue
	}

	shardSize := cfg.ShardSize
	if shardSize <= 0 {
		shardSize = 500
	}

	return &Producer{
		publisher:      cfg.Publisher,
		jobs:           cfg.Jobs,
		schedules:      cfg.Schedules,
		schedulerQueue: schedulerQueue,
		shardSize:      shardSize,
		logger:         logger,
		now:            now,
	}
}

// EnqueueRequest describes one job to publish
type EnqueueRequest struct {
	QueueName   string
	WorkspaceID string
	Payload     json.RawMessage
	MaxRetry    int
}

// Enqueue stores the job record and publishes its message
func (p *Producer) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Job, error) {
	if req.QueueName == "" {
		return nil, ErrQueueNameRequired
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(payload, &object); err != nil || object == nil {
		return nil, ErrPayloadNotObject
	}

	createdAt := p.now().UTC()
	job := &domain.Job{
		ID:          uuid.NewString(),
		QueueName:   req.QueueName,
		WorkspaceID: req.WorkspaceID,
		Payload:     []byte(payload),
		MaxRetry:    max(req.MaxRetry, 0),
		Log:         []byte("[]"),
		CreatedAt:   createdAt,
	}

	if p.jobs != nil {
		if err := p.jobs.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to create job: %w", err)
		}
	}

	body, err := json.Marshal(domain.Message{
		ID:          job.ID,
		QueueName:   job.QueueName,
		WorkspaceID: job.WorkspaceID,
		Payload:     payload,
		MaxRetry:    job.MaxRetry,
		CreatedAt:   &createdAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.publisher.PublishToQueue(ctx, job.QueueName, rabbitmq.Message{
		MessageID: job.ID,
		Body:      body,
	}); err != nil {
		return nil, fmt.Errorf("failed to publish job: %w", err)
	}

	p.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("queue", job.QueueName),
		slog.Int("max_retry", job.MaxRetry),
	)

	return job, nil
}

// PublishTick publishes the scheduler messages for the minute containing tick,
// one per shard of schedules. It returns the number of messages published.
func (p *Producer) PublishTick(ctx context.Context, tick time.Time) (int, error) {
	tick = tick.UTC().Truncate(time.Minute)

	count, err := p.schedules.CountSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count schedules: %w", err)
	}

	shards := (count + p.shardSize - 1) / p.shardSize

	for i := range shards {
		payload, err := json.Marshal(scheduler.Payload{
			Timestamp: tick,
			Skip:      i * p.shardSize,
			Limit:     p.shardSize,
		})
		if err != nil {
			return i, fmt.Errorf("failed to marshal tick payload: %w", err)
		}

		// Stable per minute and shard: a duplicate tick lands on the same job
		// record as another attempt, with its log entries appended under it
		id := fmt.Sprintf("tick-%s-%d", tick.Format("200601021504"), i)
		createdAt := p.now().UTC()

		body, err := json.Marshal(domain.Message{
			ID:        id,
			QueueName: p.schedulerQueue,
			Payload:   payload,
			CreatedAt: &createdAt,
		})
		if err != nil {
			return i, fmt.Errorf("failed to marshal tick message: %w", err)
		}

		if err := p.publisher.PublishToQueue(ctx, p.schedulerQueue, rabbitmq.Message{
			MessageID: id,
			Body:      body,
		}); err != nil {
			return i, fmt.Errorf("failed to publish tick shard %d: %w", i, err)
		}
	}

	p.logger.Info("Scheduler tick published",
		slog.Time("tick", tick),
		slog.Int("schedules", count),
		slog.Int("shards", shards),
	)

	return shards, nil
}
