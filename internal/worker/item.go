package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// JobItem is the per-delivery view of a job. All state changes go through
// it so the job record and its activity log stay in step with processing.
type JobItem[P any] struct {
	// Payload is the decoded and validated job payload
	Payload P

	delivery    amqp.Delivery
	store       JobStore
	logger      *slog.Logger
	scratchRoot string
	now         func() time.Time

	mu   sync.Mutex
	job  domain.Job
	done bool

	scratchOnce sync.Once
	scratchDir  string
	scratchErr  error
}

func newJobItem[P any](q *Queue[P], delivery amqp.Delivery, job domain.Job, payload P) *JobItem[P] {
	return &JobItem[P]{
		Payload:     payload,
		delivery:    delivery,
		store:       q.store,
		logger:      q.logger.With(slog.String("job_id", job.ID)),
		scratchRoot: filepath.Join(q.scratchDir, q.name),
		now:         q.now,
		job:         job,
	}
}

// ID returns the job identifier
func (i *JobItem[P]) ID() string {
	return i.job.ID
}

// QueueName returns the queue the job was delivered on
func (i *JobItem[P]) QueueName() string {
	return i.job.QueueName
}

// WorkspaceID returns the workspace the job belongs to
func (i *JobItem[P]) WorkspaceID() string {
	return i.job.WorkspaceID
}

// Attempt returns the currently recorded attempt number
func (i *JobItem[P]) Attempt() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.job.Attempt
}

// Progress returns the last persisted progress rate
func (i *JobItem[P]) Progress() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.job.Progress
}

// Done reports whether the delivery has been acknowledged
func (i *JobItem[P]) Done() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.done
}

// RecordAttempt persists attempt+1 before a processing try begins
func (i *JobItem[P]) RecordAttempt(ctx context.Context) error {
	i.mu.Lock()
	job := i.job
	i.mu.Unlock()

	stored, err := i.store.RecordAttempt(ctx, &job)
	if err != nil {
		return err
	}

	i.mu.Lock()
	i.job.Attempt = max(stored.Attempt, 0)
	i.job.MaxRetry = max(stored.MaxRetry, 0)
	i.job.Progress = stored.Progress
	i.job.ProgressLabel = stored.ProgressLabel
	i.mu.Unlock()

	return nil
}

// CanRetry reports whether another attempt is allowed after the current one.
// A job with maxRetry m runs at most m+1 times; the default maxRetry is 0.
func (i *JobItem[P]) CanRetry() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	retriesUsed := max(i.job.Attempt-1, 0)
	return retriesUsed < i.job.MaxRetry
}

// RecordActivity appends one entry to the job's activity log, tagged with the current attempt
func (i *JobItem[P]) RecordActivity(ctx context.Context, message string, severity domain.Severity) error {
	entry := domain.LogEntry{
		Message:   message,
		Type:      severity,
		TimeInUTC: i.now().UTC(),
		OnAttempt: i.Attempt(),
	}

	i.logger.Log(ctx, levelFor(severity), message, slog.Int("attempt", entry.OnAttempt))

	if err := i.store.AppendLog(ctx, i.job.ID, entry); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// UpdateProgress clamps rate into [0,100], rounds it to two decimals and persists it
func (i *JobItem[P]) UpdateProgress(ctx context.Context, rate float64) error {
	return i.updateProgress(ctx, rate, nil)
}

// UpdateProgressWithLabel is UpdateProgress that also sets the progress label
func (i *JobItem[P]) UpdateProgressWithLabel(ctx context.Context, rate float64, label string) error {
	return i.updateProgress(ctx, rate, &label)
}

func (i *JobItem[P]) updateProgress(ctx context.Context, rate float64, label *string) error {
	progress := NormalizeProgress(rate)

	if err := i.store.UpdateProgress(ctx, i.job.ID, progress, label); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}

	i.mu.Lock()
	i.job.Progress = progress
	if label != nil {
		i.job.ProgressLabel = label
	}
	i.mu.Unlock()

	message := fmt.Sprintf("Progress updated to %.2f%%", progress)
	if label != nil {
		message = fmt.Sprintf("%s (%s)", message, *label)
	}
	return i.RecordActivity(ctx, message, domain.SeverityInfo)
}

// Acknowledge acks the delivery once; later calls are no-ops
func (i *JobItem[P]) Acknowledge(ctx context.Context) error {
	i.mu.Lock()
	if i.done {
		i.mu.Unlock()
		return nil
	}
	if err := i.delivery.Ack(false); err != nil {
		i.mu.Unlock()
		return fmt.Errorf("failed to ack delivery: %w", err)
	}
	i.done = true
	i.mu.Unlock()

	return i.RecordActivity(ctx, "Job acknowledged", domain.SeverityInfo)
}

// requeue nacks the delivery so the broker redelivers it. Settled deliveries are left alone.
func (i *JobItem[P]) requeue() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.done {
		return nil
	}
	if err := i.delivery.Nack(false, true); err != nil {
		return fmt.Errorf("failed to nack delivery: %w", err)
	}
	i.done = true
	return nil
}

// TempDir returns the queue's scratch directory. It is emptied on the first
// call for this item only; other items of the same queue share it.
func (i *JobItem[P]) TempDir() (string, error) {
	i.scratchOnce.Do(func() {
		if err := os.RemoveAll(i.scratchRoot); err != nil {
			i.scratchErr = fmt.Errorf("failed to clear scratch directory: %w", err)
			return
		}
		if err := os.MkdirAll(i.scratchRoot, 0o755); err != nil {
			i.scratchErr = fmt.Errorf("failed to create scratch directory: %w", err)
			return
		}
		i.scratchDir = i.scratchRoot
	})
	return i.scratchDir, i.scratchErr
}

// NormalizeProgress clamps rate into [0,100] and rounds it to two decimal places.
// NaN is treated as 0.
func NormalizeProgress(rate float64) float64 {
	if math.IsNaN(rate) {
		return domain.MinProgress
	}
	rate = math.Min(math.Max(rate, domain.MinProgress), domain.MaxProgress)
	return math.Round(rate*100) / 100
}

func levelFor(severity domain.Severity) slog.Level {
	switch severity {
	case domain.SeverityError:
		return slog.LevelError
	case domain.SeverityWarn:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
