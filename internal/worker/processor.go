package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// jobNamespace seeds deterministic job IDs for messages published without one
var jobNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("automation-worker/jobs"))

// process handles a single delivery: parse, record the attempt, run the
// handler and settle the delivery according to the outcome and retry policy.
// stop interrupts the backoff before a requeue.
func (q *Queue[P]) process(ctx context.Context, stop <-chan struct{}, delivery amqp.Delivery) {
	var msg domain.Message
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		q.discard(ctx, delivery, fmt.Errorf("failed to parse message: %w", err))
		return
	}

	payload, err := q.decodePayload(msg.Payload)
	if err != nil {
		q.discard(ctx, delivery, err)
		return
	}

	item := newJobItem(q, delivery, q.jobFromMessage(delivery, msg), payload)

	if err := item.RecordAttempt(ctx); err != nil {
		q.attemptNotRecorded(ctx, stop, item, delivery, err)
		return
	}
	q.storeFailures = 0

	q.record(ctx, item, "Process starting", domain.SeverityInfo)

	if err := q.invoke(ctx, item); err != nil {
		q.fail(ctx, item, err)
		return
	}

	q.finish(ctx, item)
}

// attemptNotRecorded settles a delivery whose attempt could not be persisted.
// A record the store rejects for good is archived like a malformed message;
// any other failure goes back to the broker after a growing delay, so a
// database outage neither spins the consumer nor counts as an attempt.
func (q *Queue[P]) attemptNotRecorded(ctx context.Context, stop <-chan struct{}, item *JobItem[P], delivery amqp.Delivery, err error) {
	if errors.Is(err, domain.ErrJobRejected) {
		q.storeFailures = 0
		q.discard(ctx, delivery, err)
		return
	}

	q.storeFailures++
	delay := q.backoff(q.storeFailures)

	q.logger.Error("Failed to record job attempt",
		slog.String("job_id", item.ID()),
		slog.Int("consecutive_failures", q.storeFailures),
		slog.Duration("requeue_in", delay),
		slog.Any("error", err),
	)

	timer := time.NewTimer(delay)
	select {
	case <-timer.C:
	case <-stop:
		timer.Stop()
	}

	if nackErr := item.requeue(); nackErr != nil {
		q.logger.Error("Failed to NACK message",
			slog.String("job_id", item.ID()),
			slog.Any("error", nackErr),
		)
	}
}

// backoff doubles the requeue delay per consecutive failure, capped at maxRequeueDelay
func (q *Queue[P]) backoff(failures int) time.Duration {
	delay := q.requeueDelay
	for i := 1; i < failures && delay < q.maxRequeueDelay; i++ {
		delay *= 2
	}
	return min(delay, q.maxRequeueDelay)
}

// invoke runs the handler, converting a panic into an error
func (q *Queue[P]) invoke(ctx context.Context, item *JobItem[P]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.HandlerPanicError{Value: r}
		}
	}()

	return q.handler.OnItem(ctx, item)
}

func (q *Queue[P]) finish(ctx context.Context, item *JobItem[P]) {
	if err := item.UpdateProgress(ctx, domain.MaxProgress); err != nil {
		q.logger.Error("Failed to update job progress",
			slog.String("job_id", item.ID()),
			slog.Any("error", err),
		)
	}

	if err := item.Acknowledge(ctx); err != nil {
		q.logger.Error("Failed to ACK message",
			slog.String("job_id", item.ID()),
			slog.Any("error", err),
		)
	}

	q.record(ctx, item, "Process finished", domain.SeveritySuccess)
}

func (q *Queue[P]) fail(ctx context.Context, item *JobItem[P], cause error) {
	q.record(ctx, item, "Process failed: "+cause.Error(), domain.SeverityError)

	if item.CanRetry() {
		q.record(ctx, item, "Retrying...", domain.SeverityWarn)
		if err := item.requeue(); err != nil {
			q.logger.Error("Failed to NACK message",
				slog.String("job_id", item.ID()),
				slog.Any("error", err),
			)
		}
		return
	}

	q.record(ctx, item, "Max attempt reached, removing from the queue", domain.SeverityWarn)
	if err := item.Acknowledge(ctx); err != nil {
		q.logger.Error("Failed to ACK message",
			slog.String("job_id", item.ID()),
			slog.Any("error", err),
		)
	}
}

// discard archives an unusable message and acks it so it is never redelivered
func (q *Queue[P]) discard(ctx context.Context, delivery amqp.Delivery, cause error) {
	q.logger.Error("Discarding unprocessable message",
		slog.Any("error", cause),
		slog.Int("body_size", len(delivery.Body)),
	)

	errored := &domain.ErroredJob{
		Payload:   string(delivery.Body),
		Error:     cause.Error(),
		CreatedAt: q.now().UTC(),
	}
	if err := q.store.InsertErroredJob(ctx, errored); err != nil {
		q.logger.Error("Failed to archive errored job",
			slog.Any("error", err),
		)
	}

	if err := delivery.Ack(false); err != nil {
		q.logger.Error("Failed to ACK malformed message",
			slog.Any("error", err),
		)
	}
}

// record appends to the activity log; failures are logged and otherwise ignored
func (q *Queue[P]) record(ctx context.Context, item *JobItem[P], message string, severity domain.Severity) {
	if err := item.RecordActivity(ctx, message, severity); err != nil {
		q.logger.Error("Failed to append job log",
			slog.String("job_id", item.ID()),
			slog.Any("error", err),
		)
	}
}

// jobFromMessage builds the job record a delivery refers to. The ID is stable
// across redeliveries of the same message.
func (q *Queue[P]) jobFromMessage(delivery amqp.Delivery, msg domain.Message) domain.Job {
	id := msg.ID
	if id == "" {
		id = delivery.MessageId
	}
	if id == "" {
		id = uuid.NewSHA1(jobNamespace, delivery.Body).String()
	}

	createdAt := q.now().UTC()
	switch {
	case msg.CreatedAt != nil:
		createdAt = msg.CreatedAt.UTC()
	case !delivery.Timestamp.IsZero():
		createdAt = delivery.Timestamp.UTC()
	}

	return domain.Job{
		ID:          id,
		QueueName:   q.name,
		WorkspaceID: msg.WorkspaceID,
		Payload:     []byte(msg.Payload),
		MaxRetry:    max(msg.MaxRetry, 0),
		CreatedAt:   createdAt,
	}
}
