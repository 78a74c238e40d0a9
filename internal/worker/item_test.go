package worker

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	"github.com/cuongbtq/automation-worker/internal/worker/workertest"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAcknowledger struct {
	acks, nacks int
	requeued    bool
}

func (a *countingAcknowledger) Ack(uint64, bool) error {
	a.acks++
	return nil
}

func (a *countingAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeued = requeue
	return nil
}

func (a *countingAcknowledger) Reject(uint64, bool) error {
	return nil
}

func newTestItem(t *testing.T, store *workertest.Store, job domain.Job) (*JobItem[testPayload], *countingAcknowledger) {
	t.Helper()

	fixed := time.Date(2024, 3, 1, 4, 30, 0, 0, time.UTC)
	q := NewQueue[testPayload](testQueue, nil, QueueConfig{
		Store:      store,
		ScratchDir: t.TempDir(),
		Now:        func() time.Time { return fixed },
	})

	ack := &countingAcknowledger{}
	item := newJobItem(q, amqp.Delivery{Acknowledger: ack, DeliveryTag: 1}, job, testPayload{Name: "item"})
	require.NoError(t, item.RecordAttempt(context.Background()))
	return item, ack
}

func TestNormalizeProgress(t *testing.T) {
	tests := []struct {
		rate float64
		want float64
	}{
		{rate: 150, want: 100},
		{rate: -10, want: 0},
		{rate: 33.333, want: 33.33},
		{rate: 66.666, want: 66.67},
		{rate: 0, want: 0},
		{rate: 100, want: 100},
		{rate: math.Inf(1), want: 100},
		{rate: math.Inf(-1), want: 0},
		{rate: math.NaN(), want: 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeProgress(tt.rate), "rate %v", tt.rate)
	}
}

func TestJobItem_UpdateProgressPersistsNormalizedRate(t *testing.T) {
	ctx := context.Background()
	store := workertest.NewStore()
	item, _ := newTestItem(t, store, domain.Job{ID: "job-progress", QueueName: testQueue})

	require.NoError(t, item.UpdateProgress(ctx, 150))
	require.NoError(t, item.UpdateProgress(ctx, -10))
	require.NoError(t, item.UpdateProgressWithLabel(ctx, 33.333, "uploading"))

	assert.Equal(t, []float64{100, 0, 33.33}, store.ProgressHistory("job-progress"))
	assert.Equal(t, 33.33, item.Progress())

	job, _ := store.Job("job-progress")
	require.NotNil(t, job.ProgressLabel)
	assert.Equal(t, "uploading", *job.ProgressLabel)

	entries, err := job.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "Progress updated to 33.33% (uploading)", entries[2].Message)
}

func TestJobItem_RecordActivity(t *testing.T) {
	ctx := context.Background()
	store := workertest.NewStore()
	item, _ := newTestItem(t, store, domain.Job{ID: "job-activity"})

	require.NoError(t, item.RecordActivity(ctx, "first", domain.SeverityInfo))
	require.NoError(t, item.RecordAttempt(ctx))
	require.NoError(t, item.RecordActivity(ctx, "second", domain.SeverityWarn))

	job, _ := store.Job("job-activity")
	entries, err := job.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, domain.LogEntry{
		Message:   "first",
		Type:      domain.SeverityInfo,
		TimeInUTC: time.Date(2024, 3, 1, 4, 30, 0, 0, time.UTC),
		OnAttempt: 1,
	}, entries[0])
	assert.Equal(t, 2, entries[1].OnAttempt)
	assert.Equal(t, domain.SeverityWarn, entries[1].Type)
}

func TestJobItem_CanRetry(t *testing.T) {
	tests := []struct {
		name     string
		maxRetry int
		attempts int
		want     bool
	}{
		{name: "default on first attempt", maxRetry: 0, attempts: 1, want: false},
		{name: "one retry on first attempt", maxRetry: 1, attempts: 1, want: true},
		{name: "one retry on second attempt", maxRetry: 1, attempts: 2, want: false},
		{name: "three retries on third attempt", maxRetry: 3, attempts: 3, want: true},
		{name: "three retries on fourth attempt", maxRetry: 3, attempts: 4, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			item, _ := newTestItem(t, workertest.NewStore(), domain.Job{ID: "job-retry", MaxRetry: tt.maxRetry})
			for i := 1; i < tt.attempts; i++ {
				require.NoError(t, item.RecordAttempt(ctx))
			}

			assert.Equal(t, tt.attempts, item.Attempt())
			assert.Equal(t, tt.want, item.CanRetry())
		})
	}
}

func TestJobItem_AcknowledgeAndRequeueSettleOnce(t *testing.T) {
	ctx := context.Background()

	item, ack := newTestItem(t, workertest.NewStore(), domain.Job{ID: "job-ack"})
	require.NoError(t, item.Acknowledge(ctx))
	require.NoError(t, item.Acknowledge(ctx))
	require.NoError(t, item.requeue())
	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)

	item, ack = newTestItem(t, workertest.NewStore(), domain.Job{ID: "job-nack"})
	require.NoError(t, item.requeue())
	require.NoError(t, item.Acknowledge(ctx))
	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeued)
	assert.Zero(t, ack.acks)
}

func TestJobItem_TempDirClearedOncePerItem(t *testing.T) {
	store := workertest.NewStore()
	item, _ := newTestItem(t, store, domain.Job{ID: "job-tmp-1"})

	dir, err := item.TempDir()
	require.NoError(t, err)
	assert.Equal(t, testQueue, filepath.Base(dir))

	leftover := filepath.Join(dir, "leftover.txt")
	require.NoError(t, os.WriteFile(leftover, []byte("x"), 0o644))

	// same item: not cleared again
	again, err := item.TempDir()
	require.NoError(t, err)
	assert.Equal(t, dir, again)
	assert.FileExists(t, leftover)

	// a new item of the same queue clears the shared directory
	next := newJobItem(&Queue[testPayload]{
		name:       testQueue,
		store:      store,
		logger:     item.logger,
		scratchDir: filepath.Dir(dir),
		now:        time.Now,
	}, amqp.Delivery{}, domain.Job{ID: "job-tmp-2"}, testPayload{})

	nextDir, err := next.TempDir()
	require.NoError(t, err)
	assert.Equal(t, dir, nextDir)
	assert.NoFileExists(t, leftover)
}
