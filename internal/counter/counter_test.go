package counter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/automation-worker/internal/worker"
	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	"github.com/cuongbtq/automation-worker/internal/worker/workertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T, q worker.Listener, broker *workertest.Broker) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, q.Listen(ctx, broker))
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func TestHandler_EndToEnd(t *testing.T) {
	broker := workertest.NewBroker()
	store := workertest.NewStore()

	q := worker.NewQueue[Payload]("test-queue", NewHandler(), worker.QueueConfig{
		Store:      store,
		ScratchDir: t.TempDir(),
	})
	stop := listen(t, q, broker)
	defer stop()

	_, err := broker.PublishJSON("test-queue", map[string]any{
		"queueName": "test-queue",
		"payload":   map[string]any{"countUpto": 3, "intervalInMs": 10},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return broker.Acks() == 1 }, 2*time.Second, 10*time.Millisecond)
	stop()

	ids := store.JobIDs()
	require.Len(t, ids, 1)

	history := store.ProgressHistory(ids[0])
	require.GreaterOrEqual(t, len(history), 3)
	assert.Equal(t, []float64{33.33, 66.67, 100}, history[:3])
	assert.Equal(t, float64(100), history[len(history)-1])

	job, ok := store.Job(ids[0])
	require.True(t, ok)
	assert.Equal(t, 1, job.Attempt)
	require.NotNil(t, job.ProgressLabel)
	assert.Equal(t, "3/3", *job.ProgressLabel)

	entries, err := job.Entries()
	require.NoError(t, err)
	assert.Equal(t, "Process starting", entries[0].Message)
	assert.Equal(t, "Process finished", entries[len(entries)-1].Message)
	assert.Equal(t, domain.SeveritySuccess, entries[len(entries)-1].Type)
	assert.Zero(t, broker.Nacks())
}

func TestHandler_InvalidPayloadIsArchived(t *testing.T) {
	broker := workertest.NewBroker()
	store := workertest.NewStore()

	q := worker.NewQueue[Payload]("test-queue", NewHandler(), worker.QueueConfig{Store: store})
	stop := listen(t, q, broker)
	defer stop()

	_, err := broker.PublishJSON("test-queue", map[string]any{
		"payload": map[string]any{"countUpto": 0},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return broker.Acks() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, store.Errored(), 1)
	assert.Empty(t, store.JobIDs())
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), 0))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
