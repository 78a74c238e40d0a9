package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/automation-worker/internal/scheduler"
	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	"github.com/cuongbtq/automation-worker/shared/rabbitmq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishToQueue(ctx context.Context, queue string, msg rabbitmq.Message) error {
	return m.Called(ctx, queue, msg).Error(0)
}

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) CreateJob(ctx context.Context, job *domain.Job) error {
	return m.Called(ctx, job).Error(0)
}

type mockSchedules struct {
	mock.Mock
}

func (m *mockSchedules) CountSchedules(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

var fixedNow = time.Date(2024, 3, 1, 4, 30, 12, 0, time.UTC)

func TestProducer_Enqueue(t *testing.T) {
	ctx := context.Background()
	publisher := new(mockPublisher)
	jobs := new(mockJobs)

	var published rabbitmq.Message
	jobs.On("CreateJob", ctx, mock.AnythingOfType("*domain.Job")).Return(nil)
	publisher.On("PublishToQueue", ctx, "test-queue", mock.Anything).Run(func(args mock.Arguments) {
		published = args.Get(2).(rabbitmq.Message)
	}).Return(nil)

	p := New(Config{Publisher: publisher, Jobs: jobs, Now: func() time.Time { return fixedNow }})

	job, err := p.Enqueue(ctx, EnqueueRequest{
		QueueName:   "test-queue",
		WorkspaceID: "ws-1",
		Payload:     json.RawMessage(`{"countUpto":3,"intervalInMs":10}`),
		MaxRetry:    2,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, job.ID, published.MessageID)
	assert.Equal(t, 2, job.MaxRetry)
	assert.Equal(t, fixedNow, job.CreatedAt)

	var msg domain.Message
	require.NoError(t, json.Unmarshal(published.Body, &msg))
	assert.Equal(t, job.ID, msg.ID)
	assert.Equal(t, "test-queue", msg.QueueName)
	assert.Equal(t, "ws-1", msg.WorkspaceID)
	assert.Equal(t, 2, msg.MaxRetry)
	assert.JSONEq(t, `{"countUpto":3,"intervalInMs":10}`, string(msg.Payload))

	jobs.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestProducer_EnqueueValidation(t *testing.T) {
	p := New(Config{Publisher: new(mockPublisher)})

	_, err := p.Enqueue(context.Background(), EnqueueRequest{Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrQueueNameRequired)

	for _, payload := range []string{`[1,2]`, `"text"`, `null`, `{broken`} {
		_, err := p.Enqueue(context.Background(), EnqueueRequest{QueueName: "q", Payload: json.RawMessage(payload)})
		assert.ErrorIs(t, err, ErrPayloadNotObject, payload)
	}
}

func TestProducer_EnqueueStopsWhenRecordFails(t *testing.T) {
	ctx := context.Background()
	publisher := new(mockPublisher)
	jobs := new(mockJobs)
	jobs.On("CreateJob", ctx, mock.Anything).Return(errors.New("insert failed"))

	_, err := New(Config{Publisher: publisher, Jobs: jobs}).Enqueue(ctx, EnqueueRequest{QueueName: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create job")
	publisher.AssertNotCalled(t, "PublishToQueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestProducer_PublishTick(t *testing.T) {
	tests := []struct {
		name       string
		count      int
		shardSize  int
		wantShards int
	}{
		{name: "no schedules", count: 0, shardSize: 100, wantShards: 0},
		{name: "fewer than one shard", count: 7, shardSize: 100, wantShards: 1},
		{name: "exact multiple", count: 200, shardSize: 100, wantShards: 2},
		{name: "remainder", count: 201, shardSize: 100, wantShards: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			publisher := new(mockPublisher)
			schedules := new(mockSchedules)
			schedules.On("CountSchedules", ctx).Return(tt.count, nil)

			var payloads []scheduler.Payload
			var ids []string
			publisher.On("PublishToQueue", ctx, "scheduler", mock.Anything).Run(func(args mock.Arguments) {
				msg := args.Get(2).(rabbitmq.Message)
				var body domain.Message
				require.NoError(t, json.Unmarshal(msg.Body, &body))
				var payload scheduler.Payload
				require.NoError(t, json.Unmarshal(body.Payload, &payload))
				payloads = append(payloads, payload)
				ids = append(ids, msg.MessageID)
			}).Return(nil)

			p := New(Config{Publisher: publisher, Schedules: schedules, ShardSize: tt.shardSize})

			n, err := p.PublishTick(ctx, fixedNow)
			require.NoError(t, err)
			assert.Equal(t, tt.wantShards, n)
			require.Len(t, payloads, tt.wantShards)

			tick := time.Date(2024, 3, 1, 4, 30, 0, 0, time.UTC)
			for i, payload := range payloads {
				assert.True(t, tick.Equal(payload.Timestamp))
				assert.Equal(t, i*tt.shardSize, payload.Skip)
				assert.Equal(t, tt.shardSize, payload.Limit)
			}
			if tt.wantShards > 0 {
				assert.Equal(t, "tick-202403010430-0", ids[0])
			}
		})
	}
}

func TestProducer_PublishTickFailure(t *testing.T) {
	ctx := context.Background()
	publisher := new(mockPublisher)
	schedules := new(mockSchedules)
	schedules.On("CountSchedules", ctx).Return(3, nil)
	publisher.On("PublishToQueue", ctx, "scheduler", mock.Anything).Return(nil).Once()
	publisher.On("PublishToQueue", ctx, "scheduler", mock.Anything).Return(errors.New("channel closed")).Once()

	n, err := New(Config{Publisher: publisher, Schedules: schedules, ShardSize: 1}).PublishTick(ctx, fixedNow)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, err.Error(), "failed to publish tick shard 1")
}

func TestProducer_PublishTickDuplicateSharesJobIDs(t *testing.T) {
	ctx := context.Background()
	publisher := new(mockPublisher)
	schedules := new(mockSchedules)
	schedules.On("CountSchedules", ctx).Return(3, nil)

	var ids []string
	publisher.On("PublishToQueue", ctx, "scheduler", mock.Anything).Run(func(args mock.Arguments) {
		ids = append(ids, args.Get(2).(rabbitmq.Message).MessageID)
	}).Return(nil)

	p := New(Config{Publisher: publisher, Schedules: schedules, ShardSize: 2})

	_, err := p.PublishTick(ctx, fixedNow)
	require.NoError(t, err)
	// a second tick within the same minute, e.g. from an overlapping jobctl --loop
	_, err = p.PublishTick(ctx, fixedNow.Add(20*time.Second))
	require.NoError(t, err)
	_, err = p.PublishTick(ctx, fixedNow.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"tick-202403010430-0", "tick-202403010430-1",
		"tick-202403010430-0", "tick-202403010430-1",
		"tick-202403010431-0", "tick-202403010431-1",
	}, ids)
}
