package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/automation-worker/internal/producer"
	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) Enqueue(ctx context.Context, req producer.EnqueueRequest) (*domain.Job, error) {
	args := m.Called(ctx, req)
	job, _ := args.Get(0).(*domain.Job)
	return job, args.Error(1)
}

func (m *mockProducer) PublishTick(ctx context.Context, tick time.Time) (int, error) {
	args := m.Called(ctx, tick)
	return args.Int(0), args.Error(1)
}

func execute(t *testing.T, p Producer, args ...string) (string, bool, error) {
	t.Helper()

	closed := false
	var gotPath string
	root := NewRootCmd(func(configPath string) (Producer, func(), error) {
		gotPath = configPath
		return p, func() { closed = true }, nil
	}, "configs/jobctl/config.yaml")

	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		assert.NotEmpty(t, gotPath)
	}
	return out.String(), closed, err
}

func TestEnqueue(t *testing.T) {
	p := new(mockProducer)
	p.On("Enqueue", mock.Anything, producer.EnqueueRequest{
		QueueName:   "test-queue",
		WorkspaceID: "ws-1",
		Payload:     []byte(`{"countUpto":3}`),
		MaxRetry:    2,
	}).Return(&domain.Job{ID: "job-1"}, nil)

	out, closed, err := execute(t, p, "enqueue", "test-queue", `{"countUpto":3}`, "--max-retry", "2", "--workspace", "ws-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Job enqueued: job-1")
	assert.True(t, closed)
	p.AssertExpectations(t)
}

func TestEnqueue_InvalidJSON(t *testing.T) {
	p := new(mockProducer)

	_, _, err := execute(t, p, "enqueue", "test-queue", `{oops`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid payload json")
	p.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestEnqueue_ProducerError(t *testing.T) {
	p := new(mockProducer)
	p.On("Enqueue", mock.Anything, mock.Anything).Return(nil, producer.ErrPayloadNotObject)

	_, _, err := execute(t, p, "enqueue", "test-queue", `[1,2]`)
	assert.ErrorIs(t, err, producer.ErrPayloadNotObject)
}

func TestTick_At(t *testing.T) {
	p := new(mockProducer)
	tick := time.Date(2024, 3, 1, 4, 30, 0, 0, time.UTC)
	p.On("PublishTick", mock.Anything, mock.MatchedBy(func(at time.Time) bool {
		return at.Equal(tick)
	})).Return(3, nil)

	out, _, err := execute(t, p, "tick", "--at", "2024-03-01T10:00:00+05:30")
	require.NoError(t, err)
	assert.Contains(t, out, "Tick 2024-03-01T04:30:00Z published: 3 message(s)")
}

func TestTick_Errors(t *testing.T) {
	p := new(mockProducer)

	_, _, err := execute(t, p, "tick", "--at", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --at")

	_, _, err = execute(t, p, "tick", "--at", "2024-03-01T04:30:00Z", "--loop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be combined")

	p.On("PublishTick", mock.Anything, mock.Anything).Return(0, errors.New("broker down"))
	_, _, err = execute(t, p, "tick")
	assert.EqualError(t, err, "broker down")
}

func TestTickLoop_StopsOnCancel(t *testing.T) {
	p := new(mockProducer)
	s := &session{producer: p}

	cmd := newTickCmd(s, time.Now)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cmd.SetContext(ctx)

	assert.NoError(t, tickLoop(cmd, p, time.Now))
	p.AssertNotCalled(t, "PublishTick", mock.Anything, mock.Anything)
}

func TestOpenerError(t *testing.T) {
	root := NewRootCmd(func(string) (Producer, func(), error) {
		return nil, nil, errors.New("failed to load config")
	}, "missing.yaml")
	root.SetArgs([]string{"tick"})

	err := root.Execute()
	assert.EqualError(t, err, "failed to load config")
}

func TestRootCmd_ConfigFlagReachesOpener(t *testing.T) {
	var gotPath string
	root := NewRootCmd(func(configPath string) (Producer, func(), error) {
		gotPath = configPath
		return nil, func() {}, nil
	}, "configs/jobctl/config.yaml")

	names := []string{}
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"enqueue", "tick"})

	root.SetArgs([]string{"tick", "--config", "custom.yaml", "--at", "2024-03-01T04:30:00Z"})
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))

	err := root.ExecuteContext(context.Background())
	require.ErrorIs(t, err, errNotConnected)
	assert.Equal(t, "custom.yaml", gotPath)
}
