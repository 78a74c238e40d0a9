//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cuongbtq/automation-worker/internal/testutil"
	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 4, 30, 0, 0, time.UTC)

func TestStorage_CreateAndGetJob(t *testing.T) {
	s := NewStorage(testutil.SetupTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, &domain.Job{
		ID:          "job-1",
		QueueName:   "test-queue",
		WorkspaceID: "ws-1",
		MaxRetry:    2,
		CreatedAt:   base,
	}))

	job, err := s.GetJobByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Zero(t, job.Attempt)
	assert.Equal(t, 2, job.MaxRetry)
	assert.JSONEq(t, `{}`, string(job.Payload))
	assert.JSONEq(t, `[]`, string(job.Log))
	assert.True(t, base.Equal(job.CreatedAt))

	_, err = s.GetJobByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	// ids are unique
	assert.Error(t, s.CreateJob(ctx, &domain.Job{ID: "job-1", QueueName: "test-queue", CreatedAt: base}))
}

func TestStorage_ListJobsKeyset(t *testing.T) {
	s := NewStorage(testutil.SetupTestDB(t))
	ctx := context.Background()

	// job-a and job-b share a timestamp so the id breaks the tie
	for _, job := range []domain.Job{
		{ID: "job-a", QueueName: "scheduler", CreatedAt: base},
		{ID: "job-b", QueueName: "scheduler", CreatedAt: base},
		{ID: "job-c", QueueName: "scheduler", CreatedAt: base.Add(time.Minute)},
		{ID: "job-d", QueueName: "test-queue", CreatedAt: base.Add(2 * time.Minute)},
	} {
		require.NoError(t, s.CreateJob(ctx, &job))
	}

	page, err := s.ListJobs(ctx, JobFilter{QueueName: "scheduler", PageSize: 1})
	require.NoError(t, err)
	require.Len(t, page, 2, "one extra row signals another page")
	assert.Equal(t, "job-c", page[0].ID)

	last := page[0]
	page, err = s.ListJobs(ctx, JobFilter{
		QueueName: "scheduler",
		PageSize:  5,
		Cursor:    &JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID},
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "job-b", page[0].ID)
	assert.Equal(t, "job-a", page[1].ID)

	all, err := s.ListJobs(ctx, JobFilter{PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStorage_ListErroredJobs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := NewStorage(db)
	ctx := context.Background()

	for i := range 3 {
		_, err := db.ExecContext(ctx,
			`INSERT INTO errored_jobs (payload, error, created_at) VALUES ($1, 'failed to parse message', $2)`,
			fmt.Sprintf("{bad-%d", i), base)
		require.NoError(t, err)
	}

	page, err := s.ListErroredJobs(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "{bad-2", page[0].Payload)
	assert.Greater(t, page[0].ID, page[1].ID)

	older, err := s.ListErroredJobs(ctx, page[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, "{bad-0", older[0].Payload)
}
