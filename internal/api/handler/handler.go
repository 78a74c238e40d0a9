package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/automation-worker/internal/api/storage"
	"github.com/cuongbtq/automation-worker/internal/producer"
	"github.com/cuongbtq/automation-worker/internal/worker/domain"
)

// JobReader reads job records and the errored-job archive
type JobReader interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	ListErroredJobs(ctx context.Context, beforeID int64, pageSize int) ([]domain.ErroredJob, error)
}

// Enqueuer publishes new jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, req producer.EnqueueRequest) (*domain.Job, error)
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BrokerStatus reports the broker connection state
type BrokerStatus interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Jobs     JobReader
	Enqueuer Enqueuer
	Database HealthChecker
	Broker   BrokerStatus
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger   *slog.Logger
	jobs     JobReader
	enqueuer Enqueuer
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:   deps.Logger,
		jobs:     deps.Jobs,
		enqueuer: deps.Enqueuer,
	}
}
