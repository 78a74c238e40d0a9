package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db: db,
	}
}

const jobColumns = `id, queue_name, workspace_id, payload, attempt, max_retry, progress, progress_label, log, created_at`

// CreateJob inserts a job record ahead of publishing its message
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			id, queue_name, workspace_id, payload,
			attempt, max_retry, progress, log, created_at
		) VALUES (
			$1, $2, $3, $4,
			0, $5, 0, '[]'::jsonb, $6
		)
	`

	payload := string(job.Payload)
	if payload == "" {
		payload = "{}"
	}

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.QueueName,
		job.WorkspaceID,
		payload,
		job.MaxRetry,
		job.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

type JobFilter struct {
	QueueName   string
	WorkspaceID string
	PageSize    int
	Cursor      *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs, newest first, so the caller can tell whether more exist
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	// Filters
	if filter.QueueName != "" {
		query += fmt.Sprintf(" AND queue_name = $%d", argIdx)
		args = append(args, filter.QueueName)
		argIdx++
	}

	if filter.WorkspaceID != "" {
		query += fmt.Sprintf(" AND workspace_id = $%d", argIdx)
		args = append(args, filter.WorkspaceID)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, id DESC for consistent pagination
	query += " ORDER BY created_at DESC, id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	jobs := []domain.Job{}
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// ListErroredJobs returns up to pageSize+1 archived messages with id below beforeID (0 = newest)
func (s *Storage) ListErroredJobs(ctx context.Context, beforeID int64, pageSize int) ([]domain.ErroredJob, error) {
	query := `SELECT id, payload, error, created_at FROM errored_jobs`
	args := []interface{}{}

	if beforeID > 0 {
		query += " WHERE id < $1"
		args = append(args, beforeID)
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args)+1)
	args = append(args, pageSize+1)

	errored := []domain.ErroredJob{}
	if err := s.db.SelectContext(ctx, &errored, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list errored jobs: %w", err)
	}

	return errored, nil
}
