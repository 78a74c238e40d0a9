package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `id, queue_name, workspace_id, payload, attempt, max_retry, progress, progress_label, log, created_at`

// RecordAttempt increments the attempt counter of a job, inserting the record
// first if the producer did not. Returns the stored record after the increment.
func (s *Storage) RecordAttempt(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	query := `
		INSERT INTO jobs (id, queue_name, workspace_id, payload, attempt, max_retry, created_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET attempt = COALESCE(jobs.attempt, 0) + 1
		RETURNING ` + jobColumns

	var stored domain.Job
	err := s.db.GetContext(ctx, &stored, query,
		job.ID,
		job.QueueName,
		job.WorkspaceID,
		nonEmptyJSON(job.Payload),
		job.MaxRetry,
		job.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", classify(err))
	}

	s.logger.Debug("Job attempt recorded",
		slog.String("job_id", stored.ID),
		slog.Int("attempt", stored.Attempt),
		slog.Int("max_retry", stored.MaxRetry),
	)

	return &stored, nil
}

// UpdateProgress stores the progress rate and, when label is non-nil, the progress label
func (s *Storage) UpdateProgress(ctx context.Context, jobID string, progress float64, label *string) error {
	query := `
		UPDATE jobs
		SET progress = $2,
		    progress_label = COALESCE($3, progress_label)
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, jobID, progress, label)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	return requireRow(result, jobID)
}

// AppendLog appends one entry to the job's activity log without touching earlier entries
func (s *Storage) AppendLog(ctx context.Context, jobID string, entry domain.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	query := `
		UPDATE jobs
		SET log = COALESCE(log, '[]'::jsonb) || jsonb_build_array($2::jsonb)
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, jobID, string(data))
	if err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}

	return requireRow(result, jobID)
}

// InsertErroredJob archives an unparseable message
func (s *Storage) InsertErroredJob(ctx context.Context, errored *domain.ErroredJob) error {
	query := `
		INSERT INTO errored_jobs (payload, error, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	if err := s.db.QueryRowContext(ctx, query, errored.Payload, errored.Error, errored.CreatedAt).Scan(&errored.ID); err != nil {
		return fmt.Errorf("failed to insert errored job: %w", err)
	}

	s.logger.Warn("Errored job archived",
		slog.Int64("errored_job_id", errored.ID),
		slog.String("error", errored.Error),
	)

	return nil
}

// ListSchedules returns one shard of the schedule collection in stable order.
// A limit of zero reads to the end of the collection.
func (s *Storage) ListSchedules(ctx context.Context, skip, limit int) ([]domain.Schedule, error) {
	query := `
		SELECT id, automation_id, cron_expression, timezone, runtime_environment
		FROM schedules_v2
		ORDER BY id
		OFFSET $1
		LIMIT $2
	`

	var limitArg sql.NullInt64
	if limit > 0 {
		limitArg = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	var schedules []domain.Schedule
	if err := s.db.SelectContext(ctx, &schedules, query, skip, limitArg); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	return schedules, nil
}

// CountSchedules returns the size of the schedule collection
func (s *Storage) CountSchedules(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM schedules_v2`); err != nil {
		return 0, fmt.Errorf("failed to count schedules: %w", err)
	}
	return count, nil
}

// GetAutomation retrieves the trigger state of an automation
func (s *Storage) GetAutomation(ctx context.Context, automationID string) (*domain.Automation, error) {
	query := `
		SELECT id, trigger_enabled
		FROM automations
		WHERE id = $1
	`

	var automation domain.Automation
	if err := s.db.GetContext(ctx, &automation, query, automationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAutomationNotFound
		}
		return nil, fmt.Errorf("failed to get automation: %w", err)
	}

	return &automation, nil
}

// classify marks errors caused by the row itself (data exceptions and
// integrity violations) as domain.ErrJobRejected. Anything else, such as a
// lost connection, is left as is and treated as transient by the queue.
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code.Class() {
	case dataException, integrityViolation:
		return fmt.Errorf("%w: %w", domain.ErrJobRejected, err)
	default:
		return err
	}
}

const (
	dataException      pq.ErrorClass = "22"
	integrityViolation pq.ErrorClass = "23"
)

func requireRow(result sql.Result, jobID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	return nil
}

func nonEmptyJSON(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
