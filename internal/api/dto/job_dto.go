package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/automation-worker/internal/worker/domain"
)

type CreateJobRequest struct {
	QueueName   string          `json:"queue_name" binding:"required"`
	WorkspaceID string          `json:"workspace_id"`
	Payload     json.RawMessage `json:"payload" binding:"required"`
	MaxRetry    int             `json:"max_retry" binding:"gte=0"`
}

type ListJobsRequest struct {
	QueueName   string `form:"queue_name"`
	WorkspaceID string `form:"workspace_id"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID         string          `json:"job_id"`
	QueueName     string          `json:"queue_name"`
	WorkspaceID   string          `json:"workspace_id"`
	Payload       json.RawMessage `json:"payload"`
	Attempt       int             `json:"attempt"`
	MaxRetry      int             `json:"max_retry"`
	Progress      float64         `json:"progress"`
	ProgressLabel string          `json:"progress_label,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

// JobDetailDTO is a job with its activity log
type JobDetailDTO struct {
	JobDTO
	Log []LogEntryDTO `json:"log"`
}

type LogEntryDTO struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	TimeInUTC string `json:"time_in_utc"`
	OnAttempt int    `json:"on_attempt"`
}

type ListErroredJobsRequest struct {
	PageSize int   `form:"page_size"`
	BeforeID int64 `form:"before_id" binding:"gte=0"`
}

type ListErroredJobsResponse struct {
	ErroredJobs  []ErroredJobDTO `json:"errored_jobs"`
	NextBeforeID int64           `json:"next_before_id,omitempty"`
}

type ErroredJobDTO struct {
	ID        int64  `json:"id"`
	Payload   string `json:"payload"`
	Error     string `json:"error"`
	CreatedAt string `json:"created_at"`
}

// NewJobDTO converts a job record for the API
func NewJobDTO(job *domain.Job) JobDTO {
	out := JobDTO{
		JobID:       job.ID,
		QueueName:   job.QueueName,
		WorkspaceID: job.WorkspaceID,
		Payload:     json.RawMessage(job.Payload),
		Attempt:     job.Attempt,
		MaxRetry:    job.MaxRetry,
		Progress:    job.Progress,
		CreatedAt:   job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if len(out.Payload) == 0 {
		out.Payload = json.RawMessage("{}")
	}
	if job.ProgressLabel != nil {
		out.ProgressLabel = *job.ProgressLabel
	}
	return out
}

// NewJobDetailDTO converts a job record and its activity log
func NewJobDetailDTO(job *domain.Job) (JobDetailDTO, error) {
	entries, err := job.Entries()
	if err != nil {
		return JobDetailDTO{}, err
	}

	log := make([]LogEntryDTO, len(entries))
	for i, e := range entries {
		log[i] = LogEntryDTO{
			Message:   e.Message,
			Type:      string(e.Type),
			TimeInUTC: e.TimeInUTC.UTC().Format(time.RFC3339Nano),
			OnAttempt: e.OnAttempt,
		}
	}

	return JobDetailDTO{JobDTO: NewJobDTO(job), Log: log}, nil
}

// NewErroredJobDTO converts an archived message for the API
func NewErroredJobDTO(errored *domain.ErroredJob) ErroredJobDTO {
	return ErroredJobDTO{
		ID:        errored.ID,
		Payload:   errored.Payload,
		Error:     errored.Error,
		CreatedAt: errored.CreatedAt.UTC().Format(time.RFC3339),
	}
}
