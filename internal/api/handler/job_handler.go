package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/automation-worker/internal/api/dto"
	"github.com/cuongbtq/automation-worker/internal/api/storage"
	"github.com/cuongbtq/automation-worker/internal/producer"
	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// Stores the job record and publishes it to its queue
func (h *JobHandler) CreateJob(c *gin.Context) {
	h.logger.Info("CreateJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.enqueuer.Enqueue(c.Request.Context(), producer.EnqueueRequest{
		QueueName:   req.QueueName,
		WorkspaceID: req.WorkspaceID,
		Payload:     req.Payload,
		MaxRetry:    req.MaxRetry,
	})
	if err != nil {
		if errors.Is(err, producer.ErrPayloadNotObject) || errors.Is(err, producer.ErrQueueNameRequired) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		h.logger.Error("Failed to enqueue job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue job",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.NewJobDTO(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns a job with its activity log
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	h.logger.Info("GetJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	job, err := h.jobs.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}

		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	detail, err := dto.NewJobDetailDTO(job)
	if err != nil {
		h.logger.Error("Failed to decode job log",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to decode job log",
		})
		return
	}

	c.JSON(http.StatusOK, detail)
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional queue/workspace filters and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	h.logger.Info("ListJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	req.PageSize = clampPageSize(req.PageSize)

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		QueueName:   req.QueueName,
		WorkspaceID: req.WorkspaceID,
		PageSize:    req.PageSize,
		Cursor:      cursor,
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	// One extra row means another page exists
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// ListErroredJobs handles GET /api/v1/errored-jobs
// Lists archived malformed messages, newest first
func (h *JobHandler) ListErroredJobs(c *gin.Context) {
	var req dto.ListErroredJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	req.PageSize = clampPageSize(req.PageSize)

	errored, err := h.jobs.ListErroredJobs(c.Request.Context(), req.BeforeID, req.PageSize)
	if err != nil {
		h.logger.Error("Failed to list errored jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list errored jobs",
		})
		return
	}

	hasMore := len(errored) > req.PageSize
	if hasMore {
		errored = errored[:req.PageSize]
	}

	resp := dto.ListErroredJobsResponse{
		ErroredJobs: make([]dto.ErroredJobDTO, len(errored)),
	}
	for i := range errored {
		resp.ErroredJobs[i] = dto.NewErroredJobDTO(&errored[i])
	}
	if hasMore {
		resp.NextBeforeID = errored[len(errored)-1].ID
	}

	c.JSON(http.StatusOK, resp)
}

func clampPageSize(size int) int {
	if size <= 0 {
		return defaultPageSize
	}
	if size > maxPageSize {
		return maxPageSize
	}
	return size
}
