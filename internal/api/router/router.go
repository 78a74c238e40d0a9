package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/automation-worker/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Enqueue a job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details and activity log
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		// GET /api/v1/errored-jobs - List archived malformed messages
		v1.GET("/errored-jobs", jobHandler.ListErroredJobs)
	}

	return r
}

// healthHandler reports 503 when the database or the broker is unavailable
func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		healthy := true

		if deps.Database != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			err := deps.Database.HealthCheck(ctx)
			cancel()
			if err != nil {
				healthy = false
				checks["database"] = err.Error()
			} else {
				checks["database"] = "ok"
			}
		}

		if deps.Broker != nil {
			if deps.Broker.IsConnected() {
				checks["rabbitmq"] = "ok"
			} else {
				healthy = false
				checks["rabbitmq"] = "disconnected"
			}
		}

		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":  status,
			"service": "automation-api-service",
			"checks":  checks,
		})
	}
}
