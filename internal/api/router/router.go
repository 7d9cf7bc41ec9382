package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/lineageq/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	jobHandler := handler.NewJobHandler(deps)
	eventHandler := handler.NewEventHandler(deps)
	webhookHandler := handler.NewWebhookHandler(deps)

	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs/ingest - Queue an ingest job
			jobs.POST("/ingest", jobHandler.Ingest)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		// GET /api/v1/stats - Job counts per status and queue depth
		v1.GET("/stats", jobHandler.Stats)

		events := v1.Group("/events")
		{
			events.POST("", eventHandler.PublishEvent)
			events.GET("", eventHandler.ListEvents)

			// GET /api/v1/events/stream - Server-sent notification stream
			events.GET("/stream", eventHandler.Stream)
		}
	}

	hooks := r.Group("/hooks")
	{
		hooks.POST("/github", webhookHandler.GitHub)
	}

	return r
}
