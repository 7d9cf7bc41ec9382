package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/lineageq/internal/api/dto"
	"github.com/cuongbtq/lineageq/internal/domain"
	"github.com/cuongbtq/lineageq/internal/storage"
)

// parseJobID reads the :job_id path parameter
func parseJobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("job_id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "job_id must be a positive integer")
		return 0, false
	}
	return id, true
}

// Ingest handles POST /api/v1/jobs/ingest
// Queues a new ingest job
func (h *JobHandler) Ingest(c *gin.Context) {
	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	id, err := h.triggers.EnqueueIngest(c.Request.Context(), req.ToSpec())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Ingest job queued",
		slog.Int64("job_id", id),
		slog.String("conn_name", req.ConnName),
	)

	c.JSON(http.StatusOK, dto.IngestResponse{OK: true, ID: id})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional status filter and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	if req.Limit <= 0 {
		req.Limit = storage.DefaultListLimit
	}
	if req.Limit > storage.MaxListLimit {
		req.Limit = storage.MaxListLimit
	}

	filter := storage.JobFilter{Limit: req.Limit + 1}

	if req.Status != "" {
		status, err := domain.ParseJobStatus(req.Status)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		filter.Status = status
	}

	beforeID, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		badRequest(c, "invalid cursor")
		return
	}
	filter.BeforeID = beforeID

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	// one extra row tells whether another page exists
	var nextCursor string
	if len(jobs) > req.Limit {
		jobs = jobs[:req.Limit]
		nextCursor = EncodeJobCursor(jobs[len(jobs)-1].ID)
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobs,
		NextCursor: nextCursor,
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a queued or running job; terminal jobs are left unchanged
func (h *JobHandler) CancelJob(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	changed, err := h.store.CancelJob(ctx, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	job, err := h.store.GetJob(ctx, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if changed {
		h.logger.Info("Job canceled", slog.Int64("job_id", id))
		h.bus.Publish(domain.JobNotification(job))
	}

	c.JSON(http.StatusOK, dto.CancelJobResponse{
		OK:       true,
		Canceled: changed,
		Status:   job.Status,
	})
}

// Stats handles GET /api/v1/stats
func (h *JobHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	counts, err := h.store.JobStats(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	depth, err := h.store.QueueDepth(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.StatsResponse{
		Counts:      counts,
		QueueDepth:  depth,
		Subscribers: h.bus.Len(),
	})
}
