package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/lineageq/internal/api/dto"
	"github.com/cuongbtq/lineageq/internal/trigger"
)

// maxWebhookBody bounds how much of a delivery is read
const maxWebhookBody = 5 << 20

// GitHub handles POST /hooks/github
// The signature is checked against the raw body before anything is parsed or stored
func (h *WebhookHandler) GitHub(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
				Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		badRequest(c, "failed to read request body")
		return
	}

	result, err := h.triggers.HandleGitHubWebhook(c.Request.Context(), trigger.WebhookRequest{
		Body:      body,
		Signature: c.GetHeader("X-Hub-Signature-256"),
		EventName: c.GetHeader("X-GitHub-Event"),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("GitHub webhook processed",
		slog.String("delivery", c.GetHeader("X-GitHub-Delivery")),
		slog.Int64("event_id", result.Event.ID),
		slog.Int64("job_id", result.Job.ID),
	)

	c.JSON(http.StatusOK, dto.WebhookResponse{
		OK:      true,
		EventID: result.Event.ID,
		JobID:   result.Job.ID,
	})
}
