package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/lineageq/internal/api/dto"
)

// keepAliveInterval is how often an idle stream gets a comment frame
const keepAliveInterval = 15 * time.Second

// PublishEvent handles POST /api/v1/events
// Records an audit event and fans it out to stream subscribers
func (h *EventHandler) PublishEvent(c *gin.Context) {
	var req dto.PublishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	ev, err := h.triggers.PublishEvent(c.Request.Context(), req.Key, req.Payload)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.PublishEventResponse{OK: true, Event: ev})
}

// ListEvents handles GET /api/v1/events
func (h *EventHandler) ListEvents(c *gin.Context) {
	var req dto.ListEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	events, err := h.store.ListEvents(c.Request.Context(), req.Limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.ListEventsResponse{Events: events})
}

// Stream handles GET /api/v1/events/stream
// Emits one server-sent event per notification published while the client stays connected.
// Nothing published before the connection is replayed.
func (h *EventHandler) Stream(c *gin.Context) {
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	h.logger.Info("Stream subscriber connected",
		slog.String("subscriber_id", sub.ID),
		slog.String("ip", c.ClientIP()),
	)
	defer h.logger.Info("Stream subscriber disconnected", slog.String("subscriber_id", sub.ID))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			c.SSEvent(n.Type, n)
			c.Writer.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
