package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	if h.dbClient != nil {
		if err := h.dbClient.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": h.serviceName,
				"error":   err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.serviceName,
	})
}
