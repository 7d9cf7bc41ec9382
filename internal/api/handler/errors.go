package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/lineageq/internal/api/dto"
	"github.com/cuongbtq/lineageq/internal/domain"
)

// httpStatusFromError maps domain errors to HTTP status codes
func httpStatusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrJobNotRunning):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Internal errors are logged and hidden from the client.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := httpStatusFromError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg})
}
