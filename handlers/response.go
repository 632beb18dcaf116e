package handlers

import (
	"errors"
	"net/http"

	"casedraft-backend/service"

	"github.com/gin-gonic/gin"
)

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// respondServiceError maps orchestrator errors to HTTP responses. Anything
// unrecognised is a 500 and its detail is kept out of the response.
func respondServiceError(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", verr.Error())
	case errors.Is(err, service.ErrValidation):
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
	case errors.Is(err, service.ErrCaseNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Case not found")
	case errors.Is(err, service.ErrDraftNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Draft not found")
	case errors.Is(err, service.ErrCaseClosed):
		respondError(c, http.StatusConflict, "CASE_CLOSED", "Case is closed")
	case errors.Is(err, service.ErrInvalidTransition):
		respondError(c, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, service.ErrVersionConflict):
		respondError(c, http.StatusConflict, "CONFLICT", "Case was modified concurrently, retry")
	case errors.Is(err, service.ErrQuotaExceeded):
		respondError(c, http.StatusPaymentRequired, "QUOTA_EXCEEDED", "Credits do not cover the case tier")
	default:
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "INTERNAL", "Internal error")
	}
}
