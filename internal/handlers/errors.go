package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"taskflow/backend/internal/apperrors"
	"taskflow/backend/internal/authz"
	"taskflow/backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

// respondError converts a service error into its HTTP status and body.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var (
		ve *apperrors.ValidationError
		ae *apperrors.AuthError
		se *apperrors.StoreError
		ne *apperrors.NotificationError
	)
	switch {
	case errors.As(err, &ve):
		status := http.StatusBadRequest
		if ve.Code == apperrors.CodeEmailAlreadyInUse {
			status = http.StatusConflict
		}
		body := gin.H{"error": "validation_failed", "message": ve.Message}
		if ve.Field != "" {
			body["field"] = ve.Field
		}
		if ve.Code != "" {
			body["code"] = ve.Code
		}
		c.JSON(status, body)
	case errors.As(err, &ae):
		c.JSON(authStatus(ae.Code), gin.H{"error": ae.Code, "message": apperrors.Reason(ae.Code)})
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "record not found"})
	case errors.Is(err, apperrors.ErrSelfModification):
		c.JSON(http.StatusForbidden, gin.H{"error": "self_modification", "message": err.Error()})
	case errors.Is(err, apperrors.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.As(err, &se):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_error", "message": "failed to " + se.Op})
	case errors.As(err, &ne):
		c.JSON(http.StatusBadGateway, gin.H{"error": "notification_failed", "message": "failed to send email"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func authStatus(code string) int {
	switch code {
	case apperrors.CodeEmailAlreadyInUse:
		return http.StatusConflict
	case apperrors.CodeUserNotFound:
		return http.StatusNotFound
	case apperrors.CodeTooManyRequests:
		return http.StatusTooManyRequests
	case apperrors.CodeNetworkRequestFailed:
		return http.StatusServiceUnavailable
	case apperrors.CodeInvalidEmail, apperrors.CodeWeakPassword,
		apperrors.CodeExpiredActionCode, apperrors.CodeInvalidActionCode:
		return http.StatusBadRequest
	}
	return http.StatusUnauthorized
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Invalid request format",
		"details": err.Error(),
	})
}

func paramID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id", "message": "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

// session returns the caller's session, or nil. Services reject a nil
// session with ErrForbidden.
func session(c *gin.Context) *authz.Session {
	s, _ := middleware.SessionFrom(c)
	return s
}

// parseDeadline accepts a calendar date or an RFC 3339 timestamp. An empty
// string means no deadline.
func parseDeadline(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, apperrors.NewValidationError("deadline", "deadline must be YYYY-MM-DD or RFC 3339")
}
