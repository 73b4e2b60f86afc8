package handlers

import (
	"context"
	"net/http"
	"strconv"

	"taskflow/backend/internal/models"
	"taskflow/backend/internal/services"

	"github.com/gin-gonic/gin"
)

type DashboardHandler struct {
	dashboardService services.DashboardService
	sessionService   services.SessionService
}

func NewDashboardHandler(dashboardService services.DashboardService, sessionService services.SessionService) *DashboardHandler {
	return &DashboardHandler{dashboardService: dashboardService, sessionService: sessionService}
}

func (h *DashboardHandler) Dashboard(c *gin.Context) {
	d, err := h.dashboardService.For(c.Request.Context(), session(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *DashboardHandler) Overview(c *gin.Context) {
	overview, err := h.dashboardService.Overview(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

type UpdateProfileRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

func (h *DashboardHandler) GetProfile(c *gin.Context) {
	user, err := h.sessionService.Profile(c.Request.Context(), session(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *DashboardHandler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.sessionService.UpdateProfile(c.Request.Context(), session(c), req.Name, req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// AuditReader is the read side of the authorization audit trail.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]models.AuditLog, error)
}

type AuditHandler struct {
	audit AuditReader
}

func NewAuditHandler(audit AuditReader) *AuditHandler {
	return &AuditHandler{audit: audit}
}

func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit must be between 1 and 500"})
		return
	}
	logs, err := h.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_error", "message": "failed to load audit logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_logs": logs, "total": len(logs)})
}
