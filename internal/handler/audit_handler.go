package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/response"
)

// AuditHandler exposes the audit trail to administrators.
type AuditHandler struct {
	service *service.AuditService
}

// NewAuditHandler creates a new handler.
func NewAuditHandler(svc *service.AuditService) *AuditHandler {
	return &AuditHandler{service: svc}
}

// List godoc
// @Summary List audit entries
// @Tags Audit
// @Produce json
// @Param user_id query string false "Filter by actor"
// @Param action query string false "Filter by action"
// @Param resource query string false "Filter by resource"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /audit-logs [get]
func (h *AuditHandler) List(c *gin.Context) {
	filter := models.AuditFilter{
		UserID:   c.Query("user_id"),
		Action:   c.Query("action"),
		Resource: c.Query("resource"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	entries, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}
