package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

// EnrollmentHandler exposes enrollment and request-review endpoints.
type EnrollmentHandler struct {
	service *service.EnrollmentService
}

// NewEnrollmentHandler creates a new handler.
func NewEnrollmentHandler(svc *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param course_id query string false "Filter by course"
// @Param user_id query string false "Filter by user"
// @Param status query string false "Filter by status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	filter := models.EnrollmentFilter{
		CourseID: c.Query("course_id"),
		UserID:   c.Query("user_id"),
		MethodID: c.Query("method_id"),
		Status:   models.EnrollmentStatus(c.Query("status")),
		Role:     models.CourseRole(c.Query("role")),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	enrollments, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// SelfEnroll godoc
// @Summary Enroll into a course
// @Description Evaluates eligibility; the result is an enrollment, a pending request, or a rejection reason
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.SelfEnrollRequest true "Enrollment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) SelfEnroll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.SelfEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrollment payload"))
		return
	}
	result, err := h.service.SelfEnroll(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ManualEnroll godoc
// @Summary Enroll a user manually
// @Description Staff enrollment; override skips window and capacity rules, never duplicates
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.ManualEnrollRequest true "Manual enrollment payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/manual [post]
func (h *EnrollmentHandler) ManualEnroll(c *gin.Context) {
	var req service.ManualEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrollment payload"))
		return
	}
	result, err := h.service.ManualEnroll(c.Request.Context(), actorID(claimsFromContext(c)), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// BulkEnroll godoc
// @Summary Enroll many users
// @Description Partial success; returns a per-user outcome list
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.BulkEnrollRequest true "Bulk enrollment payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/bulk [post]
func (h *EnrollmentHandler) BulkEnroll(c *gin.Context) {
	var req service.BulkEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrollment payload"))
		return
	}
	outcomes, err := h.service.BulkEnroll(c.Request.Context(), actorID(claimsFromContext(c)), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcomes, nil)
}

// Unenroll godoc
// @Summary Remove an enrollment
// @Description Releases course, method and group seats
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Unenroll(c *gin.Context) {
	if err := h.service.Unenroll(c.Request.Context(), actorID(claimsFromContext(c)), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListRequests godoc
// @Summary List enrollment requests
// @Tags Enrollments
// @Produce json
// @Param course_id query string false "Filter by course"
// @Param status query string false "Filter by status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollment-requests [get]
func (h *EnrollmentHandler) ListRequests(c *gin.Context) {
	filter := models.EnrollmentRequestFilter{
		CourseID: c.Query("course_id"),
		UserID:   c.Query("user_id"),
		Status:   models.EnrollmentRequestStatus(c.Query("status")),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	requests, pagination, err := h.service.ListRequests(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, pagination)
}

// ApproveRequest godoc
// @Summary Approve enrollment request
// @Description Enrolls the requester; only one concurrent review wins
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body service.ReviewRequestPayload false "Review note"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /enrollment-requests/{id}/approve [post]
func (h *EnrollmentHandler) ApproveRequest(c *gin.Context) {
	var payload service.ReviewRequestPayload
	_ = c.ShouldBindJSON(&payload)
	result, err := h.service.ApproveRequest(c.Request.Context(), actorID(claimsFromContext(c)), c.Param("id"), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// RejectRequest godoc
// @Summary Reject enrollment request
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body service.ReviewRequestPayload false "Review note"
// @Success 204 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /enrollment-requests/{id}/reject [post]
func (h *EnrollmentHandler) RejectRequest(c *gin.Context) {
	var payload service.ReviewRequestPayload
	_ = c.ShouldBindJSON(&payload)
	if err := h.service.RejectRequest(c.Request.Context(), actorID(claimsFromContext(c)), c.Param("id"), payload); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CancelRequest godoc
// @Summary Cancel own enrollment request
// @Tags Enrollments
// @Produce json
// @Param id path string true "Request ID"
// @Success 204 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /enrollment-requests/{id} [delete]
func (h *EnrollmentHandler) CancelRequest(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.CancelRequest(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RepairCounters godoc
// @Summary Recompute denormalized counters
// @Description Recomputes course and method seat counters from enrollment rows
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Success 204 {object} response.Envelope
// @Router /courses/{id}/repair-counters [post]
func (h *EnrollmentHandler) RepairCounters(c *gin.Context) {
	var payload struct {
		MethodIDs []string `json:"method_ids"`
	}
	_ = c.ShouldBindJSON(&payload)
	if err := h.service.RepairCounters(c.Request.Context(), c.Param("id"), payload.MethodIDs); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
