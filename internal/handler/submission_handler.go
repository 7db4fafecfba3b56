package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

// SubmissionHandler exposes the submit and grade endpoints.
type SubmissionHandler struct {
	service *service.SubmissionService
}

// NewSubmissionHandler creates a new handler.
func NewSubmissionHandler(svc *service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{service: svc}
}

// List godoc
// @Summary List submissions
// @Tags Submissions
// @Produce json
// @Param assignment_id query string false "Filter by assignment"
// @Param student_id query string false "Filter by student"
// @Param status query string false "Filter by status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /submissions [get]
func (h *SubmissionHandler) List(c *gin.Context) {
	filter := models.SubmissionFilter{
		AssignmentID: c.Query("assignment_id"),
		StudentID:    c.Query("student_id"),
		Status:       models.SubmissionStatus(c.Query("status")),
		Page:         queryInt(c, "page", 1),
		PageSize:     queryInt(c, "page_size", 20),
	}
	submissions, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submissions, pagination)
}

// Submit godoc
// @Summary Submit work
// @Description Creates a submission for the current student; attempts and lateness are tracked
// @Tags Submissions
// @Accept json
// @Produce json
// @Param payload body service.SubmitRequest true "Submission payload"
// @Success 201 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /submissions [post]
func (h *SubmissionHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid submission payload"))
		return
	}
	submission, err := h.service.Submit(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, submission)
}

// Grade godoc
// @Summary Grade submission
// @Description Scores a submission and recomputes the student's course progress
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body service.GradeSubmissionRequest true "Grade payload"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /submissions/{id}/grade [post]
func (h *SubmissionHandler) Grade(c *gin.Context) {
	var req service.GradeSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid grade payload"))
		return
	}
	submission, err := h.service.Grade(c.Request.Context(), actorID(claimsFromContext(c)), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}

// Return godoc
// @Summary Return graded submission
// @Description Hands a graded submission back to the student; the score stays on the record
// @Tags Submissions
// @Produce json
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /submissions/{id}/return [post]
func (h *SubmissionHandler) Return(c *gin.Context) {
	submission, err := h.service.Return(c.Request.Context(), actorID(claimsFromContext(c)), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}

// LatestGraded godoc
// @Summary Latest graded attempt
// @Description Returns the newest scored attempt on an assignment; students read their own, staff may pass student_id
// @Tags Submissions
// @Produce json
// @Param id path string true "Assignment ID"
// @Param student_id query string false "Student ID (staff only)"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assignments/{id}/submissions/latest [get]
func (h *SubmissionHandler) LatestGraded(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	studentID := c.Query("student_id")
	if studentID == "" {
		studentID = claims.UserID
	}
	if claims.Role == models.RoleStudent && studentID != claims.UserID {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	submission, err := h.service.LatestGraded(c.Request.Context(), c.Param("id"), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}
