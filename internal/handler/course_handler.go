package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

// CourseHandler exposes the course authoring lifecycle plus enrollment
// methods and groups.
type CourseHandler struct {
	service *service.CourseService
}

// NewCourseHandler creates a new handler.
func NewCourseHandler(svc *service.CourseService) *CourseHandler {
	return &CourseHandler{service: svc}
}

// List godoc
// @Summary List courses
// @Tags Courses
// @Produce json
// @Param status query string false "Filter by status"
// @Param search query string false "Search code or title"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	filter := models.CourseFilter{
		OwnerID:  c.Query("owner_id"),
		Status:   models.CourseStatus(c.Query("status")),
		Search:   c.Query("search"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	courses, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// Get godoc
// @Summary Get one course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Create godoc
// @Summary Create draft course
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	var req service.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course payload"))
		return
	}
	course, err := h.service.Create(c.Request.Context(), actorID(claimsFromContext(c)), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Update godoc
// @Summary Update course
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.UpdateCourseRequest true "Course payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [patch]
func (h *CourseHandler) Update(c *gin.Context) {
	var req service.UpdateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course payload"))
		return
	}
	course, err := h.service.Update(c.Request.Context(), actorID(claimsFromContext(c)), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Submit godoc
// @Summary Submit course for approval
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 204 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /courses/{id}/submit [post]
func (h *CourseHandler) Submit(c *gin.Context) {
	if err := h.service.SubmitForApproval(c.Request.Context(), actorID(claimsFromContext(c)), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Approve godoc
// @Summary Approve pending course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 204 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /courses/{id}/approve [post]
func (h *CourseHandler) Approve(c *gin.Context) {
	if err := h.service.Approve(c.Request.Context(), actorID(claimsFromContext(c)), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Reject godoc
// @Summary Reject pending course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 204 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /courses/{id}/reject [post]
func (h *CourseHandler) Reject(c *gin.Context) {
	if err := h.service.Reject(c.Request.Context(), actorID(claimsFromContext(c)), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Publish godoc
// @Summary Publish approved course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 204 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /courses/{id}/publish [post]
func (h *CourseHandler) Publish(c *gin.Context) {
	if err := h.service.Publish(c.Request.Context(), actorID(claimsFromContext(c)), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Archive godoc
// @Summary Archive course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 204 {object} response.Envelope
// @Router /courses/{id}/archive [post]
func (h *CourseHandler) Archive(c *gin.Context) {
	if err := h.service.Archive(c.Request.Context(), actorID(claimsFromContext(c)), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListMethods godoc
// @Summary List enrollment methods
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/methods [get]
func (h *CourseHandler) ListMethods(c *gin.Context) {
	methods, err := h.service.ListMethods(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, methods, nil)
}

// CreateMethod godoc
// @Summary Add enrollment method
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.CreateMethodRequest true "Method payload"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/methods [post]
func (h *CourseHandler) CreateMethod(c *gin.Context) {
	var req service.CreateMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid method payload"))
		return
	}
	method, err := h.service.CreateMethod(c.Request.Context(), actorID(claimsFromContext(c)), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, method)
}

// DeleteMethod godoc
// @Summary Remove enrollment method
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Param methodId path string true "Method ID"
// @Success 204 {object} response.Envelope
// @Router /courses/{id}/methods/{methodId} [delete]
func (h *CourseHandler) DeleteMethod(c *gin.Context) {
	if err := h.service.DeleteMethod(c.Request.Context(), actorID(claimsFromContext(c)), c.Param("id"), c.Param("methodId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListGroups godoc
// @Summary List course groups
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/groups [get]
func (h *CourseHandler) ListGroups(c *gin.Context) {
	groups, err := h.service.ListGroups(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, groups, nil)
}

// CreateGroup godoc
// @Summary Create course group
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.CreateGroupRequest true "Group payload"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/groups [post]
func (h *CourseHandler) CreateGroup(c *gin.Context) {
	var req service.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid group payload"))
		return
	}
	group, err := h.service.CreateGroup(c.Request.Context(), actorID(claimsFromContext(c)), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, group)
}
