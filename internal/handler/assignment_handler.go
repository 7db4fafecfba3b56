package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

// AssignmentHandler exposes assignment and grade-category endpoints.
type AssignmentHandler struct {
	service *service.AssignmentService
}

// NewAssignmentHandler creates a new handler.
func NewAssignmentHandler(svc *service.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{service: svc}
}

// List godoc
// @Summary List assignments
// @Tags Assignments
// @Produce json
// @Param id path string true "Course ID"
// @Param published query bool false "Filter by published flag"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/assignments [get]
func (h *AssignmentHandler) List(c *gin.Context) {
	filter := models.AssignmentFilter{
		CourseID:        c.Param("id"),
		GradeCategoryID: c.Query("grade_category_id"),
		Page:            queryInt(c, "page", 1),
		PageSize:        queryInt(c, "page_size", 20),
	}
	if published := c.Query("published"); published != "" {
		parsed, err := strconv.ParseBool(published)
		if err == nil {
			filter.Published = &parsed
		}
	}

	assignments, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, pagination)
}

// Get godoc
// @Summary Get one assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assignments/{id} [get]
func (h *AssignmentHandler) Get(c *gin.Context) {
	assignment, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Create godoc
// @Summary Create assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.CreateAssignmentRequest true "Assignment payload"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/assignments [post]
func (h *AssignmentHandler) Create(c *gin.Context) {
	var req service.CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}
	assignment, err := h.service.Create(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// Update godoc
// @Summary Update assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body service.UpdateAssignmentRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assignments/{id} [patch]
func (h *AssignmentHandler) Update(c *gin.Context) {
	var req service.UpdateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}
	assignment, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Delete godoc
// @Summary Delete assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 204 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /assignments/{id} [delete]
func (h *AssignmentHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListCategories godoc
// @Summary List grade categories
// @Tags Assignments
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/categories [get]
func (h *AssignmentHandler) ListCategories(c *gin.Context) {
	categories, err := h.service.ListCategories(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, categories, nil)
}

// CreateCategory godoc
// @Summary Create grade category
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.CreateCategoryRequest true "Category payload"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/categories [post]
func (h *AssignmentHandler) CreateCategory(c *gin.Context) {
	var req service.CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid category payload"))
		return
	}
	category, err := h.service.CreateCategory(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, category)
}
