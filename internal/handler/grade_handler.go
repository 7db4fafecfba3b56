package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/response"
)

// GradeHandler exposes grade aggregation endpoints.
type GradeHandler struct {
	service *service.GradeService
}

// NewGradeHandler creates a new handler.
func NewGradeHandler(svc *service.GradeService) *GradeHandler {
	return &GradeHandler{service: svc}
}

// StudentSummary godoc
// @Summary Student grade summary
// @Description Per-assignment points plus the overall percentage for one student
// @Tags Grades
// @Produce json
// @Param id path string true "Course ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/grades/{studentId} [get]
func (h *GradeHandler) StudentSummary(c *gin.Context) {
	summary, err := h.service.StudentSummary(c.Request.Context(), c.Param("id"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// CourseGradebook godoc
// @Summary Course gradebook
// @Description Full grade matrix for every active student in the course
// @Tags Grades
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/gradebook [get]
func (h *GradeHandler) CourseGradebook(c *gin.Context) {
	gradebook, err := h.service.CourseGradebook(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gradebook, nil)
}
