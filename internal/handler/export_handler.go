package handler

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
	"github.com/noah-isme/lms-api/pkg/storage"
)

// ExportHandler exposes async export jobs and signed downloads.
type ExportHandler struct {
	service *service.ExportService
	storage *storage.LocalStorage
}

// NewExportHandler creates a new handler.
func NewExportHandler(svc *service.ExportService, store *storage.LocalStorage) *ExportHandler {
	return &ExportHandler{service: svc, storage: store}
}

type exportRequestPayload struct {
	Kind      string `json:"kind" binding:"required"`
	Format    string `json:"format" binding:"required"`
	SubjectID string `json:"subject_id" binding:"required"`
}

// Request godoc
// @Summary Request an export
// @Description Queues an export job; poll the job until it finishes
// @Tags Exports
// @Accept json
// @Produce json
// @Param payload body exportRequestPayload true "Export payload"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /exports [post]
func (h *ExportHandler) Request(c *gin.Context) {
	var payload exportRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export payload"))
		return
	}
	job, err := h.service.Request(
		c.Request.Context(),
		actorID(claimsFromContext(c)),
		models.ExportKind(payload.Kind),
		models.ExportFormat(payload.Format),
		payload.SubjectID,
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// Get godoc
// @Summary Get export job
// @Tags Exports
// @Produce json
// @Param id path string true "Export job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/{id} [get]
func (h *ExportHandler) Get(c *gin.Context) {
	job, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Download export file
// @Description Serves a finished export; the token is signed and expires
// @Tags Exports
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Router /exports/download [get]
func (h *ExportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	relPath, err := h.service.Resolve(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.FileAttachment(h.storage.Path(relPath), filepath.Base(relPath))
}
