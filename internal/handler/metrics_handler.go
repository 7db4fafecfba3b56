package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/response"
)

// MetricsHandler exposes the Prometheus scrape endpoint and a JSON snapshot.
type MetricsHandler struct {
	service *service.MetricsService
}

// NewMetricsHandler creates a new handler.
func NewMetricsHandler(svc *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{service: svc}
}

// Prometheus serves the text exposition format for scrapers.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	h.service.Handler().ServeHTTP(c.Writer, c.Request)
}

// Snapshot godoc
// @Summary System metrics snapshot
// @Description Aggregated request, cache and export counters as JSON
// @Tags Metrics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /metrics/summary [get]
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.service.Snapshot(), nil)
}
