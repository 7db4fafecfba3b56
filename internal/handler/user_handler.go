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

// UserHandler exposes user administration and data-subject endpoints.
type UserHandler struct {
	service *service.UserService
}

// NewUserHandler creates a new handler.
func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{service: svc}
}

// List godoc
// @Summary List users
// @Tags Users
// @Produce json
// @Param role query string false "Filter by role"
// @Param active query bool false "Filter by active flag"
// @Param search query string false "Search email or name"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	filter := models.UserFilter{
		Search:   c.Query("search"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	if role := c.Query("role"); role != "" {
		r := models.UserRole(role)
		filter.Role = &r
	}
	if active := c.Query("active"); active != "" {
		parsed, err := strconv.ParseBool(active)
		if err == nil {
			filter.Active = &parsed
		}
	}

	users, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// Get godoc
// @Summary Get one user
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Create godoc
// @Summary Create user
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body service.CreateUserRequest true "User payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	var req service.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid user payload"))
		return
	}
	actor := claimsFromContext(c)
	user, err := h.service.Create(c.Request.Context(), actorID(actor), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, user)
}

// Update godoc
// @Summary Update user
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body service.UpdateUserRequest true "User payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [patch]
func (h *UserHandler) Update(c *gin.Context) {
	var req service.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid user payload"))
		return
	}
	actor := claimsFromContext(c)
	user, err := h.service.Update(c.Request.Context(), actorID(actor), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// ExportAccount godoc
// @Summary Export account data
// @Description Returns the full personal-data bundle for the user
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id}/export [get]
func (h *UserHandler) ExportAccount(c *gin.Context) {
	actor := claimsFromContext(c)
	bundle, err := h.service.ExportAccount(c.Request.Context(), actorID(actor), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bundle, nil)
}

// Erase godoc
// @Summary Erase account
// @Description Anonymizes the account in place; history rows stay behind without personal data
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [delete]
func (h *UserHandler) Erase(c *gin.Context) {
	actor := claimsFromContext(c)
	if err := h.service.Erase(c.Request.Context(), actorID(actor), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func actorID(claims *models.JWTClaims) string {
	if claims == nil {
		return ""
	}
	return claims.UserID
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
