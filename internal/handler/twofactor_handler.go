package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

// TwoFactorHandler exposes TOTP enrollment endpoints for the current user.
type TwoFactorHandler struct {
	service *service.TwoFactorService
}

// NewTwoFactorHandler creates a new handler.
func NewTwoFactorHandler(svc *service.TwoFactorService) *TwoFactorHandler {
	return &TwoFactorHandler{service: svc}
}

type twoFactorCodePayload struct {
	Code string `json:"code" binding:"required"`
}

// Status godoc
// @Summary Two-factor status
// @Description Returns the current user's two-factor state
// @Tags TwoFactor
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /auth/2fa [get]
func (h *TwoFactorHandler) Status(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	settings, err := h.service.Status(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, settings, nil)
}

// Setup godoc
// @Summary Begin two-factor setup
// @Description Provisions a TOTP secret pending confirmation
// @Tags TwoFactor
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /auth/2fa/setup [post]
func (h *TwoFactorHandler) Setup(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	res, err := h.service.Setup(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Confirm godoc
// @Summary Confirm two-factor setup
// @Description Verifies a code against the pending secret and returns recovery codes
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param payload body twoFactorCodePayload true "TOTP code"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/2fa/confirm [post]
func (h *TwoFactorHandler) Confirm(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload twoFactorCodePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "code required"))
		return
	}
	res, err := h.service.Confirm(c.Request.Context(), claims.UserID, payload.Code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Disable godoc
// @Summary Disable two-factor
// @Description Removes two-factor settings; requires a current code
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param payload body twoFactorCodePayload true "TOTP or recovery code"
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/2fa [delete]
func (h *TwoFactorHandler) Disable(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload twoFactorCodePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "code required"))
		return
	}
	if err := h.service.Disable(c.Request.Context(), claims.UserID, payload.Code); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
