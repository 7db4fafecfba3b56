package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// TokenValidator parses an access token into claims.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid access token.
func JWT(auth TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// CurrentUser returns the claims attached by JWT, or nil.
func CurrentUser(c *gin.Context) *models.JWTClaims {
	value, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}
