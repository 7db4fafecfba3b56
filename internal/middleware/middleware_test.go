package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type tokenValidatorStub struct {
	claims *models.JWTClaims
	err    error
}

func (s *tokenValidatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.claims, nil
}

func performRequest(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTRejectsMissingAndMalformedHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", JWT(&tokenValidatorStub{claims: &models.JWTClaims{UserID: "u-1"}}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := performRequest(r, http.MethodGet, "/protected", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = performRequest(r, http.MethodGet, "/protected", map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = performRequest(r, http.MethodGet, "/protected", map[string]string{"Authorization": "Bearer abc"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWTRejectsInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", JWT(&tokenValidatorStub{err: appErrors.ErrUnauthorized}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := performRequest(r, http.MethodGet, "/protected", map[string]string{"Authorization": "Bearer bad"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAttachesClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	claims := &models.JWTClaims{UserID: "u-1", Role: models.RoleStudent}

	r := gin.New()
	r.GET("/protected", JWT(&tokenValidatorStub{claims: claims}), func(c *gin.Context) {
		got := CurrentUser(c)
		require.NotNil(t, got)
		assert.Equal(t, "u-1", got.UserID)
		c.Status(http.StatusOK)
	})

	w := performRequest(r, http.MethodGet, "/protected", map[string]string{"Authorization": "Bearer ok"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRBACAllowsRoleAndSelf(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(claims *models.JWTClaims) *gin.Engine {
		r := gin.New()
		r.Use(func(c *gin.Context) {
			if claims != nil {
				c.Set(ContextUserKey, claims)
			}
		})
		r.GET("/users/:id", RBAC(string(models.RoleAdmin), "SELF"), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		return r
	}

	// Admin reaches any user.
	w := performRequest(newRouter(&models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}), http.MethodGet, "/users/u-9", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// A student reaches only their own record.
	w = performRequest(newRouter(&models.JWTClaims{UserID: "u-9", Role: models.RoleStudent}), http.MethodGet, "/users/u-9", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(newRouter(&models.JWTClaims{UserID: "u-9", Role: models.RoleStudent}), http.MethodGet, "/users/u-8", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// No claims at all.
	w = performRequest(newRouter(nil), http.MethodGet, "/users/u-9", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRolesBlocksOthers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "u-1", Role: models.RoleStudent})
	})
	r.POST("/courses", RequireRoles(models.RoleAdmin, models.RoleInstructor), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	w := performRequest(r, http.MethodPost, "/courses", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

type auditSinkStub struct {
	entries []models.AuditLog
}

func (s *auditSinkStub) Record(entry models.AuditLog) {
	s.entries = append(s.entries, entry)
}

func TestAuditRecordsSuccessfulRequestsOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sink := &auditSinkStub{}

	r := gin.New()
	r.GET("/exports/download", Audit(sink, "EXPORT_DOWNLOAD", "export"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/exports/denied", Audit(sink, "EXPORT_DOWNLOAD", "export"), func(c *gin.Context) {
		c.Status(http.StatusUnauthorized)
	})

	performRequest(r, http.MethodGet, "/exports/download", nil)
	performRequest(r, http.MethodGet, "/exports/denied", nil)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "EXPORT_DOWNLOAD", sink.entries[0].Action)
	assert.Equal(t, "export", sink.entries[0].Resource)
}
