package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-api/pkg/middleware/requestid"
)

// RouterDeps bundles everything the HTTP layer needs.
type RouterDeps struct {
	Config *config.Config
	Logger *zap.Logger

	TokenValidator middleware.TokenValidator
	AuditSink      middleware.AuditSink
	Metrics        *service.MetricsService

	Auth        *AuthHandler
	TwoFactor   *TwoFactorHandler
	Users       *UserHandler
	Courses     *CourseHandler
	Assignments *AssignmentHandler
	Enrollments *EnrollmentHandler
	Submissions *SubmissionHandler
	Grades      *GradeHandler
	Exports     *ExportHandler
	Audit       *AuditHandler
	MetricsAPI  *MetricsHandler
}

// NewRouter wires middleware and routes onto a gin engine.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(deps.Config.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", deps.MetricsAPI.Prometheus)

	if deps.Config.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(deps.Config.APIPrefix)

	// Public auth endpoints plus the token-authenticated download.
	api.POST("/auth/login", deps.Auth.Login)
	api.POST("/auth/refresh", deps.Auth.Refresh)
	api.GET("/exports/download",
		middleware.Audit(deps.AuditSink, models.AuditActionExportDownload, "export"),
		deps.Exports.Download)

	authed := api.Group("")
	authed.Use(middleware.JWT(deps.TokenValidator))

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor)
	admin := middleware.RequireRoles(models.RoleAdmin)
	adminOrSelf := middleware.RBAC(string(models.RoleAdmin), "SELF")

	authed.POST("/auth/logout", deps.Auth.Logout)
	authed.POST("/auth/change-password", deps.Auth.ChangePassword)
	authed.GET("/auth/me", deps.Auth.Me)

	authed.GET("/auth/2fa", deps.TwoFactor.Status)
	authed.POST("/auth/2fa/setup", deps.TwoFactor.Setup)
	authed.POST("/auth/2fa/confirm", deps.TwoFactor.Confirm)
	authed.DELETE("/auth/2fa", deps.TwoFactor.Disable)

	authed.GET("/users", admin, deps.Users.List)
	authed.POST("/users", admin, deps.Users.Create)
	authed.GET("/users/:id", adminOrSelf, deps.Users.Get)
	authed.PATCH("/users/:id", admin, deps.Users.Update)
	authed.GET("/users/:id/export", adminOrSelf, deps.Users.ExportAccount)
	authed.DELETE("/users/:id", adminOrSelf, deps.Users.Erase)

	authed.GET("/courses", deps.Courses.List)
	authed.GET("/courses/:id", deps.Courses.Get)
	authed.POST("/courses", staff, deps.Courses.Create)
	authed.PATCH("/courses/:id", staff, deps.Courses.Update)
	authed.POST("/courses/:id/submit", staff, deps.Courses.Submit)
	authed.POST("/courses/:id/approve", admin, deps.Courses.Approve)
	authed.POST("/courses/:id/reject", admin, deps.Courses.Reject)
	authed.POST("/courses/:id/publish", staff, deps.Courses.Publish)
	authed.POST("/courses/:id/archive", staff, deps.Courses.Archive)

	authed.GET("/courses/:id/methods", staff, deps.Courses.ListMethods)
	authed.POST("/courses/:id/methods", staff, deps.Courses.CreateMethod)
	authed.DELETE("/courses/:id/methods/:methodId", staff, deps.Courses.DeleteMethod)
	authed.GET("/courses/:id/groups", staff, deps.Courses.ListGroups)
	authed.POST("/courses/:id/groups", staff, deps.Courses.CreateGroup)
	authed.POST("/courses/:id/repair-counters", admin, deps.Enrollments.RepairCounters)

	authed.GET("/courses/:id/assignments", deps.Assignments.List)
	authed.POST("/courses/:id/assignments", staff, deps.Assignments.Create)
	authed.GET("/courses/:id/categories", deps.Assignments.ListCategories)
	authed.POST("/courses/:id/categories", staff, deps.Assignments.CreateCategory)
	authed.GET("/assignments/:id", deps.Assignments.Get)
	authed.GET("/assignments/:id/submissions/latest", deps.Submissions.LatestGraded)
	authed.PATCH("/assignments/:id", staff, deps.Assignments.Update)
	authed.DELETE("/assignments/:id", staff, deps.Assignments.Delete)

	authed.GET("/courses/:id/gradebook", staff, deps.Grades.CourseGradebook)
	authed.GET("/courses/:id/grades/:studentId", deps.Grades.StudentSummary)

	authed.GET("/enrollments", staff, deps.Enrollments.List)
	authed.POST("/enrollments", deps.Enrollments.SelfEnroll)
	authed.POST("/enrollments/manual", staff, deps.Enrollments.ManualEnroll)
	authed.POST("/enrollments/bulk", staff, deps.Enrollments.BulkEnroll)
	authed.DELETE("/enrollments/:id", staff, deps.Enrollments.Unenroll)

	authed.GET("/enrollment-requests", staff, deps.Enrollments.ListRequests)
	authed.POST("/enrollment-requests/:id/approve", staff, deps.Enrollments.ApproveRequest)
	authed.POST("/enrollment-requests/:id/reject", staff, deps.Enrollments.RejectRequest)
	authed.DELETE("/enrollment-requests/:id", deps.Enrollments.CancelRequest)

	authed.GET("/submissions", deps.Submissions.List)
	authed.POST("/submissions", middleware.RequireRoles(models.RoleStudent), deps.Submissions.Submit)
	authed.POST("/submissions/:id/grade", staff, deps.Submissions.Grade)
	authed.POST("/submissions/:id/return", staff, deps.Submissions.Return)

	authed.POST("/exports", deps.Exports.Request)
	authed.GET("/exports/:id", deps.Exports.Get)

	authed.GET("/audit-logs", admin, deps.Audit.List)
	authed.GET("/metrics/summary", admin, deps.MetricsAPI.Snapshot)

	return r
}
