package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lms-api/api/swagger"
	"github.com/noah-isme/lms-api/internal/handler"
	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/cache"
	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/database"
	"github.com/noah-isme/lms-api/pkg/jobs"
	"github.com/noah-isme/lms-api/pkg/logger"
	"github.com/noah-isme/lms-api/pkg/storage"
)

// @title LMS API
// @version 1.0.0
// @description Learning management backend: courses, enrollments, grades, exports
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis is optional: grade caching degrades to direct reads without it.
	var gradeCache *repository.CacheRepository
	if cfg.Grades.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, grade caching disabled", "error", err)
		} else {
			gradeCache = repository.NewCacheRepository(redisClient, logr)
			defer gradeCache.Close() //nolint:errcheck
		}
	}

	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("export storage init failed", "error", err)
	}
	exportSigner := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	methodRepo := repository.NewEnrollmentMethodRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	requestRepo := repository.NewEnrollmentRequestRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	twoFactorRepo := repository.NewTwoFactorRepository(db)
	exportRepo := repository.NewExportRepository(db)

	validate := validator.New()

	metricsSvc := service.NewMetricsService()

	auditSvc := service.NewAuditService(auditRepo, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
	}, logr)
	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	var gradeSvc *service.GradeService
	if gradeCache != nil {
		gradeSvc = service.NewGradeService(assignmentRepo, submissionRepo, enrollmentRepo, gradeCache, cfg.Grades.CacheTTL, logr)
	} else {
		gradeSvc = service.NewGradeService(assignmentRepo, submissionRepo, enrollmentRepo, nil, cfg.Grades.CacheTTL, logr)
	}

	twoFactorSvc := service.NewTwoFactorService(twoFactorRepo, userRepo, auditSvc, cfg.TwoFactor.Issuer, logr)

	authSvc := service.NewAuthService(userRepo, twoFactorSvc, auditSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		SingleSession:      cfg.JWT.SingleSession,
	})

	userSvc := service.NewUserService(userRepo, enrollmentRepo, submissionRepo, auditRepo, twoFactorRepo, auditSvc, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, methodRepo, groupRepo, auditSvc, validate, logr)
	assignmentSvc := service.NewAssignmentService(assignmentRepo, courseRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, methodRepo, courseRepo, requestRepo, groupRepo, userRepo, auditSvc, validate, logr)
	submissionSvc := service.NewSubmissionService(submissionRepo, assignmentRepo, enrollmentRepo, courseRepo, gradeSvc, auditSvc, validate, logr)

	exportSvc := service.NewExportService(exportRepo, userSvc, gradeSvc, exportStore, exportSigner, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
	}, logr)
	exportSvc.Start(ctx)
	defer exportSvc.Stop()

	go runExportCleanup(ctx, exportSvc, cfg.Exports.CleanupInterval, cfg.Exports.SignedURLTTL, logr)

	r := handler.NewRouter(handler.RouterDeps{
		Config:         cfg,
		Logger:         logr,
		TokenValidator: authSvc,
		AuditSink:      auditSvc,
		Metrics:        metricsSvc,

		Auth:        handler.NewAuthHandler(authSvc),
		TwoFactor:   handler.NewTwoFactorHandler(twoFactorSvc),
		Users:       handler.NewUserHandler(userSvc),
		Courses:     handler.NewCourseHandler(courseSvc),
		Assignments: handler.NewAssignmentHandler(assignmentSvc),
		Enrollments: handler.NewEnrollmentHandler(enrollmentSvc),
		Submissions: handler.NewSubmissionHandler(submissionSvc),
		Grades:      handler.NewGradeHandler(gradeSvc),
		Exports:     handler.NewExportHandler(exportSvc, exportStore),
		Audit:       handler.NewAuditHandler(auditSvc),
		MetricsAPI:  handler.NewMetricsHandler(metricsSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
	}
}

func runExportCleanup(ctx context.Context, exports *service.ExportService, interval, ttl time.Duration, logr *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := exports.CleanupExpired(ctx, ttl)
			if err != nil {
				logr.Sugar().Warnw("export cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logr.Sugar().Infow("expired exports removed", "count", removed)
			}
		}
	}
}
