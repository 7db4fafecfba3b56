package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/jobs"
)

type auditRepository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
	ListByUser(ctx context.Context, userID string) ([]models.AuditLog, error)
}

// AuditService is the fire-and-forget audit sink. Record hands the entry to
// a background queue; writers never block on the trail and a full buffer
// drops the entry with a log line rather than stalling the request.
type AuditService struct {
	repo   auditRepository
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditService constructs AuditService. Call Start before recording.
func NewAuditService(repo auditRepository, cfg jobs.QueueConfig, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuditService{repo: repo, logger: logger}
	s.queue = jobs.NewQueue("audit", s.handle, cfg)
	return s
}

// Start launches the sink workers.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// Record enqueues one audit entry without blocking.
func (s *AuditService) Record(entry models.AuditLog) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if !s.queue.TryEnqueue(jobs.Job{ID: entry.ID, Type: "audit_entry", Payload: entry}) {
		s.logger.Warn("audit entry dropped", zap.String("action", entry.Action), zap.String("resource", entry.Resource))
	}
}

// List returns audit records with pagination metadata.
func (s *AuditService) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error) {
	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit logs")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return logs, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(models.AuditLog)
	if !ok {
		s.logger.Error("unexpected audit payload type", zap.String("job_id", job.ID))
		return nil
	}
	return s.repo.Create(ctx, &entry)
}

// marshalAuditValue serialises a before/after snapshot for the trail. A nil
// value or marshal failure yields nil rather than failing the caller.
func marshalAuditValue(value interface{}) []byte {
	if value == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return raw
}
