package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

// AuditRepository handles persistence of audit trail records.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditColumns = `id, user_id, action, resource, resource_id, old_values, new_values, metadata, ip_address, user_agent, created_at`

// Create appends one record to the trail.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, metadata, ip_address, user_agent, created_at)
        VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :metadata, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// List returns audit records matching the filter plus a total count.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)+1))
		args = append(args, filter.Action)
	}
	if filter.Resource != "" {
		conditions = append(conditions, fmt.Sprintf("resource = $%d", len(args)+1))
		args = append(args, filter.Resource)
	}

	clause := strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM audit_logs WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		auditColumns, clause, size, offset)
	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs WHERE %s", clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}
	return logs, total, nil
}

// ListByUser returns the full trail for one user (account export).
func (r *AuditRepository) ListByUser(ctx context.Context, userID string) ([]models.AuditLog, error) {
	query := fmt.Sprintf("SELECT %s FROM audit_logs WHERE user_id = $1 ORDER BY created_at", auditColumns)
	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, userID); err != nil {
		return nil, fmt.Errorf("list user audit logs: %w", err)
	}
	return logs, nil
}

// DetachUser clears the user reference on a user's records while keeping the
// rows, so the trail survives account erasure without pointing at a person.
func (r *AuditRepository) DetachUser(ctx context.Context, userID string) error {
	const query = `UPDATE audit_logs SET user_id = NULL, ip_address = '', user_agent = '' WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("detach audit logs: %w", err)
	}
	return nil
}
