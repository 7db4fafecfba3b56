package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

// EnrollmentRequestRepository handles persistence of approval-workflow requests.
type EnrollmentRequestRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRequestRepository constructs the repository.
func NewEnrollmentRequestRepository(db *sqlx.DB) *EnrollmentRequestRepository {
	return &EnrollmentRequestRepository{db: db}
}

const requestColumns = `id, course_id, user_id, method_id, status, message, reviewed_by, reviewed_at, review_note, requested_at`

// FindByID returns a request by its ID.
func (r *EnrollmentRequestRepository) FindByID(ctx context.Context, id string) (*models.CourseEnrollmentRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM course_enrollment_requests WHERE id = $1", requestColumns)
	var request models.CourseEnrollmentRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// HasPending reports whether a PENDING request already exists for the pair.
func (r *EnrollmentRequestRepository) HasPending(ctx context.Context, courseID, userID string) (bool, error) {
	const query = `SELECT 1 FROM course_enrollment_requests
        WHERE course_id = $1 AND user_id = $2 AND status = 'PENDING' LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, courseID, userID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check pending request: %w", err)
	}
	return true, nil
}

// Create persists a new request in PENDING state.
func (r *EnrollmentRequestRepository) Create(ctx context.Context, request *models.CourseEnrollmentRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.RequestedAt.IsZero() {
		request.RequestedAt = time.Now().UTC()
	}
	if request.Status == "" {
		request.Status = models.RequestStatusPending
	}
	const query = `INSERT INTO course_enrollment_requests (id, course_id, user_id, method_id, status, message, requested_at)
        VALUES (:id, :course_id, :user_id, :method_id, :status, :message, :requested_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create enrollment request: %w", err)
	}
	return nil
}

// Review transitions a PENDING request to a terminal status. The status
// guard in the WHERE clause makes concurrent reviews race-safe; it reports
// whether this call won the transition.
func (r *EnrollmentRequestRepository) Review(ctx context.Context, id string, status models.EnrollmentRequestStatus, reviewerID string, note *string) (bool, error) {
	const query = `UPDATE course_enrollment_requests
        SET status = $2, reviewed_by = $3, reviewed_at = $4, review_note = $5
        WHERE id = $1 AND status = 'PENDING'`
	res, err := r.db.ExecContext(ctx, query, id, status, reviewerID, time.Now().UTC(), note)
	if err != nil {
		return false, fmt.Errorf("review enrollment request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("review enrollment request: %w", err)
	}
	return affected == 1, nil
}

// Cancel lets the requester withdraw their own PENDING request.
func (r *EnrollmentRequestRepository) Cancel(ctx context.Context, id, userID string) (bool, error) {
	const query = `UPDATE course_enrollment_requests SET status = 'CANCELLED'
        WHERE id = $1 AND user_id = $2 AND status = 'PENDING'`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, fmt.Errorf("cancel enrollment request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel enrollment request: %w", err)
	}
	return affected == 1, nil
}

// List returns requests matching the filter plus a total count.
func (r *EnrollmentRequestRepository) List(ctx context.Context, filter models.EnrollmentRequestFilter) ([]models.CourseEnrollmentRequest, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
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

	query := fmt.Sprintf("SELECT %s FROM course_enrollment_requests WHERE %s ORDER BY requested_at DESC LIMIT %d OFFSET %d",
		requestColumns, clause, size, offset)
	var requests []models.CourseEnrollmentRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollment requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM course_enrollment_requests WHERE %s", clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollment requests: %w", err)
	}
	return requests, total, nil
}
