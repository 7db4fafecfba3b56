package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

// EnrollmentMethodRepository handles persistence of course enrollment methods.
type EnrollmentMethodRepository struct {
	db *sqlx.DB
}

// NewEnrollmentMethodRepository constructs the repository.
func NewEnrollmentMethodRepository(db *sqlx.DB) *EnrollmentMethodRepository {
	return &EnrollmentMethodRepository{db: db}
}

const methodColumns = `id, course_id, method_type, is_enabled, enrollment_start_date, enrollment_end_date,
        max_enrollments, current_enrollments, default_role, enrollment_key, key_case_sensitive,
        requires_approval, approval_message, enrollment_duration_days, auto_assign_group_id, created_at, updated_at`

// ListByCourse returns the methods configured for a course.
func (r *EnrollmentMethodRepository) ListByCourse(ctx context.Context, courseID string) ([]models.CourseEnrollmentMethod, error) {
	query := fmt.Sprintf("SELECT %s FROM course_enrollment_methods WHERE course_id = $1 ORDER BY created_at", methodColumns)
	var methods []models.CourseEnrollmentMethod
	if err := r.db.SelectContext(ctx, &methods, query, courseID); err != nil {
		return nil, fmt.Errorf("list enrollment methods: %w", err)
	}
	return methods, nil
}

// FindByID returns a method by its ID.
func (r *EnrollmentMethodRepository) FindByID(ctx context.Context, id string) (*models.CourseEnrollmentMethod, error) {
	query := fmt.Sprintf("SELECT %s FROM course_enrollment_methods WHERE id = $1", methodColumns)
	var method models.CourseEnrollmentMethod
	if err := r.db.GetContext(ctx, &method, query, id); err != nil {
		return nil, err
	}
	return &method, nil
}

// Create persists a new enrollment method.
func (r *EnrollmentMethodRepository) Create(ctx context.Context, method *models.CourseEnrollmentMethod) error {
	if method.ID == "" {
		method.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	method.CreatedAt = now
	method.UpdatedAt = now
	if method.DefaultRole == "" {
		method.DefaultRole = models.CourseRoleStudent
	}
	const query = `INSERT INTO course_enrollment_methods (id, course_id, method_type, is_enabled,
        enrollment_start_date, enrollment_end_date, max_enrollments, current_enrollments, default_role,
        enrollment_key, key_case_sensitive, requires_approval, approval_message, enrollment_duration_days,
        auto_assign_group_id, created_at, updated_at)
        VALUES (:id, :course_id, :method_type, :is_enabled, :enrollment_start_date, :enrollment_end_date,
        :max_enrollments, :current_enrollments, :default_role, :enrollment_key, :key_case_sensitive,
        :requires_approval, :approval_message, :enrollment_duration_days, :auto_assign_group_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, method); err != nil {
		return fmt.Errorf("create enrollment method: %w", err)
	}
	return nil
}

// Update persists editable method fields.
func (r *EnrollmentMethodRepository) Update(ctx context.Context, method *models.CourseEnrollmentMethod) error {
	method.UpdatedAt = time.Now().UTC()
	const query = `UPDATE course_enrollment_methods SET is_enabled = :is_enabled,
        enrollment_start_date = :enrollment_start_date, enrollment_end_date = :enrollment_end_date,
        max_enrollments = :max_enrollments, default_role = :default_role, enrollment_key = :enrollment_key,
        key_case_sensitive = :key_case_sensitive, requires_approval = :requires_approval,
        approval_message = :approval_message, enrollment_duration_days = :enrollment_duration_days,
        auto_assign_group_id = :auto_assign_group_id, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, method); err != nil {
		return fmt.Errorf("update enrollment method: %w", err)
	}
	return nil
}

// Delete removes a method. Enrollments created through it keep their method_id.
func (r *EnrollmentMethodRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM course_enrollment_methods WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete enrollment method: %w", err)
	}
	return nil
}

// IncrementEnrollmentsGuarded takes one seat on the method. The capacity
// check and the increment are a single conditional update so concurrent
// requests cannot overshoot max_enrollments. It reports whether a seat
// was taken.
func (r *EnrollmentMethodRepository) IncrementEnrollmentsGuarded(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE course_enrollment_methods
        SET current_enrollments = current_enrollments + 1, updated_at = $2
        WHERE id = $1 AND (max_enrollments IS NULL OR current_enrollments < max_enrollments)`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("increment method enrollments: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment method enrollments: %w", err)
	}
	return affected == 1, nil
}

// DecrementEnrollments releases one seat with a floor of zero.
func (r *EnrollmentMethodRepository) DecrementEnrollments(ctx context.Context, id string) error {
	const query = `UPDATE course_enrollment_methods
        SET current_enrollments = GREATEST(current_enrollments - 1, 0), updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("decrement method enrollments: %w", err)
	}
	return nil
}

// RepairCounter recomputes current_enrollments from enrollment rows.
func (r *EnrollmentMethodRepository) RepairCounter(ctx context.Context, id string) error {
	const query = `UPDATE course_enrollment_methods SET
        current_enrollments = (SELECT COUNT(*) FROM course_enrollments WHERE method_id = $1 AND status = 'ACTIVE'),
        updated_at = $2
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("repair method counter: %w", err)
	}
	return nil
}
