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

// EnrollmentRepository handles persistence of course enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, course_id, user_id, method_id, course_role, status, time_start, time_end,
        progress_percentage, enrolled_at, enrolled_by`

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM course_enrollments e
LEFT JOIN users u ON u.id = e.user_id
LEFT JOIN courses c ON c.id = e.course_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("e.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.MethodID != "" {
		conditions = append(conditions, fmt.Sprintf("e.method_id = $%d", len(args)+1))
		args = append(args, filter.MethodID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Role != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_role = $%d", len(args)+1))
		args = append(args, filter.Role)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at": "e.enrolled_at",
		"user_name":   "u.full_name",
		"progress":    "e.progress_percentage",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.course_id, e.user_id, e.method_id, e.course_role, e.status,
        e.time_start, e.time_end, e.progress_percentage, e.enrolled_at, e.enrolled_by,
        COALESCE(u.full_name, '') AS user_name, COALESCE(u.email, '') AS user_email,
        COALESCE(c.code, '') AS course_code, COALESCE(c.title, '') AS course_title
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.CourseEnrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM course_enrollments WHERE id = $1", enrollmentColumns)
	var enrollment models.CourseEnrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByCourseAndUser returns the enrollment for a (course, user) pair.
func (r *EnrollmentRepository) FindByCourseAndUser(ctx context.Context, courseID, userID string) (*models.CourseEnrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM course_enrollments WHERE course_id = $1 AND user_id = $2 LIMIT 1", enrollmentColumns)
	var enrollment models.CourseEnrollment
	if err := r.db.GetContext(ctx, &enrollment, query, courseID, userID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// Exists reports whether any enrollment exists for the pair. The unique
// (course_id, user_id) constraint backs this check.
func (r *EnrollmentRepository) Exists(ctx context.Context, courseID, userID string) (bool, error) {
	const query = `SELECT 1 FROM course_enrollments WHERE course_id = $1 AND user_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, courseID, userID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.CourseEnrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	const query = `INSERT INTO course_enrollments (id, course_id, user_id, method_id, course_role, status,
        time_start, time_end, progress_percentage, enrolled_at, enrolled_by)
        VALUES (:id, :course_id, :user_id, :method_id, :course_role, :status,
        :time_start, :time_end, :progress_percentage, :enrolled_at, :enrolled_by)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Delete removes an enrollment row (unenroll).
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM course_enrollments WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}

// UpdateStatus updates the enrollment lifecycle status.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	const query = `UPDATE course_enrollments SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// UpdateProgress stores the recomputed progress percentage and, when it
// reaches 100, transitions the enrollment to COMPLETED in the same statement.
func (r *EnrollmentRepository) UpdateProgress(ctx context.Context, id string, progress float64) error {
	const query = `UPDATE course_enrollments SET progress_percentage = $2,
        status = CASE WHEN $2 >= 100 AND status = 'ACTIVE' THEN 'COMPLETED' ELSE status END
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, progress); err != nil {
		return fmt.Errorf("update enrollment progress: %w", err)
	}
	return nil
}

// ListActiveByCourse returns active enrollments for the roster view.
func (r *EnrollmentRepository) ListActiveByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.course_id, e.user_id, e.method_id, e.course_role, e.status,
        e.time_start, e.time_end, e.progress_percentage, e.enrolled_at, e.enrolled_by,
        COALESCE(u.full_name, '') AS user_name, COALESCE(u.email, '') AS user_email,
        '' AS course_code, '' AS course_title
        FROM course_enrollments e
        LEFT JOIN users u ON u.id = e.user_id
        WHERE e.course_id = $1 AND e.status IN ('ACTIVE', 'COMPLETED')
        ORDER BY u.full_name`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, courseID); err != nil {
		return nil, fmt.Errorf("list course roster: %w", err)
	}
	return enrollments, nil
}

// ListByUser returns every enrollment for a user (account export).
func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.course_id, e.user_id, e.method_id, e.course_role, e.status,
        e.time_start, e.time_end, e.progress_percentage, e.enrolled_at, e.enrolled_by,
        '' AS user_name, '' AS user_email,
        COALESCE(c.code, '') AS course_code, COALESCE(c.title, '') AS course_title
        FROM course_enrollments e
        LEFT JOIN courses c ON c.id = e.course_id
        WHERE e.user_id = $1
        ORDER BY e.enrolled_at`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, userID); err != nil {
		return nil, fmt.Errorf("list user enrollments: %w", err)
	}
	return enrollments, nil
}
