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

// CourseRepository handles persistence of courses.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

const courseColumns = `id, code, title, description, owner_id, status, approval_status, allow_enrollment,
        max_students, start_date, end_date, enrolled_count, completed_count, created_at, updated_at`

// List returns courses filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	base := `FROM courses c LEFT JOIN users u ON u.id = c.owner_id`
	var conditions []string
	var args []interface{}

	if filter.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("c.owner_id = $%d", len(args)+1))
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("c.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.ApprovalStatus != "" {
		conditions = append(conditions, fmt.Sprintf("c.approval_status = $%d", len(args)+1))
		args = append(args, filter.ApprovalStatus)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(c.code ILIKE $%d OR c.title ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at": "c.created_at",
		"code":       "c.code",
		"title":      "c.title",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.created_at"
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

	query := fmt.Sprintf(`SELECT c.id, c.code, c.title, c.description, c.owner_id, c.status, c.approval_status,
        c.allow_enrollment, c.max_students, c.start_date, c.end_date, c.enrolled_count, c.completed_count,
        c.created_at, c.updated_at, COALESCE(u.full_name, '') AS owner_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var courses []models.CourseDetail
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf("SELECT %s FROM courses WHERE id = $1", courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// Create persists a new course in draft state.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now
	if course.Status == "" {
		course.Status = models.CourseStatusDraft
	}
	if course.ApprovalStatus == "" {
		course.ApprovalStatus = models.CourseApprovalDraft
	}
	const query = `INSERT INTO courses (id, code, title, description, owner_id, status, approval_status,
        allow_enrollment, max_students, start_date, end_date, enrolled_count, completed_count, created_at, updated_at)
        VALUES (:id, :code, :title, :description, :owner_id, :status, :approval_status,
        :allow_enrollment, :max_students, :start_date, :end_date, :enrolled_count, :completed_count, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update persists editable course fields.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET code = :code, title = :title, description = :description,
        allow_enrollment = :allow_enrollment, max_students = :max_students, start_date = :start_date,
        end_date = :end_date, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// UpdateStatus moves the course through its publication lifecycle.
func (r *CourseRepository) UpdateStatus(ctx context.Context, id string, status models.CourseStatus) error {
	const query = `UPDATE courses SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update course status: %w", err)
	}
	return nil
}

// UpdateApprovalStatus moves the course through the review workflow.
func (r *CourseRepository) UpdateApprovalStatus(ctx context.Context, id string, status models.CourseApprovalStatus) error {
	const query = `UPDATE courses SET approval_status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update course approval: %w", err)
	}
	return nil
}

// IncrementEnrolledGuarded bumps enrolled_count only while below the
// course student cap. It reports whether a seat was taken.
func (r *CourseRepository) IncrementEnrolledGuarded(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE courses SET enrolled_count = enrolled_count + 1, updated_at = $2
        WHERE id = $1 AND (max_students IS NULL OR enrolled_count < max_students)`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("increment enrolled count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment enrolled count: %w", err)
	}
	return affected == 1, nil
}

// DecrementEnrolled lowers enrolled_count with a floor of zero.
func (r *CourseRepository) DecrementEnrolled(ctx context.Context, id string) error {
	const query = `UPDATE courses SET enrolled_count = GREATEST(enrolled_count - 1, 0), updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("decrement enrolled count: %w", err)
	}
	return nil
}

// IncrementCompleted bumps completed_count when an enrollment finishes.
func (r *CourseRepository) IncrementCompleted(ctx context.Context, id string) error {
	const query = `UPDATE courses SET completed_count = completed_count + 1, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("increment completed count: %w", err)
	}
	return nil
}

// RepairCounters recomputes the denormalized counters from enrollment rows.
// Used by the admin repair operation to correct drift.
func (r *CourseRepository) RepairCounters(ctx context.Context, id string) error {
	const query = `UPDATE courses SET
        enrolled_count = (SELECT COUNT(*) FROM course_enrollments WHERE course_id = $1 AND status = 'ACTIVE'),
        completed_count = (SELECT COUNT(*) FROM course_enrollments WHERE course_id = $1 AND status = 'COMPLETED'),
        updated_at = $2
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("repair course counters: %w", err)
	}
	return nil
}
