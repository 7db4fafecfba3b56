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

// AssignmentRepository handles persistence of assignments and grade categories.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

const assignmentColumns = `id, course_id, grade_category_id, title, description, max_points, due_date, published, created_at, updated_at`

// FindByID returns an assignment by its ID.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	query := fmt.Sprintf("SELECT %s FROM assignments WHERE id = $1", assignmentColumns)
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// List returns assignments matching the filter plus a total count.
func (r *AssignmentRepository) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.GradeCategoryID != "" {
		conditions = append(conditions, fmt.Sprintf("grade_category_id = $%d", len(args)+1))
		args = append(args, filter.GradeCategoryID)
	}
	if filter.Published != nil {
		conditions = append(conditions, fmt.Sprintf("published = $%d", len(args)+1))
		args = append(args, *filter.Published)
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

	query := fmt.Sprintf("SELECT %s FROM assignments WHERE %s ORDER BY due_date NULLS LAST, created_at LIMIT %d OFFSET %d",
		assignmentColumns, clause, size, offset)
	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list assignments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM assignments WHERE %s", clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}
	return assignments, total, nil
}

// ListPublishedByCourse returns the published assignments used for grading.
func (r *AssignmentRepository) ListPublishedByCourse(ctx context.Context, courseID string) ([]models.Assignment, error) {
	query := fmt.Sprintf("SELECT %s FROM assignments WHERE course_id = $1 AND published = TRUE ORDER BY due_date NULLS LAST, created_at", assignmentColumns)
	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, courseID); err != nil {
		return nil, fmt.Errorf("list published assignments: %w", err)
	}
	return assignments, nil
}

// Create persists a new assignment.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	assignment.CreatedAt = now
	assignment.UpdatedAt = now
	const query = `INSERT INTO assignments (id, course_id, grade_category_id, title, description, max_points, due_date, published, created_at, updated_at)
        VALUES (:id, :course_id, :grade_category_id, :title, :description, :max_points, :due_date, :published, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// Update persists editable assignment fields.
func (r *AssignmentRepository) Update(ctx context.Context, assignment *models.Assignment) error {
	assignment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE assignments SET grade_category_id = :grade_category_id, title = :title,
        description = :description, max_points = :max_points, due_date = :due_date,
        published = :published, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	return nil
}

// Delete removes an assignment and cascades to its submissions.
func (r *AssignmentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM assignments WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	return nil
}

const categoryColumns = `id, course_id, name, weight, drop_lowest_count, created_at, updated_at`

// ListCategories returns the grade categories of a course.
func (r *AssignmentRepository) ListCategories(ctx context.Context, courseID string) ([]models.GradeCategory, error) {
	query := fmt.Sprintf("SELECT %s FROM grade_categories WHERE course_id = $1 ORDER BY name", categoryColumns)
	var categories []models.GradeCategory
	if err := r.db.SelectContext(ctx, &categories, query, courseID); err != nil {
		return nil, fmt.Errorf("list grade categories: %w", err)
	}
	return categories, nil
}

// FindCategory returns a grade category by its ID.
func (r *AssignmentRepository) FindCategory(ctx context.Context, id string) (*models.GradeCategory, error) {
	query := fmt.Sprintf("SELECT %s FROM grade_categories WHERE id = $1", categoryColumns)
	var category models.GradeCategory
	if err := r.db.GetContext(ctx, &category, query, id); err != nil {
		return nil, err
	}
	return &category, nil
}

// CreateCategory persists a new grade category.
func (r *AssignmentRepository) CreateCategory(ctx context.Context, category *models.GradeCategory) error {
	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	category.CreatedAt = now
	category.UpdatedAt = now
	const query = `INSERT INTO grade_categories (id, course_id, name, weight, drop_lowest_count, created_at, updated_at)
        VALUES (:id, :course_id, :name, :weight, :drop_lowest_count, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, category); err != nil {
		return fmt.Errorf("create grade category: %w", err)
	}
	return nil
}
