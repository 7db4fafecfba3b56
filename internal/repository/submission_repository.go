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

// SubmissionRepository handles persistence of submissions.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs the repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

const submissionColumns = `id, assignment_id, student_id, attempt_number, status, body, points_earned,
        grade, feedback, is_late, submitted_at, graded_at, graded_by`

// FindByID returns a submission by its ID.
func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	query := fmt.Sprintf("SELECT %s FROM submissions WHERE id = $1", submissionColumns)
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, id); err != nil {
		return nil, err
	}
	return &submission, nil
}

// List returns submissions matching the filter plus a total count.
func (r *SubmissionRepository) List(ctx context.Context, filter models.SubmissionFilter) ([]models.Submission, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.AssignmentID != "" {
		conditions = append(conditions, fmt.Sprintf("assignment_id = $%d", len(args)+1))
		args = append(args, filter.AssignmentID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
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

	query := fmt.Sprintf("SELECT %s FROM submissions WHERE %s ORDER BY submitted_at DESC NULLS LAST LIMIT %d OFFSET %d",
		submissionColumns, clause, size, offset)
	var submissions []models.Submission
	if err := r.db.SelectContext(ctx, &submissions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM submissions WHERE %s", clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}
	return submissions, total, nil
}

// NextAttemptNumber returns the attempt number the next submission should use.
func (r *SubmissionRepository) NextAttemptNumber(ctx context.Context, assignmentID, studentID string) (int, error) {
	const query = `SELECT COALESCE(MAX(attempt_number), 0) + 1 FROM submissions WHERE assignment_id = $1 AND student_id = $2`
	var next int
	if err := r.db.GetContext(ctx, &next, query, assignmentID, studentID); err != nil {
		return 0, fmt.Errorf("next attempt number: %w", err)
	}
	return next, nil
}

// FindLatestGraded returns the latest graded attempt for a (assignment, student)
// pair, or nil when nothing is graded yet. Returned submissions still carry
// their score and count as graded.
func (r *SubmissionRepository) FindLatestGraded(ctx context.Context, assignmentID, studentID string) (*models.Submission, error) {
	query := fmt.Sprintf(`SELECT %s FROM submissions
        WHERE assignment_id = $1 AND student_id = $2 AND status IN ('GRADED', 'RETURNED')
        ORDER BY attempt_number DESC LIMIT 1`, submissionColumns)
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, assignmentID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find latest graded submission: %w", err)
	}
	return &submission, nil
}

// ListGradedForStudent returns the latest graded attempt per assignment for a
// student across a course. The grade aggregator reads exclusively from this.
func (r *SubmissionRepository) ListGradedForStudent(ctx context.Context, courseID, studentID string) ([]models.Submission, error) {
	query := fmt.Sprintf(`SELECT DISTINCT ON (s.assignment_id) %s
        FROM submissions s
        JOIN assignments a ON a.id = s.assignment_id
        WHERE a.course_id = $1 AND s.student_id = $2 AND s.status IN ('GRADED', 'RETURNED')
        ORDER BY s.assignment_id, s.attempt_number DESC`,
		prefixColumns("s", submissionColumns))
	var submissions []models.Submission
	if err := r.db.SelectContext(ctx, &submissions, query, courseID, studentID); err != nil {
		return nil, fmt.Errorf("list graded submissions: %w", err)
	}
	return submissions, nil
}

// ListLatestForCourse returns the latest attempt per (assignment, student)
// across a course, graded or not. Feeds the gradebook matrix.
func (r *SubmissionRepository) ListLatestForCourse(ctx context.Context, courseID string) ([]models.Submission, error) {
	query := fmt.Sprintf(`SELECT DISTINCT ON (s.assignment_id, s.student_id) %s
        FROM submissions s
        JOIN assignments a ON a.id = s.assignment_id
        WHERE a.course_id = $1 AND s.status <> 'DRAFT'
        ORDER BY s.assignment_id, s.student_id, s.attempt_number DESC`,
		prefixColumns("s", submissionColumns))
	var submissions []models.Submission
	if err := r.db.SelectContext(ctx, &submissions, query, courseID); err != nil {
		return nil, fmt.Errorf("list course submissions: %w", err)
	}
	return submissions, nil
}

// ListByStudent returns every non-draft submission a student made (account export).
func (r *SubmissionRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Submission, error) {
	query := fmt.Sprintf("SELECT %s FROM submissions WHERE student_id = $1 AND status <> 'DRAFT' ORDER BY submitted_at", submissionColumns)
	var submissions []models.Submission
	if err := r.db.SelectContext(ctx, &submissions, query, studentID); err != nil {
		return nil, fmt.Errorf("list student submissions: %w", err)
	}
	return submissions, nil
}

// Create persists a new submission.
func (r *SubmissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	const query = `INSERT INTO submissions (id, assignment_id, student_id, attempt_number, status, body,
        points_earned, grade, feedback, is_late, submitted_at, graded_at, graded_by)
        VALUES (:id, :assignment_id, :student_id, :attempt_number, :status, :body,
        :points_earned, :grade, :feedback, :is_late, :submitted_at, :graded_at, :graded_by)`
	if _, err := r.db.NamedExecContext(ctx, query, submission); err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

// MarkReturned flips a submission's status to RETURNED. The score and
// feedback stay on the row.
func (r *SubmissionRepository) MarkReturned(ctx context.Context, id string) error {
	const query = `UPDATE submissions SET status = 'RETURNED' WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("return submission: %w", err)
	}
	return nil
}

// UpdateGrade records a grading decision on a submission.
func (r *SubmissionRepository) UpdateGrade(ctx context.Context, id string, pointsEarned, grade float64, feedback *string, gradedBy string) error {
	const query = `UPDATE submissions SET status = 'GRADED', points_earned = $2, grade = $3,
        feedback = $4, graded_by = $5, graded_at = $6 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, pointsEarned, grade, feedback, gradedBy, time.Now().UTC()); err != nil {
		return fmt.Errorf("update submission grade: %w", err)
	}
	return nil
}

// prefixColumns rewrites a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
