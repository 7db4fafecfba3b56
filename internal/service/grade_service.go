package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type gradeAssignmentReader interface {
	ListPublishedByCourse(ctx context.Context, courseID string) ([]models.Assignment, error)
	ListCategories(ctx context.Context, courseID string) ([]models.GradeCategory, error)
}

type gradeSubmissionReader interface {
	ListGradedForStudent(ctx context.Context, courseID, studentID string) ([]models.Submission, error)
	ListLatestForCourse(ctx context.Context, courseID string) ([]models.Submission, error)
}

type gradeRosterReader interface {
	ListActiveByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error)
}

type gradeCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// GradeService computes percentage grades per assignment, per category and
// overall. Every ratio is points-weighted: earned points over the max points
// of the assignments those submissions belong to. Category weights are
// stored but intentionally unused by the aggregation.
type GradeService struct {
	assignments gradeAssignmentReader
	submissions gradeSubmissionReader
	roster      gradeRosterReader
	cache       gradeCache
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// NewGradeService constructs GradeService. A nil cache disables caching.
func NewGradeService(assignments gradeAssignmentReader, submissions gradeSubmissionReader, roster gradeRosterReader, cache gradeCache, cacheTTL time.Duration, logger *zap.Logger) *GradeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &GradeService{
		assignments: assignments,
		submissions: submissions,
		roster:      roster,
		cache:       cache,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

func gradeSummaryCacheKey(courseID, studentID string) string {
	return fmt.Sprintf("grades:%s:student:%s", courseID, studentID)
}

// InvalidateCourse drops every cached grade figure for a course. Called by
// the submission service after each grading write.
func (s *GradeService) InvalidateCourse(ctx context.Context, courseID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("grades:%s:*", courseID)); err != nil {
		s.logger.Warn("invalidate grade cache", zap.String("course_id", courseID), zap.Error(err))
	}
}

// StudentSummary computes the full grade view for one student in a course.
func (s *GradeService) StudentSummary(ctx context.Context, courseID, studentID string) (*models.StudentGradeSummary, error) {
	if s.cache != nil {
		var cached models.StudentGradeSummary
		if err := s.cache.Get(ctx, gradeSummaryCacheKey(courseID, studentID), &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("grade cache read", zap.Error(err))
		}
	}

	assignments, err := s.assignments.ListPublishedByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignments")
	}
	categories, err := s.assignments.ListCategories(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade categories")
	}
	graded, err := s.submissions.ListGradedForStudent(ctx, courseID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submissions")
	}

	summary := aggregateStudent(courseID, studentID, assignments, categories, graded)

	if s.cache != nil {
		if err := s.cache.Set(ctx, gradeSummaryCacheKey(courseID, studentID), summary, s.cacheTTL); err != nil {
			s.logger.Warn("grade cache write", zap.Error(err))
		}
	}
	return summary, nil
}

// CourseGradebook builds the instructor roster matrix. Students with zero
// submissions keep a full row of NOT_SUBMITTED cells.
func (s *GradeService) CourseGradebook(ctx context.Context, courseID string) (*models.CourseGradebook, error) {
	assignments, err := s.assignments.ListPublishedByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignments")
	}
	roster, err := s.roster.ListActiveByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	latest, err := s.submissions.ListLatestForCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submissions")
	}

	// Index the latest attempt per (student, assignment).
	byCell := make(map[string]models.Submission, len(latest))
	for _, submission := range latest {
		byCell[submission.StudentID+"/"+submission.AssignmentID] = submission
	}
	maxPoints := make(map[string]float64, len(assignments))
	for _, assignment := range assignments {
		maxPoints[assignment.ID] = assignment.MaxPoints
	}

	gradebook := &models.CourseGradebook{
		CourseID:    courseID,
		Assignments: assignments,
		Rows:        make([]models.GradebookRow, 0, len(roster)),
		GeneratedAt: time.Now().UTC(),
	}

	for _, entry := range roster {
		if entry.CourseRole != models.CourseRoleStudent {
			continue
		}
		row := models.GradebookRow{
			StudentID:   entry.UserID,
			StudentName: entry.UserName,
			Cells:       make([]models.GradebookCell, 0, len(assignments)),
		}
		var earned, total float64
		for _, assignment := range assignments {
			cell := models.GradebookCell{AssignmentID: assignment.ID, Status: models.CellNotSubmitted}
			if submission, ok := byCell[entry.UserID+"/"+assignment.ID]; ok {
				cell.IsLate = submission.IsLate
				cell.SubmittedAt = submission.SubmittedAt
				if submission.IsGraded() {
					cell.Status = models.CellGraded
					cell.PointsEarned = submission.PointsEarned
					earned += *submission.PointsEarned
					total += maxPoints[assignment.ID]
				} else {
					cell.Status = models.CellSubmitted
				}
			}
			row.Cells = append(row.Cells, cell)
		}
		row.OverallPercentage = percentage(earned, total)
		gradebook.Rows = append(gradebook.Rows, row)
	}
	return gradebook, nil
}

// aggregateStudent computes the summary from loaded rows. Split out so the
// math is testable without the cache or repositories.
func aggregateStudent(courseID, studentID string, assignments []models.Assignment, categories []models.GradeCategory, graded []models.Submission) *models.StudentGradeSummary {
	byAssignment := make(map[string]models.Submission, len(graded))
	for _, submission := range graded {
		byAssignment[submission.AssignmentID] = submission
	}

	summary := &models.StudentGradeSummary{
		CourseID:    courseID,
		StudentID:   studentID,
		Categories:  make([]models.CategoryGrade, 0, len(categories)),
		Assignments: make([]models.AssignmentGrade, 0, len(assignments)),
	}

	type bucket struct{ earned, total float64 }
	perCategory := make(map[string]*bucket, len(categories))
	for _, category := range categories {
		perCategory[category.ID] = &bucket{}
	}

	for _, assignment := range assignments {
		grade := models.AssignmentGrade{
			AssignmentID: assignment.ID,
			Title:        assignment.Title,
			MaxPoints:    assignment.MaxPoints,
		}
		if submission, ok := byAssignment[assignment.ID]; ok && submission.IsGraded() {
			grade.PointsEarned = submission.PointsEarned
			grade.IsLate = submission.IsLate
			grade.Percentage = percentage(*submission.PointsEarned, assignment.MaxPoints)

			summary.EarnedPoints += *submission.PointsEarned
			summary.TotalPoints += assignment.MaxPoints
			if assignment.GradeCategoryID != nil {
				if b, ok := perCategory[*assignment.GradeCategoryID]; ok {
					b.earned += *submission.PointsEarned
					b.total += assignment.MaxPoints
				}
			}
		}
		summary.Assignments = append(summary.Assignments, grade)
	}

	summary.OverallPercentage = percentage(summary.EarnedPoints, summary.TotalPoints)

	for _, category := range categories {
		b := perCategory[category.ID]
		summary.Categories = append(summary.Categories, models.CategoryGrade{
			CategoryID:   category.ID,
			Name:         category.Name,
			EarnedPoints: b.earned,
			TotalPoints:  b.total,
			Percentage:   percentage(b.earned, b.total),
		})
	}
	return summary
}

// percentage returns earned/total*100, or nil when the denominator is zero.
// Never NaN and never a silent zero.
func percentage(earned, total float64) *float64 {
	if total == 0 {
		return nil
	}
	p := earned / total * 100
	return &p
}
