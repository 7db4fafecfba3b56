package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type submissionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	List(ctx context.Context, filter models.SubmissionFilter) ([]models.Submission, int, error)
	NextAttemptNumber(ctx context.Context, assignmentID, studentID string) (int, error)
	FindLatestGraded(ctx context.Context, assignmentID, studentID string) (*models.Submission, error)
	ListGradedForStudent(ctx context.Context, courseID, studentID string) ([]models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	UpdateGrade(ctx context.Context, id string, pointsEarned, grade float64, feedback *string, gradedBy string) error
	MarkReturned(ctx context.Context, id string) error
}

type submissionAssignmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	ListPublishedByCourse(ctx context.Context, courseID string) ([]models.Assignment, error)
}

type submissionEnrollmentRepo interface {
	FindByCourseAndUser(ctx context.Context, courseID, userID string) (*models.CourseEnrollment, error)
	UpdateProgress(ctx context.Context, id string, progress float64) error
}

type completionCounter interface {
	IncrementCompleted(ctx context.Context, id string) error
}

type gradeInvalidator interface {
	InvalidateCourse(ctx context.Context, courseID string)
}

// SubmitRequest is a student handing in work for an assignment.
type SubmitRequest struct {
	AssignmentID string  `json:"assignment_id" validate:"required"`
	Body         *string `json:"body,omitempty"`
}

// GradeSubmissionRequest is an instructor scoring one submission.
type GradeSubmissionRequest struct {
	PointsEarned float64 `json:"points_earned" validate:"min=0"`
	Feedback     *string `json:"feedback,omitempty"`
}

// SubmissionService handles the submit and grade flows. Grading recomputes
// the student's enrollment progress, and reaching 100 percent completes the
// enrollment and bumps the course completion counter.
type SubmissionService struct {
	submissions submissionRepository
	assignments submissionAssignmentReader
	enrollments submissionEnrollmentRepo
	courses     completionCounter
	grades      gradeInvalidator
	audit       auditRecorder
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewSubmissionService constructs SubmissionService.
func NewSubmissionService(submissions submissionRepository, assignments submissionAssignmentReader, enrollments submissionEnrollmentRepo, courses completionCounter, grades gradeInvalidator, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *SubmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionService{
		submissions: submissions,
		assignments: assignments,
		enrollments: enrollments,
		courses:     courses,
		grades:      grades,
		audit:       audit,
		validator:   validate,
		logger:      logger,
	}
}

// List returns submissions with pagination metadata.
func (s *SubmissionService) List(ctx context.Context, filter models.SubmissionFilter) ([]models.Submission, *models.Pagination, error) {
	submissions, total, err := s.submissions.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return submissions, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Submit records a new attempt. The student must hold an active enrollment
// in the assignment's course and the assignment must be published.
func (s *SubmissionService) Submit(ctx context.Context, studentID string, req SubmitRequest) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}
	assignment, err := s.assignments.FindByID(ctx, req.AssignmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	if !assignment.Published {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "assignment is not published")
	}
	enrollment, err := s.enrollments.FindByCourseAndUser(ctx, assignment.CourseID, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not enrolled in course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	now := time.Now().UTC()
	if !enrollment.IsActive(now) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment is not active")
	}

	attempt, err := s.submissions.NextAttemptNumber(ctx, assignment.ID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to determine attempt number")
	}

	submission := &models.Submission{
		AssignmentID:  assignment.ID,
		StudentID:     studentID,
		AttemptNumber: attempt,
		Status:        models.SubmissionStatusSubmitted,
		Body:          req.Body,
		IsLate:        assignment.DueDate != nil && now.After(*assignment.DueDate),
		SubmittedAt:   &now,
	}
	if err := s.submissions.Create(ctx, submission); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create submission")
	}
	return submission, nil
}

// Grade scores a submission, refreshes the student's enrollment progress
// and drops cached grade figures for the course.
func (s *SubmissionService) Grade(ctx context.Context, graderID, submissionID string, req GradeSubmissionRequest) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grading payload")
	}
	submission, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}
	if submission.Status == models.SubmissionStatusDraft {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "draft submissions cannot be graded")
	}
	assignment, err := s.assignments.FindByID(ctx, submission.AssignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	if assignment.MaxPoints > 0 && req.PointsEarned > assignment.MaxPoints {
		return nil, appErrors.Clone(appErrors.ErrValidation, "points exceed assignment maximum")
	}

	var grade float64
	if assignment.MaxPoints > 0 {
		grade = req.PointsEarned / assignment.MaxPoints * 100
	}
	if err := s.submissions.UpdateGrade(ctx, submissionID, req.PointsEarned, grade, req.Feedback, graderID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grade submission")
	}

	s.refreshProgress(ctx, assignment.CourseID, submission.StudentID)
	if s.grades != nil {
		s.grades.InvalidateCourse(ctx, assignment.CourseID)
	}

	graded, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload submission")
	}
	s.record(graderID, models.AuditActionSubmissionGrade, submissionID, submission, graded)
	return graded, nil
}

// Return hands a graded submission back to its student. The score and
// feedback stay on the record, so returned work keeps counting toward
// progress and grade aggregation.
func (s *SubmissionService) Return(ctx context.Context, actorID, submissionID string) (*models.Submission, error) {
	submission, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}
	if submission.Status != models.SubmissionStatusGraded {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only graded submissions can be returned")
	}
	if err := s.submissions.MarkReturned(ctx, submissionID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to return submission")
	}
	returned, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload submission")
	}
	s.record(actorID, models.AuditActionSubmissionReturn, submissionID, submission, returned)
	return returned, nil
}

// LatestGraded returns the student's most recent attempt carrying a score
// on one assignment, whether it is still held or already returned.
func (s *SubmissionService) LatestGraded(ctx context.Context, assignmentID, studentID string) (*models.Submission, error) {
	submission, err := s.submissions.FindLatestGraded(ctx, assignmentID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest graded submission")
	}
	if submission == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no graded submission yet")
	}
	return submission, nil
}

// refreshProgress recomputes the enrollment's progress as the share of
// published assignments with a graded submission. Hitting 100 completes
// the enrollment and bumps the course completion counter. Failures here
// are logged, not surfaced: the grade itself is already persisted.
func (s *SubmissionService) refreshProgress(ctx context.Context, courseID, studentID string) {
	enrollment, err := s.enrollments.FindByCourseAndUser(ctx, courseID, studentID)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Error("load enrollment for progress", zap.String("course_id", courseID), zap.Error(err))
		}
		return
	}
	assignments, err := s.assignments.ListPublishedByCourse(ctx, courseID)
	if err != nil {
		s.logger.Error("load assignments for progress", zap.String("course_id", courseID), zap.Error(err))
		return
	}
	if len(assignments) == 0 {
		return
	}
	graded, err := s.submissions.ListGradedForStudent(ctx, courseID, studentID)
	if err != nil {
		s.logger.Error("load submissions for progress", zap.String("course_id", courseID), zap.Error(err))
		return
	}

	gradedSet := make(map[string]struct{}, len(graded))
	for _, submission := range graded {
		gradedSet[submission.AssignmentID] = struct{}{}
	}
	var done int
	for _, assignment := range assignments {
		if _, ok := gradedSet[assignment.ID]; ok {
			done++
		}
	}
	progress := float64(done) / float64(len(assignments)) * 100

	if err := s.enrollments.UpdateProgress(ctx, enrollment.ID, progress); err != nil {
		s.logger.Error("update enrollment progress", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		return
	}
	if progress >= 100 && enrollment.Status == models.EnrollmentStatusActive {
		if err := s.courses.IncrementCompleted(ctx, courseID); err != nil {
			s.logger.Error("increment completed count", zap.String("course_id", courseID), zap.Error(err))
		}
	}
}

func (s *SubmissionService) record(actorID, action, resourceID string, oldValue, newValue interface{}) {
	if s.audit == nil {
		return
	}
	entry := models.AuditLog{Action: action, Resource: "submission", ResourceID: &resourceID}
	if actorID != "" {
		entry.UserID = &actorID
	}
	entry.OldValues = marshalAuditValue(oldValue)
	entry.NewValues = marshalAuditValue(newValue)
	s.audit.Record(entry)
}
