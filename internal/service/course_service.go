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

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	UpdateStatus(ctx context.Context, id string, status models.CourseStatus) error
	UpdateApprovalStatus(ctx context.Context, id string, status models.CourseApprovalStatus) error
}

type courseMethodRepository interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.CourseEnrollmentMethod, error)
	FindByID(ctx context.Context, id string) (*models.CourseEnrollmentMethod, error)
	Create(ctx context.Context, method *models.CourseEnrollmentMethod) error
	Update(ctx context.Context, method *models.CourseEnrollmentMethod) error
	Delete(ctx context.Context, id string) error
}

type courseGroupRepository interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.CourseGroup, error)
	Create(ctx context.Context, group *models.CourseGroup) error
	FindByID(ctx context.Context, id string) (*models.CourseGroup, error)
}

// CreateCourseRequest describes a new draft course.
type CreateCourseRequest struct {
	Code        string     `json:"code" validate:"required,max=32"`
	Title       string     `json:"title" validate:"required,max=255"`
	Description *string    `json:"description,omitempty"`
	MaxStudents *int       `json:"max_students,omitempty" validate:"omitempty,min=1"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// UpdateCourseRequest carries editable course fields.
type UpdateCourseRequest struct {
	Code            *string    `json:"code,omitempty" validate:"omitempty,max=32"`
	Title           *string    `json:"title,omitempty" validate:"omitempty,max=255"`
	Description     *string    `json:"description,omitempty"`
	AllowEnrollment *bool      `json:"allow_enrollment,omitempty"`
	MaxStudents     *int       `json:"max_students,omitempty" validate:"omitempty,min=1"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
}

// CreateMethodRequest configures one enrollment method on a course.
type CreateMethodRequest struct {
	MethodType             models.EnrollmentMethodType `json:"method_type" validate:"required,oneof=MANUAL SELF KEY APPROVAL BULK COHORT"`
	IsEnabled              bool                        `json:"is_enabled"`
	EnrollmentStartDate    *time.Time                  `json:"enrollment_start_date,omitempty"`
	EnrollmentEndDate      *time.Time                  `json:"enrollment_end_date,omitempty"`
	MaxEnrollments         *int                        `json:"max_enrollments,omitempty" validate:"omitempty,min=1"`
	DefaultRole            models.CourseRole           `json:"default_role,omitempty"`
	EnrollmentKey          *string                     `json:"enrollment_key,omitempty"`
	KeyCaseSensitive       bool                        `json:"key_case_sensitive"`
	ApprovalMessage        *string                     `json:"approval_message,omitempty"`
	EnrollmentDurationDays *int                        `json:"enrollment_duration_days,omitempty" validate:"omitempty,min=1"`
	AutoAssignGroupID      *string                     `json:"auto_assign_group_id,omitempty"`
}

// CreateGroupRequest creates a capacity-bounded group inside a course.
type CreateGroupRequest struct {
	Name       string `json:"name" validate:"required,max=128"`
	MaxMembers *int   `json:"max_members,omitempty" validate:"omitempty,min=1"`
}

// CourseService owns the authoring lifecycle: draft, review, publish,
// archive, plus the enrollment methods and groups hanging off a course.
type CourseService struct {
	courses   courseRepository
	methods   courseMethodRepository
	groups    courseGroupRepository
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(courses courseRepository, methods courseMethodRepository, groups courseGroupRepository, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{courses: courses, methods: methods, groups: groups, audit: audit, validator: validate, logger: logger}
}

// List returns courses with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, *models.Pagination, error) {
	courses, total, err := s.courses.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return courses, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one course.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// Create stores a new draft course owned by the actor.
func (s *CourseService) Create(ctx context.Context, ownerID string, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course := &models.Course{
		Code:           req.Code,
		Title:          req.Title,
		Description:    req.Description,
		OwnerID:        ownerID,
		Status:         models.CourseStatusDraft,
		ApprovalStatus: models.CourseApprovalDraft,
		MaxStudents:    req.MaxStudents,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
	}
	if err := s.courses.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.record(ownerID, models.AuditActionCourseCreate, course.ID, nil, course)
	return course, nil
}

// Update applies partial edits to a course.
func (s *CourseService) Update(ctx context.Context, actorID, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *course

	if req.Code != nil {
		course.Code = *req.Code
	}
	if req.Title != nil {
		course.Title = *req.Title
	}
	if req.Description != nil {
		course.Description = req.Description
	}
	if req.AllowEnrollment != nil {
		course.AllowEnrollment = *req.AllowEnrollment
	}
	if req.MaxStudents != nil {
		course.MaxStudents = req.MaxStudents
	}
	if req.StartDate != nil {
		course.StartDate = req.StartDate
	}
	if req.EndDate != nil {
		course.EndDate = req.EndDate
	}
	if err := s.courses.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	s.record(actorID, models.AuditActionCourseUpdate, course.ID, &before, course)
	return course, nil
}

// SubmitForApproval moves a draft into the review queue.
func (s *CourseService) SubmitForApproval(ctx context.Context, actorID, id string) error {
	course, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if course.ApprovalStatus != models.CourseApprovalDraft && course.ApprovalStatus != models.CourseApprovalRejected {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "course not in a submittable state")
	}
	if err := s.courses.UpdateApprovalStatus(ctx, id, models.CourseApprovalPending); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit course")
	}
	s.record(actorID, models.AuditActionCourseUpdate, id, nil, nil)
	return nil
}

// Approve accepts a pending course.
func (s *CourseService) Approve(ctx context.Context, actorID, id string) error {
	return s.review(ctx, actorID, id, models.CourseApprovalApproved)
}

// Reject sends a pending course back to its author.
func (s *CourseService) Reject(ctx context.Context, actorID, id string) error {
	return s.review(ctx, actorID, id, models.CourseApprovalRejected)
}

func (s *CourseService) review(ctx context.Context, actorID, id string, status models.CourseApprovalStatus) error {
	course, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if course.ApprovalStatus != models.CourseApprovalPending {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "course is not pending approval")
	}
	if err := s.courses.UpdateApprovalStatus(ctx, id, status); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to review course")
	}
	s.record(actorID, models.AuditActionCourseUpdate, id, nil, nil)
	return nil
}

// Publish makes an approved course visible to learners.
func (s *CourseService) Publish(ctx context.Context, actorID, id string) error {
	course, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if course.ApprovalStatus != models.CourseApprovalApproved {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "course must be approved before publishing")
	}
	if course.Status == models.CourseStatusPublished {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "course already published")
	}
	if err := s.courses.UpdateStatus(ctx, id, models.CourseStatusPublished); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish course")
	}
	s.record(actorID, models.AuditActionCoursePublish, id, nil, nil)
	return nil
}

// Archive retires a course. Enrollment and submission history stays intact.
func (s *CourseService) Archive(ctx context.Context, actorID, id string) error {
	course, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if course.Status == models.CourseStatusArchived {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "course already archived")
	}
	if err := s.courses.UpdateStatus(ctx, id, models.CourseStatusArchived); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive course")
	}
	s.record(actorID, models.AuditActionCourseUpdate, id, nil, nil)
	return nil
}

// ListMethods returns the enrollment methods configured on a course.
func (s *CourseService) ListMethods(ctx context.Context, courseID string) ([]models.CourseEnrollmentMethod, error) {
	methods, err := s.methods.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollment methods")
	}
	return methods, nil
}

// CreateMethod adds an enrollment method to a course.
func (s *CourseService) CreateMethod(ctx context.Context, actorID, courseID string, req CreateMethodRequest) (*models.CourseEnrollmentMethod, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid method payload")
	}
	if _, err := s.Get(ctx, courseID); err != nil {
		return nil, err
	}
	if req.MethodType == models.MethodKey && (req.EnrollmentKey == nil || *req.EnrollmentKey == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "key method requires an enrollment key")
	}
	if req.AutoAssignGroupID != nil {
		group, err := s.groups.FindByID(ctx, *req.AutoAssignGroupID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "auto-assign group not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
		}
		if group.CourseID != courseID {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "group does not belong to course")
		}
	}
	method := &models.CourseEnrollmentMethod{
		CourseID:               courseID,
		MethodType:             req.MethodType,
		IsEnabled:              req.IsEnabled,
		EnrollmentStartDate:    req.EnrollmentStartDate,
		EnrollmentEndDate:      req.EnrollmentEndDate,
		MaxEnrollments:         req.MaxEnrollments,
		DefaultRole:            req.DefaultRole,
		EnrollmentKey:          req.EnrollmentKey,
		KeyCaseSensitive:       req.KeyCaseSensitive,
		RequiresApproval:       req.MethodType == models.MethodApproval,
		ApprovalMessage:        req.ApprovalMessage,
		EnrollmentDurationDays: req.EnrollmentDurationDays,
		AutoAssignGroupID:      req.AutoAssignGroupID,
	}
	if err := s.methods.Create(ctx, method); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment method")
	}
	s.record(actorID, models.AuditActionCourseUpdate, courseID, nil, method)
	return method, nil
}

// DeleteMethod removes an enrollment method from a course.
func (s *CourseService) DeleteMethod(ctx context.Context, actorID, courseID, methodID string) error {
	method, err := s.methods.FindByID(ctx, methodID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment method not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment method")
	}
	if method.CourseID != courseID {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "method does not belong to course")
	}
	if err := s.methods.Delete(ctx, methodID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment method")
	}
	s.record(actorID, models.AuditActionCourseUpdate, courseID, method, nil)
	return nil
}

// ListGroups returns the groups inside a course.
func (s *CourseService) ListGroups(ctx context.Context, courseID string) ([]models.CourseGroup, error) {
	groups, err := s.groups.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
	}
	return groups, nil
}

// CreateGroup adds a group to a course.
func (s *CourseService) CreateGroup(ctx context.Context, actorID, courseID string, req CreateGroupRequest) (*models.CourseGroup, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid group payload")
	}
	if _, err := s.Get(ctx, courseID); err != nil {
		return nil, err
	}
	group := &models.CourseGroup{CourseID: courseID, Name: req.Name, MaxMembers: req.MaxMembers}
	if err := s.groups.Create(ctx, group); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create group")
	}
	s.record(actorID, models.AuditActionCourseUpdate, courseID, nil, group)
	return group, nil
}

func (s *CourseService) record(actorID, action, resourceID string, oldValue, newValue interface{}) {
	if s.audit == nil {
		return
	}
	entry := models.AuditLog{Action: action, Resource: "course", ResourceID: &resourceID}
	if actorID != "" {
		entry.UserID = &actorID
	}
	entry.OldValues = marshalAuditValue(oldValue)
	entry.NewValues = marshalAuditValue(newValue)
	s.audit.Record(entry)
}
