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

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.CourseEnrollment, error)
	FindByCourseAndUser(ctx context.Context, courseID, userID string) (*models.CourseEnrollment, error)
	Exists(ctx context.Context, courseID, userID string) (bool, error)
	Create(ctx context.Context, enrollment *models.CourseEnrollment) error
	Delete(ctx context.Context, id string) error
}

type methodRepository interface {
	FindByID(ctx context.Context, id string) (*models.CourseEnrollmentMethod, error)
	IncrementEnrollmentsGuarded(ctx context.Context, id string) (bool, error)
	DecrementEnrollments(ctx context.Context, id string) error
	RepairCounter(ctx context.Context, id string) error
}

type courseCounterRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	IncrementEnrolledGuarded(ctx context.Context, id string) (bool, error)
	DecrementEnrolled(ctx context.Context, id string) error
	RepairCounters(ctx context.Context, id string) error
}

type requestRepository interface {
	FindByID(ctx context.Context, id string) (*models.CourseEnrollmentRequest, error)
	HasPending(ctx context.Context, courseID, userID string) (bool, error)
	Create(ctx context.Context, request *models.CourseEnrollmentRequest) error
	Review(ctx context.Context, id string, status models.EnrollmentRequestStatus, reviewerID string, note *string) (bool, error)
	Cancel(ctx context.Context, id, userID string) (bool, error)
	List(ctx context.Context, filter models.EnrollmentRequestFilter) ([]models.CourseEnrollmentRequest, int, error)
}

type groupMembershipRepository interface {
	IncrementMembersGuarded(ctx context.Context, id string) (bool, error)
	DecrementMembers(ctx context.Context, id string) error
	AddMember(ctx context.Context, member *models.CourseGroupMember) error
	RemoveMemberByUser(ctx context.Context, courseID, userID string) ([]string, error)
}

type enrollmentUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type auditRecorder interface {
	Record(entry models.AuditLog)
}

// SelfEnrollRequest is a user-initiated enrollment through one method.
type SelfEnrollRequest struct {
	CourseID string `json:"course_id" validate:"required"`
	MethodID string `json:"method_id" validate:"required"`
	Key      string `json:"key,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ManualEnrollRequest is a staff-initiated enrollment for one user.
type ManualEnrollRequest struct {
	CourseID string            `json:"course_id" validate:"required"`
	MethodID string            `json:"method_id" validate:"required"`
	UserID   string            `json:"user_id" validate:"required"`
	Role     models.CourseRole `json:"role,omitempty"`
	// Override skips the window and capacity rules. It is never implicit.
	Override bool `json:"override,omitempty"`
}

// BulkEnrollRequest enrolls many users at once with partial success.
type BulkEnrollRequest struct {
	CourseID string            `json:"course_id" validate:"required"`
	MethodID string            `json:"method_id" validate:"required"`
	UserIDs  []string          `json:"user_ids" validate:"required,min=1,dive,required"`
	Role     models.CourseRole `json:"role,omitempty"`
	Override bool              `json:"override,omitempty"`
}

// BulkEnrollOutcome is the per-user result of a bulk enrollment.
type BulkEnrollOutcome struct {
	UserID       string `json:"user_id"`
	Enrolled     bool   `json:"enrolled"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// EnrollResult reports which of the three paths an enrollment attempt took.
type EnrollResult struct {
	Outcome    EligibilityOutcome              `json:"outcome"`
	Reason     string                          `json:"reason,omitempty"`
	Enrollment *models.CourseEnrollment        `json:"enrollment,omitempty"`
	Request    *models.CourseEnrollmentRequest `json:"request,omitempty"`
}

// ReviewRequestPayload carries an approve/reject decision.
type ReviewRequestPayload struct {
	Note *string `json:"note,omitempty"`
}

// EnrollmentService orchestrates enrollment workflows: eligibility, seat
// accounting, the approval queue, and group auto-assignment.
type EnrollmentService struct {
	enrollments enrollmentRepository
	methods     methodRepository
	courses     courseCounterRepository
	requests    requestRepository
	groups      groupMembershipRepository
	users       enrollmentUserReader
	audit       auditRecorder
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(enrollments enrollmentRepository, methods methodRepository, courses courseCounterRepository, requests requestRepository, groups groupMembershipRepository, users enrollmentUserReader, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		enrollments: enrollments,
		methods:     methods,
		courses:     courses,
		requests:    requests,
		groups:      groups,
		users:       users,
		audit:       audit,
		validator:   validate,
		logger:      logger,
	}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// SelfEnroll runs the eligibility check for the acting user and either
// creates the enrollment, creates an approval request, or reports a
// rejection reason. Rejections are results, not errors.
func (s *EnrollmentService) SelfEnroll(ctx context.Context, userID string, req SelfEnrollRequest) (*EnrollResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	course, method, err := s.loadCourseAndMethod(ctx, req.CourseID, req.MethodID)
	if err != nil {
		return nil, err
	}
	if !course.IsPublished() || !course.AllowEnrollment {
		return &EnrollResult{Outcome: OutcomeRejected, Reason: ReasonMethodDisabled}, nil
	}

	facts, err := s.loadFacts(ctx, req.CourseID, userID, false)
	if err != nil {
		return nil, err
	}
	facts.SelfInitiated = true
	decision := EvaluateEligibility(method, facts, req.Key, time.Now().UTC())

	switch decision.Outcome {
	case OutcomeRejected:
		return &EnrollResult{Outcome: OutcomeRejected, Reason: decision.Reason}, nil
	case OutcomeRequiresApproval:
		return s.createRequest(ctx, userID, method, req.Message)
	}
	return s.commitEnrollment(ctx, course, method, userID, decision, nil, false)
}

// ManualEnroll enrolls a user on behalf of staff. The override flag is the
// only path that skips window and capacity rules.
func (s *EnrollmentService) ManualEnroll(ctx context.Context, actorID string, req ManualEnrollRequest) (*EnrollResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if _, err := s.users.FindByID(ctx, req.UserID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	course, method, err := s.loadCourseAndMethod(ctx, req.CourseID, req.MethodID)
	if err != nil {
		return nil, err
	}

	facts, err := s.loadFacts(ctx, req.CourseID, req.UserID, req.Override)
	if err != nil {
		return nil, err
	}
	decision := EvaluateEligibility(method, facts, "", time.Now().UTC())
	if decision.Outcome == OutcomeRejected {
		return &EnrollResult{Outcome: OutcomeRejected, Reason: decision.Reason}, nil
	}
	if decision.Outcome == OutcomeRequiresApproval {
		return s.createRequest(ctx, req.UserID, method, "")
	}
	if req.Role != "" {
		decision.Role = req.Role
	}
	return s.commitEnrollment(ctx, course, method, req.UserID, decision, &actorID, req.Override)
}

// BulkEnroll applies the manual flow per user and collects per-user
// outcomes. One user's failure never aborts the batch.
func (s *EnrollmentService) BulkEnroll(ctx context.Context, actorID string, req BulkEnrollRequest) ([]BulkEnrollOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk enrollment payload")
	}
	outcomes := make([]BulkEnrollOutcome, 0, len(req.UserIDs))
	for _, userID := range req.UserIDs {
		result, err := s.ManualEnroll(ctx, actorID, ManualEnrollRequest{
			CourseID: req.CourseID,
			MethodID: req.MethodID,
			UserID:   userID,
			Role:     req.Role,
			Override: req.Override,
		})
		outcome := BulkEnrollOutcome{UserID: userID}
		switch {
		case err != nil:
			outcome.Error = appErrors.FromError(err).Message
		case result.Outcome == OutcomeAllowed:
			outcome.Enrolled = true
			outcome.EnrollmentID = result.Enrollment.ID
		case result.Outcome == OutcomeRequiresApproval:
			outcome.Error = "approval required"
		default:
			outcome.Error = result.Reason
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// Unenroll hard-deletes the enrollment, releases every seat it held, and
// records the removed row in the audit trail.
func (s *EnrollmentService) Unenroll(ctx context.Context, actorID, enrollmentID string) error {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if err := s.enrollments.Delete(ctx, enrollmentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}
	if err := s.courses.DecrementEnrolled(ctx, enrollment.CourseID); err != nil {
		s.logger.Error("decrement course counter after unenroll", zap.String("course_id", enrollment.CourseID), zap.Error(err))
	}
	if enrollment.MethodID != nil {
		if err := s.methods.DecrementEnrollments(ctx, *enrollment.MethodID); err != nil {
			s.logger.Error("decrement method counter after unenroll", zap.String("method_id", *enrollment.MethodID), zap.Error(err))
		}
	}
	groupIDs, err := s.groups.RemoveMemberByUser(ctx, enrollment.CourseID, enrollment.UserID)
	if err != nil {
		s.logger.Error("remove group memberships after unenroll", zap.String("user_id", enrollment.UserID), zap.Error(err))
	}
	for _, groupID := range groupIDs {
		if err := s.groups.DecrementMembers(ctx, groupID); err != nil {
			s.logger.Error("decrement group counter after unenroll", zap.String("group_id", groupID), zap.Error(err))
		}
	}

	s.recordAudit(actorID, models.AuditActionUnenroll, "enrollment", enrollment.ID, enrollment, nil)
	return nil
}

// ListRequests returns approval requests with pagination metadata.
func (s *EnrollmentService) ListRequests(ctx context.Context, filter models.EnrollmentRequestFilter) ([]models.CourseEnrollmentRequest, *models.Pagination, error) {
	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollment requests")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return requests, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ApproveRequest enrolls the requester and marks the request approved. The
// PENDING status guard keeps concurrent reviews from double-enrolling.
func (s *EnrollmentService) ApproveRequest(ctx context.Context, reviewerID, requestID string, payload ReviewRequestPayload) (*EnrollResult, error) {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment request")
	}
	if request.Status != models.RequestStatusPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "request already reviewed")
	}
	course, method, err := s.loadCourseAndMethod(ctx, request.CourseID, request.MethodID)
	if err != nil {
		return nil, err
	}

	won, err := s.requests.Review(ctx, requestID, models.RequestStatusApproved, reviewerID, payload.Note)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve request")
	}
	if !won {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "request already reviewed")
	}

	decision := EligibilityResult{Outcome: OutcomeAllowed, Role: method.DefaultRole}
	if method.EnrollmentDurationDays != nil && *method.EnrollmentDurationDays > 0 {
		end := time.Now().UTC().AddDate(0, 0, *method.EnrollmentDurationDays)
		decision.TimeEnd = &end
	}
	// Approval is a staff decision, so the commit overrides capacity the
	// same way a manual override does rather than stranding an approved
	// request without an enrollment.
	result, err := s.commitEnrollment(ctx, course, method, request.UserID, decision, &reviewerID, true)
	if err != nil {
		return nil, err
	}
	s.recordAudit(reviewerID, models.AuditActionEnrollApprove, "enrollment_request", requestID, nil, request)
	return result, nil
}

// RejectRequest marks a pending request rejected.
func (s *EnrollmentService) RejectRequest(ctx context.Context, reviewerID, requestID string, payload ReviewRequestPayload) error {
	won, err := s.requests.Review(ctx, requestID, models.RequestStatusRejected, reviewerID, payload.Note)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject request")
	}
	if !won {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "request already reviewed")
	}
	s.recordAudit(reviewerID, models.AuditActionEnrollReject, "enrollment_request", requestID, nil, nil)
	return nil
}

// CancelRequest lets a requester withdraw their own pending request.
func (s *EnrollmentService) CancelRequest(ctx context.Context, userID, requestID string) error {
	won, err := s.requests.Cancel(ctx, requestID, userID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel request")
	}
	if !won {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "request not pending or not yours")
	}
	return nil
}

// RepairCounters recomputes the denormalized counters for a course and its
// methods from the enrollment rows. Admin-only corrective action.
func (s *EnrollmentService) RepairCounters(ctx context.Context, courseID string, methodIDs []string) error {
	if err := s.courses.RepairCounters(ctx, courseID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to repair course counters")
	}
	for _, methodID := range methodIDs {
		if err := s.methods.RepairCounter(ctx, methodID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to repair method counter")
		}
	}
	return nil
}

func (s *EnrollmentService) loadCourseAndMethod(ctx context.Context, courseID, methodID string) (*models.Course, *models.CourseEnrollmentMethod, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	method, err := s.methods.FindByID(ctx, methodID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment method not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment method")
	}
	if method.CourseID != courseID {
		return nil, nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "method does not belong to course")
	}
	return course, method, nil
}

func (s *EnrollmentService) loadFacts(ctx context.Context, courseID, userID string, override bool) (EligibilityFacts, error) {
	enrolled, err := s.enrollments.Exists(ctx, courseID, userID)
	if err != nil {
		return EligibilityFacts{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}
	pending, err := s.requests.HasPending(ctx, courseID, userID)
	if err != nil {
		return EligibilityFacts{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending request")
	}
	return EligibilityFacts{AlreadyEnrolled: enrolled, HasPendingRequest: pending, StaffOverride: override}, nil
}

func (s *EnrollmentService) createRequest(ctx context.Context, userID string, method *models.CourseEnrollmentMethod, message string) (*EnrollResult, error) {
	request := &models.CourseEnrollmentRequest{
		CourseID: method.CourseID,
		UserID:   userID,
		MethodID: method.ID,
		Status:   models.RequestStatusPending,
	}
	if message != "" {
		request.Message = &message
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment request")
	}
	s.recordAudit(userID, models.AuditActionEnrollRequest, "enrollment_request", request.ID, nil, request)
	return &EnrollResult{Outcome: OutcomeRequiresApproval, Request: request}, nil
}

// commitEnrollment takes the seats and writes the enrollment row. Seats are
// taken with guarded conditional updates so two concurrent commits cannot
// overshoot a capacity limit; losing the guard surfaces as capacity_full,
// and any later failure releases the seats already taken.
//
// On the override path a lost guard still commits, leaving that counter one
// below the real enrollment count until RepairCounters runs. The matching
// unenroll decrement floors at zero, so the drift never goes negative.
func (s *EnrollmentService) commitEnrollment(ctx context.Context, course *models.Course, method *models.CourseEnrollmentMethod, userID string, decision EligibilityResult, enrolledBy *string, override bool) (*EnrollResult, error) {
	methodSeat, err := s.methods.IncrementEnrollmentsGuarded(ctx, method.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve method seat")
	}
	if !methodSeat && !override {
		return &EnrollResult{Outcome: OutcomeRejected, Reason: ReasonCapacityFull}, nil
	}

	courseSeat, err := s.courses.IncrementEnrolledGuarded(ctx, course.ID)
	if err != nil {
		s.releaseMethodSeat(ctx, method.ID, methodSeat)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve course seat")
	}
	if !courseSeat && !override {
		s.releaseMethodSeat(ctx, method.ID, methodSeat)
		return &EnrollResult{Outcome: OutcomeRejected, Reason: ReasonCapacityFull}, nil
	}

	now := time.Now().UTC()
	enrollment := &models.CourseEnrollment{
		CourseID:   course.ID,
		UserID:     userID,
		MethodID:   &method.ID,
		CourseRole: decision.Role,
		Status:     models.EnrollmentStatusActive,
		TimeStart:  &now,
		TimeEnd:    decision.TimeEnd,
		EnrolledAt: now,
		EnrolledBy: enrolledBy,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		s.releaseMethodSeat(ctx, method.ID, methodSeat)
		if courseSeat {
			if derr := s.courses.DecrementEnrolled(ctx, course.ID); derr != nil {
				s.logger.Error("release course seat after failed enroll", zap.String("course_id", course.ID), zap.Error(derr))
			}
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	if method.AutoAssignGroupID != nil {
		s.autoAssignGroup(ctx, *method.AutoAssignGroupID, userID)
	}

	actor := userID
	if enrolledBy != nil {
		actor = *enrolledBy
	}
	s.recordAudit(actor, models.AuditActionEnroll, "enrollment", enrollment.ID, nil, enrollment)
	return &EnrollResult{Outcome: OutcomeAllowed, Enrollment: enrollment}, nil
}

func (s *EnrollmentService) releaseMethodSeat(ctx context.Context, methodID string, taken bool) {
	if !taken {
		return
	}
	if err := s.methods.DecrementEnrollments(ctx, methodID); err != nil {
		s.logger.Error("release method seat", zap.String("method_id", methodID), zap.Error(err))
	}
}

// autoAssignGroup joins the user to the method's target group when it has
// capacity. A full group is not an enrollment failure.
func (s *EnrollmentService) autoAssignGroup(ctx context.Context, groupID, userID string) {
	ok, err := s.groups.IncrementMembersGuarded(ctx, groupID)
	if err != nil {
		s.logger.Error("reserve group seat", zap.String("group_id", groupID), zap.Error(err))
		return
	}
	if !ok {
		s.logger.Info("auto-assign group full", zap.String("group_id", groupID), zap.String("user_id", userID))
		return
	}
	member := &models.CourseGroupMember{GroupID: groupID, UserID: userID}
	if err := s.groups.AddMember(ctx, member); err != nil {
		s.logger.Error("add group member", zap.String("group_id", groupID), zap.Error(err))
		if derr := s.groups.DecrementMembers(ctx, groupID); derr != nil {
			s.logger.Error("release group seat", zap.String("group_id", groupID), zap.Error(derr))
		}
	}
}

func (s *EnrollmentService) recordAudit(actorID, action, resource, resourceID string, oldValue, newValue interface{}) {
	if s.audit == nil {
		return
	}
	entry := models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	entry.OldValues = marshalAuditValue(oldValue)
	entry.NewValues = marshalAuditValue(newValue)
	s.audit.Record(entry)
}
