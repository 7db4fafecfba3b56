package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

type mockEnrollmentRepo struct {
	enrollments map[string]models.CourseEnrollment
	existing    map[string]bool
	created     []models.CourseEnrollment
	deleted     []string
	createErr   error
}

func enrollKey(courseID, userID string) string { return courseID + "/" + userID }

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.CourseEnrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindByCourseAndUser(ctx context.Context, courseID, userID string) (*models.CourseEnrollment, error) {
	for _, e := range m.enrollments {
		if e.CourseID == courseID && e.UserID == userID {
			return &e, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) Exists(ctx context.Context, courseID, userID string) (bool, error) {
	return m.existing[enrollKey(courseID, userID)], nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.CourseEnrollment) error {
	if m.createErr != nil {
		return m.createErr
	}
	if enrollment.ID == "" {
		enrollment.ID = "enr-new"
	}
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.CourseEnrollment)
	}
	m.enrollments[enrollment.ID] = *enrollment
	m.created = append(m.created, *enrollment)
	return nil
}

func (m *mockEnrollmentRepo) Delete(ctx context.Context, id string) error {
	delete(m.enrollments, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockMethodRepo struct {
	methods    map[string]models.CourseEnrollmentMethod
	increments int
	decrements int
	repaired   []string
}

func (m *mockMethodRepo) FindByID(ctx context.Context, id string) (*models.CourseEnrollmentMethod, error) {
	if method, ok := m.methods[id]; ok {
		return &method, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockMethodRepo) IncrementEnrollmentsGuarded(ctx context.Context, id string) (bool, error) {
	method := m.methods[id]
	if method.MaxEnrollments != nil && method.CurrentEnrollments >= *method.MaxEnrollments {
		return false, nil
	}
	method.CurrentEnrollments++
	m.methods[id] = method
	m.increments++
	return true, nil
}

func (m *mockMethodRepo) DecrementEnrollments(ctx context.Context, id string) error {
	method := m.methods[id]
	if method.CurrentEnrollments > 0 {
		method.CurrentEnrollments--
	}
	m.methods[id] = method
	m.decrements++
	return nil
}

func (m *mockMethodRepo) RepairCounter(ctx context.Context, id string) error {
	m.repaired = append(m.repaired, id)
	return nil
}

type mockCourseRepo struct {
	courses    map[string]models.Course
	increments int
	decrements int
	repaired   []string
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if course, ok := m.courses[id]; ok {
		return &course, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) IncrementEnrolledGuarded(ctx context.Context, id string) (bool, error) {
	course := m.courses[id]
	if course.MaxStudents != nil && course.EnrolledCount >= *course.MaxStudents {
		return false, nil
	}
	course.EnrolledCount++
	m.courses[id] = course
	m.increments++
	return true, nil
}

func (m *mockCourseRepo) DecrementEnrolled(ctx context.Context, id string) error {
	course := m.courses[id]
	if course.EnrolledCount > 0 {
		course.EnrolledCount--
	}
	m.courses[id] = course
	m.decrements++
	return nil
}

func (m *mockCourseRepo) RepairCounters(ctx context.Context, id string) error {
	m.repaired = append(m.repaired, id)
	return nil
}

type mockRequestRepo struct {
	requests map[string]models.CourseEnrollmentRequest
	pending  map[string]bool
	created  []models.CourseEnrollmentRequest
}

func (m *mockRequestRepo) FindByID(ctx context.Context, id string) (*models.CourseEnrollmentRequest, error) {
	if r, ok := m.requests[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRequestRepo) HasPending(ctx context.Context, courseID, userID string) (bool, error) {
	return m.pending[enrollKey(courseID, userID)], nil
}

func (m *mockRequestRepo) Create(ctx context.Context, request *models.CourseEnrollmentRequest) error {
	if request.ID == "" {
		request.ID = "req-new"
	}
	if m.requests == nil {
		m.requests = make(map[string]models.CourseEnrollmentRequest)
	}
	m.requests[request.ID] = *request
	m.created = append(m.created, *request)
	return nil
}

func (m *mockRequestRepo) Review(ctx context.Context, id string, status models.EnrollmentRequestStatus, reviewerID string, note *string) (bool, error) {
	r, ok := m.requests[id]
	if !ok || r.Status != models.RequestStatusPending {
		return false, nil
	}
	r.Status = status
	r.ReviewedBy = &reviewerID
	m.requests[id] = r
	return true, nil
}

func (m *mockRequestRepo) Cancel(ctx context.Context, id, userID string) (bool, error) {
	r, ok := m.requests[id]
	if !ok || r.Status != models.RequestStatusPending || r.UserID != userID {
		return false, nil
	}
	r.Status = models.RequestStatusCancelled
	m.requests[id] = r
	return true, nil
}

func (m *mockRequestRepo) List(ctx context.Context, filter models.EnrollmentRequestFilter) ([]models.CourseEnrollmentRequest, int, error) {
	return nil, 0, nil
}

type mockGroupRepo struct {
	members    []models.CourseGroupMember
	increments int
	decrements int
	full       bool
}

func (m *mockGroupRepo) IncrementMembersGuarded(ctx context.Context, id string) (bool, error) {
	if m.full {
		return false, nil
	}
	m.increments++
	return true, nil
}

func (m *mockGroupRepo) DecrementMembers(ctx context.Context, id string) error {
	m.decrements++
	return nil
}

func (m *mockGroupRepo) AddMember(ctx context.Context, member *models.CourseGroupMember) error {
	m.members = append(m.members, *member)
	return nil
}

func (m *mockGroupRepo) RemoveMemberByUser(ctx context.Context, courseID, userID string) ([]string, error) {
	var removed []string
	kept := m.members[:0]
	for _, member := range m.members {
		if member.UserID == userID {
			removed = append(removed, member.GroupID)
			continue
		}
		kept = append(kept, member)
	}
	m.members = kept
	return removed, nil
}

type mockUserReader struct {
	users map[string]models.User
}

func (m *mockUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

type recordingAudit struct {
	entries []models.AuditLog
}

func (r *recordingAudit) Record(entry models.AuditLog) {
	r.entries = append(r.entries, entry)
}

type enrollmentFixture struct {
	service     *EnrollmentService
	enrollments *mockEnrollmentRepo
	methods     *mockMethodRepo
	courses     *mockCourseRepo
	requests    *mockRequestRepo
	groups      *mockGroupRepo
	audit       *recordingAudit
}

func newEnrollmentFixture(course models.Course, method models.CourseEnrollmentMethod) *enrollmentFixture {
	f := &enrollmentFixture{
		enrollments: &mockEnrollmentRepo{existing: map[string]bool{}},
		methods:     &mockMethodRepo{methods: map[string]models.CourseEnrollmentMethod{method.ID: method}},
		courses:     &mockCourseRepo{courses: map[string]models.Course{course.ID: course}},
		requests:    &mockRequestRepo{pending: map[string]bool{}},
		groups:      &mockGroupRepo{},
		audit:       &recordingAudit{},
	}
	users := &mockUserReader{users: map[string]models.User{
		"user-1": {ID: "user-1", Active: true, Role: models.RoleStudent},
		"user-2": {ID: "user-2", Active: true, Role: models.RoleStudent},
		"user-3": {ID: "user-3", Active: true, Role: models.RoleStudent},
	}}
	f.service = NewEnrollmentService(f.enrollments, f.methods, f.courses, f.requests, f.groups, users, f.audit, nil, nil)
	return f
}

func publishedCourse(max *int) models.Course {
	return models.Course{
		ID:              "course-1",
		Code:            "CS101",
		Status:          models.CourseStatusPublished,
		AllowEnrollment: true,
		MaxStudents:     max,
	}
}

func selfMethod(max *int) models.CourseEnrollmentMethod {
	return models.CourseEnrollmentMethod{
		ID:             "method-1",
		CourseID:       "course-1",
		MethodType:     models.MethodSelf,
		IsEnabled:      true,
		MaxEnrollments: max,
		DefaultRole:    models.CourseRoleStudent,
	}
}

func TestSelfEnrollCreatesEnrollmentAndTakesSeats(t *testing.T) {
	f := newEnrollmentFixture(publishedCourse(nil), selfMethod(nil))

	result, err := f.service.SelfEnroll(context.Background(), "user-1", SelfEnrollRequest{CourseID: "course-1", MethodID: "method-1"})
	require.NoError(t, err)
	require.Equal(t, OutcomeAllowed, result.Outcome)
	require.NotNil(t, result.Enrollment)
	assert.Equal(t, models.EnrollmentStatusActive, result.Enrollment.Status)
	assert.Equal(t, models.CourseRoleStudent, result.Enrollment.CourseRole)
	assert.Nil(t, result.Enrollment.EnrolledBy)
	assert.Equal(t, 1, f.methods.increments)
	assert.Equal(t, 1, f.courses.increments)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.AuditActionEnroll, f.audit.entries[0].Action)
}

func TestSelfEnrollRejectsDuplicate(t *testing.T) {
	f := newEnrollmentFixture(publishedCourse(nil), selfMethod(nil))
	f.enrollments.existing[enrollKey("course-1", "user-1")] = true

	result, err := f.service.SelfEnroll(context.Background(), "user-1", SelfEnrollRequest{CourseID: "course-1", MethodID: "method-1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.Equal(t, ReasonAlreadyEnrolled, result.Reason)
	assert.Zero(t, f.methods.increments)
}

func TestSelfEnrollRejectsStaffOnlyMethods(t *testing.T) {
	method := selfMethod(nil)
	method.MethodType = models.MethodManual
	f := newEnrollmentFixture(publishedCourse(nil), method)

	result, err := f.service.SelfEnroll(context.Background(), "user-1", SelfEnrollRequest{CourseID: "course-1", MethodID: "method-1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.Equal(t, ReasonWrongMethodType, result.Reason)
	assert.Nil(t, result.Enrollment)
	assert.Zero(t, f.methods.increments)
	assert.Zero(t, f.courses.increments)
	assert.Empty(t, f.enrollments.created)

	// Staff enrolling through the same method still go through.
	manual, err := f.service.ManualEnroll(context.Background(), "admin-1", ManualEnrollRequest{
		CourseID: "course-1", MethodID: "method-1", UserID: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllowed, manual.Outcome)
}

func TestSelfEnrollCapacityEnforcedAtWriteTime(t *testing.T) {
	two := 2
	f := newEnrollmentFixture(publishedCourse(nil), selfMethod(&two))

	for _, userID := range []string{"user-1", "user-2"} {
		result, err := f.service.SelfEnroll(context.Background(), userID, SelfEnrollRequest{CourseID: "course-1", MethodID: "method-1"})
		require.NoError(t, err)
		require.Equal(t, OutcomeAllowed, result.Outcome)
	}

	result, err := f.service.SelfEnroll(context.Background(), "user-3", SelfEnrollRequest{CourseID: "course-1", MethodID: "method-1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.Equal(t, ReasonCapacityFull, result.Reason)
	assert.Equal(t, 2, f.methods.methods["method-1"].CurrentEnrollments)
}

func TestSelfEnrollReleasesSeatsWhenCreateFails(t *testing.T) {
	f := newEnrollmentFixture(publishedCourse(nil), selfMethod(nil))
	f.enrollments.createErr = sql.ErrConnDone

	_, err := f.service.SelfEnroll(context.Background(), "user-1", SelfEnrollRequest{CourseID: "course-1", MethodID: "method-1"})
	require.Error(t, err)
	assert.Equal(t, f.methods.increments, f.methods.decrements)
	assert.Equal(t, f.courses.increments, f.courses.decrements)
}

func TestSelfEnrollApprovalCreatesRequest(t *testing.T) {
	method := selfMethod(nil)
	method.MethodType = models.MethodApproval
	f := newEnrollmentFixture(publishedCourse(nil), method)

	result, err := f.service.SelfEnroll(context.Background(), "user-1", SelfEnrollRequest{CourseID: "course-1", MethodID: "method-1", Message: "please"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequiresApproval, result.Outcome)
	require.NotNil(t, result.Request)
	assert.Equal(t, models.RequestStatusPending, result.Request.Status)
	assert.Zero(t, f.methods.increments)
	require.Len(t, f.requests.created, 1)

	// A second attempt while the request is pending is rejected.
	f.requests.pending[enrollKey("course-1", "user-1")] = true
	result, err = f.service.SelfEnroll(context.Background(), "user-1", SelfEnrollRequest{CourseID: "course-1", MethodID: "method-1"})
	require.NoError(t, err)
	assert.Equal(t, ReasonDuplicateRequest, result.Reason)
}

func TestManualEnrollOverrideSkipsCapacityOnly(t *testing.T) {
	zero := 0
	f := newEnrollmentFixture(publishedCourse(&zero), selfMethod(&zero))

	// Without override the full method rejects.
	result, err := f.service.ManualEnroll(context.Background(), "admin-1", ManualEnrollRequest{
		CourseID: "course-1", MethodID: "method-1", UserID: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonCapacityFull, result.Reason)

	// With override the enrollment is created even past capacity.
	result, err = f.service.ManualEnroll(context.Background(), "admin-1", ManualEnrollRequest{
		CourseID: "course-1", MethodID: "method-1", UserID: "user-1", Override: true,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeAllowed, result.Outcome)
	require.NotNil(t, result.Enrollment.EnrolledBy)
	assert.Equal(t, "admin-1", *result.Enrollment.EnrolledBy)

	// Override never bypasses the duplicate check.
	f.enrollments.existing[enrollKey("course-1", "user-2")] = true
	result, err = f.service.ManualEnroll(context.Background(), "admin-1", ManualEnrollRequest{
		CourseID: "course-1", MethodID: "method-1", UserID: "user-2", Override: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonAlreadyEnrolled, result.Reason)
}

func TestBulkEnrollPartialSuccess(t *testing.T) {
	f := newEnrollmentFixture(publishedCourse(nil), selfMethod(nil))
	f.enrollments.existing[enrollKey("course-1", "user-2")] = true

	outcomes, err := f.service.BulkEnroll(context.Background(), "admin-1", BulkEnrollRequest{
		CourseID: "course-1",
		MethodID: "method-1",
		UserIDs:  []string{"user-1", "user-2", "user-3", "unknown"},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	assert.True(t, outcomes[0].Enrolled)
	assert.False(t, outcomes[1].Enrolled)
	assert.Equal(t, ReasonAlreadyEnrolled, outcomes[1].Error)
	assert.True(t, outcomes[2].Enrolled)
	assert.False(t, outcomes[3].Enrolled)
	assert.NotEmpty(t, outcomes[3].Error)
}

func TestUnenrollReleasesEverySeat(t *testing.T) {
	f := newEnrollmentFixture(publishedCourse(nil), selfMethod(nil))
	f.methods.methods["method-1"] = func() models.CourseEnrollmentMethod {
		m := selfMethod(nil)
		m.AutoAssignGroupID = strPtr("group-1")
		return m
	}()

	result, err := f.service.SelfEnroll(context.Background(), "user-1", SelfEnrollRequest{CourseID: "course-1", MethodID: "method-1"})
	require.NoError(t, err)
	require.Equal(t, OutcomeAllowed, result.Outcome)
	require.Len(t, f.groups.members, 1)

	require.NoError(t, f.service.Unenroll(context.Background(), "admin-1", result.Enrollment.ID))
	assert.Empty(t, f.enrollments.enrollments)
	assert.Equal(t, 1, f.courses.decrements)
	assert.Equal(t, 1, f.methods.decrements)
	assert.Equal(t, 1, f.groups.decrements)
	assert.Empty(t, f.groups.members)

	// Removed row is captured as the audit old value.
	last := f.audit.entries[len(f.audit.entries)-1]
	assert.Equal(t, models.AuditActionUnenroll, last.Action)
	assert.NotEmpty(t, last.OldValues)
}

func TestApproveRequestEnrollsOnce(t *testing.T) {
	method := selfMethod(nil)
	method.MethodType = models.MethodApproval
	f := newEnrollmentFixture(publishedCourse(nil), method)
	f.requests.requests = map[string]models.CourseEnrollmentRequest{
		"req-1": {ID: "req-1", CourseID: "course-1", UserID: "user-1", MethodID: "method-1", Status: models.RequestStatusPending},
	}

	result, err := f.service.ApproveRequest(context.Background(), "admin-1", "req-1", ReviewRequestPayload{})
	require.NoError(t, err)
	require.Equal(t, OutcomeAllowed, result.Outcome)
	assert.Equal(t, "user-1", result.Enrollment.UserID)

	// Second review of the same request loses the status guard.
	_, err = f.service.ApproveRequest(context.Background(), "admin-2", "req-1", ReviewRequestPayload{})
	require.Error(t, err)
}

func TestRejectAndCancelRequest(t *testing.T) {
	method := selfMethod(nil)
	method.MethodType = models.MethodApproval
	f := newEnrollmentFixture(publishedCourse(nil), method)
	f.requests.requests = map[string]models.CourseEnrollmentRequest{
		"req-1": {ID: "req-1", CourseID: "course-1", UserID: "user-1", MethodID: "method-1", Status: models.RequestStatusPending},
		"req-2": {ID: "req-2", CourseID: "course-1", UserID: "user-2", MethodID: "method-1", Status: models.RequestStatusPending},
	}

	require.NoError(t, f.service.RejectRequest(context.Background(), "admin-1", "req-1", ReviewRequestPayload{Note: strPtr("no seats")}))
	assert.Equal(t, models.RequestStatusRejected, f.requests.requests["req-1"].Status)

	// Cancelling someone else's request fails.
	require.Error(t, f.service.CancelRequest(context.Background(), "user-1", "req-2"))
	require.NoError(t, f.service.CancelRequest(context.Background(), "user-2", "req-2"))
	assert.Equal(t, models.RequestStatusCancelled, f.requests.requests["req-2"].Status)
}

func strPtr(s string) *string { return &s }
