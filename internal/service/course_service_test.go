package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

type mockCourseAuthoringRepo struct {
	courses map[string]*models.Course
}

func newMockCourseAuthoringRepo(courses ...*models.Course) *mockCourseAuthoringRepo {
	repo := &mockCourseAuthoringRepo{courses: make(map[string]*models.Course)}
	for _, course := range courses {
		repo.courses[course.ID] = course
	}
	return repo
}

func (m *mockCourseAuthoringRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	var out []models.CourseDetail
	for _, course := range m.courses {
		out = append(out, models.CourseDetail{Course: *course})
	}
	return out, len(out), nil
}

func (m *mockCourseAuthoringRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	course, ok := m.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *course
	return &copied, nil
}

func (m *mockCourseAuthoringRepo) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = "course-new"
	}
	copied := *course
	m.courses[course.ID] = &copied
	return nil
}

func (m *mockCourseAuthoringRepo) Update(ctx context.Context, course *models.Course) error {
	copied := *course
	m.courses[course.ID] = &copied
	return nil
}

func (m *mockCourseAuthoringRepo) UpdateStatus(ctx context.Context, id string, status models.CourseStatus) error {
	m.courses[id].Status = status
	return nil
}

func (m *mockCourseAuthoringRepo) UpdateApprovalStatus(ctx context.Context, id string, status models.CourseApprovalStatus) error {
	m.courses[id].ApprovalStatus = status
	return nil
}

type mockCourseMethods struct {
	methods map[string]*models.CourseEnrollmentMethod
}

func newMockCourseMethods() *mockCourseMethods {
	return &mockCourseMethods{methods: make(map[string]*models.CourseEnrollmentMethod)}
}

func (m *mockCourseMethods) ListByCourse(ctx context.Context, courseID string) ([]models.CourseEnrollmentMethod, error) {
	var out []models.CourseEnrollmentMethod
	for _, method := range m.methods {
		if method.CourseID == courseID {
			out = append(out, *method)
		}
	}
	return out, nil
}

func (m *mockCourseMethods) FindByID(ctx context.Context, id string) (*models.CourseEnrollmentMethod, error) {
	method, ok := m.methods[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return method, nil
}

func (m *mockCourseMethods) Create(ctx context.Context, method *models.CourseEnrollmentMethod) error {
	if method.ID == "" {
		method.ID = "method-new"
	}
	copied := *method
	m.methods[method.ID] = &copied
	return nil
}

func (m *mockCourseMethods) Update(ctx context.Context, method *models.CourseEnrollmentMethod) error {
	copied := *method
	m.methods[method.ID] = &copied
	return nil
}

func (m *mockCourseMethods) Delete(ctx context.Context, id string) error {
	delete(m.methods, id)
	return nil
}

type mockCourseGroups struct {
	groups map[string]*models.CourseGroup
}

func newMockCourseGroups(groups ...*models.CourseGroup) *mockCourseGroups {
	repo := &mockCourseGroups{groups: make(map[string]*models.CourseGroup)}
	for _, group := range groups {
		repo.groups[group.ID] = group
	}
	return repo
}

func (m *mockCourseGroups) ListByCourse(ctx context.Context, courseID string) ([]models.CourseGroup, error) {
	var out []models.CourseGroup
	for _, group := range m.groups {
		if group.CourseID == courseID {
			out = append(out, *group)
		}
	}
	return out, nil
}

func (m *mockCourseGroups) Create(ctx context.Context, group *models.CourseGroup) error {
	if group.ID == "" {
		group.ID = "group-new"
	}
	copied := *group
	m.groups[group.ID] = &copied
	return nil
}

func (m *mockCourseGroups) FindByID(ctx context.Context, id string) (*models.CourseGroup, error) {
	group, ok := m.groups[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return group, nil
}

func courseAuthoringFixture(courses ...*models.Course) (*CourseService, *mockCourseAuthoringRepo, *mockCourseMethods, *mockCourseGroups) {
	repo := newMockCourseAuthoringRepo(courses...)
	methods := newMockCourseMethods()
	groups := newMockCourseGroups()
	svc := NewCourseService(repo, methods, groups, &recordingAudit{}, nil, nil)
	return svc, repo, methods, groups
}

func TestCourseApprovalLifecycle(t *testing.T) {
	svc, repo, _, _ := courseAuthoringFixture()
	ctx := context.Background()

	course, err := svc.Create(ctx, "inst-1", CreateCourseRequest{Code: "CS101", Title: "Intro"})
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusDraft, course.Status)
	assert.Equal(t, models.CourseApprovalDraft, course.ApprovalStatus)

	// Publishing straight from draft is blocked.
	require.Error(t, svc.Publish(ctx, "admin-1", course.ID))

	require.NoError(t, svc.SubmitForApproval(ctx, "inst-1", course.ID))
	assert.Equal(t, models.CourseApprovalPending, repo.courses[course.ID].ApprovalStatus)

	// Double submission is blocked while pending.
	require.Error(t, svc.SubmitForApproval(ctx, "inst-1", course.ID))

	require.NoError(t, svc.Approve(ctx, "admin-1", course.ID))
	require.Error(t, svc.Approve(ctx, "admin-1", course.ID), "only pending courses can be reviewed")

	require.NoError(t, svc.Publish(ctx, "admin-1", course.ID))
	assert.Equal(t, models.CourseStatusPublished, repo.courses[course.ID].Status)
	require.Error(t, svc.Publish(ctx, "admin-1", course.ID), "publish is not repeatable")

	require.NoError(t, svc.Archive(ctx, "admin-1", course.ID))
	assert.Equal(t, models.CourseStatusArchived, repo.courses[course.ID].Status)
}

func TestRejectedCourseCanResubmit(t *testing.T) {
	svc, repo, _, _ := courseAuthoringFixture()
	ctx := context.Background()

	course, err := svc.Create(ctx, "inst-1", CreateCourseRequest{Code: "CS102", Title: "Data Structures"})
	require.NoError(t, err)
	require.NoError(t, svc.SubmitForApproval(ctx, "inst-1", course.ID))
	require.NoError(t, svc.Reject(ctx, "admin-1", course.ID))
	assert.Equal(t, models.CourseApprovalRejected, repo.courses[course.ID].ApprovalStatus)

	require.NoError(t, svc.SubmitForApproval(ctx, "inst-1", course.ID))
	assert.Equal(t, models.CourseApprovalPending, repo.courses[course.ID].ApprovalStatus)
}

func TestCreateMethodKeyRequiresKey(t *testing.T) {
	course := &models.Course{ID: "course-1", Code: "CS101", Title: "Intro"}
	svc, _, _, _ := courseAuthoringFixture(course)
	ctx := context.Background()

	_, err := svc.CreateMethod(ctx, "inst-1", "course-1", CreateMethodRequest{
		MethodType: models.MethodKey,
		IsEnabled:  true,
	})
	require.Error(t, err)

	key := "abc123"
	method, err := svc.CreateMethod(ctx, "inst-1", "course-1", CreateMethodRequest{
		MethodType:    models.MethodKey,
		IsEnabled:     true,
		EnrollmentKey: &key,
	})
	require.NoError(t, err)
	assert.False(t, method.RequiresApproval)
}

func TestCreateMethodApprovalSetsFlag(t *testing.T) {
	course := &models.Course{ID: "course-1", Code: "CS101", Title: "Intro"}
	svc, _, _, _ := courseAuthoringFixture(course)

	method, err := svc.CreateMethod(context.Background(), "inst-1", "course-1", CreateMethodRequest{
		MethodType: models.MethodApproval,
		IsEnabled:  true,
	})
	require.NoError(t, err)
	assert.True(t, method.RequiresApproval)
}

func TestCreateMethodValidatesAutoAssignGroup(t *testing.T) {
	course := &models.Course{ID: "course-1", Code: "CS101", Title: "Intro"}
	svc, _, _, groups := courseAuthoringFixture(course)
	groups.groups["group-other"] = &models.CourseGroup{ID: "group-other", CourseID: "course-2", Name: "Other"}
	groups.groups["group-1"] = &models.CourseGroup{ID: "group-1", CourseID: "course-1", Name: "Section A"}
	ctx := context.Background()

	otherID := "group-other"
	_, err := svc.CreateMethod(ctx, "inst-1", "course-1", CreateMethodRequest{
		MethodType:        models.MethodSelf,
		IsEnabled:         true,
		AutoAssignGroupID: &otherID,
	})
	require.Error(t, err, "group from another course is rejected")

	goodID := "group-1"
	_, err = svc.CreateMethod(ctx, "inst-1", "course-1", CreateMethodRequest{
		MethodType:        models.MethodSelf,
		IsEnabled:         true,
		AutoAssignGroupID: &goodID,
	})
	require.NoError(t, err)
}

func TestDeleteMethodChecksCourseOwnership(t *testing.T) {
	course := &models.Course{ID: "course-1", Code: "CS101", Title: "Intro"}
	svc, _, methods, _ := courseAuthoringFixture(course)
	methods.methods["method-1"] = &models.CourseEnrollmentMethod{ID: "method-1", CourseID: "course-2"}

	err := svc.DeleteMethod(context.Background(), "inst-1", "course-1", "method-1")
	require.Error(t, err)

	methods.methods["method-1"].CourseID = "course-1"
	require.NoError(t, svc.DeleteMethod(context.Background(), "inst-1", "course-1", "method-1"))
}
