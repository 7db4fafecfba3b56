package service

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

type mockGradeAssignments struct {
	assignments []models.Assignment
	categories  []models.GradeCategory
}

func (m *mockGradeAssignments) ListPublishedByCourse(ctx context.Context, courseID string) ([]models.Assignment, error) {
	return m.assignments, nil
}

func (m *mockGradeAssignments) ListCategories(ctx context.Context, courseID string) ([]models.GradeCategory, error) {
	return m.categories, nil
}

type mockGradeSubmissions struct {
	perStudent map[string][]models.Submission
	latest     []models.Submission
}

func (m *mockGradeSubmissions) ListGradedForStudent(ctx context.Context, courseID, studentID string) ([]models.Submission, error) {
	return m.perStudent[studentID], nil
}

func (m *mockGradeSubmissions) ListLatestForCourse(ctx context.Context, courseID string) ([]models.Submission, error) {
	return m.latest, nil
}

type mockGradeRoster struct {
	roster []models.EnrollmentDetail
}

func (m *mockGradeRoster) ListActiveByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	return m.roster, nil
}

func gradedSubmission(assignmentID, studentID string, points float64) models.Submission {
	now := time.Now()
	return models.Submission{
		ID:           "sub-" + assignmentID + "-" + studentID,
		AssignmentID: assignmentID,
		StudentID:    studentID,
		Status:       models.SubmissionStatusGraded,
		PointsEarned: &points,
		SubmittedAt:  &now,
	}
}

func studentEntry(userID, name string) models.EnrollmentDetail {
	return models.EnrollmentDetail{
		CourseEnrollment: models.CourseEnrollment{UserID: userID, CourseRole: models.CourseRoleStudent},
		UserName:         name,
	}
}

func TestStudentSummaryPointsWeighted(t *testing.T) {
	// A(max=100, earned=80), B(max=50, ungraded) in category Quizzes:
	// category and overall both 80/100 = 80%. B contributes nothing.
	catID := "cat-quizzes"
	assignments := &mockGradeAssignments{
		assignments: []models.Assignment{
			{ID: "a", Title: "A", MaxPoints: 100, GradeCategoryID: &catID, Published: true},
			{ID: "b", Title: "B", MaxPoints: 50, GradeCategoryID: &catID, Published: true},
		},
		categories: []models.GradeCategory{{ID: catID, Name: "Quizzes", Weight: 0.5}},
	}
	submissions := &mockGradeSubmissions{perStudent: map[string][]models.Submission{
		"stu-1": {gradedSubmission("a", "stu-1", 80)},
	}}
	svc := NewGradeService(assignments, submissions, &mockGradeRoster{}, nil, 0, nil)

	summary, err := svc.StudentSummary(context.Background(), "course-1", "stu-1")
	require.NoError(t, err)
	require.NotNil(t, summary.OverallPercentage)
	assert.InDelta(t, 80.0, *summary.OverallPercentage, 1e-9)
	assert.Equal(t, 80.0, summary.EarnedPoints)
	assert.Equal(t, 100.0, summary.TotalPoints)

	require.Len(t, summary.Categories, 1)
	require.NotNil(t, summary.Categories[0].Percentage)
	assert.InDelta(t, 80.0, *summary.Categories[0].Percentage, 1e-9)

	require.Len(t, summary.Assignments, 2)
	assert.NotNil(t, summary.Assignments[0].Percentage)
	assert.Nil(t, summary.Assignments[1].Percentage)
	assert.Nil(t, summary.Assignments[1].PointsEarned)
}

func TestStudentSummaryNoGradedWorkIsNil(t *testing.T) {
	assignments := &mockGradeAssignments{
		assignments: []models.Assignment{{ID: "a", Title: "A", MaxPoints: 100, Published: true}},
	}
	svc := NewGradeService(assignments, &mockGradeSubmissions{}, &mockGradeRoster{}, nil, 0, nil)

	summary, err := svc.StudentSummary(context.Background(), "course-1", "stu-1")
	require.NoError(t, err)
	assert.Nil(t, summary.OverallPercentage, "zero denominator must yield nil, not 0")
}

func TestStudentSummaryZeroMaxPointsAssignment(t *testing.T) {
	assignments := &mockGradeAssignments{
		assignments: []models.Assignment{
			{ID: "a", Title: "A", MaxPoints: 0, Published: true},
			{ID: "b", Title: "B", MaxPoints: 100, Published: true},
		},
	}
	submissions := &mockGradeSubmissions{perStudent: map[string][]models.Submission{
		"stu-1": {gradedSubmission("a", "stu-1", 0), gradedSubmission("b", "stu-1", 90)},
	}}
	svc := NewGradeService(assignments, submissions, &mockGradeRoster{}, nil, 0, nil)

	summary, err := svc.StudentSummary(context.Background(), "course-1", "stu-1")
	require.NoError(t, err)
	require.NotNil(t, summary.OverallPercentage)
	assert.False(t, math.IsNaN(*summary.OverallPercentage))
	assert.False(t, math.IsInf(*summary.OverallPercentage, 0))
	assert.InDelta(t, 90.0, *summary.OverallPercentage, 1e-9)

	// The zero-max assignment itself has a nil per-assignment percentage.
	assert.Nil(t, summary.Assignments[0].Percentage)
}

func TestStudentSummaryIdempotent(t *testing.T) {
	catID := "cat-1"
	assignments := &mockGradeAssignments{
		assignments: []models.Assignment{
			{ID: "a", Title: "A", MaxPoints: 100, GradeCategoryID: &catID, Published: true},
			{ID: "b", Title: "B", MaxPoints: 40, Published: true},
		},
		categories: []models.GradeCategory{{ID: catID, Name: "Homework"}},
	}
	submissions := &mockGradeSubmissions{perStudent: map[string][]models.Submission{
		"stu-1": {gradedSubmission("a", "stu-1", 72.5), gradedSubmission("b", "stu-1", 31)},
	}}
	svc := NewGradeService(assignments, submissions, &mockGradeRoster{}, nil, 0, nil)

	first, err := svc.StudentSummary(context.Background(), "course-1", "stu-1")
	require.NoError(t, err)
	second, err := svc.StudentSummary(context.Background(), "course-1", "stu-1")
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, firstJSON, secondJSON)
}

func TestCourseGradebookKeepsInactiveStudents(t *testing.T) {
	assignments := &mockGradeAssignments{
		assignments: []models.Assignment{
			{ID: "a", Title: "A", MaxPoints: 100, Published: true},
			{ID: "b", Title: "B", MaxPoints: 50, Published: true},
		},
	}
	submitted := models.Submission{
		ID:           "sub-b",
		AssignmentID: "b",
		StudentID:    "stu-1",
		Status:       models.SubmissionStatusSubmitted,
		IsLate:       true,
	}
	submissions := &mockGradeSubmissions{latest: []models.Submission{
		gradedSubmission("a", "stu-1", 60),
		submitted,
	}}
	roster := &mockGradeRoster{roster: []models.EnrollmentDetail{
		studentEntry("stu-1", "Ada"),
		studentEntry("stu-2", "Grace"),
		{CourseEnrollment: models.CourseEnrollment{UserID: "inst-1", CourseRole: models.CourseRoleInstructor}, UserName: "Prof"},
	}}
	svc := NewGradeService(assignments, submissions, roster, nil, 0, nil)

	gradebook, err := svc.CourseGradebook(context.Background(), "course-1")
	require.NoError(t, err)
	require.Len(t, gradebook.Rows, 2, "instructors are not gradebook rows")

	ada := gradebook.Rows[0]
	require.Len(t, ada.Cells, 2)
	assert.Equal(t, models.CellGraded, ada.Cells[0].Status)
	assert.Equal(t, models.CellSubmitted, ada.Cells[1].Status)
	assert.True(t, ada.Cells[1].IsLate)
	require.NotNil(t, ada.OverallPercentage)
	assert.InDelta(t, 60.0, *ada.OverallPercentage, 1e-9)

	// Grace has no activity but keeps a full row of empty cells.
	grace := gradebook.Rows[1]
	require.Len(t, grace.Cells, 2)
	assert.Equal(t, models.CellNotSubmitted, grace.Cells[0].Status)
	assert.Equal(t, models.CellNotSubmitted, grace.Cells[1].Status)
	assert.Nil(t, grace.OverallPercentage)
}
