package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryExists(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM course_enrollments WHERE course_id = $1 AND user_id = $2 LIMIT 1")).
		WithArgs("course-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.Exists(context.Background(), "course-1", "user-1")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsNoRows(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery("SELECT 1 FROM course_enrollments").
		WithArgs("course-1", "user-2").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err := repo.Exists(context.Background(), "course-1", "user-2")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateAppliesDefaults(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO course_enrollments").
		WillReturnResult(sqlmock.NewResult(0, 1))

	enrollment := &models.CourseEnrollment{
		CourseID:   "course-1",
		UserID:     "user-1",
		CourseRole: models.CourseRoleStudent,
	}
	require.NoError(t, repo.Create(context.Background(), enrollment))
	require.NotEmpty(t, enrollment.ID)
	require.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.False(t, enrollment.EnrolledAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateProgressCompletesAtFull(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("status = CASE WHEN $2 >= 100 AND status = 'ACTIVE' THEN 'COMPLETED' ELSE status END")).
		WithArgs("enr-1", 100.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateProgress(context.Background(), "enr-1", 100.0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListActiveByCourse(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "course_id", "user_id", "method_id", "course_role", "status",
		"time_start", "time_end", "progress_percentage", "enrolled_at", "enrolled_by",
		"user_name", "user_email", "course_code", "course_title",
	}).AddRow("enr-1", "course-1", "user-1", nil, "STUDENT", "ACTIVE", nil, nil, 42.5, now, nil,
		"Ada Lovelace", "ada@example.com", "", "")
	mock.ExpectQuery("FROM course_enrollments e").
		WithArgs("course-1").
		WillReturnRows(rows)

	roster, err := repo.ListActiveByCourse(context.Background(), "course-1")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	require.Equal(t, "Ada Lovelace", roster[0].UserName)
	require.NoError(t, mock.ExpectationsWereMet())
}
