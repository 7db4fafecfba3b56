package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMethodRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentMethodRepositoryIncrementGuardedTakesSeat(t *testing.T) {
	db, mock, cleanup := newMethodRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentMethodRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE course_enrollment_methods
        SET current_enrollments = current_enrollments + 1, updated_at = $2
        WHERE id = $1 AND (max_enrollments IS NULL OR current_enrollments < max_enrollments)`)).
		WithArgs("method-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	taken, err := repo.IncrementEnrollmentsGuarded(context.Background(), "method-1")
	require.NoError(t, err)
	require.True(t, taken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentMethodRepositoryIncrementGuardedAtCapacity(t *testing.T) {
	db, mock, cleanup := newMethodRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentMethodRepository(db)

	// Zero rows affected means the WHERE guard rejected the increment.
	mock.ExpectExec("UPDATE course_enrollment_methods").
		WithArgs("method-full", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	taken, err := repo.IncrementEnrollmentsGuarded(context.Background(), "method-full")
	require.NoError(t, err)
	require.False(t, taken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentMethodRepositoryDecrementFloorsAtZero(t *testing.T) {
	db, mock, cleanup := newMethodRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentMethodRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE course_enrollment_methods
        SET current_enrollments = GREATEST(current_enrollments - 1, 0), updated_at = $2 WHERE id = $1`)).
		WithArgs("method-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DecrementEnrollments(context.Background(), "method-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentMethodRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newMethodRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentMethodRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "course_id", "method_type", "is_enabled", "enrollment_start_date", "enrollment_end_date",
		"max_enrollments", "current_enrollments", "default_role", "enrollment_key", "key_case_sensitive",
		"requires_approval", "approval_message", "enrollment_duration_days", "auto_assign_group_id",
		"created_at", "updated_at",
	}).AddRow("method-1", "course-1", "SELF", true, nil, nil, 30, 12, "STUDENT", nil, false, false, nil, nil, nil, now, now)
	mock.ExpectQuery("SELECT (.+) FROM course_enrollment_methods WHERE id =").
		WithArgs("method-1").
		WillReturnRows(rows)

	method, err := repo.FindByID(context.Background(), "method-1")
	require.NoError(t, err)
	require.Equal(t, "course-1", method.CourseID)
	require.Equal(t, 12, method.CurrentEnrollments)
	require.NoError(t, mock.ExpectationsWereMet())
}
