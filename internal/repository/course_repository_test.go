package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newCourseRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCourseRepositoryIncrementEnrolledGuarded(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE courses SET enrolled_count = enrolled_count + 1, updated_at = $2
        WHERE id = $1 AND (max_students IS NULL OR enrolled_count < max_students)`)).
		WithArgs("course-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	taken, err := repo.IncrementEnrolledGuarded(context.Background(), "course-1")
	require.NoError(t, err)
	require.True(t, taken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryIncrementEnrolledGuardedFull(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec("UPDATE courses SET enrolled_count").
		WithArgs("course-full", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	taken, err := repo.IncrementEnrolledGuarded(context.Background(), "course-full")
	require.NoError(t, err)
	require.False(t, taken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryRepairCounters(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("enrolled_count = (SELECT COUNT(*) FROM course_enrollments WHERE course_id = $1 AND status = 'ACTIVE')")).
		WithArgs("course-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RepairCounters(context.Background(), "course-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
