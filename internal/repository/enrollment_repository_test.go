package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencampus/student-management-api/internal/models"
	appErrors "github.com/opencampus/student-management-api/pkg/errors"
)

func enrollmentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "student_id", "course_id", "enrolled_at", "enrolled_by", "notes", "status"}).
		AddRow(int64(1), int64(1), int64(10), time.Now(), "admin@example.com", nil, "ACTIVE")
}

func TestEnrollmentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery("INSERT INTO enrollments").
		WithArgs(int64(1), int64(10), sqlmock.AnyArg(), "admin@example.com", nil, models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	enrollment := &models.Enrollment{StudentID: 1, CourseID: 10, EnrolledBy: "admin@example.com"}
	require.NoError(t, repo.Create(context.Background(), enrollment))
	assert.Equal(t, int64(3), enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.False(t, enrollment.EnrolledAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateUniqueViolation(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery("INSERT INTO enrollments").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "enrollments_active_pair_idx"})

	err := repo.Create(context.Background(), &models.Enrollment{StudentID: 1, CourseID: 10})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrAlreadyEnrolled.Code, appErr.Code)
	assert.Equal(t, 409, appErr.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindActivePair(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE student_id = $1 AND course_id = $2 AND status = $3")).
		WithArgs(int64(1), int64(10), models.EnrollmentStatusActive).
		WillReturnRows(enrollmentRows())

	enrollment, err := repo.FindActivePair(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), enrollment.ID)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE student_id = $1 AND course_id = $2 AND status = $3")).
		WithArgs(int64(1), int64(11), models.EnrollmentStatusActive).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.FindActivePair(context.Background(), 1, 11)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2 WHERE id = $1")).
		WithArgs(int64(1), models.EnrollmentStatusDropped).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), 1, models.EnrollmentStatusDropped))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "enrolled_at", "enrolled_by", "notes", "status", "student_name", "student_email", "course_name", "course_code"}).
		AddRow(int64(1), int64(1), int64(10), time.Now(), "admin@example.com", nil, "ACTIVE", "Ada", "ada@example.com", "Algorithms", "CS201")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.student_id = $1 ORDER BY e.enrolled_at DESC LIMIT 20 OFFSET 0")).
		WithArgs(int64(1)).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	enrollments, total, err := repo.List(context.Background(), models.EnrollmentFilter{StudentID: 1})
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, 1, total)
	require.NotNil(t, enrollments[0].StudentName)
	assert.Equal(t, "Ada", *enrollments[0].StudentName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListDanglingHistory(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	// student row deleted, LEFT JOIN yields NULL names
	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "enrolled_at", "enrolled_by", "notes", "status", "student_name", "student_email", "course_name", "course_code"}).
		AddRow(int64(1), int64(1), int64(10), time.Now(), "admin@example.com", nil, "DROPPED", nil, nil, "Algorithms", "CS201")

	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN students s ON s.id = e.student_id")).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	enrollments, _, err := repo.List(context.Background(), models.EnrollmentFilter{})
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Nil(t, enrollments[0].StudentName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE status = $1")).
		WithArgs(models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))

	count, err := repo.CountByStatus(context.Background(), models.EnrollmentStatusActive)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryTopStudent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"student_id", "name", "email", "enrollment_count"}).
		AddRow(int64(1), "Ada", "ada@example.com", int64(3))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY enrollment_count DESC")).
		WithArgs(models.EnrollmentStatusActive).
		WillReturnRows(rows)

	top, err := repo.TopStudent(context.Background())
	require.NoError(t, err)
	require.NotNil(t, top)
	assert.Equal(t, int64(3), top.EnrollmentCount)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY enrollment_count DESC")).
		WithArgs(models.EnrollmentStatusActive).
		WillReturnError(sql.ErrNoRows)

	top, err = repo.TopStudent(context.Background())
	require.NoError(t, err)
	assert.Nil(t, top)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryTopCourse(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY enrollment_count DESC")).
		WithArgs(models.EnrollmentStatusActive).
		WillReturnError(sql.ErrNoRows)

	top, err := repo.TopCourse(context.Background())
	require.NoError(t, err)
	assert.Nil(t, top)
	assert.NoError(t, mock.ExpectationsWereMet())
}
