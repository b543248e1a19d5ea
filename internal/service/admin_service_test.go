package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencampus/student-management-api/internal/models"
	appErrors "github.com/opencampus/student-management-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	enrollments map[int64]models.Enrollment
	nextID      int64
	topStudent  *models.TopStudent
	topCourse   *models.TopCourse
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var list []models.EnrollmentDetail
	for _, e := range m.enrollments {
		if filter.StudentID > 0 && e.StudentID != filter.StudentID {
			continue
		}
		if filter.CourseID > 0 && e.CourseID != filter.CourseID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		list = append(list, models.EnrollmentDetail{Enrollment: e})
	}
	return list, len(list), nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindActivePair(ctx context.Context, studentID, courseID int64) (*models.Enrollment, error) {
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID && e.Status == models.EnrollmentStatusActive {
			return &e, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if m.enrollments == nil {
		m.enrollments = make(map[int64]models.Enrollment)
	}
	for _, e := range m.enrollments {
		if e.StudentID == enrollment.StudentID && e.CourseID == enrollment.CourseID && e.Status == models.EnrollmentStatusActive && enrollment.Status == models.EnrollmentStatusActive {
			return appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
		}
	}
	m.nextID++
	enrollment.ID = m.nextID
	m.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (m *mockEnrollmentRepo) UpdateStatus(ctx context.Context, id int64, status models.EnrollmentStatus) error {
	if e, ok := m.enrollments[id]; ok {
		e.Status = status
		m.enrollments[id] = e
	}
	return nil
}

func (m *mockEnrollmentRepo) CountByStatus(ctx context.Context, status models.EnrollmentStatus) (int64, error) {
	var count int64
	for _, e := range m.enrollments {
		if e.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *mockEnrollmentRepo) TopStudent(ctx context.Context) (*models.TopStudent, error) {
	return m.topStudent, nil
}

func (m *mockEnrollmentRepo) TopCourse(ctx context.Context) (*models.TopCourse, error) {
	return m.topCourse, nil
}

type mockStudentReader struct {
	students map[int64]*models.StudentDetail
	active   int64
}

func (m *mockStudentReader) FindByID(ctx context.Context, id int64) (*models.StudentDetail, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentReader) CountActive(ctx context.Context) (int64, error) {
	return m.active, nil
}

type mockCourseReader struct {
	courses map[int64]*models.CourseDetail
	active  int64
}

func (m *mockCourseReader) FindByID(ctx context.Context, id int64) (*models.CourseDetail, error) {
	if c, ok := m.courses[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseReader) CountActive(ctx context.Context) (int64, error) {
	return m.active, nil
}

func studentDetail(id int64, active bool) *models.StudentDetail {
	return &models.StudentDetail{Student: models.Student{ID: id, Name: "Student", Email: "s@example.com", Active: active}}
}

func courseDetail(id int64, active bool) *models.CourseDetail {
	return &models.CourseDetail{Course: models.Course{ID: id, Name: "Course", Code: "GO101", Credits: 3, Active: active}}
}

func newAdminFixture() (*AdminService, *mockEnrollmentRepo, *mockStudentReader, *mockCourseReader) {
	enrollments := &mockEnrollmentRepo{}
	students := &mockStudentReader{students: map[int64]*models.StudentDetail{
		1: studentDetail(1, true),
		2: studentDetail(2, true),
		9: studentDetail(9, false),
	}}
	courses := &mockCourseReader{courses: map[int64]*models.CourseDetail{
		10: courseDetail(10, true),
		11: courseDetail(11, true),
		99: courseDetail(99, false),
	}}
	svc := NewAdminService(enrollments, students, courses, nil, nil, nil)
	return svc, enrollments, students, courses
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, Email: "admin@example.com"}
}

func TestAdminServiceEnroll(t *testing.T) {
	svc, _, _, _ := newAdminFixture()

	enrollment, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: 1, CourseID: 10}, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, "admin@example.com", enrollment.EnrolledBy)
	assert.NotZero(t, enrollment.ID)
}

func TestAdminServiceEnrollTwiceConflicts(t *testing.T) {
	svc, _, _, _ := newAdminFixture()

	_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: 1, CourseID: 10}, adminClaims())
	require.NoError(t, err)

	_, err = svc.Enroll(context.Background(), EnrollRequest{StudentID: 1, CourseID: 10}, adminClaims())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrAlreadyEnrolled.Code, appErr.Code)
	assert.Equal(t, 409, appErr.Status)
}

func TestAdminServiceEnrollPreconditions(t *testing.T) {
	cases := []struct {
		name      string
		studentID int64
		courseID  int64
		status    int
	}{
		{"missing student", 42, 10, 404},
		{"inactive student", 9, 10, 400},
		{"missing course", 1, 42, 404},
		{"inactive course", 1, 99, 400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, enrollments, _, _ := newAdminFixture()
			_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: tc.studentID, CourseID: tc.courseID}, adminClaims())
			require.Error(t, err)
			assert.Equal(t, tc.status, appErrors.FromError(err).Status)
			assert.Empty(t, enrollments.enrollments)
		})
	}
}

func TestAdminServiceEnrollAfterDropSucceeds(t *testing.T) {
	svc, _, _, _ := newAdminFixture()

	first, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: 1, CourseID: 10}, adminClaims())
	require.NoError(t, err)

	_, err = svc.Unenroll(context.Background(), 1, 10)
	require.NoError(t, err)

	second, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: 1, CourseID: 10}, adminClaims())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAdminServiceUnenroll(t *testing.T) {
	svc, enrollments, _, _ := newAdminFixture()

	created, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: 1, CourseID: 10}, adminClaims())
	require.NoError(t, err)

	dropped, err := svc.Unenroll(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, created.ID, dropped.ID)
	assert.Equal(t, models.EnrollmentStatusDropped, dropped.Status)

	// the row survives the drop
	assert.Len(t, enrollments.enrollments, 1)
	assert.Equal(t, models.EnrollmentStatusDropped, enrollments.enrollments[created.ID].Status)
}

func TestAdminServiceUnenrollWithoutActiveEnrollment(t *testing.T) {
	svc, _, _, _ := newAdminFixture()

	_, err := svc.Unenroll(context.Background(), 1, 10)
	require.Error(t, err)
	assert.Equal(t, 404, appErrors.FromError(err).Status)
}

func TestAdminServiceChangeStatus(t *testing.T) {
	svc, enrollments, _, _ := newAdminFixture()

	created, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: 1, CourseID: 10}, adminClaims())
	require.NoError(t, err)

	updated, err := svc.ChangeStatus(context.Background(), created.ID, models.EnrollmentStatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusSuspended, updated.Status)

	// any state may be set from any other
	updated, err = svc.ChangeStatus(context.Background(), created.ID, models.EnrollmentStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, updated.Status)
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollments.enrollments[created.ID].Status)
}

func TestAdminServiceChangeStatusValidation(t *testing.T) {
	svc, _, _, _ := newAdminFixture()

	_, err := svc.ChangeStatus(context.Background(), 1, models.EnrollmentStatus("GRADUATED"))
	require.Error(t, err)
	assert.Equal(t, 400, appErrors.FromError(err).Status)

	_, err = svc.ChangeStatus(context.Background(), 42, models.EnrollmentStatusCompleted)
	require.Error(t, err)
	assert.Equal(t, 404, appErrors.FromError(err).Status)
}

func TestAdminServiceStatsEmptyStore(t *testing.T) {
	svc, _, _, _ := newAdminFixture()

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalActiveEnrollments)
	assert.Nil(t, stats.StudentWithMaxCourses)
	assert.Nil(t, stats.CourseWithMaxStudents)
}

func TestAdminServiceStats(t *testing.T) {
	svc, enrollments, students, courses := newAdminFixture()
	students.active = 2
	courses.active = 3

	// student 1 enrolls in two courses, student 2 in one
	for _, pair := range []struct{ s, c int64 }{{1, 10}, {1, 11}, {2, 10}} {
		_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: pair.s, CourseID: pair.c}, adminClaims())
		require.NoError(t, err)
	}
	enrollments.topStudent = &models.TopStudent{StudentID: 1, Name: "Student", EnrollmentCount: 2}
	enrollments.topCourse = &models.TopCourse{CourseID: 10, Name: "Course", EnrollmentCount: 2}

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalActiveStudents)
	assert.Equal(t, int64(3), stats.TotalActiveCourses)
	assert.Equal(t, int64(3), stats.TotalActiveEnrollments)
	require.NotNil(t, stats.StudentWithMaxCourses)
	assert.Equal(t, int64(2), stats.StudentWithMaxCourses.EnrollmentCount)
	require.NotNil(t, stats.CourseWithMaxStudents)
	assert.Equal(t, int64(10), stats.CourseWithMaxStudents.CourseID)
}

func TestAdminServiceExportEnrollmentsCSV(t *testing.T) {
	svc, _, _, _ := newAdminFixture()

	_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: 1, CourseID: 10}, adminClaims())
	require.NoError(t, err)

	payload, contentType, err := svc.ExportEnrollments(context.Background(), ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.True(t, strings.HasPrefix(string(payload), "ID,Student,Email,Course,Code,Status"))
	assert.Contains(t, string(payload), "ACTIVE")
}

func TestAdminServiceExportEnrollmentsUnknownFormat(t *testing.T) {
	svc, _, _, _ := newAdminFixture()

	_, _, err := svc.ExportEnrollments(context.Background(), "xlsx")
	require.Error(t, err)
	assert.Equal(t, 400, appErrors.FromError(err).Status)
}
