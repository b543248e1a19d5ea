package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencampus/student-management-api/internal/middleware"
	"github.com/opencampus/student-management-api/internal/models"
	"github.com/opencampus/student-management-api/internal/service"
)

type enrollmentStoreStub struct {
	created []models.Enrollment
}

func (s *enrollmentStoreStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (s *enrollmentStoreStub) FindByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	return nil, sql.ErrNoRows
}

func (s *enrollmentStoreStub) FindActivePair(ctx context.Context, studentID, courseID int64) (*models.Enrollment, error) {
	return nil, sql.ErrNoRows
}

func (s *enrollmentStoreStub) Create(ctx context.Context, enrollment *models.Enrollment) error {
	enrollment.ID = int64(len(s.created) + 1)
	s.created = append(s.created, *enrollment)
	return nil
}

func (s *enrollmentStoreStub) UpdateStatus(ctx context.Context, id int64, status models.EnrollmentStatus) error {
	return nil
}

func (s *enrollmentStoreStub) CountByStatus(ctx context.Context, status models.EnrollmentStatus) (int64, error) {
	return 0, nil
}

func (s *enrollmentStoreStub) TopStudent(ctx context.Context) (*models.TopStudent, error) {
	return nil, nil
}

func (s *enrollmentStoreStub) TopCourse(ctx context.Context) (*models.TopCourse, error) {
	return nil, nil
}

type studentReaderStub struct{}

func (studentReaderStub) FindByID(ctx context.Context, id int64) (*models.StudentDetail, error) {
	return &models.StudentDetail{Student: models.Student{ID: id, Name: "Ada", Email: "ada@example.com", Active: true}}, nil
}

func (studentReaderStub) CountActive(ctx context.Context) (int64, error) { return 1, nil }

type courseReaderStub struct{}

func (courseReaderStub) FindByID(ctx context.Context, id int64) (*models.CourseDetail, error) {
	return &models.CourseDetail{Course: models.Course{ID: id, Name: "Algorithms", Code: "CS201", Active: true}}, nil
}

func (courseReaderStub) CountActive(ctx context.Context) (int64, error) { return 1, nil }

func newAdminHandler(store *enrollmentStoreStub) *AdminHandler {
	svc := service.NewAdminService(store, studentReaderStub{}, courseReaderStub{}, nil, nil, nil)
	return NewAdminHandler(svc)
}

func TestAdminHandlerEnroll(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &enrollmentStoreStub{}
	handler := newAdminHandler(store)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(service.EnrollRequest{StudentID: 1, CourseID: 10})
	req, _ := http.NewRequest(http.MethodPost, "/admin/enroll", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Email: "admin@example.com", Role: models.RoleAdmin})

	handler.Enroll(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, store.created, 1)
	assert.Equal(t, models.EnrollmentStatusActive, store.created[0].Status)
	assert.Equal(t, "admin@example.com", store.created[0].EnrolledBy)
}

func TestAdminHandlerEnrollInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAdminHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/admin/enroll", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Enroll(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandlerUnenrollMissingQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAdminHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodDelete, "/admin/enroll?studentId=1", nil)
	c.Request = req

	handler.Unenroll(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandlerChangeStatusBadID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAdminHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPatch, "/admin/enrollment/abc/status?status=COMPLETED", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "abc"}}

	handler.ChangeStatus(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandlerListEnrollmentsUnknownStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAdminHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/admin/enrollments?status=GRADUATED", nil)
	c.Request = req

	handler.ListEnrollments(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandlerExportUnknownFormat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newAdminHandler(&enrollmentStoreStub{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/admin/export/enrollments?format=xlsx", nil)
	c.Request = req

	handler.ExportEnrollments(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
