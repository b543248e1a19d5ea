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

	"github.com/opencampus/student-management-api/internal/models"
	"github.com/opencampus/student-management-api/internal/service"
	"github.com/opencampus/student-management-api/pkg/response"
)

type studentStoreStub struct {
	students []models.StudentDetail
	lastList models.StudentFilter
}

func (s *studentStoreStub) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	s.lastList = filter
	return s.students, len(s.students), nil
}

func (s *studentStoreStub) FindByID(ctx context.Context, id int64) (*models.StudentDetail, error) {
	for _, stored := range s.students {
		if stored.ID == id {
			return &stored, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *studentStoreStub) FindByEmail(ctx context.Context, email string) (*models.StudentDetail, error) {
	return nil, sql.ErrNoRows
}

func (s *studentStoreStub) ExistsByEmail(ctx context.Context, email string, excludeID int64) (bool, error) {
	return false, nil
}

func (s *studentStoreStub) Create(ctx context.Context, student *models.Student) error {
	student.ID = int64(len(s.students) + 1)
	s.students = append(s.students, models.StudentDetail{Student: *student})
	return nil
}

func (s *studentStoreStub) Update(ctx context.Context, student *models.Student) error { return nil }

func (s *studentStoreStub) Delete(ctx context.Context, id int64) error { return nil }

func (s *studentStoreStub) SetActive(ctx context.Context, id int64, active bool) error { return nil }

func (s *studentStoreStub) CountActiveEnrollments(ctx context.Context, studentID int64) (int64, error) {
	return 2, nil
}

func newStudentHandler(store *studentStoreStub) *StudentHandler {
	svc := service.NewStudentService(store, nil, nil, nil)
	return NewStudentHandler(svc)
}

func TestStudentHandlerListActiveForcesFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &studentStoreStub{}
	handler := newStudentHandler(store)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/students/active?active=false", nil)
	c.Request = req

	handler.ListActive(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, store.lastList.Active)
	assert.True(t, *store.lastList.Active)
}

func TestStudentHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &studentStoreStub{}
	handler := newStudentHandler(store)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(service.CreateStudentRequest{Name: "Ada Lovelace", Email: "ada@example.com"})
	req, _ := http.NewRequest(http.MethodPost, "/students", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, store.students, 1)
	assert.True(t, store.students[0].Active)
}

func TestStudentHandlerGetBadID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewStudentHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/students/zero", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "zero"}}

	handler.Get(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
}

func TestStudentHandlerActivateReturnsConfirmation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &studentStoreStub{students: []models.StudentDetail{{Student: models.Student{ID: 1, Name: "Ada", Email: "ada@example.com"}}}}
	handler := newStudentHandler(store)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPatch, "/students/1/activate", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "1"}}

	handler.Activate(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"message":"student activated"`)
}

func TestStudentHandlerDeactivateReturnsConfirmation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &studentStoreStub{students: []models.StudentDetail{{Student: models.Student{ID: 1, Name: "Ada", Email: "ada@example.com", Active: true}}}}
	handler := newStudentHandler(store)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPatch, "/students/1/deactivate", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "1"}}

	handler.Deactivate(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"message":"student deactivated"`)
}

func TestStudentHandlerCoursesCount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &studentStoreStub{students: []models.StudentDetail{{Student: models.Student{ID: 1, Name: "Ada", Email: "ada@example.com", Active: true}}}}
	handler := newStudentHandler(store)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/students/1/courses/count", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "1"}}

	handler.CoursesCount(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enrolled_courses_count":2`)
}
