package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencampus/student-management-api/internal/models"
	"github.com/opencampus/student-management-api/internal/service"
	appErrors "github.com/opencampus/student-management-api/pkg/errors"
	"github.com/opencampus/student-management-api/pkg/response"
)

// AdminHandler exposes enrollment management endpoints.
type AdminHandler struct {
	admin *service.AdminService
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(admin *service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// Enroll godoc
// @Summary Enroll a student into a course
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /admin/enroll [post]
func (h *AdminHandler) Enroll(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.admin.Enroll(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Unenroll godoc
// @Summary Drop the active enrollment for a student and course
// @Tags Admin
// @Produce json
// @Param studentId query int true "Student ID"
// @Param courseId query int true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /admin/enroll [delete]
func (h *AdminHandler) Unenroll(c *gin.Context) {
	studentID, err := queryID(c, "studentId")
	if err != nil {
		response.Error(c, err)
		return
	}
	courseID, err := queryID(c, "courseId")
	if err != nil {
		response.Error(c, err)
		return
	}
	enrollment, err := h.admin.Unenroll(c.Request.Context(), studentID, courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// ChangeStatus godoc
// @Summary Overwrite the status of an enrollment
// @Tags Admin
// @Produce json
// @Param id path int true "Enrollment ID"
// @Param status query string true "New status" Enums(ACTIVE, COMPLETED, DROPPED, SUSPENDED)
// @Success 200 {object} response.Envelope
// @Router /admin/enrollment/{id}/status [patch]
func (h *AdminHandler) ChangeStatus(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := models.EnrollmentStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	enrollment, err := h.admin.ChangeStatus(c.Request.Context(), id, status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// ListEnrollments godoc
// @Summary List enrollments
// @Tags Admin
// @Produce json
// @Param studentId query int false "Filter by student"
// @Param courseId query int false "Filter by course"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments [get]
func (h *AdminHandler) ListEnrollments(c *gin.Context) {
	var filter models.EnrollmentFilter
	if v, err := strconv.ParseInt(c.Query("studentId"), 10, 64); err == nil {
		filter.StudentID = v
	}
	if v, err := strconv.ParseInt(c.Query("courseId"), 10, 64); err == nil {
		filter.CourseID = v
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		filter.Status = models.EnrollmentStatus(strings.ToUpper(status))
		if !filter.Status.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown enrollment status"))
			return
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	enrollments, pagination, err := h.admin.ListEnrollments(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// ExportEnrollments godoc
// @Summary Export the enrollment roster
// @Tags Admin
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "Export format" Enums(csv, pdf) default(csv)
// @Success 200 {file} file
// @Router /admin/export/enrollments [get]
func (h *AdminHandler) ExportEnrollments(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", service.ExportFormatCSV))
	payload, contentType, err := h.admin.ExportEnrollments(c.Request.Context(), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("enrollments-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}
