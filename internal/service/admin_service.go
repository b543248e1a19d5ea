package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/opencampus/student-management-api/internal/models"
	appErrors "github.com/opencampus/student-management-api/pkg/errors"
	"github.com/opencampus/student-management-api/pkg/export"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id int64) (*models.Enrollment, error)
	FindActivePair(ctx context.Context, studentID, courseID int64) (*models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpdateStatus(ctx context.Context, id int64, status models.EnrollmentStatus) error
	CountByStatus(ctx context.Context, status models.EnrollmentStatus) (int64, error)
	TopStudent(ctx context.Context) (*models.TopStudent, error)
	TopCourse(ctx context.Context) (*models.TopCourse, error)
}

type enrollStudentReader interface {
	FindByID(ctx context.Context, id int64) (*models.StudentDetail, error)
	CountActive(ctx context.Context) (int64, error)
}

type enrollCourseReader interface {
	FindByID(ctx context.Context, id int64) (*models.CourseDetail, error)
	CountActive(ctx context.Context) (int64, error)
}

// EnrollRequest describes the enrollment creation payload.
type EnrollRequest struct {
	StudentID int64  `json:"student_id" validate:"required,gt=0"`
	CourseID  int64  `json:"course_id" validate:"required,gt=0"`
	Notes     string `json:"notes"`
}

// Export formats accepted by ExportEnrollments.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

// AdminService orchestrates enrollment management and statistics.
type AdminService struct {
	enrollments enrollmentRepository
	students    enrollStudentReader
	courses     enrollCourseReader
	cache       *CacheService
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAdminService constructs AdminService.
func NewAdminService(enrollments enrollmentRepository, students enrollStudentReader, courses enrollCourseReader, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *AdminService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		enrollments: enrollments,
		students:    students,
		courses:     courses,
		cache:       cache,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		validator:   validate,
		logger:      logger,
	}
}

// Enroll registers a student into a course. Preconditions are checked
// in order and short-circuit on first failure: the student must exist
// and be active, the course must exist and be active, and no ACTIVE
// enrollment may already exist for the pair. The new row is stamped
// with the acting admin's identity, passed in explicitly by the
// transport layer. The store's partial unique index backs the
// duplicate pre-check, so a concurrent enroll racing past the check
// still surfaces as a conflict rather than a duplicate row.
func (s *AdminService) Enroll(ctx context.Context, req EnrollRequest, actor *models.JWTClaims) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing acting admin identity")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrBusinessRule, "student is not active")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Active {
		return nil, appErrors.Clone(appErrors.ErrBusinessRule, "course is not active")
	}

	if _, err := s.enrollments.FindActivePair(ctx, req.StudentID, req.CourseID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}

	enrollment := &models.Enrollment{
		StudentID:  req.StudentID,
		CourseID:   req.CourseID,
		EnrolledBy: actor.Email,
		Status:     models.EnrollmentStatusActive,
	}
	if req.Notes != "" {
		enrollment.Notes = &req.Notes
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	s.invalidateListCaches(ctx)
	return enrollment, nil
}

// Unenroll transitions the single ACTIVE enrollment for the pair to
// DROPPED. The row is retained, preserving history. Returns not-found
// when no ACTIVE enrollment exists.
func (s *AdminService) Unenroll(ctx context.Context, studentID, courseID int64) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindActivePair(ctx, studentID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active enrollment for student and course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if err := s.enrollments.UpdateStatus(ctx, enrollment.ID, models.EnrollmentStatusDropped); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment status")
	}
	enrollment.Status = models.EnrollmentStatusDropped
	s.invalidateListCaches(ctx)
	return enrollment, nil
}

// ChangeStatus overwrites the status of an enrollment. Any of the four
// states may be set from any other; no transition graph is enforced.
func (s *AdminService) ChangeStatus(ctx context.Context, id int64, status models.EnrollmentStatus) (*models.Enrollment, error) {
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown enrollment status %q", status))
	}
	enrollment, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if err := s.enrollments.UpdateStatus(ctx, id, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment status")
	}
	enrollment.Status = status
	s.invalidateListCaches(ctx)
	return enrollment, nil
}

// ListEnrollments returns enrollments with pagination metadata.
func (s *AdminService) ListEnrollments(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Stats computes the aggregate snapshot fresh on every call. The max
// aggregates are omitted when no ACTIVE enrollments exist.
func (s *AdminService) Stats(ctx context.Context) (*models.EnrollmentStats, error) {
	stats := &models.EnrollmentStats{}

	var err error
	if stats.TotalActiveStudents, err = s.students.CountActive(ctx); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count active students")
	}
	if stats.TotalActiveCourses, err = s.courses.CountActive(ctx); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count active courses")
	}
	if stats.TotalActiveEnrollments, err = s.enrollments.CountByStatus(ctx, models.EnrollmentStatusActive); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count active enrollments")
	}

	if stats.StudentWithMaxCourses, err = s.enrollments.TopStudent(ctx); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute top student")
	}
	if stats.CourseWithMaxStudents, err = s.enrollments.TopCourse(ctx); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute top course")
	}

	return stats, nil
}

// ExportEnrollments renders the full enrollment roster in the given
// format and returns the document bytes with its MIME type.
func (s *AdminService) ExportEnrollments(ctx context.Context, format string) ([]byte, string, error) {
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	data := export.Dataset{Headers: []string{"ID", "Student", "Email", "Course", "Code", "Status", "Enrolled At", "Enrolled By"}}
	filter := models.EnrollmentFilter{Page: 1, PageSize: 100, SortBy: "enrolled_at", SortOrder: "ASC"}
	for {
		batch, _, err := s.enrollments.List(ctx, filter)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
		}
		for _, e := range batch {
			row := map[string]string{
				"ID":          strconv.FormatInt(e.ID, 10),
				"Status":      string(e.Status),
				"Enrolled At": e.EnrolledAt.UTC().Format("2006-01-02 15:04"),
				"Enrolled By": e.EnrolledBy,
			}
			if e.StudentName != nil {
				row["Student"] = *e.StudentName
			}
			if e.StudentEmail != nil {
				row["Email"] = *e.StudentEmail
			}
			if e.CourseName != nil {
				row["Course"] = *e.CourseName
			}
			if e.CourseCode != nil {
				row["Code"] = *e.CourseCode
			}
			data.Rows = append(data.Rows, row)
		}
		if len(batch) < filter.PageSize {
			break
		}
		filter.Page++
	}

	if format == ExportFormatCSV {
		payload, err := s.csv.Render(data)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return payload, "text/csv", nil
	}

	payload, err := s.pdf.Render(data, "Enrollment Roster")
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
	}
	return payload, "application/pdf", nil
}

// invalidateListCaches drops cached student and course lists because
// their derived enrollment counts are stale after any enrollment
// mutation. Statistics are computed fresh on every call and never
// cached.
func (s *AdminService) invalidateListCaches(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "students:list:*"); err != nil {
		s.logger.Warn("student cache invalidation failed", zap.Error(err))
	}
	if err := s.cache.Invalidate(ctx, "courses:list:*"); err != nil {
		s.logger.Warn("course cache invalidation failed", zap.Error(err))
	}
}
