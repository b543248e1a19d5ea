package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/opencampus/student-management-api/internal/models"
	appErrors "github.com/opencampus/student-management-api/pkg/errors"
)

const pqUniqueViolation = "23505"

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN courses c ON c.id = e.course_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID > 0 {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID > 0 {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "s.name",
		"course_name":  "c.name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "enrolled_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.course_id, e.enrolled_at, e.enrolled_by, e.notes, e.status,
        s.name AS student_name, s.email AS student_email, c.name AS course_name, c.code AS course_code
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, course_id, enrolled_at, enrolled_by, notes, status FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindActivePair returns the single ACTIVE enrollment for the
// (student, course) pair, or sql.ErrNoRows when none exists.
func (r *EnrollmentRepository) FindActivePair(ctx context.Context, studentID, courseID int64) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, course_id, enrolled_at, enrolled_by, notes, status
        FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status = $3 LIMIT 1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, courseID, models.EnrollmentStatusActive); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// Create persists a new enrollment record. A violation of the partial
// unique index on (student_id, course_id) WHERE status = 'ACTIVE' is
// reported as the duplicate-enrollment conflict, which closes the race
// between the service-level pre-check and the insert.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	const query = `INSERT INTO enrollments (student_id, course_id, enrolled_at, enrolled_by, notes, status)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, enrollment.StudentID, enrollment.CourseID, enrollment.EnrolledAt, enrollment.EnrolledBy, enrollment.Notes, enrollment.Status).Scan(&enrollment.ID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateStatus overwrites the status of an enrollment. Rows are never
// deleted; history is preserved through status transitions.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id int64, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// CountByStatus returns the number of enrollments in the given status.
func (r *EnrollmentRepository) CountByStatus(ctx context.Context, status models.EnrollmentStatus) (int64, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE status = $1`
	var count int64
	if err := r.db.GetContext(ctx, &count, query, status); err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return count, nil
}

// TopStudent returns the student holding the most ACTIVE enrollments,
// or nil when no ACTIVE enrollment exists. Ties break on query output
// order.
func (r *EnrollmentRepository) TopStudent(ctx context.Context) (*models.TopStudent, error) {
	const query = `SELECT e.student_id, s.name, s.email, COUNT(*) AS enrollment_count
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        WHERE e.status = $1
        GROUP BY e.student_id, s.name, s.email
        ORDER BY enrollment_count DESC
        LIMIT 1`
	var top models.TopStudent
	if err := r.db.GetContext(ctx, &top, query, models.EnrollmentStatusActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("top student: %w", err)
	}
	return &top, nil
}

// TopCourse returns the course holding the most ACTIVE enrollments, or
// nil when no ACTIVE enrollment exists.
func (r *EnrollmentRepository) TopCourse(ctx context.Context) (*models.TopCourse, error) {
	const query = `SELECT e.course_id, c.name, c.code, COUNT(*) AS enrollment_count
        FROM enrollments e
        JOIN courses c ON c.id = e.course_id
        WHERE e.status = $1
        GROUP BY e.course_id, c.name, c.code
        ORDER BY enrollment_count DESC
        LIMIT 1`
	var top models.TopCourse
	if err := r.db.GetContext(ctx, &top, query, models.EnrollmentStatusActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("top course: %w", err)
	}
	return &top, nil
}
