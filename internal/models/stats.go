package models

// TopStudent identifies the student holding the most ACTIVE
// enrollments. Ties are broken by the query engine's output order.
type TopStudent struct {
	StudentID       int64  `db:"student_id" json:"student_id"`
	Name            string `db:"name" json:"name"`
	Email           string `db:"email" json:"email"`
	EnrollmentCount int64  `db:"enrollment_count" json:"enrollment_count"`
}

// TopCourse identifies the course holding the most ACTIVE enrollments.
type TopCourse struct {
	CourseID        int64  `db:"course_id" json:"course_id"`
	Name            string `db:"name" json:"name"`
	Code            string `db:"code" json:"code"`
	EnrollmentCount int64  `db:"enrollment_count" json:"enrollment_count"`
}

// EnrollmentStats is the aggregate snapshot returned by the stats
// endpoint. It is computed fresh on every call. The max aggregates are
// omitted entirely when no ACTIVE enrollments exist.
type EnrollmentStats struct {
	TotalActiveStudents    int64       `json:"total_active_students"`
	TotalActiveCourses     int64       `json:"total_active_courses"`
	TotalActiveEnrollments int64       `json:"total_active_enrollments"`
	StudentWithMaxCourses  *TopStudent `json:"student_with_max_courses,omitempty"`
	CourseWithMaxStudents  *TopCourse  `json:"course_with_max_students,omitempty"`
}
