package models

import "time"

// Course represents a course offered by the institution.
type Course struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Code        string    `db:"code" json:"code"`
	Credits     int       `db:"credits" json:"credits"`
	Fee         float64   `db:"fee" json:"fee"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CourseFilter encapsulates allowed search parameters for listing courses.
type CourseFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CourseDetail augments Course with the count of its ACTIVE
// enrollments, computed at read time.
type CourseDetail struct {
	Course
	EnrolledStudentsCount int `db:"enrolled_students_count" json:"enrolled_students_count"`
}
