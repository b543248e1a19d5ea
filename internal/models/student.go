package models

import "time"

// Student represents a learner registered in the institution.
type Student struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Phone     string    `db:"phone" json:"phone"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// StudentDetail augments Student with the count of its ACTIVE
// enrollments. The count is computed at read time, never stored.
type StudentDetail struct {
	Student
	EnrolledCoursesCount int `db:"enrolled_courses_count" json:"enrolled_courses_count"`
}
