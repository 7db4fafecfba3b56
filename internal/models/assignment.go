package models

import "time"

// GradeCategory groups assignments for per-category grade rollups.
// Weight and DropLowestCount are reserved: the schema carries them but the
// aggregator computes unweighted points ratios pending a product decision.
type GradeCategory struct {
	ID              string    `db:"id" json:"id"`
	CourseID        string    `db:"course_id" json:"course_id"`
	Name            string    `db:"name" json:"name"`
	Weight          float64   `db:"weight" json:"weight"`
	DropLowestCount int       `db:"drop_lowest_count" json:"drop_lowest_count"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Assignment is a gradable item within a course. MaxPoints is the grading
// denominator; zero is legal and contributes nothing to totals.
type Assignment struct {
	ID              string     `db:"id" json:"id"`
	CourseID        string     `db:"course_id" json:"course_id"`
	GradeCategoryID *string    `db:"grade_category_id" json:"grade_category_id,omitempty"`
	Title           string     `db:"title" json:"title"`
	Description     *string    `db:"description" json:"description,omitempty"`
	MaxPoints       float64    `db:"max_points" json:"max_points"`
	DueDate         *time.Time `db:"due_date" json:"due_date,omitempty"`
	Published       bool       `db:"published" json:"published"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// AssignmentFilter scopes assignment listings.
type AssignmentFilter struct {
	CourseID        string
	GradeCategoryID string
	Published       *bool
	Page            int
	PageSize        int
}
