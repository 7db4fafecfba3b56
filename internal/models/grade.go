package models

import "time"

// AssignmentGrade is the per-assignment view for one student. Percentage is
// nil while ungraded or when MaxPoints is zero.
type AssignmentGrade struct {
	AssignmentID string   `json:"assignment_id"`
	Title        string   `json:"title"`
	MaxPoints    float64  `json:"max_points"`
	PointsEarned *float64 `json:"points_earned,omitempty"`
	Percentage   *float64 `json:"percentage,omitempty"`
	IsLate       bool     `json:"is_late"`
}

// CategoryGrade aggregates graded work within one grade category.
// The ratio is points-weighted and computed independently of the overall
// figure; Percentage is nil when no graded points exist in the category.
type CategoryGrade struct {
	CategoryID   string   `json:"category_id"`
	Name         string   `json:"name"`
	EarnedPoints float64  `json:"earned_points"`
	TotalPoints  float64  `json:"total_points"`
	Percentage   *float64 `json:"percentage,omitempty"`
}

// StudentGradeSummary is the full grade view for one student in one course.
// OverallPercentage is nil when the student has no graded work.
type StudentGradeSummary struct {
	CourseID          string            `json:"course_id"`
	StudentID         string            `json:"student_id"`
	EarnedPoints      float64           `json:"earned_points"`
	TotalPoints       float64           `json:"total_points"`
	OverallPercentage *float64          `json:"overall_percentage,omitempty"`
	Categories        []CategoryGrade   `json:"categories"`
	Assignments       []AssignmentGrade `json:"assignments"`
}

// GradebookCellStatus describes one student/assignment intersection.
type GradebookCellStatus string

const (
	CellNotSubmitted GradebookCellStatus = "NOT_SUBMITTED"
	CellSubmitted    GradebookCellStatus = "SUBMITTED"
	CellGraded       GradebookCellStatus = "GRADED"
)

// GradebookCell holds the state of one student on one assignment.
type GradebookCell struct {
	AssignmentID string              `json:"assignment_id"`
	Status       GradebookCellStatus `json:"status"`
	PointsEarned *float64            `json:"points_earned,omitempty"`
	IsLate       bool                `json:"is_late"`
	SubmittedAt  *time.Time          `json:"submitted_at,omitempty"`
}

// GradebookRow is one roster entry. Students with no activity keep a full
// row of NOT_SUBMITTED cells rather than being dropped.
type GradebookRow struct {
	StudentID         string          `json:"student_id"`
	StudentName       string          `json:"student_name"`
	Cells             []GradebookCell `json:"cells"`
	OverallPercentage *float64        `json:"overall_percentage,omitempty"`
}

// CourseGradebook is the instructor roster view.
type CourseGradebook struct {
	CourseID    string         `json:"course_id"`
	Assignments []Assignment   `json:"assignments"`
	Rows        []GradebookRow `json:"rows"`
	GeneratedAt time.Time      `json:"generated_at"`
}
