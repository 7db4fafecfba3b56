package models

import "time"

// CourseStatus represents the publication lifecycle of a course.
type CourseStatus string

const (
	CourseStatusDraft     CourseStatus = "DRAFT"
	CourseStatusPublished CourseStatus = "PUBLISHED"
	CourseStatusArchived  CourseStatus = "ARCHIVED"
)

// CourseApprovalStatus tracks the editorial review workflow.
type CourseApprovalStatus string

const (
	CourseApprovalDraft    CourseApprovalStatus = "DRAFT"
	CourseApprovalPending  CourseApprovalStatus = "PENDING_APPROVAL"
	CourseApprovalApproved CourseApprovalStatus = "APPROVED"
	CourseApprovalRejected CourseApprovalStatus = "REJECTED"
)

// Course is the root aggregate for authoring, enrollment and grading.
// EnrolledCount and CompletedCount are denormalized caches maintained by
// the enrollment service, never derived live.
type Course struct {
	ID              string               `db:"id" json:"id"`
	Code            string               `db:"code" json:"code"`
	Title           string               `db:"title" json:"title"`
	Description     *string              `db:"description" json:"description,omitempty"`
	OwnerID         string               `db:"owner_id" json:"owner_id"`
	Status          CourseStatus         `db:"status" json:"status"`
	ApprovalStatus  CourseApprovalStatus `db:"approval_status" json:"approval_status"`
	AllowEnrollment bool                 `db:"allow_enrollment" json:"allow_enrollment"`
	MaxStudents     *int                 `db:"max_students" json:"max_students,omitempty"`
	StartDate       *time.Time           `db:"start_date" json:"start_date,omitempty"`
	EndDate         *time.Time           `db:"end_date" json:"end_date,omitempty"`
	EnrolledCount   int                  `db:"enrolled_count" json:"enrolled_count"`
	CompletedCount  int                  `db:"completed_count" json:"completed_count"`
	CreatedAt       time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time            `db:"updated_at" json:"updated_at"`
}

// IsPublished reports whether the course is visible to learners.
func (c *Course) IsPublished() bool {
	return c != nil && c.Status == CourseStatusPublished
}

// CourseFilter captures filtering criteria for listing courses.
type CourseFilter struct {
	OwnerID        string
	Status         CourseStatus
	ApprovalStatus CourseApprovalStatus
	Search         string
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

// CourseDetail enriches Course with owner info for list views.
type CourseDetail struct {
	Course
	OwnerName string `db:"owner_name" json:"owner_name"`
}
