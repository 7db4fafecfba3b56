package models

import "time"

// CourseRole represents the role granted by an enrollment.
type CourseRole string

const (
	CourseRoleInstructor CourseRole = "INSTRUCTOR"
	CourseRoleTA         CourseRole = "TA"
	CourseRoleStudent    CourseRole = "STUDENT"
	CourseRoleObserver   CourseRole = "OBSERVER"
	CourseRoleGuest      CourseRole = "GUEST"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusSuspended EnrollmentStatus = "SUSPENDED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusExpired   EnrollmentStatus = "EXPIRED"
)

// CourseEnrollment joins one user to one course, optionally via an
// enrollment method. At most one enrollment exists per (course, user).
type CourseEnrollment struct {
	ID                 string           `db:"id" json:"id"`
	CourseID           string           `db:"course_id" json:"course_id"`
	UserID             string           `db:"user_id" json:"user_id"`
	MethodID           *string          `db:"method_id" json:"method_id,omitempty"`
	CourseRole         CourseRole       `db:"course_role" json:"course_role"`
	Status             EnrollmentStatus `db:"status" json:"status"`
	TimeStart          *time.Time       `db:"time_start" json:"time_start,omitempty"`
	TimeEnd            *time.Time       `db:"time_end" json:"time_end,omitempty"`
	ProgressPercentage float64          `db:"progress_percentage" json:"progress_percentage"`
	EnrolledAt         time.Time        `db:"enrolled_at" json:"enrolled_at"`
	EnrolledBy         *string          `db:"enrolled_by" json:"enrolled_by,omitempty"`
}

// IsActive reports whether the enrollment currently grants access.
func (e *CourseEnrollment) IsActive(now time.Time) bool {
	if e.Status != EnrollmentStatusActive {
		return false
	}
	if e.TimeEnd != nil && now.After(*e.TimeEnd) {
		return false
	}
	return true
}

// EnrollmentDetail enriches CourseEnrollment with user and course info.
type EnrollmentDetail struct {
	CourseEnrollment
	UserName    string `db:"user_name" json:"user_name"`
	UserEmail   string `db:"user_email" json:"user_email"`
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseTitle string `db:"course_title" json:"course_title"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	CourseID  string
	UserID    string
	MethodID  string
	Status    EnrollmentStatus
	Role      CourseRole
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
