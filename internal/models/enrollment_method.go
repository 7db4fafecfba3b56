package models

import "time"

// EnrollmentMethodType enumerates the supported enrollment mechanisms.
type EnrollmentMethodType string

const (
	MethodManual   EnrollmentMethodType = "MANUAL"
	MethodSelf     EnrollmentMethodType = "SELF"
	MethodKey      EnrollmentMethodType = "KEY"
	MethodApproval EnrollmentMethodType = "APPROVAL"
	MethodBulk     EnrollmentMethodType = "BULK"
	MethodCohort   EnrollmentMethodType = "COHORT"
)

// CourseEnrollmentMethod configures how users may join a course.
// CurrentEnrollments mirrors the count of enrollments created through this
// method; it is maintained with guarded atomic updates, never read-modify-write.
type CourseEnrollmentMethod struct {
	ID                     string               `db:"id" json:"id"`
	CourseID               string               `db:"course_id" json:"course_id"`
	MethodType             EnrollmentMethodType `db:"method_type" json:"method_type"`
	IsEnabled              bool                 `db:"is_enabled" json:"is_enabled"`
	EnrollmentStartDate    *time.Time           `db:"enrollment_start_date" json:"enrollment_start_date,omitempty"`
	EnrollmentEndDate      *time.Time           `db:"enrollment_end_date" json:"enrollment_end_date,omitempty"`
	MaxEnrollments         *int                 `db:"max_enrollments" json:"max_enrollments,omitempty"`
	CurrentEnrollments     int                  `db:"current_enrollments" json:"current_enrollments"`
	DefaultRole            CourseRole           `db:"default_role" json:"default_role"`
	EnrollmentKey          *string              `db:"enrollment_key" json:"-"`
	KeyCaseSensitive       bool                 `db:"key_case_sensitive" json:"key_case_sensitive"`
	RequiresApproval       bool                 `db:"requires_approval" json:"requires_approval"`
	ApprovalMessage        *string              `db:"approval_message" json:"approval_message,omitempty"`
	EnrollmentDurationDays *int                 `db:"enrollment_duration_days" json:"enrollment_duration_days,omitempty"`
	AutoAssignGroupID      *string              `db:"auto_assign_group_id" json:"auto_assign_group_id,omitempty"`
	CreatedAt              time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time            `db:"updated_at" json:"updated_at"`
}

// InWindow reports whether now falls inside the method's enable window.
// An unset bound is unbounded on that side.
func (m *CourseEnrollmentMethod) InWindow(now time.Time) bool {
	if m.EnrollmentStartDate != nil && now.Before(*m.EnrollmentStartDate) {
		return false
	}
	if m.EnrollmentEndDate != nil && now.After(*m.EnrollmentEndDate) {
		return false
	}
	return true
}

// AtCapacity reports whether the method has no remaining seats.
func (m *CourseEnrollmentMethod) AtCapacity() bool {
	return m.MaxEnrollments != nil && m.CurrentEnrollments >= *m.MaxEnrollments
}
