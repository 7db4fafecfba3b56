package models

import "time"

// EnrollmentRequestStatus tracks approval-workflow requests.
type EnrollmentRequestStatus string

const (
	RequestStatusPending   EnrollmentRequestStatus = "PENDING"
	RequestStatusApproved  EnrollmentRequestStatus = "APPROVED"
	RequestStatusRejected  EnrollmentRequestStatus = "REJECTED"
	RequestStatusCancelled EnrollmentRequestStatus = "CANCELLED"
)

// CourseEnrollmentRequest is the pending-approval entity, distinct from
// CourseEnrollment. At most one PENDING request exists per (course, user).
type CourseEnrollmentRequest struct {
	ID          string                  `db:"id" json:"id"`
	CourseID    string                  `db:"course_id" json:"course_id"`
	UserID      string                  `db:"user_id" json:"user_id"`
	MethodID    string                  `db:"method_id" json:"method_id"`
	Status      EnrollmentRequestStatus `db:"status" json:"status"`
	Message     *string                 `db:"message" json:"message,omitempty"`
	ReviewedBy  *string                 `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time              `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewNote  *string                 `db:"review_note" json:"review_note,omitempty"`
	RequestedAt time.Time               `db:"requested_at" json:"requested_at"`
}

// EnrollmentRequestFilter scopes request listings.
type EnrollmentRequestFilter struct {
	CourseID string
	UserID   string
	Status   EnrollmentRequestStatus
	Page     int
	PageSize int
}
