package models

import "time"

// SubmissionStatus represents the grading lifecycle of a submission.
type SubmissionStatus string

const (
	SubmissionStatusDraft     SubmissionStatus = "DRAFT"
	SubmissionStatusSubmitted SubmissionStatus = "SUBMITTED"
	SubmissionStatusGraded    SubmissionStatus = "GRADED"
	SubmissionStatusReturned  SubmissionStatus = "RETURNED"
)

// Submission is one attempt by a student on an assignment. PointsEarned is
// nil until graded. Unique per (assignment, student, attempt).
type Submission struct {
	ID            string           `db:"id" json:"id"`
	AssignmentID  string           `db:"assignment_id" json:"assignment_id"`
	StudentID     string           `db:"student_id" json:"student_id"`
	AttemptNumber int              `db:"attempt_number" json:"attempt_number"`
	Status        SubmissionStatus `db:"status" json:"status"`
	Body          *string          `db:"body" json:"body,omitempty"`
	PointsEarned  *float64         `db:"points_earned" json:"points_earned,omitempty"`
	Grade         *float64         `db:"grade" json:"grade,omitempty"`
	Feedback      *string          `db:"feedback" json:"feedback,omitempty"`
	IsLate        bool             `db:"is_late" json:"is_late"`
	SubmittedAt   *time.Time       `db:"submitted_at" json:"submitted_at,omitempty"`
	GradedAt      *time.Time       `db:"graded_at" json:"graded_at,omitempty"`
	GradedBy      *string          `db:"graded_by" json:"graded_by,omitempty"`
}

// IsGraded reports whether the submission carries a usable score. Returned
// submissions keep their score, so they still count.
func (s *Submission) IsGraded() bool {
	return (s.Status == SubmissionStatusGraded || s.Status == SubmissionStatusReturned) && s.PointsEarned != nil
}

// SubmissionFilter scopes submission listings.
type SubmissionFilter struct {
	AssignmentID string
	StudentID    string
	Status       SubmissionStatus
	Page         int
	PageSize     int
}
