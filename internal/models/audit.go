package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin            = "LOGIN"
	AuditActionLogout           = "LOGOUT"
	AuditActionUserCreate       = "USER_CREATE"
	AuditActionUserUpdate       = "USER_UPDATE"
	AuditActionUserErase        = "USER_ERASE"
	AuditActionPasswordChange   = "PASSWORD_CHANGE"
	AuditActionTwoFactorEnable  = "TWO_FACTOR_ENABLE"
	AuditActionCourseCreate     = "COURSE_CREATE"
	AuditActionCourseUpdate     = "COURSE_UPDATE"
	AuditActionCoursePublish    = "COURSE_PUBLISH"
	AuditActionEnroll           = "ENROLL"
	AuditActionUnenroll         = "UNENROLL"
	AuditActionEnrollRequest    = "ENROLL_REQUEST"
	AuditActionEnrollApprove    = "ENROLL_APPROVE"
	AuditActionEnrollReject     = "ENROLL_REJECT"
	AuditActionSubmissionGrade  = "SUBMISSION_GRADE"
	AuditActionSubmissionReturn = "SUBMISSION_RETURN"
	AuditActionAccountExport    = "ACCOUNT_EXPORT"
	AuditActionExportDownload   = "EXPORT_DOWNLOAD"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	Metadata   []byte    `db:"metadata" json:"metadata,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AuditFilter scopes audit trail listings.
type AuditFilter struct {
	UserID   string
	Action   string
	Resource string
	Page     int
	PageSize int
}
