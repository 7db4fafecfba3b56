package models

import "time"

// ExportKind enumerates supported export categories.
type ExportKind string

const (
	ExportKindAccount   ExportKind = "account"
	ExportKindGradebook ExportKind = "gradebook"
)

// ExportFormat enumerates supported export formats.
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatPDF  ExportFormat = "pdf"
)

// ExportStatus captures background export lifecycle states.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusFinished   ExportStatus = "FINISHED"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// ExportJob is persisted background export metadata.
type ExportJob struct {
	ID           string       `db:"id" json:"id"`
	Kind         ExportKind   `db:"kind" json:"kind"`
	Format       ExportFormat `db:"format" json:"format"`
	SubjectID    string       `db:"subject_id" json:"subject_id"`
	Status       ExportStatus `db:"status" json:"status"`
	FilePath     *string      `db:"file_path" json:"-"`
	ResultURL    *string      `db:"result_url" json:"result_url,omitempty"`
	CreatedBy    string       `db:"created_by" json:"created_by"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage *string      `db:"error_message" json:"error_message,omitempty"`
}

// AccountExportBundle is the JSON document produced for a data-access request.
type AccountExportBundle struct {
	GeneratedAt time.Time          `json:"generated_at"`
	User        User               `json:"user"`
	Enrollments []EnrollmentDetail `json:"enrollments"`
	Submissions []Submission       `json:"submissions"`
	AuditTrail  []AuditLog         `json:"audit_trail"`
}
