package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

// ExportRepository handles persistence of background export jobs.
type ExportRepository struct {
	db *sqlx.DB
}

// NewExportRepository constructs the repository.
func NewExportRepository(db *sqlx.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

const exportColumns = `id, kind, format, subject_id, status, file_path, result_url, created_by, created_at, finished_at, error_message`

// Create persists a new export job in QUEUED state.
func (r *ExportRepository) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.ExportStatusQueued
	}
	const query = `INSERT INTO export_jobs (id, kind, format, subject_id, status, file_path, result_url, created_by, created_at, finished_at, error_message)
        VALUES (:id, :kind, :format, :subject_id, :status, :file_path, :result_url, :created_by, :created_at, :finished_at, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// FindByID returns an export job by its ID.
func (r *ExportRepository) FindByID(ctx context.Context, id string) (*models.ExportJob, error) {
	query := fmt.Sprintf("SELECT %s FROM export_jobs WHERE id = $1", exportColumns)
	var job models.ExportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkProcessing flips a job to PROCESSING.
func (r *ExportRepository) MarkProcessing(ctx context.Context, id string) error {
	const query = `UPDATE export_jobs SET status = 'PROCESSING' WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark export processing: %w", err)
	}
	return nil
}

// MarkFinished records the produced file and download URL.
func (r *ExportRepository) MarkFinished(ctx context.Context, id, filePath, resultURL string) error {
	const query = `UPDATE export_jobs SET status = 'FINISHED', file_path = $2, result_url = $3, finished_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, filePath, resultURL, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark export finished: %w", err)
	}
	return nil
}

// MarkFailed records a terminal failure with its message.
func (r *ExportRepository) MarkFailed(ctx context.Context, id, message string) error {
	const query = `UPDATE export_jobs SET status = 'FAILED', error_message = $2, finished_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, message, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark export failed: %w", err)
	}
	return nil
}

// ListExpired returns finished jobs older than the cutoff for cleanup.
func (r *ExportRepository) ListExpired(ctx context.Context, cutoff time.Time) ([]models.ExportJob, error) {
	query := fmt.Sprintf("SELECT %s FROM export_jobs WHERE status = 'FINISHED' AND finished_at < $1", exportColumns)
	var jobs []models.ExportJob
	if err := r.db.SelectContext(ctx, &jobs, query, cutoff); err != nil {
		return nil, fmt.Errorf("list expired exports: %w", err)
	}
	return jobs, nil
}

// Delete removes an export job row.
func (r *ExportRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM export_jobs WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete export job: %w", err)
	}
	return nil
}
