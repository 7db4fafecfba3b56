package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/export"
	"github.com/noah-isme/lms-api/pkg/jobs"
)

type exportRepository interface {
	Create(ctx context.Context, job *models.ExportJob) error
	FindByID(ctx context.Context, id string) (*models.ExportJob, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkFinished(ctx context.Context, id, filePath, resultURL string) error
	MarkFailed(ctx context.Context, id, message string) error
	ListExpired(ctx context.Context, cutoff time.Time) ([]models.ExportJob, error)
	Delete(ctx context.Context, id string) error
}

type accountBundleSource interface {
	ExportAccount(ctx context.Context, actorID, userID string) (*models.AccountExportBundle, error)
}

type gradebookSource interface {
	CourseGradebook(ctx context.Context, courseID string) (*models.CourseGradebook, error)
}

type exportStorage interface {
	Save(filename string, data []byte) (string, error)
	Delete(filename string) error
}

type downloadSigner interface {
	Generate(exportID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (exportID, relPath string, expiresAt time.Time, err error)
}

// ExportService runs file exports as background jobs. A request persists a
// QUEUED row and returns immediately; a worker renders the file, stores it
// and stamps the row FINISHED with a signed download URL.
type ExportService struct {
	repo      exportRepository
	accounts  accountBundleSource
	gradebook gradebookSource
	storage   exportStorage
	signer    downloadSigner
	queue     *jobs.Queue
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	logger    *zap.Logger
}

// NewExportService constructs ExportService and its worker queue.
func NewExportService(repo exportRepository, accounts accountBundleSource, gradebook gradebookSource, storage exportStorage, signer downloadSigner, queueCfg jobs.QueueConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ExportService{
		repo:      repo,
		accounts:  accounts,
		gradebook: gradebook,
		storage:   storage,
		signer:    signer,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		logger:    logger,
	}
	s.queue = jobs.NewQueue("exports", s.handle, queueCfg)
	return s
}

// Start launches the export workers.
func (s *ExportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the export workers.
func (s *ExportService) Stop() {
	s.queue.Stop()
}

// Request queues a new export and returns the pending job row.
func (s *ExportService) Request(ctx context.Context, actorID string, kind models.ExportKind, format models.ExportFormat, subjectID string) (*models.ExportJob, error) {
	if err := validateExportRequest(kind, format); err != nil {
		return nil, err
	}
	if subjectID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject id is required")
	}

	job := &models.ExportJob{
		Kind:      kind,
		Format:    format,
		SubjectID: subjectID,
		CreatedBy: actorID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(kind), Payload: job.ID}); err != nil {
		if markErr := s.repo.MarkFailed(ctx, job.ID, "queue unavailable"); markErr != nil {
			s.logger.Error("mark export failed", zap.String("export_id", job.ID), zap.Error(markErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue export")
	}
	return job, nil
}

// Get returns one export job.
func (s *ExportService) Get(ctx context.Context, id string) (*models.ExportJob, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export")
	}
	return job, nil
}

// Resolve validates a download token and returns the stored file path for a
// finished export.
func (s *ExportService) Resolve(ctx context.Context, token string) (string, error) {
	exportID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	job, err := s.Get(ctx, exportID)
	if err != nil {
		return "", err
	}
	if job.Status != models.ExportStatusFinished || job.FilePath == nil || *job.FilePath != relPath {
		return "", appErrors.Clone(appErrors.ErrNotFound, "export file not available")
	}
	return relPath, nil
}

// CleanupExpired deletes export rows and files older than the cutoff.
func (s *ExportService) CleanupExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	expired, err := s.repo.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list expired exports")
	}
	var removed int
	for _, job := range expired {
		if job.FilePath != nil {
			if err := s.storage.Delete(*job.FilePath); err != nil {
				s.logger.Warn("delete export file", zap.String("export_id", job.ID), zap.Error(err))
				continue
			}
		}
		if err := s.repo.Delete(ctx, job.ID); err != nil {
			s.logger.Warn("delete export row", zap.String("export_id", job.ID), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *ExportService) handle(ctx context.Context, job jobs.Job) error {
	exportID, _ := job.Payload.(string)
	if exportID == "" {
		exportID = job.ID
	}
	row, err := s.repo.FindByID(ctx, exportID)
	if err != nil {
		return fmt.Errorf("load export %s: %w", exportID, err)
	}
	if row.Status != models.ExportStatusQueued {
		return nil
	}
	if err := s.repo.MarkProcessing(ctx, row.ID); err != nil {
		return fmt.Errorf("mark export processing: %w", err)
	}

	data, err := s.render(ctx, row)
	if err != nil {
		if markErr := s.repo.MarkFailed(ctx, row.ID, err.Error()); markErr != nil {
			s.logger.Error("mark export failed", zap.String("export_id", row.ID), zap.Error(markErr))
		}
		// The failure is recorded on the row; retrying would re-render the
		// same broken input.
		s.logger.Error("export render failed", zap.String("export_id", row.ID), zap.Error(err))
		return nil
	}

	filename := fmt.Sprintf("%s/%s.%s", row.Kind, row.ID, row.Format)
	relPath, err := s.storage.Save(filename, data)
	if err != nil {
		if markErr := s.repo.MarkFailed(ctx, row.ID, "storage write failed"); markErr != nil {
			s.logger.Error("mark export failed", zap.String("export_id", row.ID), zap.Error(markErr))
		}
		return fmt.Errorf("store export %s: %w", row.ID, err)
	}

	token, _, err := s.signer.Generate(row.ID, relPath)
	if err != nil {
		if markErr := s.repo.MarkFailed(ctx, row.ID, "signing failed"); markErr != nil {
			s.logger.Error("mark export failed", zap.String("export_id", row.ID), zap.Error(markErr))
		}
		return fmt.Errorf("sign export %s: %w", row.ID, err)
	}

	resultURL := "/api/v1/exports/download?token=" + token
	if err := s.repo.MarkFinished(ctx, row.ID, relPath, resultURL); err != nil {
		return fmt.Errorf("mark export finished: %w", err)
	}
	s.logger.Info("export finished", zap.String("export_id", row.ID), zap.String("kind", string(row.Kind)))
	return nil
}

func (s *ExportService) render(ctx context.Context, row *models.ExportJob) ([]byte, error) {
	switch row.Kind {
	case models.ExportKindAccount:
		bundle, err := s.accounts.ExportAccount(ctx, row.CreatedBy, row.SubjectID)
		if err != nil {
			return nil, err
		}
		return json.MarshalIndent(bundle, "", "  ")
	case models.ExportKindGradebook:
		gradebook, err := s.gradebook.CourseGradebook(ctx, row.SubjectID)
		if err != nil {
			return nil, err
		}
		dataset := gradebookDataset(gradebook)
		if row.Format == models.ExportFormatPDF {
			return s.pdf.Render(dataset, "Gradebook "+gradebook.CourseID)
		}
		return s.csv.Render(dataset)
	default:
		return nil, fmt.Errorf("unsupported export kind %q", row.Kind)
	}
}

// gradebookDataset flattens the roster view into one row per student with a
// column per assignment.
func gradebookDataset(gradebook *models.CourseGradebook) export.Dataset {
	headers := []string{"student_id", "student_name"}
	for _, assignment := range gradebook.Assignments {
		headers = append(headers, assignment.Title)
	}
	headers = append(headers, "overall_percentage")

	rows := make([]map[string]string, 0, len(gradebook.Rows))
	for _, entry := range gradebook.Rows {
		row := map[string]string{
			"student_id":   entry.StudentID,
			"student_name": entry.StudentName,
		}
		for i, cell := range entry.Cells {
			if i >= len(gradebook.Assignments) {
				break
			}
			title := gradebook.Assignments[i].Title
			if cell.PointsEarned != nil {
				row[title] = strconv.FormatFloat(*cell.PointsEarned, 'f', -1, 64)
			} else {
				row[title] = string(cell.Status)
			}
		}
		if entry.OverallPercentage != nil {
			row["overall_percentage"] = strconv.FormatFloat(*entry.OverallPercentage, 'f', 2, 64)
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func validateExportRequest(kind models.ExportKind, format models.ExportFormat) error {
	switch kind {
	case models.ExportKindAccount:
		if format != models.ExportFormatJSON {
			return appErrors.Clone(appErrors.ErrValidation, "account exports support json only")
		}
	case models.ExportKindGradebook:
		if format != models.ExportFormatCSV && format != models.ExportFormatPDF {
			return appErrors.Clone(appErrors.ErrValidation, "gradebook exports support csv or pdf")
		}
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unknown export kind")
	}
	return nil
}
