package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/jobs"
)

type mockExportRepo struct {
	rows map[string]*models.ExportJob
}

func newMockExportRepo() *mockExportRepo {
	return &mockExportRepo{rows: make(map[string]*models.ExportJob)}
}

func (m *mockExportRepo) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = "exp-1"
	}
	job.Status = models.ExportStatusQueued
	job.CreatedAt = time.Now().UTC()
	copied := *job
	m.rows[job.ID] = &copied
	return nil
}

func (m *mockExportRepo) FindByID(ctx context.Context, id string) (*models.ExportJob, error) {
	row, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *row
	return &copied, nil
}

func (m *mockExportRepo) MarkProcessing(ctx context.Context, id string) error {
	m.rows[id].Status = models.ExportStatusProcessing
	return nil
}

func (m *mockExportRepo) MarkFinished(ctx context.Context, id, filePath, resultURL string) error {
	row := m.rows[id]
	row.Status = models.ExportStatusFinished
	row.FilePath = &filePath
	row.ResultURL = &resultURL
	now := time.Now().UTC()
	row.FinishedAt = &now
	return nil
}

func (m *mockExportRepo) MarkFailed(ctx context.Context, id, message string) error {
	row := m.rows[id]
	row.Status = models.ExportStatusFailed
	row.ErrorMessage = &message
	return nil
}

func (m *mockExportRepo) ListExpired(ctx context.Context, cutoff time.Time) ([]models.ExportJob, error) {
	var out []models.ExportJob
	for _, row := range m.rows {
		if row.Status == models.ExportStatusFinished && row.FinishedAt != nil && row.FinishedAt.Before(cutoff) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *mockExportRepo) Delete(ctx context.Context, id string) error {
	delete(m.rows, id)
	return nil
}

type mockAccountSource struct {
	bundle *models.AccountExportBundle
}

func (m *mockAccountSource) ExportAccount(ctx context.Context, actorID, userID string) (*models.AccountExportBundle, error) {
	return m.bundle, nil
}

type mockGradebookSource struct {
	gradebook *models.CourseGradebook
}

func (m *mockGradebookSource) CourseGradebook(ctx context.Context, courseID string) (*models.CourseGradebook, error) {
	return m.gradebook, nil
}

type mockExportStorage struct {
	files map[string][]byte
}

func newMockExportStorage() *mockExportStorage {
	return &mockExportStorage{files: make(map[string][]byte)}
}

func (m *mockExportStorage) Save(filename string, data []byte) (string, error) {
	m.files[filename] = data
	return filename, nil
}

func (m *mockExportStorage) Delete(filename string) error {
	delete(m.files, filename)
	return nil
}

type stubSigner struct{}

func (s *stubSigner) Generate(exportID, relPath string) (string, time.Time, error) {
	return exportID + "|" + relPath, time.Now().Add(time.Hour), nil
}

func (s *stubSigner) Parse(token string, allowExpired bool) (string, string, time.Time, error) {
	parts := strings.SplitN(token, "|", 2)
	return parts[0], parts[1], time.Now().Add(time.Hour), nil
}

func exportFixture() (*ExportService, *mockExportRepo, *mockExportStorage) {
	repo := newMockExportRepo()
	storage := newMockExportStorage()
	score := 87.5
	accounts := &mockAccountSource{bundle: &models.AccountExportBundle{
		User: models.User{ID: "user-1", Email: "ada@example.com"},
	}}
	gradebook := &mockGradebookSource{gradebook: &models.CourseGradebook{
		CourseID:    "course-1",
		Assignments: []models.Assignment{{ID: "a", Title: "Essay", MaxPoints: 100}},
		Rows: []models.GradebookRow{{
			StudentID:   "stu-1",
			StudentName: "Ada",
			Cells: []models.GradebookCell{
				{AssignmentID: "a", Status: models.CellGraded, PointsEarned: &score},
			},
			OverallPercentage: &score,
		}},
	}}
	svc := NewExportService(repo, accounts, gradebook, storage, &stubSigner{}, jobs.QueueConfig{Workers: 1}, nil)
	return svc, repo, storage
}

func TestExportRequestValidatesKindAndFormat(t *testing.T) {
	svc, _, _ := exportFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	_, err := svc.Request(ctx, "admin-1", models.ExportKindAccount, models.ExportFormatCSV, "user-1")
	require.Error(t, err, "account exports are json only")

	_, err = svc.Request(ctx, "admin-1", models.ExportKindGradebook, models.ExportFormatJSON, "course-1")
	require.Error(t, err)

	_, err = svc.Request(ctx, "admin-1", "bogus", models.ExportFormatCSV, "course-1")
	require.Error(t, err)
}

func TestAccountExportProducesJSON(t *testing.T) {
	svc, repo, storage := exportFixture()

	job := &models.ExportJob{Kind: models.ExportKindAccount, Format: models.ExportFormatJSON, SubjectID: "user-1", CreatedBy: "admin-1"}
	require.NoError(t, repo.Create(context.Background(), job))

	require.NoError(t, svc.handle(context.Background(), jobs.Job{ID: job.ID, Payload: job.ID}))

	row, err := repo.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, row.Status)
	require.NotNil(t, row.FilePath)
	require.NotNil(t, row.ResultURL)
	assert.Contains(t, *row.ResultURL, "token=")

	var bundle models.AccountExportBundle
	require.NoError(t, json.Unmarshal(storage.files[*row.FilePath], &bundle))
	assert.Equal(t, "user-1", bundle.User.ID)
}

func TestGradebookExportProducesCSV(t *testing.T) {
	svc, repo, storage := exportFixture()

	job := &models.ExportJob{Kind: models.ExportKindGradebook, Format: models.ExportFormatCSV, SubjectID: "course-1", CreatedBy: "inst-1"}
	require.NoError(t, repo.Create(context.Background(), job))

	require.NoError(t, svc.handle(context.Background(), jobs.Job{ID: job.ID, Payload: job.ID}))

	row, err := repo.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExportStatusFinished, row.Status)

	csvText := string(storage.files[*row.FilePath])
	assert.Contains(t, csvText, "student_id,student_name,Essay,overall_percentage")
	assert.Contains(t, csvText, "stu-1,Ada,87.5,87.50")
}

func TestGradebookExportProducesPDF(t *testing.T) {
	svc, repo, storage := exportFixture()

	job := &models.ExportJob{Kind: models.ExportKindGradebook, Format: models.ExportFormatPDF, SubjectID: "course-1", CreatedBy: "inst-1"}
	require.NoError(t, repo.Create(context.Background(), job))

	require.NoError(t, svc.handle(context.Background(), jobs.Job{ID: job.ID, Payload: job.ID}))

	row, err := repo.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExportStatusFinished, row.Status)
	assert.True(t, strings.HasPrefix(string(storage.files[*row.FilePath]), "%PDF"))
}

func TestResolveChecksTokenAgainstRow(t *testing.T) {
	svc, repo, _ := exportFixture()

	job := &models.ExportJob{Kind: models.ExportKindAccount, Format: models.ExportFormatJSON, SubjectID: "user-1", CreatedBy: "admin-1"}
	require.NoError(t, repo.Create(context.Background(), job))

	// Token for a still-queued export resolves to nothing.
	_, err := svc.Resolve(context.Background(), job.ID+"|account/"+job.ID+".json")
	require.Error(t, err)

	require.NoError(t, svc.handle(context.Background(), jobs.Job{ID: job.ID, Payload: job.ID}))
	row, err := repo.FindByID(context.Background(), job.ID)
	require.NoError(t, err)

	path, err := svc.Resolve(context.Background(), job.ID+"|"+*row.FilePath)
	require.NoError(t, err)
	assert.Equal(t, *row.FilePath, path)
}

func TestCleanupExpiredRemovesFilesAndRows(t *testing.T) {
	svc, repo, storage := exportFixture()

	job := &models.ExportJob{Kind: models.ExportKindAccount, Format: models.ExportFormatJSON, SubjectID: "user-1", CreatedBy: "admin-1"}
	require.NoError(t, repo.Create(context.Background(), job))
	require.NoError(t, svc.handle(context.Background(), jobs.Job{ID: job.ID, Payload: job.ID}))

	stale := time.Now().UTC().Add(-48 * time.Hour)
	repo.rows[job.ID].FinishedAt = &stale

	removed, err := svc.CleanupExpired(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Empty(t, storage.files)
	_, err = repo.FindByID(context.Background(), job.ID)
	require.Error(t, err)
}
