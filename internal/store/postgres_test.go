package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docpipe/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetDocument_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, filename, file_path, file_type, size, status, result, error, created_at, updated_at`).
		WithArgs("missing-doc").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetDocument(context.Background(), "missing-doc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("doc-1", "timetable.pdf", "/uploads/doc-1.pdf", "pdf", int64(2048),
			"uploaded", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	doc := &model.Document{
		ID:       "doc-1",
		Filename: "timetable.pdf",
		FilePath: "/uploads/doc-1.pdf",
		FileType: "pdf",
		Size:     2048,
	}
	err := s.CreateDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusUploaded, doc.Status)
	assert.False(t, doc.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateDocumentStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE documents SET status`).
		WithArgs("processing", "doc-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateDocumentStatus(context.Background(), "doc-1", model.DocumentStatusProcessing)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateDocumentResult(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE documents SET status = \$1, result = \$2`).
		WithArgs("completed", pgxmock.AnyArg(), "doc-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	result := &model.ExtractionResult{
		Route:      model.RouteOCRSufficient,
		Confidence: 0.99,
		Text:       "Monday 9:00 Math",
		Engine:     "tesseract",
	}
	err := s.UpdateDocumentResult(context.Background(), "doc-1", model.DocumentStatusCompleted, result)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetDocumentError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE documents SET status = \$1, error = \$2`).
		WithArgs("failed", "ocr: binary not found", "doc-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.SetDocumentError(context.Background(), "doc-1", model.DocumentStatusFailed, "ocr: binary not found")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)INSERT INTO jobs.*WHERE NOT EXISTS`).
		WithArgs("job-1", "doc-1", "/uploads/doc-1.pdf", pgxmock.AnyArg(),
			0, 3, "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job := &model.Job{
		ID:          "job-1",
		DocumentID:  "doc-1",
		FilePath:    "/uploads/doc-1.pdf",
		MaxAttempts: 3,
	}
	err := s.CreateJob(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_OpenJobExists(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// Zero rows affected means the guard subquery found an open job.
	mock.ExpectExec(`(?s)INSERT INTO jobs.*WHERE NOT EXISTS`).
		WithArgs("job-2", "doc-1", "/uploads/doc-1.pdf", pgxmock.AnyArg(),
			0, 3, "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	job := &model.Job{
		ID:          "job-2",
		DocumentID:  "doc-1",
		FilePath:    "/uploads/doc-1.pdf",
		MaxAttempts: 3,
	}
	err := s.CreateJob(context.Background(), job)
	require.ErrorIs(t, err, ErrOpenJobExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET attempts`).
		WithArgs(2, "active", pgxmock.AnyArg(), pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	job := &model.Job{ID: "job-1", Attempts: 2, Status: model.JobStatusActive}
	err := s.UpdateJob(context.Background(), job)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_HasOpenJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM jobs`).
		WithArgs("doc-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	open, err := s.HasOpenJob(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.True(t, open)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_HasOpenJob_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM jobs`).
		WithArgs("doc-2").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))

	open, err := s.HasOpenJob(context.Background(), "doc-2")
	require.NoError(t, err)
	assert.False(t, open)
	assert.NoError(t, mock.ExpectationsWereMet())
}
