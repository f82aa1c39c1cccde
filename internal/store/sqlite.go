package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/docpipe/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	filename   TEXT NOT NULL,
	file_path  TEXT NOT NULL,
	file_type  TEXT NOT NULL,
	size       INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'uploaded',
	result     TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES documents(id),
	file_path    TEXT NOT NULL,
	session_id   TEXT,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	status       TEXT NOT NULL DEFAULT 'queued',
	error        TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_document_id ON jobs(document_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = model.DocumentStatusUploaded
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, file_path, file_type, size, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.FilePath, doc.FileType, doc.Size, string(doc.Status), now, now,
	)
	return eris.Wrap(err, "sqlite: insert document")
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, file_path, file_type, size, status, result, error, created_at, updated_at
		 FROM documents WHERE id = ?`, id)
	return scanDocumentSQL(row)
}

func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	return eris.Wrap(err, "sqlite: update document status")
}

func (s *SQLiteStore) UpdateDocumentResult(ctx context.Context, id string, status model.DocumentStatus, result *model.ExtractionResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, result = ?, error = NULL, updated_at = ? WHERE id = ?`,
		string(status), string(resultJSON), time.Now().UTC(), id,
	)
	return eris.Wrap(err, "sqlite: update document result")
}

func (s *SQLiteStore) SetDocumentError(ctx context.Context, id string, status model.DocumentStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), id,
	)
	return eris.Wrap(err, "sqlite: set document error")
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error) {
	query := `SELECT id, filename, file_path, file_type, size, status, result, error, created_at, updated_at FROM documents`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocumentSQL(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: iterate documents")
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}

	// The open-job check rides inside the insert so two concurrent
	// enqueues cannot both slip past it.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, document_id, file_path, session_id, attempts, max_attempts, status, created_at, updated_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (
		 	SELECT 1 FROM jobs WHERE document_id = ? AND status IN ('queued', 'active')
		 )`,
		job.ID, job.DocumentID, job.FilePath, nullString(job.SessionID),
		job.Attempts, job.MaxAttempts, string(job.Status), now, now,
		job.DocumentID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: insert job rows affected")
	}
	if n == 0 {
		return ErrOpenJobExists
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, file_path, session_id, attempts, max_attempts, status, error, created_at, updated_at
		 FROM jobs WHERE id = ?`, id)
	return scanJobSQL(row)
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.Job) error {
	job.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET attempts = ?, status = ?, error = ?, updated_at = ? WHERE id = ?`,
		job.Attempts, string(job.Status), nullString(job.Error), job.UpdatedAt, job.ID,
	)
	return eris.Wrap(err, "sqlite: update job")
}

func (s *SQLiteStore) ListJobsByStatus(ctx context.Context, status model.JobStatus) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, file_path, session_id, attempts, max_attempts, status, error, created_at, updated_at
		 FROM jobs WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJobSQL(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func (s *SQLiteStore) HasOpenJob(ctx context.Context, documentID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE document_id = ? AND status IN ('queued', 'active')`,
		documentID,
	).Scan(&count)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: count open jobs")
	}
	return count > 0, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocumentSQL(row rowScanner) (*model.Document, error) {
	var doc model.Document
	var status string
	var result, errMsg sql.NullString

	err := row.Scan(&doc.ID, &doc.Filename, &doc.FilePath, &doc.FileType, &doc.Size,
		&status, &result, &errMsg, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(err, "sqlite: document not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan document")
	}

	doc.Status = model.DocumentStatus(status)
	if errMsg.Valid {
		doc.Error = errMsg.String
	}
	if result.Valid && result.String != "" {
		var er model.ExtractionResult
		if err := json.Unmarshal([]byte(result.String), &er); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
		doc.Result = &er
	}
	return &doc, nil
}

func scanJobSQL(row rowScanner) (*model.Job, error) {
	var job model.Job
	var status string
	var sessionID, errMsg sql.NullString

	err := row.Scan(&job.ID, &job.DocumentID, &job.FilePath, &sessionID,
		&job.Attempts, &job.MaxAttempts, &status, &errMsg, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(err, "sqlite: job not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	job.Status = model.JobStatus(status)
	if sessionID.Valid {
		job.SessionID = sessionID.String
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return &job, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
