package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/docpipe/internal/db"
	"github.com/sells-group/docpipe/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	filename   TEXT NOT NULL,
	file_path  TEXT NOT NULL,
	file_type  TEXT NOT NULL,
	size       BIGINT NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'uploaded',
	result     JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES documents(id),
	file_path    TEXT NOT NULL,
	session_id   TEXT,
	attempts     INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL DEFAULT 3,
	status       TEXT NOT NULL DEFAULT 'queued',
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_document_id ON jobs(document_id);
`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = model.DocumentStatusUploaded
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, filename, file_path, file_type, size, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.Filename, doc.FilePath, doc.FileType, doc.Size, string(doc.Status), now, now,
	)
	return eris.Wrap(err, "postgres: insert document")
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, filename, file_path, file_type, size, status, result, error, created_at, updated_at
		 FROM documents WHERE id = $1`, id)
	return scanDocumentPG(row)
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), id,
	)
	return eris.Wrap(err, "postgres: update document status")
}

func (s *PostgresStore) UpdateDocumentResult(ctx context.Context, id string, status model.DocumentStatus, result *model.ExtractionResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, result = $2, error = NULL, updated_at = now() WHERE id = $3`,
		string(status), resultJSON, id,
	)
	return eris.Wrap(err, "postgres: update document result")
}

func (s *PostgresStore) SetDocumentError(ctx context.Context, id string, status model.DocumentStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, error = $2, updated_at = now() WHERE id = $3`,
		string(status), errMsg, id,
	)
	return eris.Wrap(err, "postgres: set document error")
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error) {
	query := `SELECT id, filename, file_path, file_type, size, status, result, error, created_at, updated_at FROM documents`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocumentPG(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: iterate documents")
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}

	// The open-job check rides inside the insert so two concurrent
	// enqueues cannot both slip past it.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, document_id, file_path, session_id, attempts, max_attempts, status, created_at, updated_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		 WHERE NOT EXISTS (
		 	SELECT 1 FROM jobs WHERE document_id = $2 AND status IN ('queued', 'active')
		 )`,
		job.ID, job.DocumentID, job.FilePath, nullString(job.SessionID),
		job.Attempts, job.MaxAttempts, string(job.Status), now, now,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert job")
	}
	if tag.RowsAffected() == 0 {
		return ErrOpenJobExists
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, document_id, file_path, session_id, attempts, max_attempts, status, error, created_at, updated_at
		 FROM jobs WHERE id = $1`, id)
	return scanJobPG(row)
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.Job) error {
	job.UpdatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET attempts = $1, status = $2, error = $3, updated_at = $4 WHERE id = $5`,
		job.Attempts, string(job.Status), nullString(job.Error), job.UpdatedAt, job.ID,
	)
	return eris.Wrap(err, "postgres: update job")
}

func (s *PostgresStore) ListJobsByStatus(ctx context.Context, status model.JobStatus) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, file_path, session_id, attempts, max_attempts, status, error, created_at, updated_at
		 FROM jobs WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJobPG(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func (s *PostgresStore) HasOpenJob(ctx context.Context, documentID string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE document_id = $1 AND status IN ('queued', 'active')`,
		documentID,
	).Scan(&count)
	if err != nil {
		return false, eris.Wrap(err, "postgres: count open jobs")
	}
	return count > 0, nil
}

func scanDocumentPG(row pgx.Row) (*model.Document, error) {
	var doc model.Document
	var status string
	var result []byte
	var errMsg *string

	err := row.Scan(&doc.ID, &doc.Filename, &doc.FilePath, &doc.FileType, &doc.Size,
		&status, &result, &errMsg, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "postgres: document not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan document")
	}

	doc.Status = model.DocumentStatus(status)
	if errMsg != nil {
		doc.Error = *errMsg
	}
	if len(result) > 0 {
		var er model.ExtractionResult
		if err := json.Unmarshal(result, &er); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
		doc.Result = &er
	}
	return &doc, nil
}

func scanJobPG(row pgx.Row) (*model.Job, error) {
	var job model.Job
	var status string
	var sessionID, errMsg *string

	err := row.Scan(&job.ID, &job.DocumentID, &job.FilePath, &sessionID,
		&job.Attempts, &job.MaxAttempts, &status, &errMsg, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "postgres: job not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}

	job.Status = model.JobStatus(status)
	if sessionID != nil {
		job.SessionID = *sessionID
	}
	if errMsg != nil {
		job.Error = *errMsg
	}
	return &job, nil
}

