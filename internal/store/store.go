package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docpipe/internal/model"
)

// ErrOpenJobExists is returned by CreateJob when the document already has
// a queued or active job. Enforced inside the insert so concurrent
// enqueues cannot both pass a separate existence check.
var ErrOpenJobExists = eris.New("store: document already has an open job")

// DocumentFilter specifies criteria for listing documents.
type DocumentFilter struct {
	Status model.DocumentStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// Store defines the persistence interface for documents and jobs. It is
// the store of record: a job's terminal status depends on it alone, never
// on the result cache.
type Store interface {
	// Documents
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus) error
	UpdateDocumentResult(ctx context.Context, id string, status model.DocumentStatus, result *model.ExtractionResult) error
	SetDocumentError(ctx context.Context, id string, status model.DocumentStatus, errMsg string) error
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error)

	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	UpdateJob(ctx context.Context, job *model.Job) error
	ListJobsByStatus(ctx context.Context, status model.JobStatus) ([]model.Job, error)
	HasOpenJob(ctx context.Context, documentID string) (bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
