package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docpipe/internal/broadcast"
	"github.com/sells-group/docpipe/internal/cache"
	"github.com/sells-group/docpipe/internal/config"
	"github.com/sells-group/docpipe/internal/extract"
	"github.com/sells-group/docpipe/internal/model"
	"github.com/sells-group/docpipe/internal/ocr"
	"github.com/sells-group/docpipe/internal/preprocess"
	"github.com/sells-group/docpipe/internal/session"
	"github.com/sells-group/docpipe/internal/store"
)

// memStore is an in-memory store.Store for pipeline and queue tests.
type memStore struct {
	mu   sync.Mutex
	docs map[string]*model.Document
	jobs map[string]*model.Job
}

func newMemStore() *memStore {
	return &memStore{
		docs: make(map[string]*model.Document),
		jobs: make(map[string]*model.Job),
	}
}

func (m *memStore) CreateDocument(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.Status == "" {
		doc.Status = model.DocumentStatusUploaded
	}
	cp := *doc
	m.docs[doc.ID] = &cp
	return nil
}

func (m *memStore) GetDocument(_ context.Context, id string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, eris.Errorf("document not found: %s", id)
	}
	cp := *doc
	return &cp, nil
}

func (m *memStore) UpdateDocumentStatus(_ context.Context, id string, status model.DocumentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return eris.Errorf("document not found: %s", id)
	}
	doc.Status = status
	return nil
}

func (m *memStore) UpdateDocumentResult(_ context.Context, id string, status model.DocumentStatus, result *model.ExtractionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return eris.Errorf("document not found: %s", id)
	}
	doc.Status = status
	doc.Result = result
	doc.Error = ""
	return nil
}

func (m *memStore) SetDocumentError(_ context.Context, id string, status model.DocumentStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return eris.Errorf("document not found: %s", id)
	}
	doc.Status = status
	doc.Error = errMsg
	return nil
}

func (m *memStore) ListDocuments(_ context.Context, filter store.DocumentFilter) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Document
	for _, doc := range m.docs {
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		out = append(out, *doc)
	}
	return out, nil
}

func (m *memStore) CreateJob(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.jobs {
		if existing.DocumentID == job.DocumentID &&
			(existing.Status == model.JobStatusQueued || existing.Status == model.JobStatusActive) {
			return store.ErrOpenJobExists
		}
	}
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}
	job.CreatedAt = time.Now()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, eris.Errorf("job not found: %s", id)
	}
	cp := *job
	return &cp, nil
}

func (m *memStore) UpdateJob(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) ListJobsByStatus(_ context.Context, status model.JobStatus) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Job
	for _, job := range m.jobs {
		if job.Status == status {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *memStore) HasOpenJob(_ context.Context, documentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.DocumentID == documentID &&
			(job.Status == model.JobStatusQueued || job.Status == model.JobStatusActive) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

// fakeEngine returns a canned OCR result.
type fakeEngine struct {
	result model.OCRResult
	err    error
}

func (f *fakeEngine) Recognize(context.Context, string) (model.OCRResult, error) {
	return f.result, f.err
}

var _ ocr.Engine = (*fakeEngine)(nil)

// fakeProvider returns a canned timetable.
type fakeProvider struct {
	timetable *model.Timetable
	err       error
	calls     int
	mu        sync.Mutex
}

func (f *fakeProvider) Extract(context.Context, string) (*model.Timetable, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.timetable, f.err
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ extract.Provider = (*fakeProvider)(nil)

func testConfig() *config.Config {
	return &config.Config{
		Queue: config.QueueConfig{
			Workers:     2,
			MaxAttempts: 3,
			BackoffBase: time.Millisecond,
			MaxBackoff:  10 * time.Millisecond,
			JobTimeout:  5 * time.Second,
		},
		Pipeline: config.PipelineConfig{OCRSufficientThreshold: 0.98},
		Session:  config.SessionConfig{DefaultTTL: time.Hour, JanitorInterval: time.Hour},
		Cache:    config.CacheConfig{ResultTTL: time.Minute, MaxEntries: 64},
		Anthropic: config.AnthropicConfig{
			Key:   "server-key",
			Model: "claude-sonnet-4-5-20250929",
		},
	}
}

// testExecutor builds an Executor over in-memory collaborators.
func testExecutor(t *testing.T, eng ocr.Engine, provider extract.Provider) (*Executor, *memStore, *broadcast.Broadcaster) {
	t.Helper()

	st := newMemStore()
	b := broadcast.New(broadcast.Options{
		HeartbeatInterval: time.Hour,
		CloseGrace:        50 * time.Millisecond,
		SubscriberBuffer:  32,
	})
	t.Cleanup(b.Close)

	sess := session.NewStore(time.Hour, time.Hour)
	t.Cleanup(sess.Close)

	cfg := testConfig()
	exec := &Executor{
		Store:       st,
		Cache:       cache.NewMemory(cfg.Cache.MaxEntries),
		Broadcaster: b,
		Sessions:    sess,
		Engine:      eng,
		Pre:         preprocess.New(t.TempDir()),
		Cfg:         cfg,
		NewProvider: func(string, string, string) (extract.Provider, error) {
			return provider, nil
		},
	}
	return exec, st, b
}

// seedDocument creates a document and a matching job.
func seedDocument(t *testing.T, st *memStore, docID string) *model.Job {
	t.Helper()
	err := st.CreateDocument(context.Background(), &model.Document{
		ID:       docID,
		Filename: docID + ".png",
		FilePath: "/uploads/" + docID + ".png",
		FileType: "png",
	})
	if err != nil {
		t.Fatalf("seed document: %v", err)
	}
	return &model.Job{
		ID:          "job-" + docID,
		DocumentID:  docID,
		FilePath:    "/uploads/" + docID + ".png",
		MaxAttempts: 3,
	}
}

// collectEvents drains a subscriber until its channel closes or the
// timeout fires.
func collectEvents(sub *broadcast.Subscriber, timeout time.Duration) []model.ProgressEvent {
	var events []model.ProgressEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			return events
		}
	}
}
