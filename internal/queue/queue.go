// Package queue owns the durable job queue and the worker pool that
// drains it. Jobs are persisted before they are scheduled, so a restart
// can recover work that never ran.
package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docpipe/internal/broadcast"
	"github.com/sells-group/docpipe/internal/config"
	"github.com/sells-group/docpipe/internal/model"
	"github.com/sells-group/docpipe/internal/resilience"
	"github.com/sells-group/docpipe/internal/store"
)

// ErrDocumentBusy is returned when a document already has an open job.
var ErrDocumentBusy = eris.New("queue: document already has an open job")

// Runner executes one pipeline attempt for a job. Satisfied by
// pipeline.Executor.
type Runner interface {
	Run(ctx context.Context, job *model.Job) error
}

// Queue schedules persisted jobs onto a fixed pool of workers.
type Queue struct {
	store       store.Store
	runner      Runner
	broadcaster *broadcast.Broadcaster
	cfg         config.QueueConfig

	jobs   chan string
	group  *errgroup.Group
	cancel context.CancelFunc
}

// New creates a Queue. Start must be called before Enqueue delivers
// work to anyone.
func New(st store.Store, runner Runner, b *broadcast.Broadcaster, cfg config.QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Queue{
		store:       st,
		runner:      runner,
		broadcaster: b,
		cfg:         cfg,
		jobs:        make(chan string, 256),
	}
}

// Enqueue persists a job for the document and schedules it. At most one
// open job may exist per document.
func (q *Queue) Enqueue(ctx context.Context, documentID, filePath, sessionID string) (string, error) {
	busy, err := q.store.HasOpenJob(ctx, documentID)
	if err != nil {
		return "", eris.Wrap(err, "queue: check open jobs")
	}
	if busy {
		return "", ErrDocumentBusy
	}

	job := &model.Job{
		ID:          uuid.NewString(),
		DocumentID:  documentID,
		FilePath:    filePath,
		SessionID:   sessionID,
		MaxAttempts: q.cfg.MaxAttempts,
		Status:      model.JobStatusQueued,
	}
	if err := q.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrOpenJobExists) {
			return "", ErrDocumentBusy
		}
		return "", eris.Wrap(err, "queue: persist job")
	}

	select {
	case q.jobs <- job.ID:
	case <-ctx.Done():
		return "", eris.Wrap(ctx.Err(), "queue: enqueue")
	}
	zap.L().Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("document_id", documentID),
	)
	return job.ID, nil
}

// Start recovers still-queued jobs from the store and spins the worker
// pool. It returns immediately; Stop blocks until the workers drain.
func (q *Queue) Start(ctx context.Context) error {
	queued, err := q.store.ListJobsByStatus(ctx, model.JobStatusQueued)
	if err != nil {
		return eris.Wrap(err, "queue: recover queued jobs")
	}
	for _, job := range queued {
		select {
		case q.jobs <- job.ID:
		default:
			zap.L().Warn("recovery backlog full, job stays queued", zap.String("job_id", job.ID))
		}
	}
	if len(queued) > 0 {
		zap.L().Info("recovered queued jobs", zap.Int("count", len(queued)))
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	q.group = g

	for i := 0; i < q.cfg.Workers; i++ {
		g.Go(func() error {
			q.worker(gctx)
			return nil
		})
	}
	return nil
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	if q.group != nil {
		_ = q.group.Wait()
	}
}

func (q *Queue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-q.jobs:
			q.process(ctx, jobID)
		}
	}
}

// process drives one job through its attempt chain to a terminal job
// status.
func (q *Queue) process(ctx context.Context, jobID string) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		zap.L().Error("load job failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job.Status != model.JobStatusQueued {
		return
	}

	job.Status = model.JobStatusActive
	if err := q.store.UpdateJob(ctx, job); err != nil {
		zap.L().Error("activate job failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("document_id", job.DocumentID),
	)

	for {
		job.Attempts++
		if err := q.store.UpdateJob(ctx, job); err != nil {
			log.Warn("persist attempt count failed", zap.Int("attempt", job.Attempts), zap.Error(err))
		}

		err := q.runAttempt(ctx, job)
		if err == nil {
			job.Status = model.JobStatusCompleted
			job.Error = ""
			if err := q.store.UpdateJob(ctx, job); err != nil {
				log.Error("persist completed job failed", zap.Error(err))
			}
			return
		}

		var cfgErr *resilience.ConfigError
		if errors.As(err, &cfgErr) {
			// Misconfiguration cannot be retried into working.
			log.Warn("job failed on configuration", zap.Error(err))
			q.finalize(ctx, job, model.DocumentStatusFailed, err)
			return
		}

		var valErr *resilience.ValidationError
		if errors.As(err, &valErr) {
			log.Warn("extracted data failed validation", zap.Error(err))
			q.finalize(ctx, job, model.DocumentStatusValidationFailed, err)
			return
		}

		if job.Attempts >= job.MaxAttempts {
			log.Error("job exhausted retries",
				zap.Int("attempts", job.Attempts),
				zap.Error(err),
			)
			q.finalize(ctx, job, model.DocumentStatusFailed, err)
			return
		}

		delay := resilience.Backoff(job.Attempts, q.cfg.BackoffBase, q.cfg.MaxBackoff)
		log.Warn("attempt failed, backing off",
			zap.Int("attempt", job.Attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Shutdown mid-chain: leave the job queued for recovery.
			job.Status = model.JobStatusQueued
			job.Error = err.Error()
			if uerr := q.store.UpdateJob(context.WithoutCancel(ctx), job); uerr != nil {
				log.Error("requeue job on shutdown failed", zap.Error(uerr))
			}
			return
		}
	}
}

// runAttempt runs the pipeline once under the per-attempt timeout.
func (q *Queue) runAttempt(ctx context.Context, job *model.Job) error {
	attemptCtx := ctx
	if q.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, q.cfg.JobTimeout)
		defer cancel()
	}

	err := q.runner.Run(attemptCtx, job)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return resilience.NewTimeoutError(err)
	}
	return err
}

// finalize records the terminal job and document state and publishes
// the single terminal error event for the attempt chain.
func (q *Queue) finalize(ctx context.Context, job *model.Job, docStatus model.DocumentStatus, cause error) {
	ctx = context.WithoutCancel(ctx)

	job.Status = model.JobStatusFailed
	job.Error = cause.Error()
	if err := q.store.UpdateJob(ctx, job); err != nil {
		zap.L().Error("finalize job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	if err := q.store.SetDocumentError(ctx, job.DocumentID, docStatus, cause.Error()); err != nil {
		zap.L().Error("finalize document failed", zap.String("document_id", job.DocumentID), zap.Error(err))
	}

	q.broadcaster.Publish(job.DocumentID, model.ProgressEvent{
		DocumentID:  job.DocumentID,
		Type:        model.EventError,
		Step:        errorStep(cause),
		Percentage:  100,
		ErrorDetail: errorDetail(cause),
	})
}

// errorDetail builds subscriber-facing diagnostics from the cause.
func errorDetail(err error) *model.ErrorDetail {
	detail := &model.ErrorDetail{
		Message: err.Error(),
		Step:    errorStep(err),
	}

	var provErr *resilience.ProviderError
	if errors.As(err, &provErr) {
		detail.Provider = provErr.Provider
		detail.Model = provErr.Model
	}

	var cfgErr *resilience.ConfigError
	var valErr *resilience.ValidationError
	switch {
	case errors.As(err, &cfgErr):
		detail.Remediation = "configure an AI provider credential via session settings or server config"
	case errors.As(err, &valErr):
		detail.Remediation = "review the document quality and re-upload a clearer scan"
	case resilience.IsTimeout(err):
		detail.Remediation = "retry later or raise queue.job_timeout"
	default:
		detail.Remediation = "retry the upload; contact support if the failure persists"
	}
	return detail
}

// errorStep names the pipeline step that produced the error, going by
// the wrap prefixes the stages use.
func errorStep(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "pipeline: ocr"):
		return "ocr"
	case strings.Contains(msg, "ai extraction") || strings.Contains(msg, "extract:"):
		return "ai_extraction"
	case strings.Contains(msg, "validation"):
		return "validation"
	case strings.Contains(msg, "persist"):
		return "persist"
	default:
		return "pipeline"
	}
}
