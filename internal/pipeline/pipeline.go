// Package pipeline runs uploaded documents through preprocessing, OCR,
// the confidence quality gate, and optional AI extraction, persisting
// the result and broadcasting ordered progress along the way.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docpipe/internal/broadcast"
	"github.com/sells-group/docpipe/internal/cache"
	"github.com/sells-group/docpipe/internal/config"
	"github.com/sells-group/docpipe/internal/extract"
	"github.com/sells-group/docpipe/internal/model"
	"github.com/sells-group/docpipe/internal/ocr"
	"github.com/sells-group/docpipe/internal/preprocess"
	"github.com/sells-group/docpipe/internal/resilience"
	"github.com/sells-group/docpipe/internal/session"
	"github.com/sells-group/docpipe/internal/store"
	"github.com/sells-group/docpipe/internal/validate"
)

// Progress checkpoints. Percentages only move forward within a run.
const (
	pctNormalize = 10
	pctCompress  = 20
	pctEnhance   = 30
	pctOCR       = 50
	pctGate      = 60
	pctExtract   = 80
	pctPersist   = 90
	pctDone      = 100
)

// ProviderFactory builds an extraction provider. Overridable in tests.
type ProviderFactory func(provider, modelName, credential string) (extract.Provider, error)

// Executor runs the document pipeline for one job at a time. It is safe
// for concurrent use by multiple queue workers.
type Executor struct {
	Store       store.Store
	Cache       cache.Cache
	Broadcaster *broadcast.Broadcaster
	Sessions    *session.Store
	Engine      ocr.Engine
	Pre         *preprocess.Preprocessor
	Cfg         *config.Config
	NewProvider ProviderFactory
}

// NewExecutor wires an Executor with the default provider factory.
func NewExecutor(st store.Store, c cache.Cache, b *broadcast.Broadcaster, sess *session.Store, eng ocr.Engine, pre *preprocess.Preprocessor, cfg *config.Config) *Executor {
	return &Executor{
		Store:       st,
		Cache:       c,
		Broadcaster: b,
		Sessions:    sess,
		Engine:      eng,
		Pre:         pre,
		Cfg:         cfg,
		NewProvider: extract.New,
	}
}

// Run executes the full pipeline for job. On success the document is
// completed, its result cached, and a terminal complete event published.
// On error the document status is NOT updated here; the queue owns
// terminal error bookkeeping so retries do not emit premature terminal
// events.
func (e *Executor) Run(ctx context.Context, job *model.Job) error {
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("document_id", job.DocumentID),
	)

	if err := e.Store.UpdateDocumentStatus(ctx, job.DocumentID, model.DocumentStatusProcessing); err != nil {
		return eris.Wrap(err, "pipeline: mark processing")
	}

	// Preparation stages are best-effort. A failure keeps the previous
	// artifact and the run continues.
	artifact := job.FilePath

	outcome := e.runPrepStage(artifact, "normalize", e.Pre.Normalize)
	artifact = outcome.Artifact
	e.progress(job, "normalize", pctNormalize)

	outcome = e.runPrepStage(artifact, "compress", e.Pre.Compress)
	artifact = outcome.Artifact
	e.progress(job, "compress", pctCompress)

	outcome = e.runPrepStage(artifact, "enhance", e.Pre.Enhance)
	artifact = outcome.Artifact
	e.progress(job, "enhance", pctEnhance)

	// OCR is fatal: without text there is nothing to gate.
	ocrResult, err := e.Engine.Recognize(ctx, artifact)
	if err != nil {
		return eris.Wrap(err, "pipeline: ocr")
	}
	e.progress(job, "ocr", pctOCR)

	decision := Gate(ocrResult.Confidence, Thresholds{
		OCRSufficient: e.Cfg.Pipeline.OCRSufficientThreshold,
	})
	log.Info("quality gate",
		zap.Float64("confidence", decision.Confidence),
		zap.String("route", string(decision.Route)),
	)
	e.progress(job, "quality_gate", pctGate)

	result := &model.ExtractionResult{
		Route:      decision.Route,
		Confidence: ocrResult.Confidence,
		Text:       ocrResult.Text,
		Engine:     ocrResult.Engine,
	}

	if decision.Route == model.RouteAIRequired {
		if err := e.Store.UpdateDocumentStatus(ctx, job.DocumentID, model.DocumentStatusProcessingAI); err != nil {
			return eris.Wrap(err, "pipeline: mark processing_ai")
		}

		timetable, provider, err := e.runExtraction(ctx, job, artifact)
		if err != nil {
			return err
		}
		if err := validate.Check(timetable); err != nil {
			return err
		}
		result.Timetable = timetable
		result.Provider = provider.Name()
		result.Model = provider.Model()
		e.progress(job, "ai_extraction", pctExtract)
	}

	if err := e.Store.UpdateDocumentResult(ctx, job.DocumentID, model.DocumentStatusCompleted, result); err != nil {
		return eris.Wrap(err, "pipeline: persist result")
	}
	e.progress(job, "persist", pctPersist)

	e.writeThrough(ctx, job.DocumentID, result)

	job.Progress = pctDone
	e.Broadcaster.Publish(job.DocumentID, model.ProgressEvent{
		DocumentID: job.DocumentID,
		Type:       model.EventComplete,
		Step:       "complete",
		Percentage: pctDone,
		Result:     result,
	})
	log.Info("pipeline complete", zap.String("route", string(result.Route)))
	return nil
}

// runPrepStage applies a best-effort transformation to the artifact.
func (e *Executor) runPrepStage(artifact, name string, fn func(string) (string, error)) StageOutcome {
	out, err := fn(artifact)
	if err != nil {
		zap.L().Warn("prep stage degraded",
			zap.String("stage", name),
			zap.Error(err),
		)
		return Degraded(artifact, err.Error())
	}
	return Completed(out)
}

// runExtraction resolves the AI configuration, extends the session
// lease around the provider call, and extracts the timetable.
func (e *Executor) runExtraction(ctx context.Context, job *model.Job, artifact string) (*model.Timetable, extract.Provider, error) {
	providerName, modelName, credential, err := e.resolveAIConfig(job.SessionID)
	if err != nil {
		return nil, nil, err
	}

	provider, err := e.NewProvider(providerName, modelName, credential)
	if err != nil {
		return nil, nil, resilience.NewConfigError(err)
	}

	// The session stays alive while its credentials are in use.
	e.extendSession(job.SessionID)
	timetable, err := provider.Extract(ctx, artifact)
	e.extendSession(job.SessionID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: ai extraction")
	}
	return timetable, provider, nil
}

// resolveAIConfig prefers the job's session settings and falls back to
// server-level provider config. No credential anywhere is terminal.
func (e *Executor) resolveAIConfig(sessionID string) (provider, modelName, credential string, err error) {
	if sessionID != "" {
		if cfg, ok := e.Sessions.Get(sessionID); ok {
			return cfg.Provider, cfg.Model, cfg.Credential, nil
		}
	}
	switch {
	case e.Cfg.Anthropic.Key != "":
		return "anthropic", e.Cfg.Anthropic.Model, e.Cfg.Anthropic.Key, nil
	case e.Cfg.OpenAI.Key != "":
		return "openai", e.Cfg.OpenAI.Model, e.Cfg.OpenAI.Key, nil
	}
	return "", "", "", resilience.NewConfigError(
		eris.New("pipeline: no AI provider configured for session or server"))
}

func (e *Executor) extendSession(sessionID string) {
	if sessionID == "" {
		return
	}
	e.Sessions.Extend(sessionID, e.Cfg.Session.DefaultTTL)
}

// writeThrough populates the result cache. Failures are logged and
// never change the job outcome.
func (e *Executor) writeThrough(ctx context.Context, documentID string, result *model.ExtractionResult) {
	if e.Cache == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		zap.L().Warn("cache marshal failed", zap.String("document_id", documentID), zap.Error(err))
		return
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := e.Cache.Set(cacheCtx, cache.ResultKey(documentID), payload, e.Cfg.Cache.ResultTTL); err != nil {
		zap.L().Warn("cache write-through failed", zap.String("document_id", documentID), zap.Error(err))
	}
}

// progress publishes a checkpoint, clamped to the job's high-water mark
// so a retried attempt never re-emits a percentage below one a subscriber
// already observed.
func (e *Executor) progress(job *model.Job, step string, pct int) {
	if pct <= job.Progress {
		return
	}
	job.Progress = pct
	e.Broadcaster.Publish(job.DocumentID, model.ProgressEvent{
		DocumentID: job.DocumentID,
		Type:       model.EventProgress,
		Step:       step,
		Percentage: pct,
	})
}
