package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docpipe/internal/cache"
	"github.com/sells-group/docpipe/internal/extract"
	"github.com/sells-group/docpipe/internal/model"
	"github.com/sells-group/docpipe/internal/resilience"
	"github.com/sells-group/docpipe/internal/session"
)

func strp(s string) *string { return &s }

func highConfidenceEngine() *fakeEngine {
	return &fakeEngine{result: model.OCRResult{
		Text:       "Monday 9:00 Maths",
		Confidence: 0.99,
		Engine:     "tesseract",
	}}
}

func lowConfidenceEngine() *fakeEngine {
	return &fakeEngine{result: model.OCRResult{
		Text:       "M0nday 9:OO Mths",
		Confidence: 0.55,
		Engine:     "tesseract",
	}}
}

func goodTimetable() *model.Timetable {
	return &model.Timetable{
		TimeBlocks: []model.TimeBlock{
			{Day: "Monday", Name: "Maths", StartTime: strp("09:00"), EndTime: strp("10:00")},
		},
	}
}

// High OCR confidence completes without touching the AI provider.
func TestRun_OCRSufficient(t *testing.T) {
	provider := &fakeProvider{timetable: goodTimetable()}
	exec, st, b := testExecutor(t, highConfidenceEngine(), provider)
	job := seedDocument(t, st, "doc-a")

	sub := b.Subscribe(job.DocumentID)
	require.NoError(t, exec.Run(context.Background(), job))

	doc, err := st.GetDocument(context.Background(), job.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusCompleted, doc.Status)
	require.NotNil(t, doc.Result)
	assert.Equal(t, model.RouteOCRSufficient, doc.Result.Route)
	assert.Equal(t, "Monday 9:00 Maths", doc.Result.Text)
	assert.Nil(t, doc.Result.Timetable)
	assert.Equal(t, 0, provider.callCount())

	events := collectEvents(sub, time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, model.EventConnected, events[0].Type)
	last := events[len(events)-1]
	assert.Equal(t, model.EventComplete, last.Type)
	assert.Equal(t, 100, last.Percentage)
	require.NotNil(t, last.Result)
}

// Low confidence routes through the AI provider and persists its
// timetable.
func TestRun_AIRequired(t *testing.T) {
	provider := &fakeProvider{timetable: goodTimetable()}
	exec, st, _ := testExecutor(t, lowConfidenceEngine(), provider)
	job := seedDocument(t, st, "doc-b")

	require.NoError(t, exec.Run(context.Background(), job))

	doc, err := st.GetDocument(context.Background(), job.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusCompleted, doc.Status)
	require.NotNil(t, doc.Result)
	assert.Equal(t, model.RouteAIRequired, doc.Result.Route)
	require.NotNil(t, doc.Result.Timetable)
	assert.Equal(t, "fake", doc.Result.Provider)
	assert.Equal(t, "fake-model", doc.Result.Model)
	assert.Equal(t, 1, provider.callCount())
}

// Percentages never decrease and exactly one terminal event ends the
// stream.
func TestRun_ProgressMonotonicSingleTerminal(t *testing.T) {
	provider := &fakeProvider{timetable: goodTimetable()}
	exec, st, b := testExecutor(t, lowConfidenceEngine(), provider)
	job := seedDocument(t, st, "doc-mono")

	sub := b.Subscribe(job.DocumentID)
	require.NoError(t, exec.Run(context.Background(), job))
	events := collectEvents(sub, time.Second)

	lastPct := -1
	terminals := 0
	for _, ev := range events {
		if ev.Type == model.EventConnected || ev.Type == model.EventHeartbeat {
			continue
		}
		assert.GreaterOrEqual(t, ev.Percentage, lastPct, "step %s", ev.Step)
		lastPct = ev.Percentage
		if ev.Terminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
	assert.Equal(t, model.EventComplete, events[len(events)-1].Type)
}

// recoveringEngine fails its first calls and then succeeds, standing in
// for an OCR backend that recovers between attempts.
type recoveringEngine struct {
	failures int
	calls    int
	result   model.OCRResult
}

func (f *recoveringEngine) Recognize(context.Context, string) (model.OCRResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return model.OCRResult{}, resilience.NewProviderError(assert.AnError, "tesseract", "")
	}
	return f.result, nil
}

// A retried attempt must not re-emit checkpoints below those a
// subscriber already observed from the failed attempt.
func TestRun_RetryDoesNotRewindProgress(t *testing.T) {
	eng := &recoveringEngine{failures: 1, result: model.OCRResult{
		Text:       "Monday 9:00 Maths",
		Confidence: 0.99,
		Engine:     "tesseract",
	}}
	provider := &fakeProvider{timetable: goodTimetable()}
	exec, st, b := testExecutor(t, eng, provider)
	job := seedDocument(t, st, "doc-retry")

	sub := b.Subscribe(job.DocumentID)

	require.Error(t, exec.Run(context.Background(), job))
	require.NoError(t, exec.Run(context.Background(), job))

	events := collectEvents(sub, time.Second)
	require.NotEmpty(t, events)

	lastPct := -1
	for _, ev := range events {
		if ev.Type == model.EventConnected || ev.Type == model.EventHeartbeat {
			continue
		}
		require.GreaterOrEqual(t, ev.Percentage, lastPct,
			"percentage decreased: %d after %d (step %s)", ev.Percentage, lastPct, ev.Step)
		lastPct = ev.Percentage
	}
	assert.Equal(t, model.EventComplete, events[len(events)-1].Type)
	assert.Equal(t, 2, eng.calls)
}

// Provider failure aborts the run; the queue owns the retry, so no
// terminal state is written here.
func TestRun_ProviderFailure(t *testing.T) {
	provider := &fakeProvider{err: resilience.NewProviderError(
		assert.AnError, "anthropic", "claude-sonnet-4-5-20250929")}
	exec, st, _ := testExecutor(t, lowConfidenceEngine(), provider)
	job := seedDocument(t, st, "doc-c")

	err := exec.Run(context.Background(), job)
	require.Error(t, err)

	var provErr *resilience.ProviderError
	assert.ErrorAs(t, err, &provErr)

	doc, _ := st.GetDocument(context.Background(), job.DocumentID)
	assert.Equal(t, model.DocumentStatusProcessingAI, doc.Status)
}

// OCR failure is fatal for the attempt.
func TestRun_OCRFailure(t *testing.T) {
	eng := &fakeEngine{err: resilience.NewProviderError(assert.AnError, "tesseract", "")}
	exec, st, _ := testExecutor(t, eng, &fakeProvider{})
	job := seedDocument(t, st, "doc-ocr-fail")

	err := exec.Run(context.Background(), job)
	require.Error(t, err)

	doc, _ := st.GetDocument(context.Background(), job.DocumentID)
	assert.Equal(t, model.DocumentStatusProcessing, doc.Status)
}

// An invalid extracted timetable surfaces as a terminal ValidationError.
func TestRun_ValidationFailure(t *testing.T) {
	bad := &model.Timetable{
		TimeBlocks: []model.TimeBlock{{Day: "Funday", Name: "Maths"}},
	}
	provider := &fakeProvider{timetable: bad}
	exec, st, _ := testExecutor(t, lowConfidenceEngine(), provider)
	job := seedDocument(t, st, "doc-d")

	err := exec.Run(context.Background(), job)
	require.Error(t, err)

	var vErr *resilience.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.False(t, resilience.IsRetryable(err))
}

// No session settings and no server credential is a terminal config
// error.
func TestRun_MissingAIConfig(t *testing.T) {
	provider := &fakeProvider{timetable: goodTimetable()}
	exec, st, _ := testExecutor(t, lowConfidenceEngine(), provider)
	exec.Cfg.Anthropic.Key = ""
	exec.Cfg.OpenAI.Key = ""
	job := seedDocument(t, st, "doc-e")
	job.SessionID = "sess-gone"

	err := exec.Run(context.Background(), job)
	require.Error(t, err)

	var cfgErr *resilience.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.False(t, resilience.IsRetryable(err))
	assert.Equal(t, 0, provider.callCount())
}

// Session settings take precedence over server config and the session
// lease is extended by the AI stage.
func TestRun_SessionConfigUsedAndExtended(t *testing.T) {
	provider := &fakeProvider{timetable: goodTimetable()}
	exec, st, _ := testExecutor(t, lowConfidenceEngine(), provider)

	var gotProvider, gotModel, gotCred string
	exec.NewProvider = func(p, m, c string) (extract.Provider, error) {
		gotProvider, gotModel, gotCred = p, m, c
		return provider, nil
	}

	exec.Sessions.Set("sess-1", session.Config{
		Provider:   "openai",
		Model:      "gpt-4o",
		Credential: "sess-key",
	}, 200*time.Millisecond)

	job := seedDocument(t, st, "doc-f")
	job.SessionID = "sess-1"
	require.NoError(t, exec.Run(context.Background(), job))

	assert.Equal(t, "openai", gotProvider)
	assert.Equal(t, "gpt-4o", gotModel)
	assert.Equal(t, "sess-key", gotCred)

	// The run extended the lease to the configured default TTL.
	time.Sleep(250 * time.Millisecond)
	assert.True(t, exec.Sessions.Exists("sess-1"))
}

// A failing cache never fails the job.
func TestRun_CacheFailureTolerated(t *testing.T) {
	provider := &fakeProvider{timetable: goodTimetable()}
	exec, st, _ := testExecutor(t, highConfidenceEngine(), provider)
	exec.Cache = failingCache{}
	job := seedDocument(t, st, "doc-g")

	require.NoError(t, exec.Run(context.Background(), job))

	doc, _ := st.GetDocument(context.Background(), job.DocumentID)
	assert.Equal(t, model.DocumentStatusCompleted, doc.Status)
}

// Successful runs leave the result in the cache under the result key.
func TestRun_CacheWriteThrough(t *testing.T) {
	provider := &fakeProvider{timetable: goodTimetable()}
	exec, st, _ := testExecutor(t, highConfidenceEngine(), provider)
	job := seedDocument(t, st, "doc-h")

	require.NoError(t, exec.Run(context.Background(), job))

	data, found, err := exec.Cache.Get(context.Background(), cache.ResultKey(job.DocumentID))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Contains(t, string(data), "ocr_sufficient")
}

type failingCache struct{}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return assert.AnError
}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, assert.AnError
}

func (failingCache) Delete(context.Context, string) error { return assert.AnError }
