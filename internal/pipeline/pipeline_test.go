package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-review-go/internal/config"
	"call-review-go/internal/errs"
	"call-review-go/internal/evaluation"
	"call-review-go/internal/ingest"
	"call-review-go/internal/metrics"
	"call-review-go/internal/quality"
	"call-review-go/internal/summary"
	"call-review-go/internal/transcription"
	"call-review-go/internal/types"
)

func speechWAV(seconds float64) []byte {
	const rate = 16000
	n := int(seconds * rate)
	s := make([]float64, n)
	for i := range s {
		env := 0.5 + 0.5*math.Sin(2*math.Pi*3*float64(i)/rate)
		s[i] = 0.4 * env * math.Sin(2*math.Pi*220*float64(i)/rate)
	}
	return ingest.EncodePCM16(s, rate)
}

func testConfig() config.Pipeline {
	p := config.Default().Pipeline
	p.StageTimeout = 5 * time.Second
	p.TranscriptionRetries = 1
	p.RetryInitialInterval = time.Millisecond
	p.RetryMaxInterval = 2 * time.Millisecond
	p.SummaryLanguages = []string{"en"}
	return p
}

// counters tracks capability invocations.
type counters struct {
	transcribe atomic.Int32
	summarize  atomic.Int32
}

func testStages(c *counters, backend transcription.Backend) Stages {
	p := testConfig()
	if backend == nil {
		backend = transcription.Mock{}
	}
	counted := transcription.BackendFunc(func(ctx context.Context, req transcription.Request) (transcription.Response, error) {
		c.transcribe.Add(1)
		return backend.Transcribe(ctx, req)
	})
	sb := summary.BackendFunc(func(ctx context.Context, req summary.Request) (summary.Response, error) {
		c.summarize.Add(1)
		return summary.Mock{}.Generate(ctx, req)
	})
	return Stages{
		Ingestor: ingest.New(ingest.Options{MaxDuration: 10 * time.Minute, CanonicalRate: 16000}, nil, nil),
		Analyzer: quality.NewAnalyzer(),
		Transcriber: transcription.New(counted, transcription.Options{
			Retries: p.TranscriptionRetries, InitialInterval: p.RetryInitialInterval, MaxInterval: p.RetryMaxInterval,
			MergeGap: p.MergeGap, AgentLabel: p.AgentSpeakerLabel,
		}, nil),
		Evaluator:  evaluation.New(config.Default().Rubric.Weights, 0.5, nil, nil),
		Summarizer: summary.New(sb, summary.Options{Languages: p.Languages(), Retries: 1}, nil),
	}
}

type recordingSink struct {
	mu      sync.Mutex
	reports []types.Report
}

func (s *recordingSink) Put(_ context.Context, rep types.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, rep)
	return nil
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) observe(_ string, s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func TestRunHappyPath(t *testing.T) {
	var c counters
	sink := &recordingSink{}
	states := &stateLog{}
	m := metrics.New()
	o := New(testConfig(), testStages(&c, nil), Options{Sinks: []Sink{sink}, Metrics: m, Observe: states.observe})

	rep, err := o.Run(context.Background(), Job{Source: ingest.Source{Data: speechWAV(180)}, Language: types.LangArabic})
	require.NoError(t, err)

	assert.Equal(t, types.OverallComplete, rep.OverallStatus)
	assert.Equal(t, int64(180000), rep.Recording.DurationMs)
	for _, st := range types.Stages {
		assert.Equal(t, types.StatusOK, rep.StageStatus[st].Status, st)
	}
	require.NotNil(t, rep.QualityMetrics)
	require.NotNil(t, rep.Transcript)
	assert.NoError(t, rep.Transcript.Validate())
	assert.Len(t, rep.Transcript.Segments, 7)
	require.NotNil(t, rep.Scores)
	assert.NotNil(t, rep.Scores.Overall)

	en, ok := rep.Summary(types.LangEnglish)
	require.True(t, ok)
	assert.Equal(t, types.DirLTR, en.Direction)
	ar, ok := rep.Summary(types.LangArabic)
	require.True(t, ok, "arabic hint adds an arabic summary")
	assert.Equal(t, types.DirRTL, ar.Direction)

	assert.Equal(t, []State{StateIngesting, StateAnalyzing, StateEvaluating, StateSummarizing, StateAssembling, StateDone}, states.states)
	require.Len(t, sink.reports, 1)
	assert.Equal(t, rep.CallID, sink.reports[0].CallID)
	assert.Equal(t, int32(1), c.transcribe.Load())
	assert.Equal(t, int32(2), c.summarize.Load())
}

func TestRunCorruptFileInvokesNoCapability(t *testing.T) {
	var c counters
	states := &stateLog{}
	sink := &recordingSink{}
	o := New(testConfig(), testStages(&c, nil), Options{Sinks: []Sink{sink}, Observe: states.observe})

	_, err := o.Run(context.Background(), Job{CallID: "bad", Source: ingest.Source{Data: []byte("RIFF\x10\x00\x00\x00WAVEjunk"), Filename: "bad.wav"}})
	require.Error(t, err)
	assert.True(t, errs.IsInput(err))
	assert.Equal(t, []State{StateIngesting, StateRejected}, states.states)
	assert.Zero(t, c.transcribe.Load())
	assert.Zero(t, c.summarize.Load())
	assert.Empty(t, sink.reports)
}

func TestRunTranscriptionOutage(t *testing.T) {
	var c counters
	down := transcription.BackendFunc(func(context.Context, transcription.Request) (transcription.Response, error) {
		return transcription.Response{}, errs.Transient("transcribe", errors.New("503 service unavailable"))
	})
	o := New(testConfig(), testStages(&c, down), Options{})

	rep, err := o.Run(context.Background(), Job{Source: ingest.Source{Data: speechWAV(2)}})
	require.NoError(t, err)

	assert.Equal(t, types.OverallFailed, rep.OverallStatus)
	assert.Equal(t, types.StatusOK, rep.StageStatus[types.StageQuality].Status)
	assert.NotNil(t, rep.QualityMetrics)
	assert.Equal(t, types.StatusFailed, rep.StageStatus[types.StageTranscription].Status)
	assert.Contains(t, rep.StageStatus[types.StageTranscription].Reason, "2 attempt(s)")
	assert.Equal(t, types.StageStatus{Status: types.StatusSkipped, Reason: "no transcript"}, rep.StageStatus[types.StageEvaluation])
	assert.Equal(t, types.StageStatus{Status: types.StatusSkipped, Reason: "no transcript"}, rep.StageStatus[types.StageSummarization])
	assert.Nil(t, rep.Transcript)
	assert.Nil(t, rep.Scores)
	assert.Empty(t, rep.Summaries)
	assert.Equal(t, int32(2), c.transcribe.Load())
	assert.Zero(t, c.summarize.Load())
}

type crashingAnalyzer struct{}

func (crashingAnalyzer) Analyze(context.Context, quality.Samples) (types.QualityMetrics, error) {
	panic("fft buffer overrun")
}

func TestRunQualityAnalyzerCrash(t *testing.T) {
	var c counters
	st := testStages(&c, nil)
	st.Analyzer = crashingAnalyzer{}
	o := New(testConfig(), st, Options{})

	rep, err := o.Run(context.Background(), Job{Source: ingest.Source{Data: speechWAV(3)}})
	require.NoError(t, err)

	assert.Equal(t, types.OverallPartial, rep.OverallStatus)
	assert.Equal(t, types.StatusFailed, rep.StageStatus[types.StageQuality].Status)
	assert.Contains(t, rep.StageStatus[types.StageQuality].Reason, "fft buffer overrun")
	assert.Nil(t, rep.QualityMetrics)
	assert.Equal(t, types.StatusOK, rep.StageStatus[types.StageEvaluation].Status)
	assert.Nil(t, rep.Scores.Categories[types.CategoryClarity])
	_, ok := rep.Scores.Score(types.CategoryCompliance)
	assert.True(t, ok)
	assert.Equal(t, types.StatusOK, rep.StageStatus[types.StageSummarization].Status)
}

func TestRunEmptyTranscript(t *testing.T) {
	var c counters
	silent := transcription.BackendFunc(func(context.Context, transcription.Request) (transcription.Response, error) {
		return transcription.Response{}, nil
	})
	o := New(testConfig(), testStages(&c, silent), Options{})

	rep, err := o.Run(context.Background(), Job{Source: ingest.Source{Data: speechWAV(1)}})
	require.NoError(t, err)
	assert.Equal(t, types.OverallPartial, rep.OverallStatus)
	assert.Equal(t, types.StageStatus{Status: types.StatusFailed, Reason: evaluation.NoteInsufficientInput}, rep.StageStatus[types.StageEvaluation])
	require.NotNil(t, rep.Scores)
	assert.Nil(t, rep.Scores.Overall)
}

func TestRunKeepsPartialTranscript(t *testing.T) {
	var c counters
	partial := transcription.BackendFunc(func(context.Context, transcription.Request) (transcription.Response, error) {
		return transcription.Response{Segments: []transcription.Segment{
			{StartMs: 0, EndMs: 900, Speaker: "SPEAKER_00", Text: "Thank you for calling, how can I help?"},
		}}, errors.New("stream reset by peer")
	})
	o := New(testConfig(), testStages(&c, partial), Options{})

	rep, err := o.Run(context.Background(), Job{Source: ingest.Source{Data: speechWAV(1)}})
	require.NoError(t, err)
	assert.Equal(t, types.OverallPartial, rep.OverallStatus)
	assert.Equal(t, types.StatusFailed, rep.StageStatus[types.StageTranscription].Status)
	require.NotNil(t, rep.Transcript)
	assert.True(t, rep.Transcript.Incomplete)
	assert.Equal(t, types.StatusOK, rep.StageStatus[types.StageEvaluation].Status)
}

type slowTranscriber struct{ d time.Duration }

func (s slowTranscriber) Transcribe(context.Context, transcription.Audio, string, types.Language) (*types.Transcript, error) {
	time.Sleep(s.d)
	return &types.Transcript{}, nil
}

func TestRunStageTimeout(t *testing.T) {
	var c counters
	cfg := testConfig()
	cfg.StageTimeouts = map[string]time.Duration{string(types.StageTranscription): 20 * time.Millisecond}
	st := testStages(&c, nil)
	st.Transcriber = slowTranscriber{d: time.Second}
	o := New(cfg, st, Options{})

	start := time.Now()
	rep, err := o.Run(context.Background(), Job{Source: ingest.Source{Data: speechWAV(1)}})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, types.StatusFailed, rep.StageStatus[types.StageTranscription].Status)
	assert.Contains(t, rep.StageStatus[types.StageTranscription].Reason, "timed out")
	assert.Equal(t, types.StatusOK, rep.StageStatus[types.StageQuality].Status)
	assert.Equal(t, types.OverallFailed, rep.OverallStatus)
}

func TestRunSummarizationTimeoutFallsBack(t *testing.T) {
	var c counters
	cfg := testConfig()
	cfg.StageTimeouts = map[string]time.Duration{string(types.StageSummarization): 200 * time.Millisecond}
	st := testStages(&c, nil)
	hanging := summary.BackendFunc(func(context.Context, summary.Request) (summary.Response, error) {
		time.Sleep(2 * time.Second)
		return summary.Response{Summary: "too late"}, nil
	})
	st.Summarizer = summary.New(hanging, summary.Options{Languages: cfg.Languages(), Retries: 1}, nil)
	o := New(cfg, st, Options{})

	start := time.Now()
	rep, err := o.Run(context.Background(), Job{Source: ingest.Source{Data: speechWAV(2)}, Language: types.LangArabic})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 1500*time.Millisecond)

	assert.Equal(t, types.OverallPartial, rep.OverallStatus)
	sum := rep.StageStatus[types.StageSummarization]
	assert.Equal(t, types.StatusFailed, sum.Status)
	assert.Contains(t, sum.Reason, "timed out")

	require.Len(t, rep.Summaries, 2)
	for _, s := range rep.Summaries {
		assert.Equal(t, types.SourceFallback, s.Source, s.Language)
		assert.NotEmpty(t, s.Text, s.Language)
	}
	ar, ok := rep.Summary(types.LangArabic)
	require.True(t, ok)
	assert.Equal(t, types.DirRTL, ar.Direction)
}

type cancellingIngestor struct{ cancel context.CancelFunc }

func (c cancellingIngestor) Ingest(ctx context.Context, _ ingest.Request) (types.CallRecording, *ingest.Audio, error) {
	c.cancel()
	<-ctx.Done()
	return types.CallRecording{}, nil, &errs.InvalidAudioError{Reason: "unreadable source", Err: ctx.Err()}
}

func TestRunCancelledDuringFetch(t *testing.T) {
	var c counters
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := testStages(&c, nil)
	st.Ingestor = cancellingIngestor{cancel: cancel}
	states := &stateLog{}
	m := metrics.New()
	o := New(testConfig(), st, Options{Metrics: m, Observe: states.observe})

	_, err := o.Run(ctx, Job{Source: ingest.Source{URI: "https://calls.example.com/slow.wav"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errs.IsInput(err), "cancellation is not a bad recording")
	assert.Equal(t, []State{StateIngesting}, states.states)
	assert.Zero(t, testutil.ToFloat64(m.Rejected))
	assert.Zero(t, c.transcribe.Load())
}

type cancellingTranscriber struct {
	cancel context.CancelFunc
	inner  Transcriber
}

func (c cancellingTranscriber) Transcribe(ctx context.Context, a transcription.Audio, name string, hint types.Language) (*types.Transcript, error) {
	c.cancel()
	return c.inner.Transcribe(ctx, a, name, hint)
}

func TestRunCancelledAtStageBoundary(t *testing.T) {
	var c counters
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := testStages(&c, nil)
	st.Transcriber = cancellingTranscriber{cancel: cancel, inner: st.Transcriber}
	o := New(testConfig(), st, Options{})

	rep, err := o.Run(ctx, Job{Source: ingest.Source{Data: speechWAV(2)}})
	require.NoError(t, err)
	assert.Equal(t, types.OverallCancelled, rep.OverallStatus)
	assert.Equal(t, types.StatusOK, rep.StageStatus[types.StageTranscription].Status, "in-flight stage completes")
	assert.NotNil(t, rep.Transcript)
	assert.Equal(t, types.StageStatus{Status: types.StatusSkipped, Reason: "cancelled"}, rep.StageStatus[types.StageEvaluation])
	assert.Equal(t, types.StageStatus{Status: types.StatusSkipped, Reason: "cancelled"}, rep.StageStatus[types.StageSummarization])
	assert.Zero(t, c.summarize.Load())
}

func TestRunCancelledBeforeStart(t *testing.T) {
	var c counters
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testConfig(), testStages(&c, nil), Options{}).Run(ctx, Job{Source: ingest.Source{Data: speechWAV(1)}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.transcribe.Load())
}

func TestBuildFromMockConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Transcription.Kind = config.ProviderMock
	cfg.Providers.LLM.Kind = config.ProviderMock
	cfg.Pipeline.RetryInitialInterval = time.Millisecond
	require.NoError(t, cfg.Validate())

	o, err := Build(cfg, metrics.New(), nil, nil)
	require.NoError(t, err)
	rep, err := o.Run(context.Background(), Job{CallID: "demo-1", Source: ingest.Source{Data: speechWAV(2)}, Language: types.LangEnglish})
	require.NoError(t, err)
	assert.Equal(t, "demo-1", rep.CallID)
	assert.Equal(t, types.OverallComplete, rep.OverallStatus)
	assert.Len(t, rep.Summaries, 2, "en and ar are configured by default")
}
