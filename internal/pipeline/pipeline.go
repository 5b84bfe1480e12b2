// Package pipeline runs one call through ingestion, analysis, evaluation,
// summarization and assembly, and runs many calls through a bounded pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"call-review-go/internal/config"
	"call-review-go/internal/errs"
	"call-review-go/internal/evaluation"
	"call-review-go/internal/ingest"
	"call-review-go/internal/logger"
	"call-review-go/internal/metrics"
	"call-review-go/internal/quality"
	"call-review-go/internal/report"
	"call-review-go/internal/transcription"
	"call-review-go/internal/types"
)

type State string

const (
	StateIngesting   State = "ingesting"
	StateAnalyzing   State = "analyzing"
	StateEvaluating  State = "evaluating"
	StateSummarizing State = "summarizing"
	StateAssembling  State = "assembling"
	StateDone        State = "done"
	StateRejected    State = "rejected"
)

// Stage capabilities, satisfied by the concrete stage packages.
type (
	Ingestor interface {
		Ingest(ctx context.Context, req ingest.Request) (types.CallRecording, *ingest.Audio, error)
	}
	Analyzer interface {
		Analyze(ctx context.Context, a quality.Samples) (types.QualityMetrics, error)
	}
	Transcriber interface {
		Transcribe(ctx context.Context, audio transcription.Audio, name string, hint types.Language) (*types.Transcript, error)
	}
	Evaluator interface {
		Evaluate(ctx context.Context, in evaluation.Input) types.EvaluationScore
	}
	Summarizer interface {
		Summarize(ctx context.Context, tr *types.Transcript, scores *types.EvaluationScore, hint types.Language) ([]types.Summary, error)
		Fallback(tr *types.Transcript, scores *types.EvaluationScore, hint types.Language) []types.Summary
	}
	// Sink receives every assembled report.
	Sink interface {
		Put(ctx context.Context, rep types.Report) error
	}
)

type Stages struct {
	Ingestor    Ingestor
	Analyzer    Analyzer
	Transcriber Transcriber
	Evaluator   Evaluator
	Summarizer  Summarizer
}

type Options struct {
	Sinks   []Sink
	Metrics *metrics.Metrics
	Log     *logrus.Entry
	// Observe is called on every state transition.
	Observe func(callID string, s State)
}

// Job is one call to process.
type Job struct {
	CallID   string
	Source   ingest.Source
	Language types.Language
	// Context is free text handed to the generative assessor.
	Context string
}

type Orchestrator struct {
	stages    Stages
	cfg       config.Pipeline
	assembler *report.Assembler
	opts      Options
	log       *logrus.Entry
}

func New(cfg config.Pipeline, stages Stages, opts Options) *Orchestrator {
	log := logger.Component(opts.Log, "pipeline")
	return &Orchestrator{
		stages:    stages,
		cfg:       cfg,
		assembler: report.NewAssembler(opts.Log),
		opts:      opts,
		log:       log,
	}
}

// stageGrace is how long a timed out stage may take to hand back a partial
// result after its deadline.
const stageGrace = 100 * time.Millisecond

var errStageTimeout = errors.New("stage timed out")

// Run processes one call. The only error is an ingestion failure (the call
// is rejected, no capability was invoked) or cancellation before ingestion
// finished; every other outcome is a Report.
func (o *Orchestrator) Run(ctx context.Context, job Job) (types.Report, error) {
	start := time.Now()
	callID := job.CallID
	log := o.log.WithField("call_id", callID)

	o.enter(callID, StateIngesting)
	if err := ctx.Err(); err != nil {
		return types.Report{}, err
	}
	rec, audio, err := o.stages.Ingestor.Ingest(ctx, ingest.Request{CallID: job.CallID, Source: job.Source, Language: job.Language})
	if err != nil && ctx.Err() != nil {
		log.WithError(err).Info("cancelled during ingestion")
		return types.Report{}, ctx.Err()
	}
	if err != nil {
		o.enter(callID, StateRejected)
		o.opts.Metrics.ObserveRejected()
		log.WithError(err).Warn("recording rejected")
		if !errs.IsInput(err) {
			err = &errs.InvalidAudioError{Reason: "ingestion failed", Err: err}
		}
		return types.Report{}, err
	}
	callID = rec.ID
	log = o.log.WithField("call_id", callID)
	if m := o.opts.Metrics; m != nil {
		m.RunsInFlight.Inc()
		defer m.RunsInFlight.Dec()
	}

	in := report.Input{
		Recording:     rec,
		Quality:       report.Skipped[*types.QualityMetrics]("cancelled"),
		Transcription: report.Skipped[*types.Transcript]("cancelled"),
		Evaluation:    report.Skipped[*types.EvaluationScore]("cancelled"),
		Summarization: report.Skipped[[]types.Summary]("cancelled"),
		StartedAt:     start,
	}
	// Capability calls are not cut short by cancellation of ctx; only the
	// stage timeouts bound them.
	stageCtx := context.WithoutCancel(ctx)

	if in.Cancelled = ctx.Err() != nil; !in.Cancelled {
		o.enter(callID, StateAnalyzing)
		in.Quality, in.Transcription = o.analyze(stageCtx, rec, audio)
	}

	if in.Cancelled = ctx.Err() != nil; !in.Cancelled {
		o.enter(callID, StateEvaluating)
		in.Evaluation = o.evaluate(stageCtx, in.Transcription.Value, in.Quality.Value, job.Context)
	}

	if in.Cancelled = ctx.Err() != nil; !in.Cancelled {
		o.enter(callID, StateSummarizing)
		in.Summarization = o.summarize(stageCtx, in.Transcription.Value, in.Evaluation.Value, rec.LanguageHint)
	}

	o.enter(callID, StateAssembling)
	rep, err := o.assembler.Assemble(in)
	if err != nil {
		log.WithError(err).Warn("report assembled with repairs")
	}
	for _, s := range o.opts.Sinks {
		if err := s.Put(stageCtx, rep); err != nil {
			log.WithError(err).Error("report sink failed")
			if m := o.opts.Metrics; m != nil {
				m.PublishErrors.Inc()
			}
		}
	}
	o.opts.Metrics.ObserveReport(rep.OverallStatus)
	o.enter(callID, StateDone)
	log.WithFields(logrus.Fields{
		"status":      rep.OverallStatus,
		"duration_ms": rep.DurationMs,
	}).Info("call processed")
	return rep, nil
}

// analyze runs quality analysis and transcription concurrently over the
// read-only audio handle.
func (o *Orchestrator) analyze(ctx context.Context, rec types.CallRecording, audio *ingest.Audio) (report.Result[*types.QualityMetrics], report.Result[*types.Transcript]) {
	var (
		q  report.Result[*types.QualityMetrics]
		tr report.Result[*types.Transcript]
		g  errgroup.Group
	)
	g.Go(func() error {
		m, err := runStage(ctx, o, types.StageQuality, func(ctx context.Context) (types.QualityMetrics, error) {
			return o.stages.Analyzer.Analyze(ctx, audio)
		})
		if err != nil {
			q = report.Failed[*types.QualityMetrics](err.Error())
		} else {
			q = report.Ok(&m)
		}
		return nil
	})
	g.Go(func() error {
		t, err := runStage(ctx, o, types.StageTranscription, func(ctx context.Context) (*types.Transcript, error) {
			return o.stages.Transcriber.Transcribe(ctx, audio, rec.ID+".wav", rec.LanguageHint)
		})
		switch {
		case err == nil && t != nil:
			tr = report.Ok(t)
		case err == nil:
			tr = report.Failed[*types.Transcript]("no transcript returned")
		case t != nil:
			tr = report.FailedWith(t, err.Error())
		default:
			tr = report.Failed[*types.Transcript](err.Error())
		}
		return nil
	})
	_ = g.Wait()
	return q, tr
}

func (o *Orchestrator) evaluate(ctx context.Context, tr *types.Transcript, qm *types.QualityMetrics, evalContext string) report.Result[*types.EvaluationScore] {
	if tr == nil {
		return report.Skipped[*types.EvaluationScore]("no transcript")
	}
	s, err := runStage(ctx, o, types.StageEvaluation, func(ctx context.Context) (types.EvaluationScore, error) {
		s := o.stages.Evaluator.Evaluate(ctx, evaluation.Input{Transcript: tr, Metrics: qm, Context: evalContext})
		if !s.Computed() {
			if s.Note == "" {
				return s, errors.New(evaluation.NoteInsufficientInput)
			}
			return s, errors.New(s.Note)
		}
		return s, nil
	})
	switch {
	case err != nil && s.Categories != nil:
		return report.FailedWith(&s, err.Error())
	case err != nil:
		return report.Failed[*types.EvaluationScore](err.Error())
	}
	return report.Ok(&s)
}

func (o *Orchestrator) summarize(ctx context.Context, tr *types.Transcript, scores *types.EvaluationScore, hint types.Language) report.Result[[]types.Summary] {
	if tr == nil {
		return report.Skipped[[]types.Summary]("no transcript")
	}
	sums, err := runStage(ctx, o, types.StageSummarization, func(ctx context.Context) ([]types.Summary, error) {
		return o.stages.Summarizer.Summarize(ctx, tr, scores, hint)
	})
	switch {
	case err != nil && len(sums) > 0:
		return report.FailedWith(sums, err.Error())
	case err != nil:
		// Timed out or crashed before any summary came back.
		return report.FailedWith(o.stages.Summarizer.Fallback(tr, scores, hint), err.Error())
	}
	return report.Ok(sums)
}

// runStage bounds fn by the stage timeout, converts panics into errors and
// records the stage metrics. A stage that overruns its deadline is failed;
// a result delivered within stageGrace after the deadline is still used.
func runStage[T any](ctx context.Context, o *Orchestrator, stage types.Stage, fn func(context.Context) (T, error)) (T, error) {
	timeout := o.cfg.TimeoutFor(stage)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				o.log.WithField("stage", stage).WithField("panic", p).Error("stage panicked")
				done <- result{err: fmt.Errorf("%s crashed: %v", stage, p)}
			}
		}()
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		select {
		case r = <-done:
		case <-time.After(stageGrace):
			r.err = fmt.Errorf("%w after %s", errStageTimeout, timeout)
		}
	}
	status := types.StatusOK
	if r.err != nil {
		status = types.StatusFailed
		o.log.WithError(r.err).WithField("stage", stage).Warn("stage failed")
	}
	o.opts.Metrics.ObserveStage(stage, status, time.Since(start))
	return r.v, r.err
}

func (o *Orchestrator) enter(callID string, s State) {
	o.log.WithField("call_id", callID).WithField("state", s).Debug("state")
	if o.opts.Observe != nil {
		o.opts.Observe(callID, s)
	}
}
