// Package report folds tagged stage results into a single Report.
package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"call-review-go/internal/errs"
	"call-review-go/internal/logger"
	"call-review-go/internal/rtl"
	"call-review-go/internal/types"
)

// Result is the tagged outcome of one stage. A failed result may still carry
// a value (a partial transcript, fallback summaries).
type Result[T any] struct {
	Status types.StatusTag
	Value  T
	Reason string
}

func Ok[T any](v T) Result[T] { return Result[T]{Status: types.StatusOK, Value: v} }

func Failed[T any](reason string) Result[T] {
	return Result[T]{Status: types.StatusFailed, Reason: reason}
}

// FailedWith is a failure that kept a usable value.
func FailedWith[T any](v T, reason string) Result[T] {
	return Result[T]{Status: types.StatusFailed, Value: v, Reason: reason}
}

func Skipped[T any](reason string) Result[T] {
	return Result[T]{Status: types.StatusSkipped, Reason: reason}
}

func (r Result[T]) stageStatus() types.StageStatus {
	if r.Status == "" {
		return types.StageStatus{Status: types.StatusSkipped, Reason: "not run"}
	}
	return types.StageStatus{Status: r.Status, Reason: r.Reason}
}

// Input is everything produced for one call after ingestion.
type Input struct {
	Recording     types.CallRecording
	Quality       Result[*types.QualityMetrics]
	Transcription Result[*types.Transcript]
	Evaluation    Result[*types.EvaluationScore]
	Summarization Result[[]types.Summary]
	Cancelled     bool
	StartedAt     time.Time
}

type Assembler struct {
	log *logrus.Entry
	now func() time.Time
}

func NewAssembler(log *logrus.Entry) *Assembler {
	return &Assembler{log: logger.Component(log, "report"), now: time.Now}
}

// Assemble always returns a usable Report. Invariant violations found on the
// way are repaired, logged and returned joined as the error; callers treat
// that error as a defect signal, not a failed call.
func (a *Assembler) Assemble(in Input) (types.Report, error) {
	now := a.now()
	rep := types.Report{
		CallID:         in.Recording.ID,
		Recording:      in.Recording,
		QualityMetrics: in.Quality.Value,
		Transcript:     in.Transcription.Value,
		Scores:         in.Evaluation.Value,
		Summaries:      in.Summarization.Value,
		StageStatus: map[types.Stage]types.StageStatus{
			types.StageQuality:       in.Quality.stageStatus(),
			types.StageTranscription: in.Transcription.stageStatus(),
			types.StageEvaluation:    in.Evaluation.stageStatus(),
			types.StageSummarization: in.Summarization.stageStatus(),
		},
		GeneratedAt: now.UTC(),
	}
	if !in.StartedAt.IsZero() {
		rep.DurationMs = now.Sub(in.StartedAt).Milliseconds()
	}

	var violations []error
	violate := func(err error) {
		violations = append(violations, err)
		a.log.WithError(err).WithField("call_id", rep.CallID).Error("report invariant violated, repairing")
	}

	if rep.Transcript != nil {
		if err := rep.Transcript.Validate(); err != nil {
			violate(err)
			rep.Transcript = rep.Transcript.Repair()
		}
	}
	a.checkPresence(&rep, violate)
	rep.Summaries = a.checkSummaries(rep.Summaries, violate)
	rep.OverallStatus = overall(rep, in.Cancelled)

	return rep, errors.Join(violations...)
}

// checkPresence demotes stages reported ok without a value.
func (a *Assembler) checkPresence(rep *types.Report, violate func(error)) {
	present := map[types.Stage]bool{
		types.StageQuality:       rep.QualityMetrics != nil,
		types.StageTranscription: rep.Transcript != nil,
		types.StageEvaluation:    rep.Scores != nil,
		types.StageSummarization: len(rep.Summaries) > 0,
	}
	for _, stage := range types.Stages {
		st := rep.StageStatus[stage]
		if st.Status == types.StatusOK && !present[stage] {
			violate(&errs.AssemblyInvariantError{Detail: fmt.Sprintf("stage %s ok without a result", stage)})
			rep.StageStatus[stage] = types.StageStatus{Status: types.StatusFailed, Reason: "no result produced"}
		}
	}
}

// checkSummaries drops duplicate languages and fixes direction and shaping
// of right-to-left summaries.
func (a *Assembler) checkSummaries(in []types.Summary, violate func(error)) []types.Summary {
	if in == nil {
		return nil
	}
	seen := map[types.Language]bool{}
	out := make([]types.Summary, 0, len(in))
	for _, s := range in {
		if seen[s.Language] {
			violate(&errs.AssemblyInvariantError{Detail: fmt.Sprintf("duplicate %s summary", s.Language)})
			continue
		}
		seen[s.Language] = true
		if want := rtl.DirectionFor(s.Language); s.Direction != want {
			violate(&errs.AssemblyInvariantError{Detail: fmt.Sprintf("%s summary direction %q", s.Language, s.Direction)})
			s.Direction = want
		}
		if s.Direction == types.DirRTL && rtl.Validate(s.Text) != nil {
			violate(&errs.AssemblyInvariantError{Detail: fmt.Sprintf("%s summary is not shaped", s.Language)})
			s.Text = rtl.Shape(s.Text)
			recs := make([]string, len(s.Recommendations))
			for i, r := range s.Recommendations {
				recs[i] = rtl.Shape(r)
			}
			s.Recommendations = recs
		}
		out = append(out, s)
	}
	return out
}

func overall(rep types.Report, cancelled bool) types.OverallStatus {
	if cancelled {
		return types.OverallCancelled
	}
	complete := true
	for _, stage := range types.Stages {
		if rep.StageStatus[stage].Status != types.StatusOK {
			complete = false
			break
		}
	}
	switch {
	case complete:
		return types.OverallComplete
	case rep.Transcript != nil:
		return types.OverallPartial
	default:
		return types.OverallFailed
	}
}
