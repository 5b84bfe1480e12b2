// Package evaluation scores a call against a fixed rubric, optionally
// blended with a generative assessment.
package evaluation

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"call-review-go/internal/logger"
	"call-review-go/internal/types"
)

const (
	SourceRubric      = "rubric"
	SourceRubricModel = "rubric+model"

	NoteInsufficientInput = "insufficient input"
)

// Input is everything the evaluator looks at. Metrics may be nil.
type Input struct {
	Transcript *types.Transcript
	Metrics    *types.QualityMetrics
	// Context is free text from the reviewer passed to the assessor.
	Context string
}

type Evaluator struct {
	rubric   rubric
	weights  map[string]float64
	blend    float64
	assessor Assessor
	log      *logrus.Entry
}

// New builds an evaluator. assessor may be nil; blend is the weight given
// to the assessor's category scores.
func New(weights map[string]float64, blend float64, assessor Assessor, log *logrus.Entry) *Evaluator {
	return &Evaluator{
		rubric:   rubric{lex: DefaultLexicon()},
		weights:  weights,
		blend:    blend,
		assessor: assessor,
		log:      logger.Component(log, "evaluation"),
	}
}

// Evaluate never fails. An empty or absent transcript yields all-null
// categories with NoteInsufficientInput.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) types.EvaluationScore {
	out := types.EvaluationScore{
		Categories: make(map[string]*float64, len(types.Categories)),
		Rationale:  make(map[string]string, len(types.Categories)),
		Source:     SourceRubric,
	}
	for _, c := range types.Categories {
		out.Categories[c] = nil
	}
	if in.Transcript.Empty() {
		out.Note = NoteInsufficientInput
		return out
	}

	v := newView(in.Transcript)
	out.Complaint = e.rubric.complaint(v)
	results := map[string]categoryResult{
		types.CategoryClarity:    e.rubric.clarity(v, in.Metrics),
		types.CategoryCompliance: e.rubric.compliance(v),
		types.CategoryEmpathy:    e.rubric.empathy(v),
		types.CategoryResolution: e.rubric.resolution(v, out.Complaint),
	}
	for c, r := range results {
		out.Categories[c] = r.score
		out.Rationale[c] = r.rationale
	}

	if e.assessor != nil {
		e.applyAssessment(ctx, in, &out)
	}
	out.Overall = e.overall(out.Categories)
	return out
}

func (e *Evaluator) applyAssessment(ctx context.Context, in Input, out *types.EvaluationScore) {
	resp, err := e.assessor.Assess(ctx, AssessRequest{
		Transcript:   in.Transcript,
		Metrics:      in.Metrics,
		RubricScores: out.Categories,
		Context:      in.Context,
	})
	if err != nil {
		e.log.WithError(err).Warn("assessor failed, using rubric only")
		out.Note = "model assessment unavailable, rubric only"
		return
	}
	for _, c := range types.Categories {
		base := out.Categories[c]
		m, ok := resp.Scores[c]
		if base == nil || !ok || math.IsNaN(m) {
			continue
		}
		m = math.Max(0, math.Min(100, m))
		out.Categories[c] = score((1-e.blend)*(*base) + e.blend*m)
		if note := resp.Rationale[c]; note != "" {
			out.Rationale[c] += "; model: " + note
		}
	}
	if resp.Complaint.Detected && rankOf(resp.Complaint.Severity) > rankOf(out.Complaint.Severity) {
		out.Complaint = resp.Complaint
	}
	out.Source = SourceRubricModel
}

// overall is the weighted mean over computed categories, renormalized by
// the weights that are present.
func (e *Evaluator) overall(cats map[string]*float64) *float64 {
	var sum, wsum float64
	for _, c := range types.Categories {
		s := cats[c]
		if s == nil {
			continue
		}
		w := e.weights[c]
		sum += w * (*s)
		wsum += w
	}
	if wsum == 0 {
		return nil
	}
	return score(sum / wsum)
}

func rankOf(severity string) int {
	switch severity {
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	}
	return 0
}
