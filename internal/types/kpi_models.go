// internal/types/kpi_models.go
package types

import "time"

// --------------------------------------------
// Rubric categories
// --------------------------------------------
const (
	CategoryClarity    = "clarity"
	CategoryCompliance = "compliance"
	CategoryEmpathy    = "empathy"
	CategoryResolution = "resolution"
)

// Categories is the fixed rubric key set, in report order.
var Categories = []string{CategoryClarity, CategoryCompliance, CategoryEmpathy, CategoryResolution}

// --------------------------------------------
// Evaluation
// --------------------------------------------
type Complaint struct {
	Detected bool   `json:"detected"`
	Severity string `json:"severity,omitempty"` // low | medium | high
	Excerpt  string `json:"excerpt,omitempty"`
}

// EvaluationScore maps each rubric category to a score in [0,100]. A nil
// score means the category could not be computed.
type EvaluationScore struct {
	Categories map[string]*float64 `json:"categories"`
	Overall    *float64            `json:"overall_score"`
	Rationale  map[string]string   `json:"rationale,omitempty"`
	Complaint  Complaint           `json:"complaint"`
	Source     string              `json:"source"`
	Note       string              `json:"note,omitempty"`
}

// Score returns the category score and whether it was computed.
func (e *EvaluationScore) Score(category string) (float64, bool) {
	if e == nil {
		return 0, false
	}
	v, ok := e.Categories[category]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// Computed reports whether at least one category has a score.
func (e *EvaluationScore) Computed() bool {
	if e == nil {
		return false
	}
	for _, v := range e.Categories {
		if v != nil {
			return true
		}
	}
	return false
}

// --------------------------------------------
// Summary
// --------------------------------------------
type Direction string

const (
	DirLTR Direction = "ltr"
	DirRTL Direction = "rtl"
)

const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)

type Summary struct {
	Language        Language  `json:"language"`
	Text            string    `json:"text"`
	Recommendations []string  `json:"recommendations"`
	Direction       Direction `json:"direction"`
	Source          string    `json:"source"`
}

// --------------------------------------------
// Stage status
// --------------------------------------------
type Stage string

const (
	StageQuality       Stage = "quality_analysis"
	StageTranscription Stage = "transcription"
	StageEvaluation    Stage = "evaluation"
	StageSummarization Stage = "summarization"
)

// Stages lists every post-ingestion stage recorded in a report.
var Stages = []Stage{StageQuality, StageTranscription, StageEvaluation, StageSummarization}

type StatusTag string

const (
	StatusOK      StatusTag = "ok"
	StatusFailed  StatusTag = "failed"
	StatusSkipped StatusTag = "skipped"
)

type StageStatus struct {
	Status StatusTag `json:"status"`
	Reason string    `json:"reason,omitempty"`
}

type OverallStatus string

const (
	OverallComplete  OverallStatus = "complete"
	OverallPartial   OverallStatus = "partial"
	OverallFailed    OverallStatus = "failed"
	OverallCancelled OverallStatus = "cancelled"
)

// --------------------------------------------
// FINAL output handed to the API / storage layer
// --------------------------------------------
type Report struct {
	CallID         string                `json:"call_id"`
	Recording      CallRecording         `json:"recording"`
	QualityMetrics *QualityMetrics       `json:"quality_metrics,omitempty"`
	Transcript     *Transcript           `json:"transcript,omitempty"`
	Scores         *EvaluationScore      `json:"scores,omitempty"`
	Summaries      []Summary             `json:"summaries,omitempty"`
	StageStatus    map[Stage]StageStatus `json:"stage_status"`
	OverallStatus  OverallStatus         `json:"overall_status"`
	GeneratedAt    time.Time             `json:"generated_at"`
	DurationMs     int64                 `json:"duration_ms"`
}

// Summary returns the summary for lang, if one was produced.
func (r *Report) Summary(lang Language) (Summary, bool) {
	for _, s := range r.Summaries {
		if s.Language == lang {
			return s, true
		}
	}
	return Summary{}, false
}
