package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"call-review-go/internal/errs"
	"call-review-go/internal/llm"
	"call-review-go/internal/types"
)

// Assessor is the generative evaluation capability.
type Assessor interface {
	Assess(ctx context.Context, req AssessRequest) (AssessResponse, error)
}

type AssessRequest struct {
	Transcript   *types.Transcript
	Metrics      *types.QualityMetrics
	RubricScores map[string]*float64
	Context      string
}

type AssessResponse struct {
	Scores    map[string]float64 `json:"scores"`
	Rationale map[string]string  `json:"rationale"`
	Complaint types.Complaint    `json:"complaint"`
}

const assessSystemPrompt = `You are the evaluation analyst of a call center quality framework.
Read the transcript of a recorded customer support call and score the agent from 0 to 100 on:

1) clarity: the agent communicated clearly and avoided ambiguous or contradictory statements.
2) compliance: greeting, identity verification, proper closing, no rude or dismissive language.
3) empathy: polite, friendly, empathetic tone; acknowledges the customer's feelings.
4) resolution: the customer's most important point was addressed and the customer seems satisfied.

Also detect whether the customer issued a complaint, explicit or implicit, with severity low, medium or high.

Return ONLY a JSON object, no markdown:
{"scores":{"clarity":0,"compliance":0,"empathy":0,"resolution":0},
 "rationale":{"clarity":"","compliance":"","empathy":"","resolution":""},
 "complaint":{"detected":false,"severity":"","excerpt":""}}`

// LLMAssessor asks a chat model for category scores.
type LLMAssessor struct {
	client llm.Client
}

func NewLLMAssessor(client llm.Client) *LLMAssessor {
	return &LLMAssessor{client: client}
}

func (a *LLMAssessor) Assess(ctx context.Context, req AssessRequest) (AssessResponse, error) {
	reply, err := a.client.Complete(ctx, assessSystemPrompt, assessUserPrompt(req))
	if err != nil {
		return AssessResponse{}, err
	}
	var out AssessResponse
	if err := llm.Decode("assessor", reply, &out); err != nil {
		return AssessResponse{}, err
	}
	if len(out.Scores) == 0 {
		return AssessResponse{}, &errs.CapabilityFailure{Capability: "assessor", Err: errors.New("no scores in reply")}
	}
	out.Complaint.Severity = strings.ToLower(out.Complaint.Severity)
	return out, nil
}

func assessUserPrompt(req AssessRequest) string {
	var b strings.Builder
	if c := strings.TrimSpace(req.Context); c != "" {
		b.WriteString("EVALUATION CONTEXT:\n")
		b.WriteString(c)
		b.WriteString("\n\n")
	}
	if req.Metrics != nil {
		fmt.Fprintf(&b, "AUDIO CLARITY SCORE: %.0f/100 (SNR %.1f dB)\n\n", req.Metrics.ClarityScore, req.Metrics.EstimatedSNRDB)
	}
	if len(req.RubricScores) > 0 {
		flat := map[string]any{}
		for k, v := range req.RubricScores {
			if v != nil {
				flat[k] = *v
			} else {
				flat[k] = nil
			}
		}
		raw, _ := json.Marshal(flat)
		fmt.Fprintf(&b, "RULE-BASED SCORES (for reference):\n%s\n\n", raw)
	}
	b.WriteString("TRANSCRIPT:\n")
	b.WriteString(req.Transcript.Text())
	return b.String()
}
