package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"call-review-go/internal/llm"
	"call-review-go/internal/types"
)

type Request struct {
	Transcript *types.Transcript
	Scores     *types.EvaluationScore
	Language   types.Language
}

// Response is the prompt contract: {"summary": "...", "recommendations": ["..."]}.
type Response struct {
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
}

// Backend is the text generation capability.
type Backend interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

type BackendFunc func(ctx context.Context, req Request) (Response, error)

func (f BackendFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

const systemPrompt = `You are the Summary and Recommendation analyst of a call center quality framework.
You receive the transcript of a customer service call and its evaluation scores.

Summary guidelines:
a) Summarize the call professionally and clearly in %[1]s.
b) Focus on the main purpose of the call, the key events and the final outcome.
c) The summary must be understandable without listening to the call.
d) Use only what is explicitly present in the transcript, no speculation.
e) Extract issues, resolutions and noteworthy moments instead of retelling the conversation.

Recommendation guidelines:
a) Suggest clear, actionable communication improvements in %[1]s for the agent.
b) Be specific to this call and include example phrases the agent could have used.
c) Be constructive, not judgmental.
d) If the call was excellent, say that no major improvements are needed.

Return ONLY a JSON object, no markdown:
{"summary":"...","recommendations":["..."]}`

var languageNames = map[types.Language]string{
	types.LangEnglish: "English",
	types.LangArabic:  "Arabic",
}

// LLMBackend generates summaries with a chat model.
type LLMBackend struct {
	client llm.Client
}

func NewLLMBackend(client llm.Client) *LLMBackend {
	return &LLMBackend{client: client}
}

func (b *LLMBackend) Generate(ctx context.Context, req Request) (Response, error) {
	name, ok := languageNames[req.Language]
	if !ok {
		name = languageNames[types.LangEnglish]
	}
	reply, err := b.client.Complete(ctx, fmt.Sprintf(systemPrompt, name), userPrompt(req))
	if err != nil {
		return Response{}, err
	}
	var out Response
	if err := llm.Decode("summary", reply, &out); err != nil {
		return Response{}, err
	}
	return out, nil
}

func userPrompt(req Request) string {
	var b strings.Builder
	if req.Scores.Computed() {
		raw, _ := json.Marshal(struct {
			Categories map[string]*float64 `json:"categories"`
			Overall    *float64            `json:"overall_score"`
			Complaint  types.Complaint     `json:"complaint"`
		}{req.Scores.Categories, req.Scores.Overall, req.Scores.Complaint})
		fmt.Fprintf(&b, "EVALUATION REPORT:\n%s\n\n", raw)
	}
	b.WriteString("TRANSCRIPT:\n")
	b.WriteString(req.Transcript.Text())
	return b.String()
}

// Mock answers with the extractive template, as a model would. Enabled with
// USE_MOCK_LLM=true.
type Mock struct{}

func (Mock) Generate(_ context.Context, req Request) (Response, error) {
	return extractive(req.Transcript, req.Scores, req.Language), nil
}
