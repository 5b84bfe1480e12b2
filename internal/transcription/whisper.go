package transcription

import (
	"context"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"call-review-go/internal/config"
	"call-review-go/internal/llm"
	"call-review-go/internal/types"
)

// Whisper transcribes through the OpenAI audio API. Whisper does not
// diarize, so segments carry no speaker label.
type Whisper struct {
	cli   *openai.Client
	model string
}

func NewWhisper(p config.TranscriptionProvider) *Whisper {
	cc := openai.DefaultConfig(p.APIKey)
	if p.URL != "" {
		cc.BaseURL = p.URL
	}
	model := p.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{cli: openai.NewClientWithConfig(cc), model: model}
}

func (w *Whisper) Transcribe(ctx context.Context, req Request) (Response, error) {
	ar := openai.AudioRequest{
		Model:    w.model,
		FilePath: req.Filename,
		Reader:   req.Audio,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if req.Language == types.LangEnglish || req.Language == types.LangArabic {
		ar.Language = string(req.Language)
	}
	if ar.FilePath == "" {
		ar.FilePath = "call.wav"
	}
	resp, err := w.cli.CreateTranscription(ctx, ar)
	if err != nil {
		return Response{}, llm.Classify("whisper", err)
	}

	out := Response{Language: whisperLanguage(resp.Language)}
	for _, s := range resp.Segments {
		out.Segments = append(out.Segments, Segment{
			StartMs:    int64(math.Round(s.Start * 1000)),
			EndMs:      int64(math.Round(s.End * 1000)),
			Text:       s.Text,
			Confidence: math.Exp(s.AvgLogprob),
		})
	}
	if len(out.Segments) == 0 && strings.TrimSpace(resp.Text) != "" {
		out.Segments = []Segment{{EndMs: req.DurationMs, Text: resp.Text, Confidence: 0.5}}
	}
	return out, nil
}

// whisperLanguage maps verbose_json language names ("english", "arabic").
func whisperLanguage(name string) string {
	switch strings.ToLower(name) {
	case "english", "en":
		return string(types.LangEnglish)
	case "arabic", "ar":
		return string(types.LangArabic)
	}
	return ""
}
