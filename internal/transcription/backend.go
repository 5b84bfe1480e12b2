// Package transcription turns canonical audio into an ordered, speaker
// attributed transcript by delegating to a pluggable speech-to-text backend.
package transcription

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"call-review-go/internal/config"
	"call-review-go/internal/types"
)

// Request is what a backend receives for one attempt. Audio is a fresh
// reader over 16-bit mono WAV.
type Request struct {
	Audio      io.Reader
	Filename   string
	DurationMs int64
	Language   types.Language
}

// Segment is a backend's raw output before post-processing. Speaker is the
// diarization label, if any; Language is empty when the backend does not
// report it.
type Segment struct {
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	Speaker    string  `json:"speaker,omitempty"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
}

type Response struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language,omitempty"`
}

// Backend is the speech-to-text capability. A backend that fails midway may
// return the segments it produced together with a non-nil error; the
// transcriber keeps them as a partial transcript.
type Backend interface {
	Transcribe(ctx context.Context, req Request) (Response, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (Response, error)

func (f BackendFunc) Transcribe(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// FromConfig builds the backend selected by the provider kind.
func FromConfig(p config.TranscriptionProvider, log *logrus.Entry) (Backend, error) {
	switch p.Kind {
	case config.ProviderMock:
		return Mock{}, nil
	case config.ProviderOpenAI:
		return NewWhisper(p), nil
	case config.ProviderHTTP:
		return NewHTTPService(p.URL, p.APIKey, 0, log), nil
	}
	return nil, fmt.Errorf("unknown transcription provider %q", p.Kind)
}
