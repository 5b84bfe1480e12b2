package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"call-review-go/internal/errs"
	"call-review-go/internal/logger"
	"call-review-go/internal/types"
)

// Options bound what the ingestor accepts.
type Options struct {
	MaxDuration   time.Duration
	CanonicalRate int
	MaxBytes      int64
}

// Ingestor validates recordings and normalizes them to the canonical form.
type Ingestor struct {
	opts  Options
	fetch *Fetcher
	log   *logrus.Entry
}

func New(opts Options, fetch *Fetcher, log *logrus.Entry) *Ingestor {
	if opts.CanonicalRate == 0 {
		opts.CanonicalRate = 16000
	}
	if fetch == nil {
		fetch = NewFetcher(0, opts.MaxBytes)
	}
	return &Ingestor{opts: opts, fetch: fetch, log: logger.Component(log, "ingest")}
}

// Request is one recording to ingest.
type Request struct {
	CallID   string
	Source   Source
	Language types.Language
}

// Ingest returns the immutable recording handle and the normalized audio.
// All failures are input errors; nothing here is retried.
func (in *Ingestor) Ingest(ctx context.Context, req Request) (types.CallRecording, *Audio, error) {
	data := req.Source.Data
	if data == nil {
		if req.Source.URI == "" {
			return types.CallRecording{}, nil, &errs.InvalidAudioError{Reason: "no audio bytes or uri supplied"}
		}
		b, err := in.fetch.Fetch(ctx, req.Source.URI)
		if err != nil {
			return types.CallRecording{}, nil, &errs.InvalidAudioError{Reason: "unreadable source", Err: err}
		}
		data = b
	}
	if in.opts.MaxBytes > 0 && int64(len(data)) > in.opts.MaxBytes {
		return types.CallRecording{}, nil, &errs.InvalidAudioError{Reason: "recording exceeds size limit"}
	}

	if reason := unsupportedContainer(req.Source.name(), data); reason != "" {
		return types.CallRecording{}, nil, &errs.InvalidAudioError{Reason: reason}
	}

	p, err := decodeWAV(data)
	if err != nil {
		return types.CallRecording{}, nil, &errs.InvalidAudioError{Reason: "corrupt wav", Err: err}
	}
	frames := p.frames()
	if frames == 0 {
		return types.CallRecording{}, nil, &errs.InvalidAudioError{Reason: "recording has zero duration"}
	}
	duration := time.Duration(int64(frames) * int64(time.Second) / int64(p.SampleRate))
	if in.opts.MaxDuration > 0 && duration > in.opts.MaxDuration {
		return types.CallRecording{}, nil, &errs.DurationExceededError{Duration: duration, Max: in.opts.MaxDuration}
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	callID := req.CallID
	if callID == "" {
		callID = "call-" + digest[:12]
	}
	lang := req.Language
	if lang == "" {
		lang = types.LangAuto
	}

	audio := newAudio(resample(downmix(p), p.SampleRate, in.opts.CanonicalRate), in.opts.CanonicalRate)
	rec := types.CallRecording{
		ID:               callID,
		SourceURI:        req.Source.URI,
		Format:           "wav",
		DurationMs:       duration.Milliseconds(),
		SampleRate:       in.opts.CanonicalRate,
		SourceSampleRate: p.SampleRate,
		Channels:         p.Channels,
		LanguageHint:     lang,
		SHA256:           digest,
	}
	in.log.WithFields(logrus.Fields{
		"call_id":     callID,
		"duration_ms": rec.DurationMs,
		"source_rate": p.SampleRate,
		"channels":    p.Channels,
	}).Debug("recording ingested")
	return rec, audio, nil
}

// unsupportedContainer rejects known non-WAV containers by extension or
// magic bytes before any decoding is attempted.
func unsupportedContainer(name string, data []byte) string {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case "", ".wav", ".wave":
	case ".mp3", ".m4a", ".ogg", ".flac", ".aac", ".opus", ".webm":
		return "unsupported container " + ext + ", submit PCM WAV"
	default:
		return "unrecognized file extension " + ext
	}
	switch {
	case bytes.HasPrefix(data, []byte("ID3")), len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "unsupported container mp3, submit PCM WAV"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "unsupported container ogg, submit PCM WAV"
	case bytes.HasPrefix(data, []byte("fLaC")):
		return "unsupported container flac, submit PCM WAV"
	case len(data) > 8 && string(data[4:8]) == "ftyp":
		return "unsupported container mp4, submit PCM WAV"
	}
	return ""
}
