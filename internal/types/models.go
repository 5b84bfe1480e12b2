package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"call-review-go/internal/errs"
)

type Language string

const (
	LangEnglish Language = "en"
	LangArabic  Language = "ar"
	LangAuto    Language = "auto"
)

// ParseLanguage normalizes a user supplied hint; anything unknown is auto.
func ParseLanguage(s string) Language {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "en", "eng", "english":
		return LangEnglish
	case "ar", "ara", "arabic":
		return LangArabic
	default:
		return LangAuto
	}
}

// CallRecording is the immutable handle produced at ingestion.
type CallRecording struct {
	ID               string   `json:"id"`
	SourceURI        string   `json:"source_uri,omitempty"`
	Format           string   `json:"format"`
	DurationMs       int64    `json:"duration_ms"`
	SampleRate       int      `json:"sample_rate"`
	SourceSampleRate int      `json:"source_sample_rate"`
	Channels         int      `json:"channels"`
	LanguageHint     Language `json:"language_hint"`
	SHA256           string   `json:"sha256"`
}

func (c CallRecording) Duration() time.Duration {
	return time.Duration(c.DurationMs) * time.Millisecond
}

type SpeakerRole string

const (
	RoleAgent    SpeakerRole = "agent"
	RoleCustomer SpeakerRole = "customer"
	RoleUnknown  SpeakerRole = "unknown"
)

type TranscriptSegment struct {
	StartMs      int64       `json:"start_ms"`
	EndMs        int64       `json:"end_ms"`
	SpeakerRole  SpeakerRole `json:"speaker_role"`
	SpeakerLabel string      `json:"speaker_label,omitempty"`
	Text         string      `json:"text"`
	Language     Language    `json:"language"`
	Confidence   float64     `json:"confidence"`
}

func (s TranscriptSegment) DurationMs() int64 { return s.EndMs - s.StartMs }

// Transcript holds time-ordered, non-overlapping segments.
type Transcript struct {
	Segments   []TranscriptSegment `json:"segments"`
	Language   Language            `json:"language"`
	Incomplete bool                `json:"incomplete"`
}

func (t *Transcript) Empty() bool { return t == nil || len(t.Segments) == 0 }

// Text renders the transcript as one line per segment, prefixed by role.
func (t *Transcript) Text() string {
	if t.Empty() {
		return ""
	}
	var b strings.Builder
	for _, s := range t.Segments {
		fmt.Fprintf(&b, "[%s] %s\n", s.SpeakerRole, strings.TrimSpace(s.Text))
	}
	return b.String()
}

// Validate checks the ordering invariant seg[i].EndMs <= seg[i+1].StartMs.
func (t *Transcript) Validate() error {
	if t == nil {
		return nil
	}
	for i, s := range t.Segments {
		if s.EndMs < s.StartMs {
			return &errs.AssemblyInvariantError{Detail: fmt.Sprintf("segment %d ends before it starts (%d < %d)", i, s.EndMs, s.StartMs)}
		}
		if i > 0 && t.Segments[i-1].EndMs > s.StartMs {
			return &errs.AssemblyInvariantError{Detail: fmt.Sprintf("segment %d overlaps segment %d (%d > %d)", i-1, i, t.Segments[i-1].EndMs, s.StartMs)}
		}
	}
	return nil
}

// Repair returns a copy that satisfies Validate by sorting on start time and
// clamping each start to the previous end.
func (t *Transcript) Repair() *Transcript {
	out := t.Clone()
	if out == nil {
		return nil
	}
	sort.SliceStable(out.Segments, func(i, j int) bool { return out.Segments[i].StartMs < out.Segments[j].StartMs })
	for i := range out.Segments {
		if i > 0 && out.Segments[i].StartMs < out.Segments[i-1].EndMs {
			out.Segments[i].StartMs = out.Segments[i-1].EndMs
		}
		if out.Segments[i].EndMs < out.Segments[i].StartMs {
			out.Segments[i].EndMs = out.Segments[i].StartMs
		}
	}
	return out
}

func (t *Transcript) Clone() *Transcript {
	if t == nil {
		return nil
	}
	out := *t
	out.Segments = append([]TranscriptSegment(nil), t.Segments...)
	return &out
}

// QualityMetrics are objective signal statistics for one recording.
type QualityMetrics struct {
	NoiseFloorDB   float64 `json:"noise_floor_db"`
	ClippingRatio  float64 `json:"clipping_ratio"`
	SilenceRatio   float64 `json:"silence_ratio"`
	EstimatedSNRDB float64 `json:"estimated_snr_db"`
	ClarityScore   float64 `json:"overall_clarity_score"`
}
