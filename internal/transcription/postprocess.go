package transcription

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"call-review-go/internal/types"
)

// normalizer turns raw backend segments into a Transcript that satisfies
// the ordering invariant.
type normalizer struct {
	mergeGap   int64
	agentLabel string
}

func newNormalizer(mergeGap time.Duration, agentLabel string) normalizer {
	return normalizer{mergeGap: mergeGap.Milliseconds(), agentLabel: agentLabel}
}

func (n normalizer) normalize(resp Response, hint types.Language) *types.Transcript {
	segs := make([]types.TranscriptSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		text := strings.Join(strings.Fields(s.Text), " ")
		if text == "" {
			continue
		}
		if s.StartMs < 0 {
			s.StartMs = 0
		}
		if s.EndMs < s.StartMs {
			s.EndMs = s.StartMs
		}
		segs = append(segs, types.TranscriptSegment{
			StartMs:      s.StartMs,
			EndMs:        s.EndMs,
			SpeakerLabel: s.Speaker,
			SpeakerRole:  n.role(s.Speaker),
			Text:         text,
			Language:     segmentLanguage(s.Language, text, hint),
			Confidence:   clamp01(s.Confidence),
		})
	}
	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].StartMs != segs[j].StartMs {
			return segs[i].StartMs < segs[j].StartMs
		}
		return segs[i].EndMs < segs[j].EndMs
	})

	out := make([]types.TranscriptSegment, 0, len(segs))
	for _, s := range segs {
		if len(out) == 0 {
			out = append(out, s)
			continue
		}
		prev := &out[len(out)-1]
		switch {
		case s.EndMs <= prev.EndMs && s.SpeakerLabel == prev.SpeakerLabel:
			// fully inside the previous segment
			merge(prev, s)
			continue
		case s.EndMs <= prev.EndMs:
			// Another speaker talking over the previous turn keeps its own
			// role, as a zero-length segment at the end of that turn.
			s.StartMs, s.EndMs = prev.EndMs, prev.EndMs
			out = append(out, s)
			continue
		case s.StartMs < prev.EndMs:
			s.StartMs = prev.EndMs
		}
		if s.SpeakerLabel == prev.SpeakerLabel && s.StartMs-prev.EndMs < n.mergeGap {
			merge(prev, s)
			continue
		}
		out = append(out, s)
	}

	return &types.Transcript{Segments: out, Language: transcriptLanguage(out, resp.Language, hint)}
}

// role maps a diarization label to a speaker role.
func (n normalizer) role(label string) types.SpeakerRole {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case l == "":
		return types.RoleUnknown
	case l == "agent", n.agentLabel != "" && strings.EqualFold(label, n.agentLabel):
		return types.RoleAgent
	default:
		return types.RoleCustomer
	}
}

// merge folds s into prev, weighting confidence by duration.
func merge(prev *types.TranscriptSegment, s types.TranscriptSegment) {
	pd, sd := float64(prev.DurationMs()), float64(s.DurationMs())
	if pd+sd > 0 {
		prev.Confidence = (prev.Confidence*pd + s.Confidence*sd) / (pd + sd)
	} else {
		prev.Confidence = (prev.Confidence + s.Confidence) / 2
	}
	if s.EndMs > prev.EndMs {
		prev.EndMs = s.EndMs
	}
	prev.Text += " " + s.Text
	if prev.Language != s.Language {
		prev.Language = DetectLanguage(prev.Text, prev.Language)
	}
}

func segmentLanguage(reported, text string, hint types.Language) types.Language {
	if l := types.ParseLanguage(reported); l != types.LangAuto {
		return l
	}
	return DetectLanguage(text, hint)
}

// DetectLanguage classifies text by script. Arabic wins when Arabic letters
// outnumber Latin ones; with no letters at all the fallback is returned
// (auto becomes en).
func DetectLanguage(text string, fallback types.Language) types.Language {
	var arabic, latin int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Arabic, r) && unicode.IsLetter(r):
			arabic++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	switch {
	case arabic == 0 && latin == 0:
		if fallback == types.LangAuto || fallback == "" {
			return types.LangEnglish
		}
		return fallback
	case arabic > latin:
		return types.LangArabic
	default:
		return types.LangEnglish
	}
}

// transcriptLanguage is the language covering the most speech time.
func transcriptLanguage(segs []types.TranscriptSegment, reported string, hint types.Language) types.Language {
	if len(segs) == 0 {
		if l := types.ParseLanguage(reported); l != types.LangAuto {
			return l
		}
		if hint != types.LangAuto && hint != "" {
			return hint
		}
		return types.LangEnglish
	}
	var ar, en int64
	for _, s := range segs {
		d := s.DurationMs() + 1
		if s.Language == types.LangArabic {
			ar += d
		} else {
			en += d
		}
	}
	if ar > en {
		return types.LangArabic
	}
	return types.LangEnglish
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
