package summary

import (
	"fmt"
	"strings"

	"call-review-go/internal/actionable"
	"call-review-go/internal/types"
)

type template struct {
	call       string
	scores     string
	noScores   string
	customer   string
	agent      string
	complaint  string
	categories map[string]string
	severities map[string]string
}

var templates = map[types.Language]template{
	types.LangEnglish: {
		call:      "Call of %s between the agent and the customer.",
		scores:    "Overall score %.0f/100. Strongest area: %s (%.0f). Weakest area: %s (%.0f).",
		noScores:  "Evaluation scores were not available.",
		customer:  "The customer said: \"%s\"",
		agent:     "The agent closed with: \"%s\"",
		complaint: "A %s severity complaint was raised.",
		categories: map[string]string{
			types.CategoryClarity:    "clarity",
			types.CategoryCompliance: "compliance",
			types.CategoryEmpathy:    "empathy",
			types.CategoryResolution: "resolution",
		},
		severities: map[string]string{"low": "low", "medium": "medium", "high": "high"},
	},
	types.LangArabic: {
		call:      "مكالمة مدتها %s بين الموظف والعميل.",
		scores:    "التقييم العام %.0f من 100. أقوى جانب: %s (%.0f). أضعف جانب: %s (%.0f).",
		noScores:  "لم تتوفر درجات التقييم.",
		customer:  "قال العميل: «%s»",
		agent:     "وختم الموظف بقوله: «%s»",
		complaint: "تم رصد شكوى بدرجة %s.",
		categories: map[string]string{
			types.CategoryClarity:    "الوضوح",
			types.CategoryCompliance: "الالتزام",
			types.CategoryEmpathy:    "التعاطف",
			types.CategoryResolution: "حل المشكلة",
		},
		severities: map[string]string{"low": "منخفضة", "medium": "متوسطة", "high": "عالية"},
	},
}

// extractive builds a summary from the transcript and scores alone.
func extractive(tr *types.Transcript, scores *types.EvaluationScore, lang types.Language) Response {
	t, ok := templates[lang]
	if !ok {
		t = templates[types.LangEnglish]
	}
	parts := []string{fmt.Sprintf(t.call, clock(span(tr)))}

	if hi, lo, ok := extremes(scores); ok && scores.Overall != nil {
		hv, _ := scores.Score(hi)
		lv, _ := scores.Score(lo)
		parts = append(parts, fmt.Sprintf(t.scores, *scores.Overall, t.categories[hi], hv, t.categories[lo], lv))
	} else {
		parts = append(parts, t.noScores)
	}
	if s := firstOf(tr, types.RoleCustomer); s != "" {
		parts = append(parts, fmt.Sprintf(t.customer, s))
	}
	if s := lastOf(tr, types.RoleAgent); s != "" {
		parts = append(parts, fmt.Sprintf(t.agent, s))
	}
	if scores != nil && scores.Complaint.Detected {
		parts = append(parts, fmt.Sprintf(t.complaint, t.severities[scores.Complaint.Severity]))
	}
	return Response{
		Summary:         strings.Join(parts, " "),
		Recommendations: actionable.Recommend(scores, lang),
	}
}

// extremes returns the highest and lowest computed categories, first wins
// on ties.
func extremes(s *types.EvaluationScore) (hi, lo string, ok bool) {
	var hv, lv float64
	for _, c := range types.Categories {
		v, computed := s.Score(c)
		if !computed {
			continue
		}
		if !ok || v > hv {
			hi, hv = c, v
		}
		if !ok || v < lv {
			lo, lv = c, v
		}
		ok = true
	}
	return hi, lo, ok
}

func span(tr *types.Transcript) int64 {
	if tr.Empty() {
		return 0
	}
	return tr.Segments[len(tr.Segments)-1].EndMs - tr.Segments[0].StartMs
}

func clock(ms int64) string {
	sec := (ms + 500) / 1000
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}

// firstOf returns an excerpt of the first segment spoken by role, or of the
// first segment when no segment carries that role.
func firstOf(tr *types.Transcript, role types.SpeakerRole) string {
	if tr.Empty() {
		return ""
	}
	for _, s := range tr.Segments {
		if s.SpeakerRole == role {
			return excerpt(s.Text)
		}
	}
	return excerpt(tr.Segments[0].Text)
}

func lastOf(tr *types.Transcript, role types.SpeakerRole) string {
	if tr.Empty() {
		return ""
	}
	for i := len(tr.Segments) - 1; i >= 0; i-- {
		if tr.Segments[i].SpeakerRole == role {
			return excerpt(tr.Segments[i].Text)
		}
	}
	return excerpt(tr.Segments[len(tr.Segments)-1].Text)
}

func excerpt(s string) string {
	rs := []rune(strings.TrimSpace(s))
	if len(rs) <= 120 {
		return string(rs)
	}
	return strings.TrimSpace(string(rs[:120])) + "…"
}
