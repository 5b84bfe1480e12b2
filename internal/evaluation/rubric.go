package evaluation

import (
	"fmt"
	"math"
	"strings"

	"call-review-go/internal/types"
)

// Rubric scoring, all categories in [0,100]:
//
//	clarity    = 0.6*audio clarity + 0.4*mean confidence*100 - filler penalty (max 20)
//	compliance = greeting 30 + closing 30 + verification 25 + no prohibited phrase 15
//	empathy    = empathy phrases (20 each, max 60) + talk balance 25 + customer sentiment 15
//	resolution = 15 + resolution phrase 45 + late customer sentiment 40
//	             - unresolved marker 25 - unresolved complaint penalty (10/15/25)
//
// Clarity is null without quality metrics.

// view is the transcript split by role with normalized text.
type view struct {
	agent       []string
	customer    []string
	agentMs     int64
	customerMs  int64
	confidence  float64
	agentWords  int
	attributed  bool
	rawCustomer []string
}

func newView(tr *types.Transcript) view {
	var v view
	for _, s := range tr.Segments {
		if s.SpeakerRole == types.RoleAgent || s.SpeakerRole == types.RoleCustomer {
			v.attributed = true
			break
		}
	}
	var confSum, durSum float64
	for _, s := range tr.Segments {
		norm := normalize(s.Text)
		d := float64(s.DurationMs() + 1)
		confSum += s.Confidence * d
		durSum += d
		isAgent := s.SpeakerRole == types.RoleAgent || !v.attributed
		isCustomer := s.SpeakerRole == types.RoleCustomer || !v.attributed
		if isAgent {
			v.agent = append(v.agent, norm)
			v.agentMs += s.DurationMs()
			v.agentWords += len(strings.Fields(norm))
		}
		if isCustomer {
			v.customer = append(v.customer, norm)
			v.rawCustomer = append(v.rawCustomer, s.Text)
			v.customerMs += s.DurationMs()
		}
	}
	if durSum > 0 {
		v.confidence = confSum / durSum
	}
	return v
}

type rubric struct {
	lex Lexicon
}

type categoryResult struct {
	score     *float64
	rationale string
}

func score(v float64) *float64 {
	v = math.Round(math.Max(0, math.Min(100, v))*10) / 10
	return &v
}

func (r rubric) clarity(v view, qm *types.QualityMetrics) categoryResult {
	if qm == nil {
		return categoryResult{rationale: "not computed: audio quality metrics unavailable"}
	}
	fillers := 0
	for _, t := range v.agent {
		for _, w := range strings.Fields(t) {
			for _, f := range r.lex.Fillers {
				if w == f {
					fillers++
					break
				}
			}
		}
	}
	rate := 0.0
	if v.agentWords > 0 {
		rate = float64(fillers) / float64(v.agentWords)
	}
	penalty := math.Min(20, rate*200)
	s := 0.6*qm.ClarityScore + 0.4*v.confidence*100 - penalty
	return categoryResult{
		score:     score(s),
		rationale: fmt.Sprintf("audio clarity %.0f, mean transcript confidence %.2f, filler rate %.1f%%", qm.ClarityScore, v.confidence, rate*100),
	}
}

func (r rubric) compliance(v view) categoryResult {
	var (
		s     float64
		notes []string
	)
	if n := len(v.agent); n > 0 {
		if matchAny(strings.Join(v.agent[:min(2, n)], " "), r.lex.Greetings) {
			s += 30
			notes = append(notes, "greeting given")
		} else {
			notes = append(notes, "no greeting")
		}
		if matchAny(strings.Join(v.agent[max(0, n-2):], " "), r.lex.Closings) {
			s += 30
			notes = append(notes, "proper closing")
		} else {
			notes = append(notes, "no closing")
		}
	}
	all := strings.Join(v.agent, " ")
	if matchAny(all, r.lex.Verification) {
		s += 25
		notes = append(notes, "identity verified")
	} else {
		notes = append(notes, "no identity verification")
	}
	if matchAny(all, r.lex.Prohibited) {
		notes = append(notes, "prohibited phrase used")
	} else {
		s += 15
	}
	return categoryResult{score: score(s), rationale: strings.Join(notes, "; ")}
}

func (r rubric) empathy(v view) categoryResult {
	phrases := countAny(strings.Join(v.agent, " "), r.lex.Empathy)
	s := math.Min(60, float64(phrases)*20)

	balance := 12.5
	if v.attributed && v.agentMs+v.customerMs > 0 {
		share := float64(v.agentMs) / float64(v.agentMs+v.customerMs)
		dist := 0.0
		switch {
		case share < 0.35:
			dist = 0.35 - share
		case share > 0.65:
			dist = share - 0.65
		}
		balance = 25 * math.Max(0, 1-dist/0.35)
	}
	pol := r.lex.polarity(strings.Join(v.customer, " "))
	s += balance + 15*(pol+1)/2
	return categoryResult{
		score:     score(s),
		rationale: fmt.Sprintf("%d empathy phrase(s), talk balance %.1f/25, customer sentiment %+.2f", phrases, balance, pol),
	}
}

func (r rubric) resolution(v view, c types.Complaint) categoryResult {
	all := strings.Join(append(append([]string{}, v.agent...), v.customer...), " ")
	resolved := matchAny(strings.Join(v.agent, " "), r.lex.Resolution)
	unresolved := matchAny(all, r.lex.Unresolved)

	late := v.customer
	if n := len(late); n > 2 {
		late = late[n-(n+2)/3:]
	}
	pol := r.lex.polarity(strings.Join(late, " "))

	s := 15 + 40*(pol+1)/2
	var notes []string
	if resolved {
		s += 45
		notes = append(notes, "resolution stated")
	} else {
		notes = append(notes, "no resolution stated")
	}
	if unresolved {
		s -= 25
		notes = append(notes, "unresolved marker present")
	}
	if c.Detected && !resolved {
		switch c.Severity {
		case "high":
			s -= 25
		case "medium":
			s -= 15
		default:
			s -= 10
		}
		notes = append(notes, c.Severity+" complaint left open")
	}
	notes = append(notes, fmt.Sprintf("closing customer sentiment %+.2f", pol))
	return categoryResult{score: score(s), rationale: strings.Join(notes, "; ")}
}

// complaint flags explicit or implicit customer complaints and grades them
// by the strongest marker seen.
func (r rubric) complaint(v view) types.Complaint {
	var out types.Complaint
	rank := 0
	for i, t := range v.customer {
		level := 0
		switch {
		case matchAny(t, r.lex.ComplaintHigh):
			level = 3
		case matchAny(t, r.lex.ComplaintMed):
			level = 2
		case matchAny(t, r.lex.ComplaintLow):
			level = 1
		}
		if level > rank {
			rank = level
			out.Excerpt = excerpt(v.rawCustomer[i], 160)
		}
	}
	if rank == 0 {
		return out
	}
	out.Detected = true
	out.Severity = []string{"", "low", "medium", "high"}[rank]
	return out
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return strings.TrimSpace(string(rs[:n])) + "…"
}
