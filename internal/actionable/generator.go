package actionable

import (
	"fmt"
	"sort"

	"call-review-go/internal/aggregator"
	"call-review-go/internal/types"
)

// WeakThreshold is the category score below which a coaching action is
// recommended.
const WeakThreshold = 70.0

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

type advice struct {
	action map[types.Language]string
	impact string
}

var byCategory = map[string]advice{
	types.CategoryClarity: {
		action: map[types.Language]string{
			types.LangEnglish: "Speak at a steady pace, avoid filler words and check the headset and line quality before calls.",
			types.LangArabic:  "التحدث بوتيرة ثابتة وتجنب كلمات الحشو والتأكد من جودة السماعة والخط قبل المكالمات.",
		},
		impact: "Fewer repeated explanations and shorter handle time",
	},
	types.CategoryCompliance: {
		action: map[types.Language]string{
			types.LangEnglish: "Follow the call script: greet the customer, verify identity before account changes and close the call properly.",
			types.LangArabic:  "الالتزام بنص المكالمة: الترحيب بالعميل والتحقق من الهوية قبل أي تعديل على الحساب وإنهاء المكالمة بشكل لائق.",
		},
		impact: "Lower regulatory and fraud exposure",
	},
	types.CategoryEmpathy: {
		action: map[types.Language]string{
			types.LangEnglish: "Acknowledge the customer's feelings, apologize for the inconvenience and let the customer finish speaking.",
			types.LangArabic:  "إظهار التفهم لمشاعر العميل والاعتذار عن الإزعاج وإتاحة الفرصة للعميل لإكمال حديثه.",
		},
		impact: "Higher satisfaction and fewer escalations",
	},
	types.CategoryResolution: {
		action: map[types.Language]string{
			types.LangEnglish: "Confirm the customer's main issue is resolved, state the next steps and timeline before ending the call.",
			types.LangArabic:  "التأكد من حل المشكلة الرئيسية للعميل وتوضيح الخطوات التالية والمدة الزمنية قبل إنهاء المكالمة.",
		},
		impact: "Fewer repeat calls for the same issue",
	},
}

var keepUp = map[types.Language]string{
	types.LangEnglish: "Keep following the current call handling practices; no category fell below target.",
	types.LangArabic:  "الاستمرار في أسلوب التعامل الحالي مع المكالمات، فلم تنخفض أي فئة عن المستوى المطلوب.",
}

var complaintFollowUp = map[types.Language]string{
	types.LangEnglish: "Log the customer's complaint and schedule a follow-up contact.",
	types.LangArabic:  "تسجيل شكوى العميل وجدولة تواصل للمتابعة.",
}

func pick(m map[types.Language]string, lang types.Language) string {
	if s, ok := m[lang]; ok {
		return s
	}
	return m[types.LangEnglish]
}

// Recommend returns coaching actions in lang for every category scored below
// WeakThreshold, weakest first. It never returns an empty slice.
func Recommend(scores *types.EvaluationScore, lang types.Language) []string {
	type weak struct {
		cat   string
		score float64
	}
	var ws []weak
	for _, c := range types.Categories {
		if v, ok := scores.Score(c); ok && v < WeakThreshold {
			ws = append(ws, weak{c, v})
		}
	}
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].score < ws[j].score })

	var out []string
	for _, w := range ws {
		out = append(out, pick(byCategory[w.cat].action, lang))
	}
	if scores != nil && scores.Complaint.Detected && scores.Complaint.Severity != "low" {
		out = append(out, pick(complaintFollowUp, lang))
	}
	if len(out) == 0 {
		out = append(out, pick(keepUp, lang))
	}
	return out
}

// Generate turns batch insights into one card for the weakest category.
func Generate(ins aggregator.Insight) ActionCard {
	worst := ins.WeakestCategory
	mean, ok := ins.MeanScores[worst]
	if worst != "" && ok && mean < WeakThreshold {
		return ActionCard{
			Insight: fmt.Sprintf("Lowest mean %s score across %d call(s) (%.0f/100)", worst, ins.Scored, mean),
			Action:  pick(byCategory[worst].action, types.LangEnglish),
			Impact:  byCategory[worst].impact,
		}
	}
	if n := ins.Complaints["high"]; n > 0 {
		return ActionCard{
			Insight: fmt.Sprintf("%d call(s) with high severity complaints", n),
			Action:  pick(complaintFollowUp, types.LangEnglish),
			Impact:  "Reduce churn from dissatisfied customers",
		}
	}
	return ActionCard{
		Insight: "No weak category pattern detected",
		Action:  "Monitor and collect more data",
		Impact:  "Low immediate intervention",
	}
}
