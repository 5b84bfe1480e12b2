package actionable

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"call-review-go/internal/aggregator"
	"call-review-go/internal/types"
)

func f(v float64) *float64 { return &v }

func TestRecommendWeakestFirst(t *testing.T) {
	s := &types.EvaluationScore{Categories: map[string]*float64{
		"clarity": f(90), "compliance": f(65), "empathy": f(40), "resolution": nil,
	}}
	recs := Recommend(s, types.LangEnglish)
	assert.Len(t, recs, 2)
	assert.Contains(t, recs[0], "Acknowledge the customer's feelings")
	assert.Contains(t, recs[1], "Follow the call script")

	ar := Recommend(s, types.LangArabic)
	assert.Len(t, ar, 2)
	assert.Contains(t, ar[0], "التفهم")
}

func TestRecommendNeverEmpty(t *testing.T) {
	assert.Len(t, Recommend(nil, types.LangEnglish), 1)

	s := &types.EvaluationScore{Categories: map[string]*float64{"empathy": f(95)}}
	assert.Equal(t, []string{keepUp[types.LangEnglish]}, Recommend(s, types.LangEnglish))

	s.Complaint = types.Complaint{Detected: true, Severity: "medium"}
	assert.Equal(t, []string{complaintFollowUp[types.LangArabic]}, Recommend(s, types.LangArabic))
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name string
		ins  aggregator.Insight
		want string
	}{
		{
			name: "weak category",
			ins:  aggregator.Insight{Scored: 4, MeanScores: map[string]float64{"empathy": 52}, WeakestCategory: "empathy"},
			want: "Lowest mean empathy score across 4 call(s) (52/100)",
		},
		{
			name: "high complaints",
			ins:  aggregator.Insight{MeanScores: map[string]float64{"empathy": 90}, WeakestCategory: "empathy", Complaints: map[string]int{"high": 2}},
			want: "2 call(s) with high severity complaints",
		},
		{
			name: "nothing to act on",
			ins:  aggregator.Insight{},
			want: "No weak category pattern detected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Generate(tt.ins).Insight)
		})
	}
}
