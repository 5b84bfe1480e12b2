package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"call-review-go/internal/types"
)

func f(v float64) *float64 { return &v }

func TestAggregate(t *testing.T) {
	reports := []types.Report{
		{
			OverallStatus:  types.OverallComplete,
			QualityMetrics: &types.QualityMetrics{ClarityScore: 80},
			Scores: &types.EvaluationScore{
				Categories: map[string]*float64{"clarity": f(80), "compliance": f(90), "empathy": f(40), "resolution": f(70)},
				Complaint:  types.Complaint{Detected: true, Severity: "high"},
			},
		},
		{
			OverallStatus:  types.OverallPartial,
			QualityMetrics: &types.QualityMetrics{ClarityScore: 60},
			StageStatus:    map[types.Stage]types.StageStatus{types.StageSummarization: {Status: types.StatusFailed}},
			Scores: &types.EvaluationScore{
				Categories: map[string]*float64{"clarity": nil, "compliance": f(70), "empathy": f(60), "resolution": f(90)},
			},
		},
		{
			OverallStatus: types.OverallFailed,
			StageStatus:   map[types.Stage]types.StageStatus{types.StageTranscription: {Status: types.StatusFailed}},
		},
	}

	ins := Aggregate(reports)
	assert.Equal(t, 3, ins.Calls)
	assert.Equal(t, 2, ins.Scored)
	assert.Equal(t, 1, ins.ByStatus[types.OverallPartial])
	assert.Equal(t, 80.0, ins.MeanScores["clarity"], "null scores are excluded")
	assert.Equal(t, 80.0, ins.MeanScores["compliance"])
	assert.Equal(t, 50.0, ins.MeanScores["empathy"])
	assert.Equal(t, "empathy", ins.WeakestCategory)
	assert.Equal(t, 70.0, ins.MeanClarity)
	assert.Equal(t, 1, ins.Complaints["high"])
	assert.Equal(t, 1, ins.FailedStages[types.StageTranscription])
	assert.Equal(t, 1, ins.FailedStages[types.StageSummarization])
}

func TestAggregateEmpty(t *testing.T) {
	ins := Aggregate(nil)
	assert.Zero(t, ins.Calls)
	assert.Empty(t, ins.WeakestCategory)
	assert.Empty(t, ins.MeanScores)
}
