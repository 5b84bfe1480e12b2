package aggregator

import (
	"math"

	"call-review-go/internal/types"
)

type Insight struct {
	Calls           int                         `json:"calls"`
	Scored          int                         `json:"scored"`
	ByStatus        map[types.OverallStatus]int `json:"by_status"`
	MeanScores      map[string]float64          `json:"mean_scores"`
	MeanClarity     float64                     `json:"mean_audio_clarity"`
	Complaints      map[string]int              `json:"complaints_by_severity"`
	FailedStages    map[types.Stage]int         `json:"failed_stages"`
	WeakestCategory string                      `json:"weakest_category,omitempty"`
}

// Aggregate folds a batch of reports into per-category means and status
// counts. Null category scores are excluded from the means.
func Aggregate(reports []types.Report) Insight {
	ins := Insight{
		Calls:        len(reports),
		ByStatus:     map[types.OverallStatus]int{},
		MeanScores:   map[string]float64{},
		Complaints:   map[string]int{},
		FailedStages: map[types.Stage]int{},
	}
	sums := map[string]float64{}
	counts := map[string]int{}
	var clarity float64
	var withMetrics int
	for _, r := range reports {
		ins.ByStatus[r.OverallStatus]++
		for stage, st := range r.StageStatus {
			if st.Status == types.StatusFailed {
				ins.FailedStages[stage]++
			}
		}
		if r.QualityMetrics != nil {
			clarity += r.QualityMetrics.ClarityScore
			withMetrics++
		}
		if !r.Scores.Computed() {
			continue
		}
		ins.Scored++
		for _, c := range types.Categories {
			if v, ok := r.Scores.Score(c); ok {
				sums[c] += v
				counts[c]++
			}
		}
		if r.Scores.Complaint.Detected {
			ins.Complaints[r.Scores.Complaint.Severity]++
		}
	}
	lowest := math.Inf(1)
	for _, c := range types.Categories {
		if counts[c] == 0 {
			continue
		}
		mean := math.Round(sums[c]/float64(counts[c])*10) / 10
		ins.MeanScores[c] = mean
		if mean < lowest {
			lowest = mean
			ins.WeakestCategory = c
		}
	}
	if withMetrics > 0 {
		ins.MeanClarity = math.Round(clarity/float64(withMetrics)*10) / 10
	}
	return ins
}
