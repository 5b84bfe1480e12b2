// Package quality computes objective signal statistics for a recording.
//
// The audio is cut into fixed 20 ms frames. Per-frame RMS level (dBFS)
// drives the noise floor (10th percentile), the speech level (90th
// percentile) and the silence ratio (frames under -50 dBFS). Clipping is
// counted per sample. The clarity score is a fixed weighted penalty model:
//
//	clarity = 100 - (0.30*noise + 0.20*clipping + 0.15*silence + 0.35*snr)
//
// where each penalty is a clamped linear ramp in [0,100]:
//
//	noise:    noise floor -60 dBFS -> 0,  -20 dBFS -> 100
//	clipping: clipping ratio 0 -> 0,      1% -> 100
//	silence:  silence ratio 0.5 -> 0,     1.0 -> 100
//	snr:      SNR 30 dB -> 0,             0 dB -> 100
//
// Every penalty is monotonic in its input, so more noise, clipping or
// silence never raises clarity.
package quality

import (
	"context"
	"math"
	"sort"

	"call-review-go/internal/errs"
	"call-review-go/internal/types"
)

const (
	FrameDuration    = 20 // ms
	SilenceThreshold = -50.0
	ClipThreshold    = 0.999
	minLevelDB       = -100.0

	weightNoise   = 0.30
	weightClip    = 0.20
	weightSilence = 0.15
	weightSNR     = 0.35
)

// Samples is the read-only view of canonical audio the analyzer needs.
type Samples interface {
	SampleRate() int
	Len() int
	CopyFrame(dst []float32, offset int) int
}

type Analyzer struct{}

func NewAnalyzer() *Analyzer { return &Analyzer{} }

// Analyze returns metrics for a. The result depends only on the samples.
func (an *Analyzer) Analyze(ctx context.Context, a Samples) (types.QualityMetrics, error) {
	if a == nil || a.Len() == 0 {
		return types.QualityMetrics{}, &errs.AnalysisError{Reason: "no samples"}
	}
	rate := a.SampleRate()
	frameSize := rate * FrameDuration / 1000
	if frameSize <= 0 {
		return types.QualityMetrics{}, &errs.AnalysisError{Reason: "invalid sample rate"}
	}

	var (
		levels  []float64
		clipped int
		silent  int
		buf     = make([]float32, frameSize)
	)
	for off := 0; off < a.Len(); off += frameSize {
		if len(levels)%500 == 0 {
			if err := ctx.Err(); err != nil {
				return types.QualityMetrics{}, err
			}
		}
		n := a.CopyFrame(buf, off)
		if n == 0 {
			break
		}
		sumSq := 0.0
		for _, s := range buf[:n] {
			v := float64(s)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return types.QualityMetrics{}, &errs.AnalysisError{Reason: "non-finite sample"}
			}
			if math.Abs(v) >= ClipThreshold {
				clipped++
			}
			sumSq += v * v
		}
		db := levelDB(math.Sqrt(sumSq / float64(n)))
		if db < SilenceThreshold {
			silent++
		}
		levels = append(levels, db)
	}
	if len(levels) == 0 {
		return types.QualityMetrics{}, &errs.AnalysisError{Reason: "no frames"}
	}

	sorted := append([]float64(nil), levels...)
	sort.Float64s(sorted)
	noise := percentile(sorted, 0.10)
	speech := percentile(sorted, 0.90)

	m := types.QualityMetrics{
		NoiseFloorDB:   round2(noise),
		ClippingRatio:  round4(float64(clipped) / float64(a.Len())),
		SilenceRatio:   round4(float64(silent) / float64(len(levels))),
		EstimatedSNRDB: round2(speech - noise),
	}
	m.ClarityScore = Clarity(m)
	return m, nil
}

// Clarity applies the fixed penalty model to already computed metrics.
func Clarity(m types.QualityMetrics) float64 {
	noise := ramp(m.NoiseFloorDB, -60, -20)
	clip := ramp(m.ClippingRatio, 0, 0.01)
	silence := ramp(m.SilenceRatio, 0.5, 1.0)
	snr := 100 - ramp(m.EstimatedSNRDB, 0, 30)

	score := 100 - (weightNoise*noise + weightClip*clip + weightSilence*silence + weightSNR*snr)
	return round2(math.Max(0, math.Min(100, score)))
}

// ramp maps v linearly from [lo,hi] onto [0,100], clamped.
func ramp(v, lo, hi float64) float64 {
	switch {
	case v <= lo:
		return 0
	case v >= hi:
		return 100
	}
	return (v - lo) / (hi - lo) * 100
}

func levelDB(rms float64) float64 {
	if rms <= 0 {
		return minLevelDB
	}
	return math.Max(minLevelDB, 20*math.Log10(rms))
}

// percentile uses linear interpolation between closest ranks on sorted input.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
