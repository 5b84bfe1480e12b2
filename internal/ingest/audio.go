package ingest

import (
	"bytes"
	"io"
	"math"
)

// Audio is the canonical, read-only audio handle shared by the analysis
// stages: mono samples at the canonical rate plus the same audio encoded as
// 16-bit WAV for transcription backends. Nothing exposed here lets a caller
// mutate the underlying buffers, so concurrent readers are safe.
type Audio struct {
	samples    []float32
	sampleRate int
	wav        []byte
}

func newAudio(samples []float32, sampleRate int) *Audio {
	return &Audio{samples: samples, sampleRate: sampleRate, wav: encodeWAV(samples, sampleRate)}
}

// NewAudio builds a handle directly from mono samples; used by tests and
// tools that synthesize audio.
func NewAudio(samples []float64, sampleRate int) *Audio {
	f := make([]float32, len(samples))
	for i, s := range samples {
		f[i] = float32(clampUnit(s))
	}
	return newAudio(f, sampleRate)
}

func (a *Audio) SampleRate() int { return a.sampleRate }
func (a *Audio) Len() int        { return len(a.samples) }

func (a *Audio) DurationMs() int64 {
	if a.sampleRate == 0 {
		return 0
	}
	return int64(len(a.samples)) * 1000 / int64(a.sampleRate)
}

// CopyFrame copies samples starting at offset into dst and returns how many
// were copied.
func (a *Audio) CopyFrame(dst []float32, offset int) int {
	if offset < 0 || offset >= len(a.samples) {
		return 0
	}
	return copy(dst, a.samples[offset:])
}

// WAV returns a reader over the canonical WAV encoding.
func (a *Audio) WAV() io.Reader { return bytes.NewReader(a.wav) }

// downmix averages interleaved channels into one.
func downmix(p *pcm) []float64 {
	if p.Channels == 1 {
		return p.Samples
	}
	frames := p.frames()
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for ch := 0; ch < p.Channels; ch++ {
			sum += p.Samples[i*p.Channels+ch]
		}
		out[i] = sum / float64(p.Channels)
	}
	return out
}

// resample converts mono samples from src to dst Hz by linear interpolation.
// The output depends only on the inputs, which keeps ingestion idempotent.
func resample(in []float64, src, dst int) []float32 {
	if src == dst {
		out := make([]float32, len(in))
		for i, s := range in {
			out[i] = float32(s)
		}
		return out
	}
	n := int(int64(len(in)) * int64(dst) / int64(src))
	out := make([]float32, n)
	ratio := float64(src) / float64(dst)
	last := len(in) - 1
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		i0 := int(math.Floor(pos))
		if i0 >= last {
			out[i] = float32(in[last])
			continue
		}
		frac := pos - float64(i0)
		out[i] = float32(in[i0]*(1-frac) + in[i0+1]*frac)
	}
	return out
}
