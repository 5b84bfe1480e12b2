package ingest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// pcm is a decoded WAV stream with samples scaled to [-1, 1], interleaved.
type pcm struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Format        int
	Samples       []float64
}

func (p *pcm) frames() int {
	if p.Channels == 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// decodeWAV parses a RIFF/WAVE byte slice. Chunks other than "fmt " and
// "data" are skipped; a data chunk that claims more bytes than are present
// is clamped to the last whole frame.
func decodeWAV(b []byte) (*pcm, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, fmt.Errorf("missing RIFF/WAVE header")
	}

	var (
		p        pcm
		fmtFound bool
		data     []byte
	)
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		off += 8
		if size < 0 {
			return nil, fmt.Errorf("chunk %q has invalid size", id)
		}
		end := off + size
		switch id {
		case "fmt ":
			if size < 16 || end > len(b) {
				return nil, fmt.Errorf("fmt chunk truncated")
			}
			c := b[off:end]
			p.Format = int(binary.LittleEndian.Uint16(c[0:2]))
			p.Channels = int(binary.LittleEndian.Uint16(c[2:4]))
			p.SampleRate = int(binary.LittleEndian.Uint32(c[4:8]))
			p.BitsPerSample = int(binary.LittleEndian.Uint16(c[14:16]))
			if p.Format == wavFormatExtensible {
				if size < 26 {
					return nil, fmt.Errorf("extensible fmt chunk truncated")
				}
				p.Format = int(binary.LittleEndian.Uint16(c[24:26]))
			}
			fmtFound = true
		case "data":
			if !fmtFound {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			if end > len(b) {
				end = len(b)
			}
			data = b[off:end]
		}
		if data != nil {
			break
		}
		// chunks are word aligned
		off = end + size%2
	}

	if !fmtFound {
		return nil, fmt.Errorf("missing fmt chunk")
	}
	if data == nil {
		return nil, fmt.Errorf("missing data chunk")
	}
	if p.Channels <= 0 || p.Channels > 8 {
		return nil, fmt.Errorf("unsupported channel count: %d", p.Channels)
	}
	if p.SampleRate < 4000 || p.SampleRate > 192000 {
		return nil, fmt.Errorf("unsupported sample rate: %d", p.SampleRate)
	}

	decode, err := sampleDecoder(p.Format, p.BitsPerSample)
	if err != nil {
		return nil, err
	}
	width := p.BitsPerSample / 8
	frameBytes := width * p.Channels
	n := len(data) / frameBytes * p.Channels
	p.Samples = make([]float64, n)
	for i := 0; i < n; i++ {
		p.Samples[i] = decode(data[i*width : (i+1)*width])
	}
	return &p, nil
}

func sampleDecoder(format, bits int) (func([]byte) float64, error) {
	switch {
	case format == wavFormatPCM && bits == 8:
		return func(s []byte) float64 { return (float64(s[0]) - 128) / 128 }, nil
	case format == wavFormatPCM && bits == 16:
		return func(s []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(s))) / 32768 }, nil
	case format == wavFormatPCM && bits == 24:
		return func(s []byte) float64 {
			v := int32(s[0]) | int32(s[1])<<8 | int32(s[2])<<16
			if v&0x800000 != 0 {
				v |= ^0xFFFFFF
			}
			return float64(v) / 8388608
		}, nil
	case format == wavFormatPCM && bits == 32:
		return func(s []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(s))) / 2147483648 }, nil
	case format == wavFormatFloat && bits == 32:
		return func(s []byte) float64 {
			return clampUnit(float64(math.Float32frombits(binary.LittleEndian.Uint32(s))))
		}, nil
	case format == wavFormatFloat && bits == 64:
		return func(s []byte) float64 { return clampUnit(math.Float64frombits(binary.LittleEndian.Uint64(s))) }, nil
	}
	return nil, fmt.Errorf("unsupported encoding: format %d, %d bits", format, bits)
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}

// encodeWAV writes mono 16-bit PCM.
func encodeWAV(samples []float32, sampleRate int) []byte {
	dataSize := len(samples) * 2
	var buf bytes.Buffer
	buf.Grow(44 + dataSize)
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	out := make([]byte, 2)
	for _, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out, uint16(int16(v)))
		buf.Write(out)
	}
	return buf.Bytes()
}

// EncodePCM16 builds a mono 16-bit WAV from samples in [-1, 1]. Exposed for
// fixtures in other packages' tests and for tooling.
func EncodePCM16(samples []float64, sampleRate int) []byte {
	f := make([]float32, len(samples))
	for i, s := range samples {
		f[i] = float32(s)
	}
	return encodeWAV(f, sampleRate)
}
