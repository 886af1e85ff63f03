package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Scale factors for float <-> int16 conversion. The asymmetry matches the
// remote agent's reference client and must be preserved.
const (
	negScale = 0x8000
	posScale = 0x7fff
)

// Downsample converts mono samples from inRate to outRate by block
// averaging: with ratio r = inRate/outRate, output sample i is the mean of
// the input samples in [round(i*r), round((i+1)*r)). This is plain
// decimation-by-averaging, not a windowed-sinc filter.
//
// If the rates are equal, or either is non-positive, in is returned as is.
// When outRate > inRate some windows are empty; those repeat the nearest
// input sample.
func Downsample(in []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || inRate == outRate {
		return in
	}
	return downsampleInto(nil, in, inRate, outRate)
}

// downsampleInto is Downsample writing into dst, which is grown as needed.
func downsampleInto(dst, in []float32, inRate, outRate int) []float32 {
	ratio := float64(inRate) / float64(outRate)
	outLen := int(jsRound(float64(len(in)) / ratio))
	if cap(dst) < outLen {
		dst = make([]float32, outLen)
	}
	dst = dst[:outLen]

	offset := 0
	for i := range outLen {
		next := int(jsRound(float64(i+1) * ratio))
		var sum float64
		count := 0
		for j := offset; j < next && j < len(in); j++ {
			sum += float64(in[j])
			count++
		}
		switch {
		case count > 0:
			dst[i] = float32(sum / float64(count))
		case len(in) > 0:
			dst[i] = in[min(offset, len(in)-1)]
		default:
			dst[i] = 0
		}
		offset = next
	}
	return dst
}

// jsRound rounds to the nearest integer with halves going toward positive
// infinity (2.5 → 3, -2.5 → -2), the rounding the window boundaries rely on.
func jsRound(x float64) float64 {
	return math.Floor(x + 0.5)
}

// Quantize clamps s to [-1, 1] and scales it to int16, using 0x8000 for
// negative values and 0x7fff for non-negative values. The result is
// truncated toward zero. NaN quantizes to 0.
func Quantize(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(v * negScale)
	}
	return int16(v * posScale)
}

// Dequantize converts an int16 sample back to float by dividing by 0x8000.
func Dequantize(s int16) float32 {
	return float32(s) / negScale
}

// Encoder turns capture frames into [EncodedChunk] values. It keeps its
// scratch buffers between calls, so one Encoder must not be shared between
// goroutines.
type Encoder struct {
	resampled []float32
	pcm       []byte
	text      []byte
}

// Encode resamples samples from inRate to outRate when they differ,
// quantizes them to little-endian int16 and base64-encodes the bytes.
// Buffers of any length are encoded in full.
func (e *Encoder) Encode(samples []float32, inRate, outRate int) EncodedChunk {
	src := samples
	rate := inRate
	if inRate > 0 && outRate > 0 && inRate != outRate {
		e.resampled = downsampleInto(e.resampled, samples, inRate, outRate)
		src = e.resampled
		rate = outRate
	}

	need := len(src) * 2
	if cap(e.pcm) < need {
		e.pcm = make([]byte, need)
	}
	e.pcm = e.pcm[:need]
	for i, s := range src {
		binary.LittleEndian.PutUint16(e.pcm[i*2:], uint16(Quantize(s)))
	}

	n := base64.StdEncoding.EncodedLen(need)
	if cap(e.text) < n {
		e.text = make([]byte, n)
	}
	e.text = e.text[:n]
	base64.StdEncoding.Encode(e.text, e.pcm)

	return EncodedChunk{
		Data:       string(e.text),
		SampleRate: rate,
		Samples:    len(src),
	}
}

var warnOddPayload sync.Once

// DecodeChunk decodes a base64 payload of little-endian int16 PCM into float
// samples (each divided by 0x8000). A trailing odd byte is ignored.
func DecodeChunk(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	if len(raw)%2 != 0 {
		warnOddPayload.Do(func() {
			slog.Warn("audio: odd byte count in PCM payload, dropping trailing byte",
				"bytes", len(raw),
			)
		})
	}
	return PCM16ToFloat(raw), nil
}

// PCM16ToFloat converts little-endian int16 PCM bytes to float samples.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = Dequantize(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// FloatToPCM16 quantizes samples into little-endian int16 bytes, appending to
// dst.
func FloatToPCM16(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(Quantize(s)))
	}
	return dst
}

// ResampleLinear resamples mono float samples from srcRate to dstRate using
// linear interpolation. It is used on the playback side where the output
// device runs at a fixed rate; the capture path uses [Downsample]. If the
// rates match, or either is non-positive, samples is returned unchanged.
func ResampleLinear(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}
	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
