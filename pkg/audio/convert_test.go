package audio_test

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"testing"

	"github.com/careerdeck/voiceinterview/pkg/audio"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestDownsample_PairwiseAverage(t *testing.T) {
	in := []float32{0, 0.5, 1.0, -1.0}
	got := audio.Downsample(in, 32000, 16000)
	want := []float32{0.25, 0.0}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownsample_HalfLengthRoundsUp(t *testing.T) {
	// 5 samples at ratio 2: 2.5 rounds up to 3 outputs, so the odd trailing
	// sample gets its own window.
	got := audio.Downsample([]float32{1, 1, 1, 1, 0}, 32000, 16000)
	want := []float32{1, 1, 0}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownsample_SameRate(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	got := audio.Downsample(in, 16000, 16000)
	if &got[0] != &in[0] {
		t.Error("expected same slice returned when rates match")
	}
}

func TestDownsample_NonIntegerRatio(t *testing.T) {
	// 48000 -> 16000 averages triples; 44100 -> 16000 uses rounded windows.
	in := make([]float32, 4410)
	for i := range in {
		in[i] = 0.5
	}
	got := audio.Downsample(in, 44100, 16000)
	if len(got) != 1600 {
		t.Fatalf("length = %d; want 1600", len(got))
	}
	for i, s := range got {
		if s != 0.5 {
			t.Fatalf("sample %d = %v; want 0.5 (average of constant signal)", i, s)
		}
	}

	triples := []float32{0, 0.3, 0.6, 1, 1, 1}
	got = audio.Downsample(triples, 48000, 16000)
	want := []float32{0.3, 1}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownsample_Upsampling_NoNaN(t *testing.T) {
	got := audio.Downsample([]float32{0.5, -0.5}, 8000, 16000)
	if len(got) != 4 {
		t.Fatalf("length = %d; want 4", len(got))
	}
	for i, s := range got {
		if math.IsNaN(float64(s)) {
			t.Errorf("sample %d is NaN", i)
		}
	}
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{2, 32767},
		{-3, -32768},
		{0.5, 16383},
		{-0.5, -16384},
		{float32(math.NaN()), 0},
		{float32(math.Inf(1)), 32767},
		{float32(math.Inf(-1)), -32768},
	}
	for _, tc := range tests {
		if got := audio.Quantize(tc.in); got != tc.want {
			t.Errorf("Quantize(%v) = %d; want %d", tc.in, got, tc.want)
		}
	}
}

func TestDequantize_DividesBy0x8000(t *testing.T) {
	if got := audio.Dequantize(-32768); got != -1 {
		t.Errorf("Dequantize(-32768) = %v; want -1", got)
	}
	if got := audio.Dequantize(32767); got != float32(32767)/32768 {
		t.Errorf("Dequantize(32767) = %v; want 32767/32768", got)
	}
}

func TestEncoder_LittleEndianBase64(t *testing.T) {
	var enc audio.Encoder
	chunk := enc.Encode([]float32{1, -1, 0}, 16000, 16000)

	raw, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := bytesToSamples(raw)
	want := []int16{32767, -32768, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
	if chunk.SampleRate != 16000 || chunk.Samples != 3 {
		t.Errorf("chunk meta = (%d, %d); want (16000, 3)", chunk.SampleRate, chunk.Samples)
	}
}

func TestEncoder_ResamplesToTarget(t *testing.T) {
	var enc audio.Encoder
	chunk := enc.Encode([]float32{0, 0.5, 1.0, -1.0}, 32000, 16000)
	if chunk.SampleRate != 16000 {
		t.Errorf("SampleRate = %d; want 16000", chunk.SampleRate)
	}
	if chunk.Samples != 2 {
		t.Errorf("Samples = %d; want 2", chunk.Samples)
	}
}

func TestEncoder_LargeBuffer(t *testing.T) {
	// Well beyond any single-call conversion block in the reference client.
	in := make([]float32, 100_000)
	for i := range in {
		in[i] = float32(i%200-100) / 100
	}
	var enc audio.Encoder
	chunk := enc.Encode(in, 16000, 16000)
	raw, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw) != len(in)*2 {
		t.Fatalf("decoded %d bytes; want %d", len(raw), len(in)*2)
	}
}

func TestEncoder_ReuseDoesNotAlias(t *testing.T) {
	var enc audio.Encoder
	first := enc.Encode([]float32{0.25}, 16000, 16000)
	_ = enc.Encode([]float32{-0.75}, 16000, 16000)
	raw, _ := base64.StdEncoding.DecodeString(first.Data)
	if got := bytesToSamples(raw)[0]; got != audio.Quantize(0.25) {
		t.Errorf("first chunk changed after reuse: %d", got)
	}
}

func TestRoundTrip_QuantizationError(t *testing.T) {
	in := make([]float32, 2001)
	for i := range in {
		in[i] = float32(i-1000) / 1000
	}
	var enc audio.Encoder
	chunk := enc.Encode(in, 16000, 16000)
	out, err := audio.DecodeChunk(chunk.Data)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length = %d; want %d", len(out), len(in))
	}
	// 1/32768 from truncation plus 1/32768 from the 0x7fff/0x8000 asymmetry.
	const tol = 2.0/32768 + 1e-7
	for i := range in {
		if d := math.Abs(float64(in[i] - out[i])); d > tol {
			t.Fatalf("sample %d: in=%v out=%v diff=%v > %v", i, in[i], out[i], d, tol)
		}
	}
}

func TestDecodeChunk_InvalidBase64(t *testing.T) {
	if _, err := audio.DecodeChunk("not base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestDecodeChunk_OddByteCount(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte{0x00, 0x80, 0x7f})
	out, err := audio.DecodeChunk(data)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if len(out) != 1 || out[0] != -1 {
		t.Errorf("out = %v; want [-1]", out)
	}
}

func TestFloatToPCM16_PCM16ToFloat(t *testing.T) {
	pcm := audio.FloatToPCM16(nil, []float32{-1, 0})
	got := audio.PCM16ToFloat(pcm)
	if len(got) != 2 || got[0] != -1 || got[1] != 0 {
		t.Errorf("got %v; want [-1 0]", got)
	}
}

func TestResampleLinear(t *testing.T) {
	in := []float32{0, 1}
	got := audio.ResampleLinear(in, 8000, 16000)
	want := []float32{0, 0.5, 1, 1}
	if len(got) != len(want) {
		t.Fatalf("length = %d; want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}

	same := audio.ResampleLinear(in, 16000, 16000)
	if &same[0] != &in[0] {
		t.Error("expected same slice returned when rates match")
	}
}
