package speaker

import (
	"sync"
	"time"

	"github.com/careerdeck/voiceinterview/pkg/audio"
)

// timeline is the continuous PCM stream the output device pulls from. It
// turns absolute start times into sample offsets: everything not covered by
// a scheduled buffer is silence, so the device position doubles as the
// playback clock.
type timeline struct {
	rate int

	mu  sync.Mutex
	pos int64     // samples handed to the device so far
	buf []float32 // samples from pos onwards
	pcm []byte
}

func newTimeline(rate int) *timeline {
	return &timeline{rate: rate}
}

// offset converts a transport time to a sample index.
func (t *timeline) offset(at time.Duration) int64 {
	return int64(at) * int64(t.rate) / int64(time.Second)
}

// schedule places samples (already at the timeline rate) at at. A start time
// the device has already passed is moved to the current position.
func (t *timeline) schedule(samples []float32, at time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	off := max(t.offset(at)-t.pos, 0)
	end := int(off) + len(samples)
	if end > len(t.buf) {
		t.buf = append(t.buf, make([]float32, end-len(t.buf))...)
	}
	copy(t.buf[off:], samples)
}

// position returns the number of samples handed to the device.
func (t *timeline) position() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// pending returns the number of scheduled samples not yet handed out,
// including silence gaps between buffers.
func (t *timeline) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

// clear drops everything not yet handed to the device.
func (t *timeline) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = t.buf[:0]
}

// Read fills p with little-endian int16 samples, padding with silence. It
// never blocks and always fills whole samples.
func (t *timeline) Read(p []byte) (int, error) {
	n := len(p) / 2
	if n == 0 {
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	take := min(n, len(t.buf))
	t.pcm = audio.FloatToPCM16(t.pcm[:0], t.buf[:take])
	copy(p, t.pcm)
	clear(p[len(t.pcm) : n*2])

	t.buf = t.buf[take:]
	if len(t.buf) == 0 {
		t.buf = nil
	}
	t.pos += int64(n)
	return n * 2, nil
}
