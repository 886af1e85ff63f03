// Package speaker plays agent speech through the default output device
// using oto. It implements [audio.Sink] and [audio.Clock] so that an
// [audio.Scheduler] can lay buffers out on the device's own timeline.
package speaker

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/careerdeck/voiceinterview/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

var (
	_ audio.Sink  = (*Speaker)(nil)
	_ audio.Clock = (*Speaker)(nil)
)

// ErrClosed is returned by [Speaker.Play] after [Speaker.Close].
var ErrClosed = errors.New("speaker: closed")

// Defaults.
const (
	DefaultSampleRate = 24000
	DefaultBuffer     = 100 * time.Millisecond
)

// Config configures [Open].
type Config struct {
	// SampleRate is the device rate. Buffers at other rates are resampled.
	// Default: [DefaultSampleRate].
	SampleRate int

	// Buffer is the device buffer length. Smaller is lower latency but
	// glitches sooner under load. Default: [DefaultBuffer].
	Buffer time.Duration
}

// oto allows one context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

// Speaker is an open output device. It is safe for concurrent use.
type Speaker struct {
	rate     int
	timeline *timeline
	player   io.Closer

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// Open starts a continuous, initially silent output stream.
func Open(cfg Config) (*Speaker, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}

	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   cfg.Buffer,
		})
		if otoErr == nil {
			<-ready
			otoRate = cfg.SampleRate
		}
	})
	if otoErr != nil {
		return nil, fmt.Errorf("speaker: open output device: %w", otoErr)
	}

	tl := newTimeline(otoRate)
	p := otoCtx.NewPlayer(tl)
	p.Play()
	return &Speaker{rate: otoRate, timeline: tl, player: p}, nil
}

// SampleRate returns the device rate in Hz.
func (s *Speaker) SampleRate() int { return s.rate }

// Now implements [audio.Clock]. It is the timeline's write head, the same
// origin [Speaker.Play] places buffers against. Audio still queued inside
// oto is already committed, so it counts as played.
func (s *Speaker) Now() time.Duration {
	return audio.Duration(int(s.timeline.position()), s.rate)
}

// Play implements [audio.Sink].
func (s *Speaker) Play(samples []float32, sampleRate int, at time.Duration) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	s.timeline.schedule(audio.ResampleLinear(samples, sampleRate, s.rate), at)
	return nil
}

// Flush discards audio that has not reached the device yet.
func (s *Speaker) Flush() {
	s.timeline.clear()
}

// Close stops the output stream. The oto context itself lives until the
// process exits.
func (s *Speaker) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.timeline.clear()
		err = s.player.Close()
	})
	return err
}
