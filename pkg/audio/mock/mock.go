// Package mock provides in-memory implementations of the [audio.CaptureDevice],
// [audio.CaptureStream], [audio.Sink] and [audio.Clock] interfaces for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := &mock.Stream{Rate: 16000}
//	dev := &mock.Device{Stream: stream}
//	// ... start a session with dev ...
//	stream.Push(make([]float32, 4096)) // simulate one capture callback
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/careerdeck/voiceinterview/pkg/audio"
)

// ErrPermissionDenied is a convenience error for simulating a refused
// microphone permission prompt.
var ErrPermissionDenied = errors.New("mock: microphone permission denied")

// ─── Device ──────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.CaptureDevice].
type Device struct {
	mu sync.Mutex

	// Stream is returned by Open. If nil, Open returns a new 16 kHz Stream.
	Stream *Stream

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Open implements [audio.CaptureDevice].
func (d *Device) Open(_ context.Context) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.Stream == nil {
		d.Stream = &Stream{Rate: 16000}
	}
	return d.Stream, nil
}

// OpenCount returns CallCountOpen under the lock.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountOpen
}

// ─── Stream ──────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.CaptureStream]. Tests drive the
// capture callback with [Stream.Push].
type Stream struct {
	mu sync.Mutex

	// Rate is returned by SampleRate.
	Rate int

	// StartErr, StopErr and CloseErr are returned by the matching methods.
	StartErr error
	StopErr  error
	CloseErr error

	// CallCountStart, CallCountStop and CallCountClose record method calls.
	CallCountStart int
	CallCountStop  int
	CallCountClose int

	onSamples func([]float32)
}

// SampleRate implements [audio.CaptureStream].
func (s *Stream) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Rate
}

// Start implements [audio.CaptureStream].
func (s *Stream) Start(onSamples func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.onSamples = onSamples
	return nil
}

// Stop implements [audio.CaptureStream].
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.onSamples = nil
	return s.StopErr
}

// Close implements [audio.CaptureStream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

// Push delivers samples to the registered callback as if the device had
// captured them. It reports whether a callback was registered.
func (s *Stream) Push(samples []float32) bool {
	s.mu.Lock()
	cb := s.onSamples
	s.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(samples)
	return true
}

// Calls returns the Start, Stop and Close call counts.
func (s *Stream) Calls() (start, stop, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStart, s.CallCountStop, s.CallCountClose
}

// ─── Clock ───────────────────────────────────────────────────────────────────

// Clock is a manually advanced [audio.Clock].
type Clock struct {
	mu  sync.Mutex
	now time.Duration
}

// Now implements [audio.Clock].
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// PlayCall records a single invocation of [Sink.Play].
type PlayCall struct {
	// Samples is a copy of the buffer passed to Play.
	Samples []float32
	// SampleRate is the rate passed to Play.
	SampleRate int
	// At is the scheduled start time.
	At time.Duration
}

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by every Play call.
	PlayErr error

	// PlayCalls records every call to Play in order.
	PlayCalls []PlayCall

	// Played, if non-nil, receives a signal after every recorded Play call.
	Played chan struct{}
}

// Play implements [audio.Sink].
func (s *Sink) Play(samples []float32, sampleRate int, at time.Duration) error {
	s.mu.Lock()
	if s.PlayErr != nil {
		s.mu.Unlock()
		return s.PlayErr
	}
	cp := make([]float32, len(samples))
	copy(cp, samples)
	s.PlayCalls = append(s.PlayCalls, PlayCall{Samples: cp, SampleRate: sampleRate, At: at})
	played := s.Played
	s.mu.Unlock()

	if played != nil {
		select {
		case played <- struct{}{}:
		default:
		}
	}
	return nil
}

// Calls returns a copy of the recorded Play calls.
func (s *Sink) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.PlayCalls))
	copy(out, s.PlayCalls)
	return out
}

// Compile-time interface assertions.
var (
	_ audio.CaptureDevice = (*Device)(nil)
	_ audio.CaptureStream = (*Stream)(nil)
	_ audio.Clock         = (*Clock)(nil)
	_ audio.Sink          = (*Sink)(nil)
)
