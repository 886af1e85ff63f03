package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSchedulerStopped is returned by [Scheduler.Schedule] after
// [Scheduler.Stop] and before [Scheduler.Reset].
var ErrSchedulerStopped = errors.New("audio: scheduler stopped")

// Clock reports the output device's current transport time: how far playback
// has progressed since the device started.
type Clock interface {
	Now() time.Duration
}

// Sink accepts decoded audio for playback starting at a given transport time.
// Play must not block on playback itself; it only queues the buffer.
type Sink interface {
	Play(samples []float32, sampleRate int, at time.Duration) error
}

// Scheduler places decoded buffers back to back on the output timeline. Each
// buffer starts at max(clock.Now(), cursor), and the cursor then moves to the
// buffer's end, so buffers are never overlapped or reordered no matter how
// irregularly they arrive. When the queue has drained, the next buffer starts
// immediately.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	clock Clock
	sink  Sink

	mu      sync.Mutex
	cursor  time.Duration
	stopped bool
}

// NewScheduler returns a Scheduler driving sink on clock's timeline.
func NewScheduler(clock Clock, sink Sink) *Scheduler {
	return &Scheduler{clock: clock, sink: sink}
}

// Duration returns the playing time of n samples at sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// Schedule hands samples to the sink and returns the start time it was
// scheduled at. The cursor only advances when the sink accepts the buffer.
func (s *Scheduler) Schedule(samples []float32, sampleRate int) (time.Duration, error) {
	if sampleRate <= 0 {
		return 0, fmt.Errorf("audio: schedule: invalid sample rate %d", sampleRate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0, ErrSchedulerStopped
	}

	start := max(s.clock.Now(), s.cursor)
	if err := s.sink.Play(samples, sampleRate, start); err != nil {
		return 0, fmt.Errorf("audio: schedule: %w", err)
	}
	s.cursor = start + Duration(len(samples), sampleRate)
	return start, nil
}

// Now returns the output clock's current transport time.
func (s *Scheduler) Now() time.Duration {
	return s.clock.Now()
}

// Cursor returns the time at which the next buffer would start if the clock
// has not caught up with it.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Stop stops scheduling. The cursor is kept until [Scheduler.Reset].
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// Reset zeroes the cursor and re-enables scheduling. Call it when a session
// ends so the next session starts on a fresh timeline.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = 0
	s.stopped = false
}
