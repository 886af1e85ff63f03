package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/careerdeck/voiceinterview/pkg/audio"
)

// ErrPipelineStopped is returned by [Pipeline.Start] after [Pipeline.Stop].
var ErrPipelineStopped = errors.New("session: capture pipeline stopped")

// Pipeline owns one microphone acquisition and feeds its samples through a
// [audio.FrameChunker] to a frame callback.
//
// A Pipeline is single-use: Start at most once, Stop any number of times.
// Stop may race with Start; a Start that loses returns ErrPipelineStopped
// after releasing what it acquired.
type Pipeline struct {
	pool   *audio.FramePool
	logger *slog.Logger

	mu      sync.Mutex
	stream  audio.CaptureStream
	chunker *audio.FrameChunker
	started bool
	stopped bool

	stopOnce sync.Once
	stopErr  error
}

// NewPipeline returns an unstarted pipeline drawing frame buffers from pool.
func NewPipeline(pool *audio.FramePool, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{pool: pool, logger: logger}
}

// Start acquires the microphone from device and begins delivering frames of
// the pool's size to onFrame, on the device's capture thread. onFrame must
// not block and owns the frames it receives.
func (p *Pipeline) Start(ctx context.Context, device audio.CaptureDevice, onFrame func(audio.Frame)) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPipelineStopped
	}
	if p.started {
		p.mu.Unlock()
		return errors.New("session: capture pipeline already started")
	}
	p.started = true
	p.mu.Unlock()

	stream, err := device.Open(ctx)
	if err != nil {
		return fmt.Errorf("session: open microphone: %w", err)
	}
	chunker := audio.NewFrameChunker(p.pool, stream.SampleRate(), onFrame)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		chunker.Detach()
		if err := stream.Close(); err != nil {
			p.logger.Warn("close microphone after stop", "err", err)
		}
		return ErrPipelineStopped
	}
	p.stream = stream
	p.chunker = chunker
	p.mu.Unlock()

	if err := stream.Start(chunker.Write); err != nil {
		return fmt.Errorf("session: start microphone: %w", err)
	}
	p.logger.Debug("capture pipeline started", "sample_rate", stream.SampleRate(), "frame_size", p.pool.Size())
	return nil
}

// SampleRate returns the native capture rate, or 0 before a successful Start.
func (p *Pipeline) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return 0
	}
	return p.stream.SampleRate()
}

// Stop releases the capture resources. Each release is attempted even when
// an earlier one fails, and each runs at most once over the pipeline's
// lifetime. The joined release errors are returned by every call.
func (p *Pipeline) Stop() error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		stream, chunker := p.stream, p.chunker
		p.mu.Unlock()

		releases := []struct {
			name string
			fn   func() error
		}{
			{"stop microphone", func() error {
				if stream == nil {
					return nil
				}
				return stream.Stop()
			}},
			{"detach chunker", func() error {
				if chunker != nil {
					chunker.Detach()
					chunker.Reset()
				}
				return nil
			}},
			{"close microphone", func() error {
				if stream == nil {
					return nil
				}
				return stream.Close()
			}},
		}

		var errs []error
		for _, r := range releases {
			if err := r.fn(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
			}
		}
		p.stopErr = errors.Join(errs...)
		if p.stopErr != nil {
			p.logger.Warn("capture pipeline release failed", "err", p.stopErr)
		}
	})
	return p.stopErr
}
