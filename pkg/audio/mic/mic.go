// Package mic captures the default input device with malgo (miniaudio).
// [Device] implements [audio.CaptureDevice]: Open acquires the device, and
// the returned stream delivers mono float samples on malgo's realtime thread.
package mic

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/careerdeck/voiceinterview/pkg/audio"
	"github.com/gen2brain/malgo"
)

var (
	_ audio.CaptureDevice = (*Device)(nil)
	_ audio.CaptureStream = (*stream)(nil)
)

// Device opens the system's default microphone.
type Device struct {
	// SampleRate requests a capture rate. Zero uses the device's native rate.
	SampleRate int

	// PeriodMillis is the callback period. Default: 20.
	PeriodMillis int
}

// Open implements [audio.CaptureDevice]. A missing device or denied
// permission fails here.
func (d *Device) Open(ctx context.Context) (audio.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{
		ThreadPriority: malgo.ThreadPriorityRealtime,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("mic: init audio context: %w", err)
	}

	period := d.PeriodMillis
	if period <= 0 {
		period = 20
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(max(d.SampleRate, 0))
	cfg.PeriodSizeInMilliseconds = uint32(period)

	s := &stream{ctx: mctx}
	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("mic: open capture device: %w", err)
	}
	s.dev = dev
	return s, nil
}

type stream struct {
	ctx *malgo.AllocatedContext
	dev *malgo.Device

	// onSamples is nil until Start and after Stop.
	onSamples atomic.Pointer[func([]float32)]
	scratch   []float32 // only touched on the device thread

	closeOnce sync.Once
	closeErr  error
}

func (s *stream) SampleRate() int { return int(s.dev.SampleRate()) }

func (s *stream) Start(onSamples func([]float32)) error {
	s.onSamples.Store(&onSamples)
	if err := s.dev.Start(); err != nil {
		s.onSamples.Store(nil)
		return fmt.Errorf("mic: start: %w", err)
	}
	return nil
}

func (s *stream) Stop() error {
	s.onSamples.Store(nil)
	if !s.dev.IsStarted() {
		return nil
	}
	if err := s.dev.Stop(); err != nil {
		return fmt.Errorf("mic: stop: %w", err)
	}
	return nil
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.onSamples.Store(nil)
		s.dev.Uninit()
		if err := s.ctx.Uninit(); err != nil {
			s.closeErr = fmt.Errorf("mic: release audio context: %w", err)
		}
		s.ctx.Free()
	})
	return s.closeErr
}

func (s *stream) onData(_, input []byte, _ uint32) {
	fn := s.onSamples.Load()
	if fn == nil {
		return
	}
	s.scratch = decodeF32(s.scratch[:0], input)
	(*fn)(s.scratch)
}

// decodeF32 appends the little-endian float32 samples in b to dst. A partial
// trailing sample is ignored.
func decodeF32(dst []float32, b []byte) []float32 {
	for i := 0; i+4 <= len(b); i += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(b[i:])))
	}
	return dst
}
