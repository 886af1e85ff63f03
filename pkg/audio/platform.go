// Package audio holds the audio primitives of the interview client: fixed
// frame chunking of capture callbacks, the PCM16/base64 codec shared with the
// remote voice agent, and the playback scheduler that lays synthesized speech
// out gaplessly on the output timeline.
//
// Device access is abstracted by [CaptureDevice] and [Sink]/[Clock] so that
// the session logic runs against real hardware (see audio/mic and
// audio/speaker) or in-memory doubles (audio/mock).
package audio

import "context"

// CaptureDevice acquires a microphone. Open corresponds to asking the user
// for permission; a denied or missing device is reported as an error.
//
// Implementations must be safe for concurrent use.
type CaptureDevice interface {
	// Open acquires the input device and prepares a stream without starting
	// it. ctx bounds the acquisition only.
	Open(ctx context.Context) (CaptureStream, error)
}

// CaptureStream is an acquired microphone.
//
// The sample callback passed to Start is invoked on the device's realtime
// thread with mono float samples in [-1, 1]. The slice is only valid for the
// duration of the call. The callback must not block.
type CaptureStream interface {
	// SampleRate returns the native capture rate in Hz.
	SampleRate() int

	// Start begins delivering samples to onSamples.
	Start(onSamples func(samples []float32)) error

	// Stop halts the device tracks. No callbacks are delivered afterwards.
	Stop() error

	// Close releases the device and its processing context. Close is called
	// after Stop, even if Stop failed.
	Close() error
}
