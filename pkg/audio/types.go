package audio

// DefaultFrameSize is the number of samples carried by one capture [Frame].
const DefaultFrameSize = 4096

// Frame is one fixed-length batch of mono float32 samples captured at the
// device's native rate. Frames are produced by a [FrameChunker] and are
// read-only once emitted.
//
// A frame's backing buffer is borrowed from a [FramePool]. The consumer that
// finishes with the frame (normally the encoder stage) must call
// [Frame.Release] exactly once; the samples must not be touched afterwards.
type Frame struct {
	// Samples holds exactly the chunker's frame size of samples in [-1, 1].
	Samples []float32

	// SampleRate is the native capture rate in Hz.
	SampleRate int

	// Seq is the zero-based capture order of this frame within its chunker.
	Seq uint64

	pool *FramePool
	buf  *[]float32
}

// Release returns the frame's buffer to the pool it was taken from. Calling
// Release on a zero Frame is a no-op.
func (f Frame) Release() {
	if f.pool != nil && f.buf != nil {
		f.pool.put(f.buf)
	}
}

// EncodedChunk is a transport-safe encoding of one frame: base64 text over
// little-endian signed 16-bit PCM.
type EncodedChunk struct {
	// Data is the standard, padded base64 encoding of the PCM bytes.
	Data string

	// SampleRate is the rate the PCM was encoded at, in Hz.
	SampleRate int

	// Samples is the number of int16 samples encoded in Data.
	Samples int
}
