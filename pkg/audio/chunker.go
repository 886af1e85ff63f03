package audio

import "sync"

// FramePool recycles fixed-size sample buffers so that the capture hot path
// does not allocate once the pool is warm.
type FramePool struct {
	size int
	pool sync.Pool
}

// NewFramePool returns a pool handing out buffers of exactly size samples.
// A non-positive size selects [DefaultFrameSize].
func NewFramePool(size int) *FramePool {
	if size <= 0 {
		size = DefaultFrameSize
	}
	p := &FramePool{size: size}
	p.pool.New = func() any {
		b := make([]float32, size)
		return &b
	}
	return p
}

// Size returns the number of samples per buffer.
func (p *FramePool) Size() int { return p.size }

func (p *FramePool) get() *[]float32 {
	return p.pool.Get().(*[]float32)
}

func (p *FramePool) put(b *[]float32) {
	if b == nil || len(*b) != p.size {
		return
	}
	p.pool.Put(b)
}

// FrameChunker re-segments irregular capture callbacks into fixed-size
// frames. The transformation is lossless: samples are never dropped,
// duplicated or reordered, and a short frame is never emitted. Samples that
// do not yet fill a frame are carried over to the next [FrameChunker.Write].
//
// Write never blocks and performs no allocation beyond taking a buffer from
// the pool whenever a frame is completed; the emit callback must not block
// either. FrameChunker is not safe for concurrent Writes: it is meant to be
// driven by a single capture callback. Detach and Reset may be called from
// another goroutine.
type FrameChunker struct {
	pool       *FramePool
	sampleRate int

	mu   sync.Mutex
	emit func(Frame)
	cur  *[]float32
	n    int
	seq  uint64
}

// NewFrameChunker returns a chunker that emits frames of pool.Size() samples
// tagged with sampleRate. emit is invoked synchronously from Write.
func NewFrameChunker(pool *FramePool, sampleRate int, emit func(Frame)) *FrameChunker {
	if pool == nil {
		pool = NewFramePool(DefaultFrameSize)
	}
	return &FrameChunker{
		pool:       pool,
		sampleRate: sampleRate,
		emit:       emit,
	}
}

// Write appends samples to the carry-over buffer and emits one frame every
// time the buffer reaches the frame size.
func (c *FrameChunker) Write(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.emit == nil {
		return
	}
	size := c.pool.Size()
	for len(samples) > 0 {
		if c.cur == nil {
			c.cur = c.pool.get()
			c.n = 0
		}
		copied := copy((*c.cur)[c.n:], samples)
		c.n += copied
		samples = samples[copied:]

		if c.n < size {
			continue
		}
		frame := Frame{
			Samples:    *c.cur,
			SampleRate: c.sampleRate,
			Seq:        c.seq,
			pool:       c.pool,
			buf:        c.cur,
		}
		c.seq++
		c.cur = nil
		c.n = 0
		c.emit(frame)
	}
}

// Pending reports how many samples are carried over waiting for the next
// frame.
func (c *FrameChunker) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset discards the carry-over samples and returns the working buffer to
// the pool. Frame sequence numbers restart at zero.
func (c *FrameChunker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		c.pool.put(c.cur)
		c.cur = nil
	}
	c.n = 0
	c.seq = 0
}

// Detach stops all further emission. Subsequent Writes are discarded.
func (c *FrameChunker) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emit = nil
}
