package capture

import (
	"sync"
	"time"

	"github.com/skypro1111/speech-relay/internal/audio"
)

// frameBuffer accumulates voiced frames until the next flush
type frameBuffer struct {
	frames     [][]float32
	samples    int
	sampleRate int

	// Statistics
	totalFrames uint64
	drains      uint64
	lastUpdate  time.Time

	mu sync.Mutex
}

// BufferStats represents frame buffer statistics for monitoring
type BufferStats struct {
	BufferedFrames  int     `json:"buffered_frames"`
	BufferedSamples int     `json:"buffered_samples"`
	BufferedSeconds float64 `json:"buffered_seconds"`
	TotalFrames     uint64  `json:"total_frames"`
	Drains          uint64  `json:"drains"`
}

func newFrameBuffer(sampleRate int) *frameBuffer {
	return &frameBuffer{sampleRate: sampleRate}
}

// add stores a copy of frame; the device may reuse its slice after the callback returns
func (b *frameBuffer) add(frame []float32) {
	copied := make([]float32, len(frame))
	copy(copied, frame)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = append(b.frames, copied)
	b.samples += len(copied)
	b.totalFrames++
	b.lastUpdate = time.Now()
}

// drain returns all buffered samples concatenated and empties the buffer
func (b *frameBuffer) drain() []float32 {
	b.mu.Lock()
	frames := b.frames
	b.frames = nil
	b.samples = 0
	if len(frames) > 0 {
		b.drains++
	}
	b.mu.Unlock()

	if len(frames) == 0 {
		return nil
	}
	return audio.Concat(frames)
}

func (b *frameBuffer) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
	b.samples = 0
}

func (b *frameBuffer) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.samples
}

func (b *frameBuffer) stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BufferStats{
		BufferedFrames:  len(b.frames),
		BufferedSamples: b.samples,
		BufferedSeconds: audio.Duration(b.samples, b.sampleRate),
		TotalFrames:     b.totalFrames,
		Drains:          b.drains,
	}
}
