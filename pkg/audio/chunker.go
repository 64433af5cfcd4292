package audio

import (
	"encoding/binary"
	"math"
)

// Chunker regroups variable-sized float32 captures, from a device period or
// a network frame, into fixed-size mono buffers. It is not safe for
// concurrent use.
type Chunker struct {
	size     int
	channels int
	pending  []float32
}

// NewChunker returns a Chunker emitting buffers of size samples from
// interleaved input with the given channel count.
func NewChunker(size, channels int) *Chunker {
	if size < 1 {
		size = 1
	}
	if channels < 1 {
		channels = 1
	}
	return &Chunker{size: size, channels: channels, pending: make([]float32, 0, size)}
}

// Push appends interleaved little-endian float32 samples and calls emit for
// every complete buffer. Multi-channel input is averaged down to mono.
func (c *Chunker) Push(raw []byte, emit func([]float32)) {
	frameBytes := 4 * c.channels
	for off := 0; off+frameBytes <= len(raw); off += frameBytes {
		var sum float32
		for ch := range c.channels {
			sum += math.Float32frombits(binary.LittleEndian.Uint32(raw[off+ch*4:]))
		}
		c.pending = append(c.pending, sum/float32(c.channels))
		if len(c.pending) == c.size {
			emit(c.pending)
			c.pending = make([]float32, 0, c.size)
		}
	}
}
