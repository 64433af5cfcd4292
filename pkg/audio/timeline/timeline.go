// Package timeline provides a sample-clock [audio.Output]. Clips are placed at
// absolute positions, kept in a min-heap ordered by start, and mixed into a
// single 16-bit PCM stream as the consumer reads.
//
// The clock only advances when the stream is read, so a Timeline driven by a
// speaker reflects what has actually been handed to the device, and a
// Timeline driven by a test advances exactly as far as the test reads.
package timeline

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/minutas/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Output   = (*Timeline)(nil)
	_ audio.Playback = (*handle)(nil)
	_ io.Reader      = (*Timeline)(nil)
)

// Timeline mixes scheduled clips onto a sample clock.
//
// All exported methods are safe for concurrent use.
type Timeline struct {
	format    audio.Format
	frameSize int

	mu      sync.Mutex
	pos     int64    // sample frames consumed by Read
	pending clipHeap // not yet started
	playing []*clip
	seq     uint64
	closed  bool
}

// New creates an empty Timeline for the given format.
func New(f audio.Format) *Timeline {
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return &Timeline{
		format:    f,
		frameSize: 2 * f.Channels,
	}
}

// Format returns the PCM format of the timeline.
func (t *Timeline) Format() audio.Format { return t.format }

// Now returns the position of the next frame Read will produce.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frameToDuration(t.pos)
}

// Play schedules pcm to start at position at.
func (t *Timeline) Play(pcm []byte, at time.Duration, onEnded func()) (audio.Playback, error) {
	if len(pcm)%t.frameSize != 0 {
		return nil, fmt.Errorf("timeline: pcm length %d is not a multiple of frame size %d", len(pcm), t.frameSize)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, audio.ErrClosed
	}

	start := t.durationToFrame(at)
	if start < t.pos {
		start = t.pos
	}
	t.seq++
	c := &clip{id: t.seq, start: start, pcm: pcm, onEnded: onEnded}
	heap.Push(&t.pending, c)
	return &handle{t: t, id: c.id}, nil
}

// Active returns the number of clips that are pending or playing.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending) + len(t.playing)
}

// Read mixes the next len(p)/frameSize frames into p and advances the clock.
// Gaps between clips are rendered as silence. After Close, Read returns
// io.EOF.
func (t *Timeline) Read(p []byte) (int, error) {
	frames := len(p) / t.frameSize
	if frames == 0 {
		return 0, nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.EOF
	}

	from := t.pos
	to := from + int64(frames)

	for len(t.pending) > 0 && t.pending[0].start < to {
		t.playing = append(t.playing, heap.Pop(&t.pending).(*clip))
	}

	channels := t.format.Channels
	var ended []func()
	kept := t.playing[:0]
	for f := range frames {
		frame := from + int64(f)
		for ch := range channels {
			var sum int32
			for _, c := range t.playing {
				if frame < c.start || frame >= c.end(t.frameSize) {
					continue
				}
				off := int(frame-c.start)*t.frameSize + ch*2
				sum += int32(int16(binary.LittleEndian.Uint16(c.pcm[off:])))
			}
			binary.LittleEndian.PutUint16(p[f*t.frameSize+ch*2:], uint16(clamp16(sum)))
		}
	}
	for _, c := range t.playing {
		if c.end(t.frameSize) <= to {
			if c.onEnded != nil {
				ended = append(ended, c.onEnded)
			}
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(t.playing); i++ {
		t.playing[i] = nil
	}
	t.playing = kept
	t.pos = to
	t.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
	return frames * t.frameSize, nil
}

// Close drops every clip and makes further Play and Read calls fail.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.pending = nil
	t.playing = nil
	return nil
}

func (t *Timeline) stop(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, c := range t.pending {
		if c.id == id {
			heap.Remove(&t.pending, i)
			return
		}
	}
	for i, c := range t.playing {
		if c.id == id {
			t.playing = append(t.playing[:i], t.playing[i+1:]...)
			return
		}
	}
}

func (t *Timeline) frameToDuration(frame int64) time.Duration {
	return time.Duration(frame) * time.Second / time.Duration(t.format.SampleRate)
}

// durationToFrame rounds to the nearest frame so that a cursor built by
// summing clip durations lands back on the frame that ends the previous clip.
func (t *Timeline) durationToFrame(d time.Duration) int64 {
	return int64(math.Round(d.Seconds() * float64(t.format.SampleRate)))
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

type handle struct {
	t  *Timeline
	id uint64
}

func (h *handle) Stop() { h.t.stop(h.id) }
