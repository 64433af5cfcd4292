// Package mock provides in-memory implementations of [audio.Input] and
// [audio.Output], plus device openers over them, for use in unit tests.
//
// All mocks are safe for concurrent use. They record what was played so that
// tests can assert on it, and expose exported fields that the test can set to
// control failures.
//
// Typical usage:
//
//	in := mock.NewInput(16)
//	out := &mock.Output{}
//	mic := &mock.Microphone{Input: in}
//	spk := &mock.Speaker{Output: out}
//	in.Push(make([]float32, 4096))
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/minutas/pkg/audio"
)

// ─── Input ───────────────────────────────────────────────────────────────────

// Input is a mock capture stream fed by [Input.Push].
type Input struct {
	frames    chan []float32
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// NewInput returns an Input whose frame channel holds up to buffer frames.
func NewInput(buffer int) *Input {
	return &Input{frames: make(chan []float32, buffer)}
}

// Push queues one frame. It reports false when the input is closed or the
// buffer is full.
func (in *Input) Push(frame []float32) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return false
	}
	select {
	case in.frames <- frame:
		return true
	default:
		return false
	}
}

// Frames implements [audio.Input].
func (in *Input) Frames() <-chan []float32 { return in.frames }

// Close implements [audio.Input]. The frame channel is closed once.
func (in *Input) Close() error {
	in.closeOnce.Do(func() {
		in.mu.Lock()
		in.closed = true
		close(in.frames)
		in.mu.Unlock()
	})
	return nil
}

// Closed reports whether Close was called.
func (in *Input) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// ─── Output ──────────────────────────────────────────────────────────────────

// Play records one scheduled clip.
type Play struct {
	Bytes   int
	At      time.Duration
	Stopped bool

	onEnded func()
}

// Output is a mock playback context with a manually driven clock. Clips never
// end on their own; call [Output.Finish].
type Output struct {
	// AudioFormat is returned by Format. Zero means [audio.LiveOutput].
	AudioFormat audio.Format

	mu     sync.Mutex
	now    time.Duration
	plays  []*Play
	closed bool
}

// Format implements [audio.Output].
func (o *Output) Format() audio.Format {
	if o.AudioFormat.SampleRate == 0 {
		return audio.LiveOutput
	}
	return o.AudioFormat
}

// Now implements [audio.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SetNow moves the clock.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	o.now = d
	o.mu.Unlock()
}

// Play implements [audio.Output].
func (o *Output) Play(pcm []byte, at time.Duration, onEnded func()) (audio.Playback, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, audio.ErrClosed
	}
	p := &Play{Bytes: len(pcm), At: at, onEnded: onEnded}
	o.plays = append(o.plays, p)
	return playback{o: o, p: p}, nil
}

// Plays returns a copy of every clip scheduled so far, in order.
func (o *Output) Plays() []Play {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Play, len(o.plays))
	for i, p := range o.plays {
		out[i] = *p
	}
	return out
}

// Finish simulates clip i playing to completion. Stopped clips do not call
// back.
func (o *Output) Finish(i int) {
	o.mu.Lock()
	p := o.plays[i]
	stopped := p.Stopped
	o.mu.Unlock()
	if !stopped && p.onEnded != nil {
		p.onEnded()
	}
}

// Close implements [audio.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

type playback struct {
	o *Output
	p *Play
}

func (pb playback) Stop() {
	pb.o.mu.Lock()
	pb.p.Stopped = true
	pb.o.mu.Unlock()
}

// ─── Devices ─────────────────────────────────────────────────────────────────

// Microphone opens Input, or fails with Err.
type Microphone struct {
	Input *Input
	Err   error

	mu        sync.Mutex
	openCalls int
	lastFmt   audio.Format
}

// Open records the requested format and returns Input.
func (m *Microphone) Open(_ context.Context, f audio.Format, _ int) (audio.Input, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCalls++
	m.lastFmt = f
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Input, nil
}

// OpenCalls returns how many times Open was called.
func (m *Microphone) OpenCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCalls
}

// LastFormat returns the format of the most recent Open.
func (m *Microphone) LastFormat() audio.Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFmt
}

// Speaker opens Output, or fails with Err.
type Speaker struct {
	Output *Output
	Err    error

	mu      sync.Mutex
	lastFmt audio.Format
}

// Open records the requested format and returns Output.
func (s *Speaker) Open(_ context.Context, f audio.Format) (audio.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFmt = f
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Output, nil
}

// LastFormat returns the format of the most recent Open.
func (s *Speaker) LastFormat() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFmt
}
