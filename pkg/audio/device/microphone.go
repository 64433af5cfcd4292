// Package device adapts the host's sound hardware to the live session
// bridge: malgo for microphone capture and oto for speaker playback.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/minutas/pkg/audio"
)

// ErrPermission is returned when the capture device cannot be opened, which
// on desktop systems almost always means access was refused.
var ErrPermission = errors.New("device: microphone unavailable or access refused")

// Microphone opens the system default capture device.
type Microphone struct {
	// Backlog is how many complete buffers may queue before new ones are
	// dropped. Default: 8.
	Backlog int
}

// Open starts capturing at f with buffers of bufferSize samples.
func (m *Microphone) Open(_ context.Context, f audio.Format, bufferSize int) (audio.Input, error) {
	backlog := m.Backlog
	if backlog <= 0 {
		backlog = 8
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}

	in := &input{
		mctx:    mctx,
		frames:  make(chan []float32, backlog),
		chunker: audio.NewChunker(bufferSize, f.Channels),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: in.onData})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: %w", ErrPermission, err)
	}
	in.dev = dev
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: start: %w", ErrPermission, err)
	}

	slog.Debug("microphone opened", slog.String("format", f.String()), slog.Int("buffer", bufferSize))
	return in, nil
}

type input struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device

	mu      sync.Mutex
	chunker *audio.Chunker
	frames  chan []float32
	closed  bool
	dropped int
}

// onData runs on the audio thread and must never block.
func (in *input) onData(_, raw []byte, _ uint32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.chunker.Push(raw, func(buf []float32) {
		select {
		case in.frames <- buf:
		default:
			in.dropped++
		}
	})
}

func (in *input) Frames() <-chan []float32 { return in.frames }

func (in *input) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	dropped := in.dropped
	close(in.frames)
	in.mu.Unlock()

	// Uninit waits for the audio thread, which may be blocked on in.mu, so
	// it runs after the lock is released.
	in.dev.Uninit()
	err := in.mctx.Uninit()
	in.mctx.Free()
	if dropped > 0 {
		slog.Debug("microphone backlog overflowed", slog.Int("dropped", dropped))
	}
	return err
}

var _ audio.Input = (*input)(nil)
