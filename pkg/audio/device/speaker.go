package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/minutas/pkg/audio"
	"github.com/MrWong99/minutas/pkg/audio/timeline"
)

// oto allows a single context per process; every Speaker shares it.
var (
	otoOnce   sync.Once
	otoCtx    *oto.Context
	otoFormat audio.Format
	otoErr    error
)

func sharedContext(f audio.Format, buffer time.Duration) (*oto.Context, error) {
	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   f.SampleRate,
			ChannelCount: f.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   buffer,
		})
		if otoErr == nil {
			<-ready
			otoFormat = f
		}
	})
	if otoErr != nil {
		return nil, fmt.Errorf("device: init speaker: %w", otoErr)
	}
	if otoFormat != f {
		return nil, fmt.Errorf("device: speaker already opened as %s, cannot switch to %s", otoFormat, f)
	}
	return otoCtx, nil
}

// Speaker plays through the system default output device. Each Open returns
// a fresh [timeline.Timeline] pulled by an oto player, so the output clock
// advances with the samples handed to the hardware.
type Speaker struct {
	// Buffer is the device buffer length. Default: 100ms.
	Buffer time.Duration
}

// Open starts a playback context at f.
func (s *Speaker) Open(_ context.Context, f audio.Format) (audio.Output, error) {
	buffer := s.Buffer
	if buffer <= 0 {
		buffer = 100 * time.Millisecond
	}
	ctx, err := sharedContext(f, buffer)
	if err != nil {
		return nil, err
	}

	tl := timeline.New(f)
	player := ctx.NewPlayer(tl)
	player.Play()
	return &output{Timeline: tl, player: player}, nil
}

type output struct {
	*timeline.Timeline
	player    *oto.Player
	closeOnce sync.Once
}

func (o *output) Close() error {
	var err error
	o.closeOnce.Do(func() {
		_ = o.Timeline.Close()
		err = o.player.Close()
	})
	return err
}

var _ audio.Output = (*output)(nil)
