package live

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/minutas/pkg/audio"
	"github.com/MrWong99/minutas/pkg/audio/timeline"
)

func pcmOf(v int16, frames int) []byte {
	b := make([]byte, frames*2)
	for i := range frames {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

func TestScheduler_OnTimeline(t *testing.T) {
	t.Parallel()

	// 1 kHz keeps the arithmetic readable: one frame per millisecond.
	tl := timeline.New(audio.Format{SampleRate: 1000, Channels: 1})
	var changes atomic.Int32
	s := newScheduler(tl, func() { changes.Add(1) })

	for i, v := range []int16{1, 2, 3} {
		start, err := s.schedule(pcmOf(v, 4))
		if err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
		if want := time.Duration(i*4) * time.Millisecond; start != want {
			t.Errorf("buffer %d start = %v, want %v", i, start, want)
		}
	}

	buf := make([]byte, 12*2)
	if _, err := tl.Read(buf); err != nil {
		t.Fatal(err)
	}
	for i := range 12 {
		got := int16(binary.LittleEndian.Uint16(buf[i*2:]))
		if want := int16(i/4 + 1); got != want {
			t.Fatalf("frame %d = %d, want %d (gap or overlap)", i, got, want)
		}
	}

	if n, _ := s.snapshot(); n != 0 {
		t.Errorf("scheduled = %d after playback, want 0", n)
	}
	if changes.Load() != 3 {
		t.Errorf("onChange calls = %d, want 3", changes.Load())
	}

	// The clock overtook the cursor: the next buffer starts now.
	if _, err := tl.Read(make([]byte, 10)); err != nil {
		t.Fatal(err)
	}
	start, err := s.schedule(pcmOf(9, 2))
	if err != nil {
		t.Fatal(err)
	}
	if start != 17*time.Millisecond {
		t.Errorf("start after underrun = %v, want 17ms", start)
	}
}

func TestScheduler_FlushSilences(t *testing.T) {
	t.Parallel()

	tl := timeline.New(audio.Format{SampleRate: 1000, Channels: 1})
	s := newScheduler(tl, nil)
	for range 3 {
		if _, err := s.schedule(pcmOf(5, 4)); err != nil {
			t.Fatal(err)
		}
	}

	if n := s.flush(); n != 3 {
		t.Errorf("flushed = %d, want 3", n)
	}
	if n, cursor := s.snapshot(); n != 0 || cursor != 0 {
		t.Errorf("after flush: scheduled=%d cursor=%v", n, cursor)
	}

	buf := make([]byte, 12*2)
	if _, err := tl.Read(buf); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(buf); i += 2 {
		if v := int16(binary.LittleEndian.Uint16(buf[i:])); v != 0 {
			t.Fatalf("flushed audio still audible at frame %d: %d", i/2, v)
		}
	}
	if tl.Active() != 0 {
		t.Errorf("timeline still holds %d clips", tl.Active())
	}
}

// stallingOutput blocks every Play until release is closed, like a remote
// speaker whose transport queue is full.
type stallingOutput struct {
	entered chan struct{}
	release chan struct{}
	stopped atomic.Int32
	err     error
}

func newStallingOutput() *stallingOutput {
	return &stallingOutput{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (o *stallingOutput) Format() audio.Format { return audio.Format{SampleRate: 1000, Channels: 1} }
func (o *stallingOutput) Now() time.Duration   { return 0 }

func (o *stallingOutput) Play([]byte, time.Duration, func()) (audio.Playback, error) {
	o.entered <- struct{}{}
	<-o.release
	if o.err != nil {
		return nil, o.err
	}
	return stopCounter{&o.stopped}, nil
}

type stopCounter struct{ n *atomic.Int32 }

func (c stopCounter) Stop() { c.n.Add(1) }

func TestScheduler_FlushDoesNotWaitForPlay(t *testing.T) {
	t.Parallel()

	out := newStallingOutput()
	s := newScheduler(out, nil)
	scheduled := make(chan error, 1)
	go func() {
		_, err := s.schedule(pcmOf(1, 4))
		scheduled <- err
	}()
	<-out.entered

	flushed := make(chan int, 1)
	go func() { flushed <- s.flush() }()
	select {
	case n := <-flushed:
		if n != 1 {
			t.Errorf("flushed = %d, want 1 in-flight buffer", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("flush blocked behind a stalled Play")
	}
	if n, cursor := s.snapshot(); n != 0 || cursor != 0 {
		t.Errorf("after flush: scheduled=%d cursor=%v", n, cursor)
	}

	close(out.release)
	if err := <-scheduled; err != nil {
		t.Fatalf("schedule: %v", err)
	}
	// The buffer flushed mid-Play is stopped once Play hands it back.
	if got := out.stopped.Load(); got != 1 {
		t.Errorf("stopped = %d, want 1", got)
	}
	if n, _ := s.snapshot(); n != 0 {
		t.Errorf("scheduled = %d, want flushed buffer not re-added", n)
	}
}

func TestScheduler_PlayErrorReleasesSlot(t *testing.T) {
	t.Parallel()

	out := newStallingOutput()
	out.err = errors.New("device gone")
	close(out.release)
	s := newScheduler(out, nil)

	if _, err := s.schedule(pcmOf(1, 4)); !errors.Is(err, out.err) {
		t.Fatalf("schedule = %v, want wrapped Play error", err)
	}
	<-out.entered
	if n, cursor := s.snapshot(); n != 0 || cursor != 0 {
		t.Errorf("after failed Play: scheduled=%d cursor=%v", n, cursor)
	}
}
