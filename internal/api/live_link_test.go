package api

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/minutas/internal/live"
	"github.com/MrWong99/minutas/pkg/audio"
)

func le32(samples ...float32) []byte {
	b := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(s))
	}
	return b
}

func TestWSInput_RegroupsAndCountsDrops(t *testing.T) {
	t.Parallel()
	in := newWSInput()

	in.push(le32(1, 2)) // stream not opened yet
	if got := in.dropped.Load(); got != 1 {
		t.Fatalf("dropped before open = %d, want 1", got)
	}

	in.open(3)
	in.push(le32(1, 2))
	in.push(le32(3, 4, 5, 6, 7))
	for i, want := range [][]float32{{1, 2, 3}, {4, 5, 6}} {
		select {
		case got := <-in.Frames():
			if len(got) != len(want) || got[0] != want[0] || got[2] != want[2] {
				t.Errorf("frame %d = %v, want %v", i, got, want)
			}
		default:
			t.Fatalf("frame %d missing", i)
		}
	}

	// Fill the backlog; the overflow is counted, not blocked on.
	for range inboundFrames + 2 {
		in.push(le32(0, 0, 0))
	}
	if got := in.dropped.Load(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
}

func TestRemoteOutput_StopDoesNotBlockOnFullQueue(t *testing.T) {
	t.Parallel()
	link := &wsLink{out: make(chan any, 1), in: newWSInput()}
	out := newRemoteOutput(audio.LiveOutput, link)

	// Long enough that the completion timer cannot win the race with Stop.
	pb, err := out.Play(make([]byte, audio.LiveOutput.SampleRate*2*60), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Nobody drains the queue: the play message filled it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		pb.Stop()
		_ = out.Close()
	}()
	select {
	case <-done:
	case <-time.After(writeTimeout + 2*time.Second):
		t.Fatal("stop blocked on a full outbound queue")
	}
	if got := link.dropped.Load(); got != 1 {
		t.Errorf("dropped = %d, want the stop message counted", got)
	}
}

func TestWSLink_StatusDropsWhenFull(t *testing.T) {
	t.Parallel()
	link := &wsLink{out: make(chan any, 1), in: newWSInput()}
	link.out <- "filler"
	link.status(live.Status{})
	link.status(live.Status{})
	if got := link.dropped.Load(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
}
