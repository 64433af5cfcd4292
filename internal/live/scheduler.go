package live

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/minutas/pkg/audio"
)

// scheduler places engine audio on an output clock back to back. Every
// buffer starts at max(clock, cursor) and pushes the cursor by its duration,
// so buffers play in arrival order without gaps or overlap.
type scheduler struct {
	out      audio.Output
	onChange func()

	mu      sync.Mutex
	cursor  time.Duration
	playing map[uint64]audio.Playback
	nextID  uint64
	// gen is bumped by flush so a late onEnded from a flushed buffer never
	// touches the new set.
	gen uint64
}

func newScheduler(out audio.Output, onChange func()) *scheduler {
	if onChange == nil {
		onChange = func() {}
	}
	return &scheduler{
		out:      out,
		onChange: onChange,
		playing:  make(map[uint64]audio.Playback),
	}
}

// schedule queues pcm and returns its start position. The slot is reserved
// under the lock; Play and Stop run outside it, since an output may block on
// its transport.
func (s *scheduler) schedule(pcm []byte) (time.Duration, error) {
	s.mu.Lock()
	start := max(s.out.Now(), s.cursor)
	end := start + s.out.Format().Duration(len(pcm))
	id, gen := s.nextID, s.gen
	s.nextID++
	s.cursor = end
	s.playing[id] = nil // reserved until Play returns
	s.mu.Unlock()

	pb, err := s.out.Play(pcm, start, func() { s.ended(id, gen) })

	s.mu.Lock()
	if err != nil {
		if gen == s.gen {
			delete(s.playing, id)
			if s.cursor == end {
				s.cursor = start
			}
		}
		s.mu.Unlock()
		return 0, fmt.Errorf("live: schedule playback: %w", err)
	}
	_, reserved := s.playing[id]
	switch {
	case gen != s.gen:
		// Flushed while Play was in flight.
		s.mu.Unlock()
		pb.Stop()
		return start, nil
	case reserved:
		s.playing[id] = pb
	}
	s.mu.Unlock()
	return start, nil
}

func (s *scheduler) ended(id, gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	delete(s.playing, id)
	s.mu.Unlock()
	s.onChange()
}

// flush stops every scheduled buffer, empties the set and resets the cursor
// to zero. It returns how many buffers were stopped, counting those whose
// Play is still in flight.
func (s *scheduler) flush() int {
	s.mu.Lock()
	n := len(s.playing)
	stop := make([]audio.Playback, 0, n)
	for _, pb := range s.playing {
		if pb != nil {
			stop = append(stop, pb)
		}
	}
	clear(s.playing)
	s.cursor = 0
	s.gen++
	s.mu.Unlock()

	for _, pb := range stop {
		pb.Stop()
	}
	return n
}

func (s *scheduler) snapshot() (scheduled int, cursor time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.playing), s.cursor
}
