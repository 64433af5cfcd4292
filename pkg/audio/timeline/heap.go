package timeline

// clip is one scheduled block of PCM on the timeline.
type clip struct {
	id      uint64
	start   int64 // first sample frame
	pcm     []byte
	onEnded func()
}

// end returns the sample frame just past the clip.
func (c *clip) end(frameSize int) int64 {
	return c.start + int64(len(c.pcm)/frameSize)
}

// clipHeap implements [container/heap.Interface] as a min-heap ordered by
// start frame, with ties broken by insertion order (id ascending).
type clipHeap []*clip

func (h clipHeap) Len() int { return len(h) }

func (h clipHeap) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].id < h[j].id
}

func (h clipHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *clipHeap) Push(x any) {
	*h = append(*h, x.(*clip))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *clipHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}
