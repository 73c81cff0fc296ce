package lifecycle

import "sync"

type viewerCount struct {
	current int
	peak    int
}

// viewerTracker counts attached players per stream. Counts live only in
// process memory and are cleared when the stream goes offline.
type viewerTracker struct {
	mu      sync.Mutex
	entries map[string]viewerCount
	total   int
}

func newViewerTracker() *viewerTracker {
	return &viewerTracker{entries: make(map[string]viewerCount)}
}

func (t *viewerTracker) increment(streamID string) (viewerCount, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := t.entries[streamID]
	counts.current++
	if counts.current > counts.peak {
		counts.peak = counts.current
	}
	t.entries[streamID] = counts
	t.total++
	return counts, t.total
}

func (t *viewerTracker) decrement(streamID string) (viewerCount, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts, ok := t.entries[streamID]
	if !ok {
		return viewerCount{}, t.total
	}
	if counts.current > 0 {
		counts.current--
		t.total--
	}
	t.entries[streamID] = counts
	return counts, t.total
}

func (t *viewerTracker) current(streamID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[streamID].current
}

// clear drops the stream's counts and returns its peak.
func (t *viewerTracker) clear(streamID string) (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := t.entries[streamID]
	t.total -= counts.current
	delete(t.entries, streamID)
	return counts.peak, t.total
}
