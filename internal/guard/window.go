package guard

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	DefaultWindow  = time.Minute
	DefaultLimit   = 100
	DefaultMaxKeys = 10000
)

// Limiter admits or rejects a request for key. When the request is rejected
// retryAfter reports how long the caller should wait before the oldest
// recorded hit leaves the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

type WindowConfig struct {
	Window  time.Duration
	Limit   int
	MaxKeys int
	Clock   func() time.Time
}

func (cfg WindowConfig) withDefaults() WindowConfig {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return cfg
}

// SlidingWindow keeps the timestamps of recent hits per key and prunes them
// lazily on each check. The number of tracked keys is bounded by MaxKeys.
type SlidingWindow struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	maxKeys int
	now     func() time.Time
	hits    map[string][]time.Time
}

func NewSlidingWindow(cfg WindowConfig) *SlidingWindow {
	cfg = cfg.withDefaults()
	return &SlidingWindow{
		window:  cfg.Window,
		limit:   cfg.Limit,
		maxKeys: cfg.MaxKeys,
		now:     cfg.Clock,
		hits:    make(map[string][]time.Time),
	}
}

func (w *SlidingWindow) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	key = normalizeKey(key)
	now := w.now()
	cutoff := now.Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	hits, tracked := w.hits[key]
	hits = pruneBefore(hits, cutoff)
	if len(hits) >= w.limit {
		w.hits[key] = hits
		return false, hits[0].Add(w.window).Sub(now), nil
	}
	if !tracked && len(w.hits) >= w.maxKeys {
		w.evictLocked(cutoff)
	}
	w.hits[key] = append(hits, now)
	return true, 0, nil
}

// tracked reports how many keys currently hold state.
func (w *SlidingWindow) tracked() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hits)
}

// evictLocked drops every key whose hits have all expired. If the map is
// still full, the key with the stalest latest hit is dropped.
func (w *SlidingWindow) evictLocked(cutoff time.Time) {
	for key, hits := range w.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(w.hits, key)
		}
	}
	if len(w.hits) < w.maxKeys {
		return
	}
	var (
		stalest     string
		stalestSeen time.Time
	)
	for key, hits := range w.hits {
		last := hits[len(hits)-1]
		if stalest == "" || last.Before(stalestSeen) {
			stalest, stalestSeen = key, last
		}
	}
	delete(w.hits, stalest)
}

func pruneBefore(hits []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(hits) && !hits[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return hits
	}
	return append(hits[:0], hits[idx:]...)
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "unknown"
	}
	return key
}
