// Package ratelimit implements a per-key sliding-window request limiter.
//
// Keys are spread over a fixed number of shards. A shard lock guards only its
// key-to-window map and is held just long enough to find or create a window;
// each window then has its own mutex, so evaluating one tenant never blocks
// another.
package ratelimit

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// DefaultWindow is the trailing interval over which requests are counted.
const DefaultWindow = time.Minute

const numShards = 32

// Limiter tracks request timestamps per key with a sliding window.
type Limiter struct {
	window          time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	logger          *slog.Logger

	shards [numShards]shard

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// window holds the admitted timestamps of one key, oldest first.
type window struct {
	mu     sync.Mutex
	stamps []time.Time
	dead   bool // Removed from its shard; callers must fetch a fresh window
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithCleanupInterval sets how often empty windows are removed.
func WithCleanupInterval(d time.Duration) Option {
	return func(l *Limiter) { l.cleanupInterval = d }
}

// New creates a limiter and starts its cleanup goroutine. Call Close to
// stop it.
func New(windowSize time.Duration, logger *slog.Logger, opts ...Option) *Limiter {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	l := &Limiter{
		window:          windowSize,
		cleanupInterval: windowSize,
		now:             time.Now,
		logger:          logger,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	for i := range l.shards {
		l.shards[i].windows = make(map[string]*window)
	}

	go l.cleanup()

	return l
}

// Admit reports whether a request for key is allowed under ceiling requests
// per window, and records it when it is. A ceiling of zero or less denies.
func (l *Limiter) Admit(key string, ceiling int) bool {
	if ceiling <= 0 {
		return false
	}
	for {
		w := l.getWindow(key)
		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			continue
		}
		now := l.now()
		w.prune(now.Add(-l.window))
		if len(w.stamps) >= ceiling {
			w.mu.Unlock()
			return false
		}
		w.stamps = append(w.stamps, now)
		w.mu.Unlock()
		return true
	}
}

// Count returns how many requests for key are inside the current window.
func (l *Limiter) Count(key string) int {
	w := l.lookup(key)
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(l.now().Add(-l.window))
	return len(w.stamps)
}

// RetryAfter returns how long until the oldest request for key leaves the
// window, or zero when nothing is recorded.
func (l *Limiter) RetryAfter(key string) time.Duration {
	w := l.lookup(key)
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	w.prune(now.Add(-l.window))
	if len(w.stamps) == 0 {
		return 0
	}
	return w.stamps[0].Add(l.window).Sub(now)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.shards[h.Sum32()%numShards]
}

func (l *Limiter) getWindow(key string) *window {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		w = &window{}
		s.windows[key] = w
	}
	return w
}

func (l *Limiter) lookup(key string) *window {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[key]
}

// prune drops timestamps at or before cutoff. Caller holds w.mu.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// cleanup periodically removes windows with no live entries so idle keys do
// not accumulate.
func (l *Limiter) cleanup() {
	defer close(l.done)

	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if removed := l.sweep(); removed > 0 {
				l.logger.Debug("rate limiter swept idle keys", "removed", removed)
			}
		}
	}
}

// sweep removes idle windows and returns how many were removed.
func (l *Limiter) sweep() int {
	cutoff := l.now().Add(-l.window)
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for key, w := range s.windows {
			w.mu.Lock()
			w.prune(cutoff)
			if len(w.stamps) == 0 {
				w.dead = true
				delete(s.windows, key)
				removed++
			}
			w.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return removed
}
