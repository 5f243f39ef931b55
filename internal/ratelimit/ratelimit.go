package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter counts attempts per key inside a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Pruner is implemented by limiters that keep state which outlives its window.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

type Options struct {
	Window time.Duration
	Max    int
}

func (o Options) disabled() bool {
	return o.Window <= 0 || o.Max <= 0
}

// Disabled allows everything. Used when either option is zero or negative.
type Disabled struct{}

func (Disabled) Allow(context.Context, string) (bool, error) { return true, nil }

type MemoryLimiter struct {
	opts    Options
	now     func() time.Time
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

func NewMemory(opts Options) Limiter {
	if opts.disabled() {
		return Disabled{}
	}
	return &MemoryLimiter{opts: opts, now: time.Now, windows: map[string]*window{}}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w, ok := l.windows[key]
	if !ok || w.start.Before(now.Add(-l.opts.Window)) {
		l.windows[key] = &window{start: now, count: 1}
		return true, nil
	}
	w.count++
	return w.count <= l.opts.Max, nil
}

func (l *MemoryLimiter) Prune(_ context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var removed int64
	for key, w := range l.windows {
		if w.start.Before(now.Add(-l.opts.Window)) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed, nil
}
