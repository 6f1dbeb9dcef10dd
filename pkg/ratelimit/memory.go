package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	hits    int64
	resetAt time.Time
}

// MemoryCounter keeps windows in process. Windows reset lazily on the next
// hit after they elapse; Sweep drops elapsed windows that were never hit
// again.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

var _ Counter = (*MemoryCounter)(nil)

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, d time.Duration) (int64, time.Time, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(d)}
		c.windows[key] = w
	}
	w.hits++
	return w.hits, w.resetAt, nil
}

// Sweep removes windows that reset at or before now and returns how many
// were removed.
func (c *MemoryCounter) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, w := range c.windows {
		if !now.Before(w.resetAt) {
			delete(c.windows, key)
			n++
		}
	}
	return n
}

// Len returns the number of live windows.
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}
