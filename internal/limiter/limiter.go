// Package limiter is a sliding-window counter keyed by client. The gateway
// uses it to throttle operator login attempts.
package limiter

import (
	"sync"
	"time"
)

type clientWindow struct {
	curr      int // attempts in the current window
	prev      int // attempts in the previous window
	currStart time.Time
}

type Limiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	limit   float64
	window  time.Duration
	now     func() time.Time
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		clients: make(map[string]*clientWindow),
		limit:   float64(limit),
		window:  window,
		now:     time.Now,
	}
}

// Allow counts one attempt for key and reports whether it is within limit.
// Rejected attempts are not counted.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	// Truncate floors the time to the start of its window slot
	currStart := now.Truncate(l.window)

	c, ok := l.clients[key]
	if !ok {
		l.clients[key] = &clientWindow{curr: 1, currStart: currStart}
		return l.limit >= 1
	}

	if currStart.After(c.currStart) {
		if currStart.Sub(c.currStart) == l.window {
			c.prev = c.curr
		} else {
			c.prev = 0
		}
		c.curr = 0
		c.currStart = currStart
	}

	// the previous window still weighs by the share of it that overlaps
	// the trailing window ending now
	prevWeight := float64(l.window-now.Sub(currStart)) / float64(l.window)
	estimated := float64(c.prev)*prevWeight + float64(c.curr)

	if estimated >= l.limit {
		return false
	}
	c.curr++
	return true
}

// Reset forgets key, e.g. after a successful login.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.clients, key)
	l.mu.Unlock()
}

// Sweep drops clients idle for two full windows.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Truncate(l.window).Add(-2 * l.window)
	n := 0
	for key, c := range l.clients {
		if !c.currStart.After(cutoff) {
			delete(l.clients, key)
			n++
		}
	}
	return n
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
