package checkin

import (
	"sync"
	"time"
)

// Limiter caps join code resolutions per participant within a one minute window.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[string]*clientLimit
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewLimiter creates a limiter allowing perMinute attempts per participant.
// A non-positive perMinute disables limiting.
func NewLimiter(perMinute int, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		limit:   perMinute,
		window:  time.Minute,
		now:     now,
		clients: make(map[string]*clientLimit),
	}
}

// Allow records one attempt for participantID and reports whether it fits the limit.
func (l *Limiter) Allow(participantID string) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	c, exists := l.clients[participantID]
	if !exists {
		l.clients[participantID] = &clientLimit{count: 1, windowStart: now}
		return true
	}

	if now.Sub(c.windowStart) >= l.window {
		c.count = 1
		c.windowStart = now
		return true
	}

	if c.count >= l.limit {
		return false
	}

	c.count++
	return true
}

// Cleanup removes entries idle for five windows. Call periodically.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, c := range l.clients {
		if now.Sub(c.windowStart) > 5*l.window {
			delete(l.clients, id)
		}
	}
}

// Len returns the number of tracked participants.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
