package ratelimit

import (
	"sync"
	"time"
)

// Config sets the fixed-window budget shared by every (service, client) key.
type Config struct {
	Requests int           // admitted requests per window
	Window   time.Duration // window length
}

type window struct {
	start time.Time
	count int
}

// Limiter is a fixed-window counter keyed by service id and client IP.
//
// A request opening a window (or arriving a full window after the previous
// start) is admitted with count=1. Inside a window requests are admitted
// while count < Requests; once the budget is spent further requests are
// denied without touching the counter.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	windows map[string]*window
}

// New builds a limiter. Non-positive values fall back to 1 request / 1 minute.
func New(cfg Config) *Limiter {
	if cfg.Requests < 1 {
		cfg.Requests = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		windows: make(map[string]*window, 1024),
	}
}

func key(serviceID, clientIP string) string {
	return serviceID + "|" + clientIP
}

// Allow reports whether one more request for (serviceID, clientIP) fits the current window.
func (l *Limiter) Allow(serviceID, clientIP string, now time.Time) bool {
	k := key(serviceID, clientIP)

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[k]
	if w == nil || now.Sub(w.start) >= l.cfg.Window {
		l.windows[k] = &window{start: now, count: 1}
		return true
	}
	if w.count >= l.cfg.Requests {
		return false
	}
	w.count++
	return true
}

// Purge drops windows that started more than two window lengths before now
// and returns how many were removed.
func (l *Limiter) Purge(now time.Time) int {
	ttl := 2 * l.cfg.Window

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, w := range l.windows {
		if now.Sub(w.start) > ttl {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked windows.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Limit returns the per-window request budget.
func (l *Limiter) Limit() int { return l.cfg.Requests }

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.cfg.Window }
