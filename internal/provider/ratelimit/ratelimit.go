// Package ratelimit enforces per-provider quotas across four independent
// windows (second/minute/hour/day). A window's count resets only once the
// elapsed time since the first request in that window exceeds the window
// length — rollover, not restart.
package ratelimit

import (
	"sync"
	"time"
)

// Config sets the capacity of each window. Zero means unlimited.
type Config struct {
	PerSecond int `json:"per_second"`
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
	PerDay    int `json:"per_day"`
}

type window struct {
	capacity int
	length   time.Duration
	count    int
	start    time.Time // first request in the current window; zero when idle
}

// rollover resets the window once its length has fully elapsed.
func (w *window) rollover(now time.Time) {
	if !w.start.IsZero() && now.Sub(w.start) >= w.length {
		w.count = 0
		w.start = time.Time{}
	}
}

func (w *window) exhausted() bool {
	return w.capacity > 0 && w.count >= w.capacity
}

func (w *window) record(now time.Time) {
	if w.start.IsZero() {
		w.start = now
	}
	w.count++
}

// remaining is the time until this window rolls over. Zero when schedulable.
func (w *window) remaining(now time.Time) time.Duration {
	if !w.exhausted() {
		return 0
	}
	d := w.length - now.Sub(w.start)
	if d < 0 {
		return 0
	}
	return d
}

// Limiter tracks one provider's request budget. All four windows move as a
// single atomic step under one mutex; no caller observes a torn update.
type Limiter struct {
	mu      sync.Mutex
	windows [4]window
	now     func() time.Time
}

func New(cfg Config) *Limiter {
	return &Limiter{
		windows: [4]window{
			{capacity: cfg.PerSecond, length: time.Second},
			{capacity: cfg.PerMinute, length: time.Minute},
			{capacity: cfg.PerHour, length: time.Hour},
			{capacity: cfg.PerDay, length: 24 * time.Hour},
		},
		now: time.Now,
	}
}

// Allow reports whether a request could be made right now without
// consuming budget.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowLocked(l.now())
}

func (l *Limiter) allowLocked(now time.Time) bool {
	for i := range l.windows {
		l.windows[i].rollover(now)
		if l.windows[i].exhausted() {
			return false
		}
	}
	return true
}

// Record consumes one request from all four windows.
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for i := range l.windows {
		l.windows[i].rollover(now)
		l.windows[i].record(now)
	}
}

// Reserve atomically checks and records a request. The orchestrator uses
// this so a check and its matching record cannot interleave across callers.
func (l *Limiter) Reserve() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if !l.allowLocked(now) {
		return false
	}
	for i := range l.windows {
		l.windows[i].record(now)
	}
	return true
}

// TimeUntilNext reports how long until the binding (longest-blocking)
// window frees up. Zero means a request is schedulable now.
func (l *Limiter) TimeUntilNext() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	var wait time.Duration
	for i := range l.windows {
		l.windows[i].rollover(now)
		if d := l.windows[i].remaining(now); d > wait {
			wait = d
		}
	}
	return wait
}

// Usage is a read-only snapshot of the current window counts.
type Usage struct {
	Second int `json:"second"`
	Minute int `json:"minute"`
	Hour   int `json:"hour"`
	Day    int `json:"day"`
}

// Limits returns the configured window capacities. Capacities are fixed at
// construction, so no lock is needed.
func (l *Limiter) Limits() Config {
	return Config{
		PerSecond: l.windows[0].capacity,
		PerMinute: l.windows[1].capacity,
		PerHour:   l.windows[2].capacity,
		PerDay:    l.windows[3].capacity,
	}
}

// Snapshot returns current per-window request counts.
func (l *Limiter) Snapshot() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for i := range l.windows {
		l.windows[i].rollover(now)
	}
	return Usage{
		Second: l.windows[0].count,
		Minute: l.windows[1].count,
		Hour:   l.windows[2].count,
		Day:    l.windows[3].count,
	}
}
