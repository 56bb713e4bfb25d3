// Package ratelimit enforces a minimum interval between requests that
// share a host. One limiter instance is created at startup and injected
// into every component that issues outbound HTTP.
package ratelimit

import (
	"net/url"
	"sync"
	"time"
)

// Limiter spaces requests per host. Calls for the same host are strictly
// serialised with inter-arrival >= the configured interval; calls for
// different hosts never wait on one another.
type Limiter struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
	override map[string]time.Duration

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a limiter with the given default interval.
func New(interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Limiter{
		last:     make(map[string]time.Time),
		interval: interval,
		override: make(map[string]time.Duration),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// SetHostInterval overrides the interval for one host (search provider
// endpoints run at 1s).
func (l *Limiter) SetHostInterval(host string, interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.override[host] = interval
}

// Wait blocks until a request to rawURL's host is permitted, then stamps
// the host. Unparsable URLs are not limited.
func (l *Limiter) Wait(rawURL string) {
	host := hostOf(rawURL)
	if host == "" {
		return
	}
	l.WaitHost(host)
}

// WaitHost is Wait for an already-derived host.
func (l *Limiter) WaitHost(host string) {
	for {
		l.mu.Lock()
		interval := l.interval
		if ov, ok := l.override[host]; ok {
			interval = ov
		}
		now := l.now()
		last, seen := l.last[host]
		if !seen || now.Sub(last) >= interval {
			l.last[host] = now
			l.mu.Unlock()
			return
		}
		wait := interval - now.Sub(last)
		l.mu.Unlock()
		l.sleep(wait)
	}
}

// Reset clears all host state. Tests only.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = make(map[string]time.Time)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
