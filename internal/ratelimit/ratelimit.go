// Package ratelimit limits how often a single client may hit an endpoint.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter allows up to requests requests per window for each client key.
// Windows are fixed: a client's window opens with its first request and its
// count resets once the window has elapsed. Clients whose window has expired
// are evicted on the next sweep.
//
// It is safe for concurrent use.
type Limiter struct {
	requests int
	window   time.Duration
	now      func() time.Time

	// logRejected throttles the rejection log to one line per window.
	logRejected rate.Sometimes

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

type client struct {
	start time.Time
	count int
}

// New returns a Limiter allowing requests per window for each client.
func New(requests int, window time.Duration) *Limiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		requests:    requests,
		window:      window,
		now:         time.Now,
		logRejected: rate.Sometimes{First: 1, Interval: window},
		clients:     make(map[string]*client),
	}
}

// Allow reports whether a request from key may proceed now.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.take(key)
	return ok
}

// take counts a request from key. When the request is over the limit it
// returns the time left until the client's window resets.
func (l *Limiter) take(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)
	c, ok := l.clients[key]
	if !ok || now.Sub(c.start) >= l.window {
		c = &client{start: now}
		l.clients[key] = c
	}
	if c.count >= l.requests {
		return false, c.start.Add(l.window).Sub(now)
	}
	c.count++
	return true, 0
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Window returns the configured window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// sweepLocked drops clients whose window has expired. At most one sweep
// runs per window.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for k, c := range l.clients {
		if now.Sub(c.start) >= l.window {
			delete(l.clients, k)
		}
	}
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header. key extracts the client identifier; reject writes the rejection
// body.
func (l *Limiter) Middleware(key func(*http.Request) string, reject http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			k := key(req)
			ok, retry := l.take(k)
			if !ok {
				l.logRejected.Do(func() {
					zap.L().Sugar().Warnw("Rate limit exceeded", "client", k, "path", req.URL.Path)
				})
				rw.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				reject.ServeHTTP(rw, req)
				return
			}
			next.ServeHTTP(rw, req)
		})
	}
}
