package ratelimit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(n int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(n, window)
	l.now = clock.Now
	return l, clock
}

func TestLimiter_Allow(t *testing.T) {
	l, clock := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.Assert(t, l.Allow("192.0.2.1"), "request %d should pass", i)
	}
	assert.Assert(t, !l.Allow("192.0.2.1"), "4th request should be rejected")

	// Other clients have their own allowance.
	assert.Assert(t, l.Allow("192.0.2.2"))

	clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		assert.Assert(t, l.Allow("192.0.2.1"), "request %d after the window should pass", i)
	}
	assert.Assert(t, !l.Allow("192.0.2.1"))
}

func TestLimiter_SpreadRequests(t *testing.T) {
	l, clock := newTestLimiter(10, 15*time.Minute)

	// 20 requests 45s apart all land in the same 15 minute window.
	allowed := 0
	for i := 0; i < 20; i++ {
		if l.Allow("192.0.2.1") {
			allowed++
		}
		clock.Advance(45 * time.Second)
	}
	assert.Equal(t, allowed, 10)

	// The window opened at the first request has now elapsed.
	assert.Assert(t, l.Allow("192.0.2.1"))
}

func TestLimiter_Eviction(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)
	for i := 0; i < 100; i++ {
		l.Allow(fmt.Sprintf("client-%d", i))
	}
	assert.Equal(t, l.Len(), 100)

	clock.Advance(2 * time.Minute)
	l.Allow("fresh")
	assert.Equal(t, l.Len(), 1)
}

func TestLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(50, time.Hour)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("same") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, allowed, 50)
}

func TestLimiter_Middleware(t *testing.T) {
	l, clock := newTestLimiter(1, 30*time.Second)
	key := func(r *http.Request) string { return r.RemoteAddr }
	reject := http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusTooManyRequests)
	})
	h := l.Middleware(key, reject)(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/speed", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, do().Code, http.StatusOK)
	rec := do()
	assert.Equal(t, rec.Code, http.StatusTooManyRequests)
	assert.Equal(t, rec.Header().Get("Retry-After"), "30")

	clock.Advance(20 * time.Second)
	rec = do()
	assert.Equal(t, rec.Code, http.StatusTooManyRequests)
	assert.Equal(t, rec.Header().Get("Retry-After"), "10")

	clock.Advance(10 * time.Second)
	assert.Equal(t, do().Code, http.StatusOK)
}
