package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(t *testing.T, rps float64, burst int) (*Limiter, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewLimiter(Config{RequestsPerSecond: rps, Burst: burst})
	rl.now = c.now
	t.Cleanup(rl.Stop)
	return rl, c
}

func TestAllowBurstThenRefill(t *testing.T) {
	rl, c := newTestLimiter(t, 0.2, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("1.2.3.4"), "request %d within burst", i)
	}
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"), "clients are limited independently")

	c.advance(5 * time.Second)
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.Equal(t, int64(2), rl.Limited())
}

func TestRetryAfter(t *testing.T) {
	rl, _ := newTestLimiter(t, 0.2, 1)
	require.True(t, rl.Allow("a"))
	assert.Equal(t, 5*time.Second, rl.RetryAfter("a"))
	// Asking does not consume a token.
	assert.Equal(t, 5*time.Second, rl.RetryAfter("a"))
}

func TestCleanupStaleEntries(t *testing.T) {
	rl, c := newTestLimiter(t, 1, 1)
	rl.Allow("a")
	c.advance(time.Minute)
	rl.Allow("b")
	assert.Equal(t, 2, rl.ActiveClients())

	c.advance(10 * time.Minute)
	assert.Equal(t, 1, rl.cleanupStaleEntries())
	assert.Equal(t, 1, rl.ActiveClients())
}

func TestMiddleware(t *testing.T) {
	rl, _ := newTestLimiter(t, 0.2, 1)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	byAddr := func(r *http.Request) string { return r.RemoteAddr }

	h := rl.Middleware(byAddr, nil)(ok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refresh", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refresh", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	var waited time.Duration
	custom := rl.Middleware(byAddr, func(w http.ResponseWriter, r *http.Request, wait time.Duration) {
		waited = wait
		w.WriteHeader(http.StatusSeeOther)
	})(ok)
	rec = httptest.NewRecorder()
	custom.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refresh", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, 5*time.Second, waited)
}

func TestStopIsIdempotent(t *testing.T) {
	rl := NewLimiter(DefaultConfig())
	rl.Stop()
	rl.Stop()
}
