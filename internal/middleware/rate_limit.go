package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RunLimiter is a per-client token bucket guarding the backtest routes
type RunLimiter struct {
	perSecond float64
	burst     float64
	idle      time.Duration
	now       func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRunLimiter allows perMinute requests per client with bursts up to burst
func NewRunLimiter(perMinute, burst int) *RunLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &RunLimiter{
		perSecond: float64(perMinute) / 60,
		burst:     float64(burst),
		idle:      time.Hour,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
	}
	// a bucket untouched for a full refill is the same as a fresh one
	if l.perSecond > 0 {
		refill := time.Duration(l.burst / l.perSecond * float64(time.Second))
		if refill > time.Minute {
			l.idle = refill
		} else {
			l.idle = time.Minute
		}
	}
	return l
}

// Allow takes one token from the bucket of client
func (l *RunLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}

	b, ok := l.buckets[client]
	if !ok {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[client] = b
	}

	b.tokens += now.Sub(b.last).Seconds() * l.perSecond
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops the buckets of clients idle for longer than a full refill
func (l *RunLimiter) sweep(now time.Time) {
	for client, b := range l.buckets {
		if now.Sub(b.last) >= l.idle {
			delete(l.buckets, client)
		}
	}
	l.lastSweep = now
}

// RateLimit rejects requests over the limit with 429.
// A nil limiter lets every request through.
func RateLimit(limiter *RunLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Try again later."})
			c.Abort()
			return
		}
		c.Next()
	}
}
