package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter hands out one token bucket per user so a single client cannot
// monopolise a market's lock with a stream of trades.
type userLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

// newUserLimiter allows perSecond trades per user with the given burst.
// A non-positive perSecond disables limiting.
func newUserLimiter(perSecond float64, burst int) *userLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &userLimiter{
		every:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether userID may trade now. A nil limiter allows all.
func (l *userLimiter) Allow(userID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets[userID]
	if !ok {
		b = rate.NewLimiter(l.every, l.burst)
		l.buckets[userID] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

// retryAfter is how long a rejected caller should wait for one token.
func (l *userLimiter) retryAfter() time.Duration {
	if l == nil || l.every <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(l.every))
}
