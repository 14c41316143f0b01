package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter *rate.Limiter
	touched time.Time
}

// KeyedLimiter keeps one token bucket per key: a video job id for the
// poller, a peer address for the OAuth callback. Callers Forget a key once
// it can no longer be seen again, for example when a job has finished;
// keys left behind are swept after ttl of inactivity.
type KeyedLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	sweptAt time.Time
	now     func() time.Time
}

// NewKeyedLimiter allows up to events per window for each key, plus burst.
func NewKeyedLimiter(events int, window time.Duration, burst int, ttl time.Duration) *KeyedLimiter {
	if events <= 0 {
		events = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &KeyedLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(window / time.Duration(events)),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Allow reports whether an event for key may happen now and consumes a
// token if so. The empty key shares one bucket.
func (l *KeyedLimiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.touched = now
	l.sweepLocked(now)

	return b.limiter.AllowN(now, 1)
}

// Forget drops the bucket for key. The next Allow for it starts full.
func (l *KeyedLimiter) Forget(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Len reports how many keys are tracked.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweepLocked walks the map at most twice per ttl.
func (l *KeyedLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.sweptAt) < l.ttl/2 {
		return
	}
	l.sweptAt = now
	for key, b := range l.buckets {
		if now.Sub(b.touched) > l.ttl {
			delete(l.buckets, key)
		}
	}
}

// WithNowFunc allows tests to override the time source.
func (l *KeyedLimiter) WithNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
