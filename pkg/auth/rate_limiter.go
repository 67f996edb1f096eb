package auth

import (
	"sync"
	"time"
)

// TokenBucketLimiter throttles per-key actions, used to cap join attempts
// per connection so a broken client cannot hammer the authenticator.
// Buckets refill continuously and idle keys are evicted.
type TokenBucketLimiter struct {
	maxTokens  int
	refillRate time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucketLimiter creates a limiter allowing maxTokens actions per
// key, refilling one token every refillRate.
func NewTokenBucketLimiter(maxTokens int, refillRate time.Duration) *TokenBucketLimiter {
	l := &TokenBucketLimiter{
		maxTokens:  maxTokens,
		refillRate: refillRate,
		buckets:    make(map[string]*bucket),
		stop:       make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether the key may act now, consuming a token if so.
func (l *TokenBucketLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.maxTokens, lastRefill: time.Now()}
		l.buckets[key] = b
	}

	now := time.Now()
	refill := int(now.Sub(b.lastRefill) / l.refillRate)
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.maxTokens {
			b.tokens = l.maxTokens
		}
		b.lastRefill = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Reset restores the key to a full bucket.
func (l *TokenBucketLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Close stops the background eviction.
func (l *TokenBucketLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *TokenBucketLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-10 * time.Minute)
			for key, b := range l.buckets {
				if b.lastRefill.Before(cutoff) && b.tokens >= l.maxTokens {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
