package p2p

import (
	"sync"
	"time"
)

// RateLimitConfig bounds the number of requests a single peer may issue
// within a fixed time window.
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests uint32
}

// rateBucket is the fixed-window counter tracked per peer.
type rateBucket struct {
	windowStart time.Time
	count       uint32
}

// RateLimiter enforces RateLimitConfig per peer using a fixed, resetting
// window: once now-windowStart >= Window, the bucket resets rather than
// sliding. Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	buckets map[PeerID]*rateBucket
}

// NewRateLimiter builds a RateLimiter using cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg:     cfg,
		buckets: make(map[PeerID]*rateBucket),
	}
}

// Allow reports whether peer may issue another request at now, incrementing
// its bucket's count as a side effect when the request is allowed. A
// non-positive MaxRequests disables limiting entirely.
func (r *RateLimiter) Allow(peer PeerID, now time.Time) bool {
	if r.cfg.MaxRequests == 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[peer]
	if !ok {
		b = &rateBucket{windowStart: now}
		r.buckets[peer] = b
	}

	if now.Sub(b.windowStart) >= r.cfg.Window {
		b.windowStart = now
		b.count = 0
	}

	if b.count >= r.cfg.MaxRequests {
		return false
	}
	b.count++
	return true
}
