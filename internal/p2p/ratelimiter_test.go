package p2p

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	r := NewRateLimiter(RateLimitConfig{Window: time.Second, MaxRequests: 3})
	now := time.Now()
	p := peer.ID("peer1")

	for i := 0; i < 3; i++ {
		if !r.Allow(p, now) {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if r.Allow(p, now) {
		t.Error("fourth request within the window should be denied")
	}
}

func TestRateLimiterResetsAfterWindow(t *testing.T) {
	r := NewRateLimiter(RateLimitConfig{Window: time.Second, MaxRequests: 1})
	now := time.Now()
	p := peer.ID("peer1")

	if !r.Allow(p, now) {
		t.Fatal("first request should be allowed")
	}
	if r.Allow(p, now) {
		t.Fatal("second request within the window should be denied")
	}

	later := now.Add(time.Second)
	if !r.Allow(p, later) {
		t.Error("request after the window elapses should be allowed")
	}
}

func TestRateLimiterIndependentPerPeer(t *testing.T) {
	r := NewRateLimiter(RateLimitConfig{Window: time.Second, MaxRequests: 1})
	now := time.Now()

	if !r.Allow(peer.ID("peerA"), now) {
		t.Fatal("peerA's first request should be allowed")
	}
	if !r.Allow(peer.ID("peerB"), now) {
		t.Error("peerB should have its own independent bucket")
	}
}

func TestRateLimiterDisabledWhenMaxIsZero(t *testing.T) {
	r := NewRateLimiter(RateLimitConfig{Window: time.Second, MaxRequests: 0})
	now := time.Now()
	p := peer.ID("peer1")

	for i := 0; i < 100; i++ {
		if !r.Allow(p, now) {
			t.Fatal("a zero MaxRequests should disable limiting")
		}
	}
}
