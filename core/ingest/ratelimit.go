package ingest

import (
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/onboardbot/core/event"
	"github.com/m3rciful/onboardbot/core/user"
)

// RateLimiter enforces a minimum interval between events from the same sender.
type RateLimiter struct {
	interval time.Duration
	exclude  map[event.Kind]struct{}
	now      func() time.Time

	mu       sync.Mutex
	lastSeen map[user.SenderID]time.Time
	lastGC   time.Time
}

// NewRateLimiter returns nil when interval <= 0, which disables limiting.
// Events whose kind is listed in excludeKinds are never limited.
func NewRateLimiter(interval time.Duration, excludeKinds []string) *RateLimiter {
	if interval <= 0 {
		return nil
	}
	ex := make(map[event.Kind]struct{}, len(excludeKinds))
	for _, k := range excludeKinds {
		ex[event.Kind(strings.ToLower(strings.TrimSpace(k)))] = struct{}{}
	}
	return &RateLimiter{
		interval: interval,
		exclude:  ex,
		now:      time.Now,
		lastSeen: make(map[user.SenderID]time.Time),
	}
}

// Allow records ev and reports whether it may be processed.
func (r *RateLimiter) Allow(ev event.InboundEvent) bool {
	if r == nil {
		return true
	}
	if _, skip := r.exclude[ev.Kind]; skip {
		return true
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.lastGC) > time.Minute {
		for id, ts := range r.lastSeen {
			if now.Sub(ts) >= r.interval {
				delete(r.lastSeen, id)
			}
		}
		r.lastGC = now
	}
	if last, ok := r.lastSeen[ev.SenderID]; ok && now.Sub(last) < r.interval {
		return false
	}
	r.lastSeen[ev.SenderID] = now
	return true
}
