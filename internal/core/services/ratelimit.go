package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/inquest-ai/inquest/internal/core/domain"
)

type rateWindow struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window counter keyed by client identity. In-memory
// only: adequate for single-process admission control. A multi-process
// deployment needs a shared store behind the same interface.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateWindow
	window  time.Duration
	max     int
	now     func() time.Time // swapped in tests
}

func NewRateLimiter(window time.Duration, maxRequests int) *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*rateWindow),
		window:  window,
		max:     maxRequests,
		now:     time.Now,
	}
}

// Allow admits or denies one request for key. Entries past their window are
// lazily pruned on access; there is no background sweep.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.prune(now)

	entry, ok := rl.entries[key]
	if !ok || !entry.resetAt.After(now) {
		rl.entries[key] = &rateWindow{count: 1, resetAt: now.Add(rl.window)}
		return true
	}
	if entry.count >= rl.max {
		return false
	}
	entry.count++
	return true
}

// Admit is the error-shaped form of Allow: a denied request yields
// domain.ErrRateLimited so callers can branch with errors.Is.
func (rl *RateLimiter) Admit(key string) error {
	if !rl.Allow(key) {
		return fmt.Errorf("%w: client %s", domain.ErrRateLimited, key)
	}
	return nil
}

func (rl *RateLimiter) prune(now time.Time) {
	for key, entry := range rl.entries {
		if !entry.resetAt.After(now) {
			delete(rl.entries, key)
		}
	}
}
