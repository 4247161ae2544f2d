// Package testutil holds small helpers shared across test suites.
package testutil

import (
	"sync"
	"testing"
	"time"

	"sealwire/internal/signing"
)

// Clock is a controllable clock for code that takes a now() hook.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Strictly advancing so timestamps taken in sequence never collide.
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Key derives a deterministic signing key from a single-byte seed.
func Key(t *testing.T, seed byte) *signing.Key {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed
	}
	key, err := signing.FromSeed(raw)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	return key
}
