package notify

import (
	"sync"
	"time"
)

// Cooldown suppresses repeat notifications for the same venue pair. Keyed by
// Opportunity.PairKey, so the same instrument on a different pair still
// notifies.
type Cooldown struct {
	mu       sync.Mutex
	window   time.Duration
	lastSent map[string]time.Time

	clock func() time.Time
}

// NewCooldown creates a tracker. window <= 0 disables suppression.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		window:   window,
		lastSent: make(map[string]time.Time),
		clock:    time.Now,
	}
}

// ShouldNotify reports whether a pair is outside its cooldown window and, if
// so, marks it as notified now.
func (c *Cooldown) ShouldNotify(pairKey string) bool {
	if c.window <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if last, ok := c.lastSent[pairKey]; ok && now.Sub(last) < c.window {
		return false
	}
	c.lastSent[pairKey] = now
	return true
}

// Prune drops entries older than the window so the map does not grow with
// every pair ever seen.
func (c *Cooldown) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	for key, last := range c.lastSent {
		if now.Sub(last) >= c.window {
			delete(c.lastSent, key)
		}
	}
}
