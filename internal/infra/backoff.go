package infra

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 1 * time.Second
	backoffMax  = 60 * time.Second
)

// CalculateBackoff returns the delay before the given retry attempt:
// exponential from 1s, capped at 60s, with up to 25% jitter so reconnecting
// workers don't thundering-herd a recovering venue.
func CalculateBackoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}

	delay := backoffBase << uint(retry)
	if delay > backoffMax || delay <= 0 {
		delay = backoffMax
	}

	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	return delay + jitter
}
