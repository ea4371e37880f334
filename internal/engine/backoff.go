package engine

import (
	"math/rand"
	"time"
)

// backoff returns the capped exponential delay before retry number attempt
// (zero-based), with up to 25% random jitter added so concurrent plans
// retrying against the same venue do not re-dispatch in lockstep.
func backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^30 seconds is already far past any sane cap.
	if attempt > 30 {
		attempt = 30
	}

	d := base * time.Duration(1<<attempt)
	if d > max || d <= 0 {
		d = max
	}

	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
