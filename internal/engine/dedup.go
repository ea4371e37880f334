package engine

import (
	"sync"
	"time"
)

// dedup prevents a plan from being dispatched more than once within a
// time-to-live window, keyed by the plan's idempotency key. It is safe for
// concurrent use.
type dedup struct {
	seen map[string]time.Time // idempotency key -> first seen time
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

func newDedup(ttl time.Duration, now func() time.Time) *dedup {
	return &dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  now,
	}
}

// isDuplicate returns true if the key has been seen within the TTL window.
// A new or expired key is recorded and false is returned.
func (d *dedup) isDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if first, ok := d.seen[key]; ok && now.Sub(first) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// forget drops a key so a plan whose dispatch aborted before anything was
// submitted can be retried immediately.
func (d *dedup) forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// cleanup removes expired keys. Called opportunistically so the map does not
// grow without bound.
func (d *dedup) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
