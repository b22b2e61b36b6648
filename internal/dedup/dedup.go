package dedup

import (
	"sync"
	"time"
)

// maxEntries caps the set so a flood of unique ids cannot grow it without
// bound between sweeps.
const maxEntries = 100_000

// Deduplicator remembers recently seen message identifiers for a retention
// window, making the pipeline effectively exactly-once even though webhook
// delivery is at-least-once. The retention window must exceed the platform's
// maximum webhook retry interval.
type Deduplicator struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

// New creates a deduplicator with the given retention window.
func New(retention time.Duration) *Deduplicator {
	return &Deduplicator{
		seen:      make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

// ShouldProcess reports whether this message id is being observed for the
// first time within the retention window, recording it if so.
func (d *Deduplicator) ShouldProcess(messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[messageID]; ok && now.Sub(at) < d.retention {
		return false
	}
	if len(d.seen) >= maxEntries {
		d.sweepLocked(now)
	}
	d.seen[messageID] = now
	return true
}

// Sweep drops entries older than the retention window.
func (d *Deduplicator) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sweepLocked(d.now())
}

func (d *Deduplicator) sweepLocked(now time.Time) int {
	removed := 0
	for id, at := range d.seen {
		if now.Sub(at) >= d.retention {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

// Run sweeps periodically until the stop channel closes.
func (d *Deduplicator) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.Sweep()
		case <-stop:
			return
		}
	}
}
