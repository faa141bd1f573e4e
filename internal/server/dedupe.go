// ABOUTME: TTL cache of recently seen webhook deliveries.
// ABOUTME: Frontends redeliver on timeout; replays must not re-run the task.

package server

import (
	"fmt"
	"sync"
	"time"
)

const (
	deliveryTTL      = 5 * time.Minute
	maxDeliveryKeys  = 10_000
	deliverySweepLen = 64 // expired entries scanned per mark
)

// deliveryCache remembers which (worker, message id) pairs have been handled
// recently. Expired entries are swept incrementally on each mark, so no
// background goroutine is needed.
type deliveryCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newDeliveryCache() *deliveryCache {
	return &deliveryCache{seen: make(map[string]time.Time)}
}

func deliveryKey(slug string, messageID int) string {
	return fmt.Sprintf("%s:%d", slug, messageID)
}

// checkAndMark reports whether the key was already seen within the TTL and
// marks it either way. Check and mark are one critical section so concurrent
// replays cannot both pass.
func (c *deliveryCache) checkAndMark(key string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	seenAt, ok := c.seen[key]
	duplicate := ok && now.Sub(seenAt) < deliveryTTL
	c.seen[key] = now

	c.sweep(now)
	return duplicate
}

// forget drops the key so a later delivery is not treated as a replay. Used
// when handling a delivery fails and the sender's retry must go through.
func (c *deliveryCache) forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, key)
}

// sweep drops a bounded number of expired entries, then falls back to
// arbitrary eviction if the map is still over capacity. Must hold mu.
func (c *deliveryCache) sweep(now time.Time) {
	scanned := 0
	for key, seenAt := range c.seen {
		if scanned >= deliverySweepLen {
			break
		}
		scanned++
		if now.Sub(seenAt) >= deliveryTTL {
			delete(c.seen, key)
		}
	}
	for key := range c.seen {
		if len(c.seen) <= maxDeliveryKeys {
			break
		}
		delete(c.seen, key)
	}
}
