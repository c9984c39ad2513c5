// Package reconcile keeps authoritative per-wallet trade counts that win
// over the approximate counts carried by aggregate snapshots.
package reconcile

import (
	"sync"

	"github.com/bobmcallan/hive/internal/common"
)

// Cache maps wallet names to counts. Overrides never expire; only a later
// explicit fetch for the same wallet replaces one.
type Cache struct {
	mu          sync.RWMutex
	overrides   map[string]int
	approximate map[string]int
	logger      *common.Logger
}

// NewCache creates an empty reconciliation cache.
func NewCache(logger *common.Logger) *Cache {
	return &Cache{
		overrides:   make(map[string]int),
		approximate: make(map[string]int),
		logger:      logger,
	}
}

// RecordAuthoritative stores the exact count from an explicit trade history
// fetch, overwriting any earlier override unconditionally.
func (c *Cache) RecordAuthoritative(wallet string, count int) {
	c.mu.Lock()
	prev, had := c.overrides[wallet]
	c.overrides[wallet] = count
	c.mu.Unlock()

	evt := c.logger.Debug().Str("wallet", wallet).Int("count", count)
	if had {
		evt = evt.Int("previous", prev)
	}
	evt.Msg("Authoritative trade count recorded")
}

// RecordApproximate remembers the latest aggregate count for a wallet.
// It never affects a recorded override.
func (c *Cache) RecordApproximate(wallet string, count int) {
	c.mu.Lock()
	c.approximate[wallet] = count
	c.mu.Unlock()
}

// Resolve returns the override for wallet when one exists, otherwise approx unchanged.
// Callers without an approximate count of their own should use TradesCount.
func (c *Cache) Resolve(wallet string, approx int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n, ok := c.overrides[wallet]; ok {
		return n
	}
	return approx
}

// TradesCount resolves against the last recorded approximate count and
// reports whether the result is authoritative.
func (c *Cache) TradesCount(wallet string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n, ok := c.overrides[wallet]; ok {
		return n, true
	}
	return c.approximate[wallet], false
}

// Overrides returns a copy of the authoritative counts.
func (c *Cache) Overrides() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.overrides))
	for k, v := range c.overrides {
		out[k] = v
	}
	return out
}

// Counts returns the resolved count for every wallet seen by either path.
func (c *Cache) Counts() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.approximate)+len(c.overrides))
	for k, v := range c.approximate {
		out[k] = v
	}
	for k, v := range c.overrides {
		out[k] = v
	}
	return out
}
