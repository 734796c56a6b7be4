// CLAUDE:SUMMARY In-memory healing cache mapping (scope, original locator, action) to the last verified replacement.
// Package cache remembers healed locators for the lifetime of one healer.
//
// Entries are only written after a replacement was verified and its action
// succeeded. There is no TTL: entries leave the cache when a cached locator
// fails (Evict), when they fall too many generations behind the page
// (Get), or when the healer closes (Clear).
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Key identifies one healing mapping.
type Key struct {
	Scope    string
	Original locator.Locator
	Action   locator.ActionKind
}

// KeyFor builds the key for a locator used on a page identity.
func KeyFor(id locator.Identity, original locator.Locator, kind locator.ActionKind) Key {
	return Key{Scope: id.Scope, Original: original, Action: kind}
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Scope, k.Action, k.Original)
}

// Entry is the healed mapping for a key.
type Entry struct {
	Healed         locator.Locator
	Confidence     float64
	Strategy       locator.Strategy
	Generation     uint64
	LastVerifiedAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]Entry
	stale   uint64 // max generations behind before eviction; 0 disables
}

// New creates a Cache. staleGenerations bounds how far an entry's
// generation may lag the caller's before Get evicts it; 0 means no bound.
func New(staleGenerations uint64) *Cache {
	return &Cache{entries: make(map[Key]Entry), stale: staleGenerations}
}

// Get returns the entry for key. An entry more than the configured number
// of generations behind gen is evicted and reported as a miss.
func (c *Cache) Get(key Key, gen uint64) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if c.stale > 0 && gen > e.Generation && gen-e.Generation > c.stale {
		c.mu.Lock()
		// Re-check under the write lock: a concurrent Put may have refreshed it.
		if cur, ok := c.entries[key]; ok && cur.Generation == e.Generation {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return Entry{}, false
	}
	return e, true
}

// Put stores e under key, replacing any previous entry.
func (c *Cache) Put(key Key, e Entry) {
	if e.LastVerifiedAt.IsZero() {
		e.LastVerifiedAt = time.Now()
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Evict removes key if its entry still maps to healed. It reports whether
// an entry was removed. An empty healed evicts unconditionally.
func (c *Cache) Evict(key Key, healed locator.Locator) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || (healed != "" && e.Healed != healed) {
		return false
	}
	delete(c.entries, key)
	return true
}

// Touch records a successful reuse of the entry for key at t, moving its
// generation forward to gen.
func (c *Cache) Touch(key Key, gen uint64, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.LastVerifiedAt = t
	e.Generation = max(e.Generation, gen)
	c.entries[key] = e
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of all entries.
func (c *Cache) Snapshot() map[Key]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Key]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}
