// Package cache keeps the last persisted GPS fix per job for the location
// throttle.
package cache

import (
	"context"
	"sync"
	"time"

	"fieldservice-server/models"
)

type memoryEntry struct {
	fix       models.Location
	expiresAt time.Time
}

// MemoryFixCache is a process-local fix cache with a per-entry TTL.
type MemoryFixCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryFixCache creates a MemoryFixCache. A zero ttl keeps entries until
// they are forgotten.
func NewMemoryFixCache(ttl time.Duration) *MemoryFixCache {
	return &MemoryFixCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Last returns the cached fix for jobID, or nil.
func (c *MemoryFixCache) Last(_ context.Context, jobID string) (*models.Location, error) {
	c.mu.RLock()
	e, ok := c.entries[jobID]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, jobID)
		c.mu.Unlock()
		return nil, nil
	}
	fix := e.fix
	return &fix, nil
}

// Remember stores fix as the last persisted fix of jobID.
func (c *MemoryFixCache) Remember(_ context.Context, jobID string, fix models.Location) error {
	e := memoryEntry{fix: fix}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[jobID] = e
	c.mu.Unlock()
	return nil
}

// Forget drops the cached fix of jobID.
func (c *MemoryFixCache) Forget(_ context.Context, jobID string) error {
	c.mu.Lock()
	delete(c.entries, jobID)
	c.mu.Unlock()
	return nil
}
