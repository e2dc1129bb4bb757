// Package cache implements model.ResultCache backends: an in-process TTL map
// and a Redis store guarded by a circuit breaker.
package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"marketscope/internal/model"
)

type entry struct {
	key     model.CacheKey
	value   []byte
	expires time.Time
}

// Memory is a TTL map. Expired entries miss on read and are removed by Sweep.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

// NewMemory creates an in-memory cache whose entries live for ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, entries: make(map[string]entry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key model.CacheKey) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key.String()]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expires) {
		return nil, false
	}
	return e.value, true
}

func (m *Memory) Set(_ context.Context, key model.CacheKey, value []byte) {
	m.mu.Lock()
	m.entries[key.String()] = entry{key: key, value: value, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
}

func (m *Memory) Invalidate(_ context.Context, symbol string, tf model.Timeframe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.key.Symbol == symbol && e.key.Timeframe == tf {
			delete(m.entries, k)
		}
	}
}

// Sweep removes expired entries and returns how many it dropped.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (m *Memory) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				log.Printf("[cache] swept %d expired entries", n)
			}
		}
	}
}
