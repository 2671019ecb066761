// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces an analysis for a fingerprint on cache miss.
type ComputeFunc func(ctx context.Context) (*datatypes.AnalysisResult, error)

// TTLTable maps analysis depth to cache entry lifetime. Deeper analyses
// are costlier and describe more slowly-changing strategic context, so
// they live longer.
type TTLTable map[datatypes.AnalysisDepth]time.Duration

// DefaultTTLTable returns the production freshness windows.
func DefaultTTLTable() TTLTable {
	return TTLTable{
		datatypes.DepthQuick:    5 * time.Minute,
		datatypes.DepthStandard: 30 * time.Minute,
		datatypes.DepthDeep:     4 * time.Hour,
	}
}

// TTL returns the lifetime for a depth, falling back to the standard
// window for unknown depths.
func (t TTLTable) TTL(depth datatypes.AnalysisDepth) time.Duration {
	if ttl, ok := t[depth]; ok && ttl > 0 {
		return ttl
	}
	return 30 * time.Minute
}

type entry struct {
	result    *datatypes.AnalysisResult
	createdAt time.Time
	expiresAt time.Time
}

// ResponseCache maps a query fingerprint to a completed analysis.
//
// # Description
//
// Entries become visible only once complete: the singleflight group is
// the sole writer per key, so Lookup never observes a partial result.
// Concurrent GetOrCompute calls for the same fingerprint share exactly
// one computation; if it fails, every waiter receives the failure and the
// slot clears for a future attempt. Failures are never cached.
//
// # Thread Safety
//
// Safe for concurrent use. Coordination is scoped to one fingerprint and
// does not block unrelated fingerprints.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	flight  singleflight.Group
	ttl     TTLTable

	hits   int64
	misses int64
}

// NewResponseCache creates a cache using the given TTL table.
func NewResponseCache(ttl TTLTable) *ResponseCache {
	if ttl == nil {
		ttl = DefaultTTLTable()
	}
	return &ResponseCache{
		entries: make(map[string]*entry),
		ttl:     ttl,
	}
}

// Lookup returns the cached result for a fingerprint, or nil on miss.
// Expired entries are misses and are removed lazily.
func (c *ResponseCache) Lookup(fingerprint string) *datatypes.AnalysisResult {
	c.mu.RLock()
	e, ok := c.entries[fingerprint]
	c.mu.RUnlock()

	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// replaced the entry.
		if cur, still := c.entries[fingerprint]; still && cur == e {
			delete(c.entries, fingerprint)
		}
		c.mu.Unlock()
		atomic.AddInt64(&c.misses, 1)
		return nil
	}
	atomic.AddInt64(&c.hits, 1)
	return e.result
}

// GetOrCompute returns the cached result for a fingerprint, computing it
// at most once across concurrent callers on miss.
//
// The hit return value is true when the result came straight from the
// cache without invoking compute. Degraded results pass through to every
// waiter but are not stored, so a later request can reach a recovered
// provider instead of seeing the fallback for a full TTL.
//
// The computation runs detached from any single caller's context: a
// client disconnect must not abort work that other waiters and the cache
// itself benefit from. A caller whose context is cancelled gets its
// context error back immediately while the computation runs to
// completion and populates the entry.
func (c *ResponseCache) GetOrCompute(ctx context.Context, fingerprint string, depth datatypes.AnalysisDepth, compute ComputeFunc) (result *datatypes.AnalysisResult, hit bool, err error) {
	if res := c.Lookup(fingerprint); res != nil {
		return res, true, nil
	}

	// WithoutCancel keeps the caller's values (trace context) but drops
	// its deadline and cancellation; compute bounds itself.
	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(fingerprint, func() (interface{}, error) {
		// A racing computation may have populated the entry between the
		// miss and the flight admission.
		if res := c.Lookup(fingerprint); res != nil {
			return res, nil
		}
		res, cerr := compute(detached)
		if cerr != nil {
			return nil, cerr
		}
		if !res.Degraded {
			c.store(fingerprint, depth, res)
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case v := <-ch:
		if v.Err != nil {
			return nil, false, v.Err
		}
		return v.Val.(*datatypes.AnalysisResult), false, nil
	}
}

func (c *ResponseCache) store(fingerprint string, depth datatypes.AnalysisDepth, res *datatypes.AnalysisResult) {
	now := time.Now()
	c.mu.Lock()
	c.entries[fingerprint] = &entry{
		result:    res,
		createdAt: now,
		expiresAt: now.Add(c.ttl.TTL(depth)),
	}
	c.mu.Unlock()
}

// Invalidate removes a fingerprint's entry, if present.
func (c *ResponseCache) Invalidate(fingerprint string) {
	c.mu.Lock()
	delete(c.entries, fingerprint)
	c.mu.Unlock()
}

// SetTTLTable replaces the TTL table. Used by config hot reload; already
// cached entries keep their original expiry.
func (c *ResponseCache) SetTTLTable(ttl TTLTable) {
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

// Stats returns cumulative hit and miss counts.
func (c *ResponseCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// Sweep removes every expired entry. Run it periodically from main so the
// map does not accumulate dead fingerprints between lookups.
func (c *ResponseCache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for fp, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, fp)
			removed++
		}
	}
	return removed
}
