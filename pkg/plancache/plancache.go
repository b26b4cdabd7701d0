// Package plancache implements the two-level SQL plan cache of spec.md
// §4.11: an in-memory L1 keyed by SQL text with LFU eviction, backed by
// an on-disk L2 keyed by the 64-bit FNV-1a hash of the SQL text. The L1
// eviction policy mirrors the teacher's cache package (pkg/cache) in
// spirit but tracks per-entry hit counts rather than recency, since
// plan reuse skews toward a small set of hot statements rather than a
// recency window.
package plancache

import (
	"encoding/json"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/vela-db/vela/pkg/errors"
)

// Stats tracks cache effectiveness with relaxed atomic counters, read
// without holding the cache's main lock.
type Stats struct {
	L1Hits   atomic.Int64
	L1Misses atomic.Int64
	L2Hits   atomic.Int64
	L2Misses atomic.Int64
}

type entry struct {
	plan any
	hits int64
}

// Cache is the two-level plan cache: a bounded in-memory LFU map (L1)
// and an optional on-disk directory (L2) for plans evicted from L1 or
// recovered across process restarts.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*entry

	l2Dir string
	Stats Stats
}

// New builds a Cache with the given L1 capacity. If l2Dir is non-empty,
// evicted plans are persisted there as JSON files named by the query
// text's FNV-1a hash.
func New(capacity int, l2Dir string) *Cache {
	return &Cache{capacity: capacity, entries: make(map[string]*entry), l2Dir: l2Dir}
}

// hashKey returns the 64-bit FNV-1a hash of sql as a hex string,
// spec.md §4.11's chosen L2 file-naming scheme.
func hashKey(sql string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sql))
	return fmtHex(h.Sum64())
}

func fmtHex(v uint64) string {
	const hexdigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexdigits[v&0xF]
		v >>= 4
	}
	return string(buf)
}

// Get looks up the cached plan for sql, checking L1 then falling back
// to L2 (promoting an L2 hit back into L1).
func (c *Cache) Get(sql string) (any, bool) {
	c.mu.Lock()
	if e, ok := c.entries[sql]; ok {
		e.hits++
		c.mu.Unlock()
		c.Stats.L1Hits.Add(1)
		return e.plan, true
	}
	c.mu.Unlock()
	c.Stats.L1Misses.Add(1)

	if c.l2Dir == "" {
		return nil, false
	}
	plan, ok, err := c.readL2(sql)
	if err != nil || !ok {
		c.Stats.L2Misses.Add(1)
		return nil, false
	}
	c.Stats.L2Hits.Add(1)
	c.Put(sql, plan)
	return plan, true
}

// Put inserts or refreshes sql's cached plan, evicting the
// least-frequently-used entry if the cache is at capacity.
func (c *Cache) Put(sql string, plan any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[sql]; ok {
		e.plan = plan
		return
	}
	if c.capacity > 0 && len(c.entries) >= c.capacity {
		c.evictLocked()
	}
	c.entries[sql] = &entry{plan: plan, hits: 0}
}

// evictLocked removes the entry with the fewest hits, spilling it to L2
// if configured. Caller must hold c.mu.
func (c *Cache) evictLocked() {
	var victimKey string
	var victim *entry
	for k, e := range c.entries {
		if victim == nil || e.hits < victim.hits {
			victimKey, victim = k, e
		}
	}
	if victim == nil {
		return
	}
	delete(c.entries, victimKey)
	if c.l2Dir != "" {
		_ = c.writeL2(victimKey, victim.plan)
	}
}

// Len reports the number of entries currently held in L1.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) l2Path(sql string) string {
	return filepath.Join(c.l2Dir, hashKey(sql)+".json")
}

func (c *Cache) writeL2(sql string, plan any) error {
	if err := os.MkdirAll(c.l2Dir, 0o755); err != nil {
		return errors.Wrap(errors.Storage, err, "create plan cache l2 dir")
	}
	data, err := json.Marshal(struct {
		SQL  string `json:"sql"`
		Plan any    `json:"plan"`
	}{SQL: sql, Plan: plan})
	if err != nil {
		return errors.Wrap(errors.Serialization, err, "marshal cached plan")
	}
	return os.WriteFile(c.l2Path(sql), data, 0o644)
}

func (c *Cache) readL2(sql string) (any, bool, error) {
	data, err := os.ReadFile(c.l2Path(sql))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.Storage, err, "read plan cache l2 file")
	}
	var wrapper struct {
		SQL  string `json:"sql"`
		Plan any    `json:"plan"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, false, errors.Wrap(errors.Serialization, err, "unmarshal cached plan")
	}
	return wrapper.Plan, true, nil
}
