package delta

import (
	"sync"

	"github.com/vela-db/vela/pkg/batch"
	"github.com/vela-db/vela/pkg/tier"
)

// pendingRowGroupSize is how many buffered rows accumulate before being
// materialized into a new Versioned batch (spec.md §4.4: "periodically
// materialized").
const pendingRowGroupSize = 256

// Columnar is the columnar-variant Tier-1 Delta: per table, a vector of
// immutable versioned batches plus a pending row-group buffer and a
// batch-sequence Factory.
type Columnar struct {
	mu     sync.RWMutex
	tables map[string]*columnarTable
}

type columnarTable struct {
	mu      sync.RWMutex
	batches []*batch.Versioned
	pending []batch.Row
	factory batch.Factory
}

// NewColumnar builds an empty columnar-variant Delta.
func NewColumnar() *Columnar {
	return &Columnar{tables: make(map[string]*columnarTable)}
}

func (c *Columnar) tableFor(name string, create bool) *columnarTable {
	c.mu.RLock()
	t, ok := c.tables[name]
	c.mu.RUnlock()
	if ok || !create {
		return t
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok = c.tables[name]; ok {
		return t
	}
	t = &columnarTable{}
	c.tables[name] = t
	return t
}

// InsertVersioned buffers a (userKey, value) pair into the table's
// pending row group, materializing a new batch once the group fills.
func (c *Columnar) InsertVersioned(table string, userKey []byte, value []byte, ts uint64) {
	t := c.tableFor(table, true)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = append(t.pending, batch.Row{Key: userKey, Value: tagValue(value)})
	if len(t.pending) >= pendingRowGroupSize {
		t.materialize(ts)
	}
}

// FlushPending forces materialization of any buffered rows not yet big
// enough to auto-flush, even if the row group is partially filled.
func (c *Columnar) FlushPending(table string, ts uint64) {
	t := c.tableFor(table, false)
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) > 0 {
		t.materialize(ts)
	}
}

func (t *columnarTable) materialize(ts uint64) {
	rows := t.pending
	t.pending = nil
	b := t.factory.Next(ts, rows)
	t.batches = append(t.batches, b)
}

// VisibleBatches returns the batches of table visible at readTs
// (spec.md §4.4's "visible-batch retrieval").
func (c *Columnar) VisibleBatches(table string, readTs uint64) []*batch.Versioned {
	t := c.tableFor(table, false)
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return batch.VisibleBatches(t.batches, readTs)
}

// TableNames returns every table with at least one batch or pending row.
func (c *Columnar) TableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}

// EntryCount returns the approximate total number of rows buffered or
// materialized across all tables, used to compare against the flush
// threshold (mirrors Row.EntryCount for the columnar variant).
func (c *Columnar) EntryCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, t := range c.tables {
		t.mu.RLock()
		total += len(t.pending)
		for _, b := range t.batches {
			total += b.Len()
		}
		t.mu.RUnlock()
	}
	return total
}

// UntagValue exposes the internal live/tombstone tag decoding for
// callers outside the package that need to interpret a raw columnar
// batch row's value (the façade's columnar-variant point-lookup path).
func UntagValue(raw []byte) (value []byte, live bool) {
	return untagValue(raw)
}

// DrainRows implements the key-value adapter variant of drain
// (spec.md §4.4): merges every batch's rows into (key, value) entries
// for Tier-3 WOS handoff, keeping only the newest live version per key.
func (c *Columnar) DrainRows() map[string][]tier.Entry {
	c.mu.Lock()
	tables := c.tables
	c.tables = make(map[string]*columnarTable)
	c.mu.Unlock()

	out := make(map[string][]tier.Entry, len(tables))
	for name, t := range tables {
		t.mu.Lock()
		if len(t.pending) > 0 {
			t.materialize(0)
		}
		latest := make(map[string][]byte)
		order := make([]string, 0)
		for _, b := range t.batches {
			for _, row := range b.Rows() {
				k := string(row.Key)
				if _, seen := latest[k]; !seen {
					order = append(order, k)
				}
				latest[k] = row.Value
			}
		}
		entries := make([]tier.Entry, 0, len(order))
		for _, k := range order {
			val, live := untagValue(latest[k])
			if live {
				entries = append(entries, tier.Entry{Key: []byte(k), Value: val})
			}
		}
		t.mu.Unlock()
		out[name] = entries
	}
	return out
}

// DrainBatches returns, per table, every versioned batch accumulated so
// far for direct Tier-5 ROS handoff (spec.md §4.4's Parquet path), without
// merging rows by key.
func (c *Columnar) DrainBatches() map[string][]*batch.Versioned {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]*batch.Versioned, len(c.tables))
	for name, t := range c.tables {
		t.mu.RLock()
		out[name] = append([]*batch.Versioned(nil), t.batches...)
		t.mu.RUnlock()
	}
	return out
}
