// Package delta implements Tier-1 of the storage hierarchy (spec.md
// §4.3/§4.4): the concurrent, in-memory write buffer every insert lands
// in first. The row variant keys a per-table B+Tree (adapted from the
// teacher's pkg/btree, itself latch-crabbed for fine-grained concurrency)
// by vkey.Key; the columnar variant buffers versioned batches instead.
// DeltaVariant is chosen once at database open and fixed for the
// instance's lifetime (spec.md §9).
package delta

import (
	"sync"

	"github.com/vela-db/vela/pkg/errors"
	"github.com/vela-db/vela/pkg/tier"
	"github.com/vela-db/vela/pkg/types"
	"github.com/vela-db/vela/pkg/vkey"
)

// DefaultFlushThreshold is the Tier-1 total-entry count that should
// trigger a background flush into Tier-3 WOS (spec.md §4.3).
const DefaultFlushThreshold = 10_000

const bTreeDegree = 32 // B+Tree minimum degree for Tier-1 row tables

// entryTree is the per-table ordered map of ordered_table.go; declared here as a
// small indirection so Row can swap its tree implementation without
// touching callers.
type entryTree = orderedTable

// Row is the row-variant Tier-1 Delta: a concurrent map of table name to
// an ordered map keyed by vkey.Key. The table directory is guarded by a
// single RWMutex (a concurrent hash map at the granularity the teacher's
// own TableMetaData uses); each table's tree manages its own finer-grained
// latching internally.
type Row struct {
	mu      sync.RWMutex
	tables  map[string]*entryTree
	entries int // approximate total live entry count, for flush thresholding
}

// NewRow builds an empty row-variant Delta.
func NewRow() *Row {
	return &Row{tables: make(map[string]*entryTree)}
}

func (d *Row) tableFor(name string, create bool) *entryTree {
	d.mu.RLock()
	t, ok := d.tables[name]
	d.mu.RUnlock()
	if ok || !create {
		return t
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok = d.tables[name]; ok {
		return t
	}
	t = newOrderedTable(bTreeDegree)
	d.tables[name] = t
	return t
}

// InsertVersioned stores value (nil for a tombstone) under the versioned
// key (userKey, ts). Never overwrites an earlier version — each
// (key, ts) pair gets its own B+Tree entry (spec.md §4.8).
func (d *Row) InsertVersioned(table string, userKey []byte, value []byte, ts uint64) error {
	t := d.tableFor(table, true)
	vk := vkey.Encode(userKey, ts)
	tagged := tagValue(value)
	if err := t.tree.Insert(types.BytesKey(vk), t.store(tagged)); err != nil {
		return errors.Wrap(errors.Storage, err, "insert versioned row")
	}
	d.mu.Lock()
	d.entries++
	d.mu.Unlock()
	return nil
}

// GetAtSnapshot returns the newest version of userKey with commit-ts <=
// readTs: live=true with the value, or live=false for a tombstone/absence
// (ok reports whether any version at all was found at or before readTs).
func (d *Row) GetAtSnapshot(table string, userKey []byte, readTs uint64) (value []byte, live bool, ok bool) {
	t := d.tableFor(table, false)
	if t == nil {
		return nil, false, false
	}
	seek := vkey.SeekKey(userKey, readTs)
	node, idx := t.tree.FindLeafLowerBound(types.BytesKey(seek))
	defer func() {
		if node != nil {
			node.RUnlock()
		}
	}()
	for node != nil {
		for ; idx < node.N; idx++ {
			k := node.Keys[idx].(types.BytesKey)
			uk, ts, derr := vkey.Decode(vkey.Key(k))
			if derr != nil {
				continue
			}
			if string(uk) != string(userKey) {
				return nil, false, false
			}
			if ts > readTs {
				continue
			}
			raw := t.load(node.DataPtrs[idx])
			val, isLive := untagValue(raw)
			return val, isLive, true
		}
		next := node.Next
		if next != nil {
			next.RLock()
		}
		node.RUnlock()
		node = next
		idx = 0
	}
	return nil, false, false
}

// ScanRange returns, for every distinct user key in [r.Start, r.End),
// the newest version visible at readTs, skipping tombstones — the
// "snapshot scan" operation of spec.md §4.8 restricted to this tier.
func (d *Row) ScanRange(table string, r tier.Range, readTs uint64) ([]tier.Entry, error) {
	t := d.tableFor(table, false)
	if t == nil {
		return nil, nil
	}

	var lowSeek types.Comparable
	if r.Start != nil {
		lowSeek = types.BytesKey(vkey.Encode(r.Start, ^uint64(0)))
	}
	node, idx := t.tree.FindLeafLowerBound(lowSeek)

	out := make([]tier.Entry, 0)
	var lastKey []byte
	haveLast := false

	for node != nil {
		for ; idx < node.N; idx++ {
			k := node.Keys[idx].(types.BytesKey)
			uk, ts, derr := vkey.Decode(vkey.Key(k))
			if derr != nil {
				continue
			}
			if r.End != nil && !bytesLessFn(uk, r.End) {
				node.RUnlock()
				return out, nil
			}
			if haveLast && string(uk) == string(lastKey) {
				continue // already emitted the newest visible version of this key
			}
			if ts > readTs {
				continue
			}
			haveLast, lastKey = true, append([]byte(nil), uk...)
			raw := t.load(node.DataPtrs[idx])
			val, isLive := untagValue(raw)
			if isLive {
				out = append(out, tier.Entry{Key: append([]byte(nil), uk...), Value: val})
			}
		}
		next := node.Next
		if next != nil {
			next.RLock()
		}
		node.RUnlock()
		node = next
		idx = 0
	}
	return out, nil
}

// EntryCount returns the approximate total number of live entries across
// all tables, used to compare against the flush threshold.
func (d *Row) EntryCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entries
}

// TableNames returns every table with at least one entry.
func (d *Row) TableNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	return names
}

// Tables returns every table with at least one entry (satisfies
// mvcc.VersionWalker; an alias of TableNames).
func (d *Row) Tables() []string {
	return d.TableNames()
}

// Keys returns every distinct user key stored in table, in no particular
// order (satisfies mvcc.VersionWalker).
func (d *Row) Keys(table string) [][]byte {
	t := d.tableFor(table, false)
	if t == nil {
		return nil
	}
	node, idx := t.tree.FindLeafLowerBound(nil)
	seen := make(map[string]struct{})
	var out [][]byte
	for node != nil {
		for ; idx < node.N; idx++ {
			k := node.Keys[idx].(types.BytesKey)
			uk, _, derr := vkey.Decode(vkey.Key(k))
			if derr != nil {
				continue
			}
			if _, ok := seen[string(uk)]; !ok {
				seen[string(uk)] = struct{}{}
				out = append(out, append([]byte(nil), uk...))
			}
		}
		next := node.Next
		if next != nil {
			next.RLock()
		}
		node.RUnlock()
		node = next
		idx = 0
	}
	return out
}

// Versions returns userKey's full version chain within table, newest
// timestamp first (satisfies mvcc.VersionWalker).
func (d *Row) Versions(table string, userKey []byte) []VersionInfo {
	t := d.tableFor(table, false)
	if t == nil {
		return nil
	}
	seek := types.BytesKey(vkey.Encode(userKey, ^uint64(0)))
	node, idx := t.tree.FindLeafLowerBound(seek)
	var out []VersionInfo
	for node != nil {
		for ; idx < node.N; idx++ {
			k := node.Keys[idx].(types.BytesKey)
			uk, ts, derr := vkey.Decode(vkey.Key(k))
			if derr != nil {
				continue
			}
			if string(uk) != string(userKey) {
				node.RUnlock()
				return out
			}
			raw := t.load(node.DataPtrs[idx])
			_, isLive := untagValue(raw)
			out = append(out, VersionInfo{Ts: ts, Live: isLive})
		}
		next := node.Next
		if next != nil {
			next.RLock()
		}
		node.RUnlock()
		node = next
		idx = 0
	}
	return out
}

// VersionInfo is one entry in a key's version chain, mirroring
// mvcc.VersionInfo so callers don't need to import mvcc just to walk a
// Delta table (avoids a delta->mvcc dependency at the type level).
type VersionInfo struct {
	Ts   uint64
	Live bool
}

// DeleteVersion removes a single (userKey, ts) version entirely
// (satisfies mvcc.VersionWalker).
func (d *Row) DeleteVersion(table string, userKey []byte, ts uint64) error {
	t := d.tableFor(table, false)
	if t == nil {
		return nil
	}
	vk := vkey.Encode(userKey, ts)
	if t.tree.Delete(types.BytesKey(vk)) {
		d.mu.Lock()
		d.entries--
		d.mu.Unlock()
	}
	return nil
}

// DrainAll atomically removes every table's entries, returning them
// keyed by table for handoff to Tier-3 WOS. After DrainAll, the Delta is
// empty and ready to accept new writes.
func (d *Row) DrainAll() map[string][]DrainedEntry {
	d.mu.Lock()
	tables := d.tables
	d.tables = make(map[string]*entryTree)
	d.entries = 0
	d.mu.Unlock()

	out := make(map[string][]DrainedEntry, len(tables))
	for name, t := range tables {
		out[name] = t.drainAll()
	}
	return out
}

// DrainedEntry is one versioned row handed off to Tier-3 on flush.
type DrainedEntry struct {
	UserKey []byte
	Value   []byte // nil for a tombstone
	Live    bool
	Ts      uint64
}

func bytesLessFn(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// tagValue/untagValue implement the 1-byte live/tombstone tag of
// spec.md §3.
const (
	tagLive      = 'v'
	tagTombstone = 'd'
)

func tagValue(value []byte) []byte {
	if value == nil {
		return []byte{tagTombstone}
	}
	out := make([]byte, 1+len(value))
	out[0] = tagLive
	copy(out[1:], value)
	return out
}

func untagValue(raw []byte) (value []byte, live bool) {
	if len(raw) == 0 {
		return nil, true // legacy untagged entry: treated as a live empty value
	}
	switch raw[0] {
	case tagTombstone:
		return nil, false
	case tagLive:
		return raw[1:], true
	default:
		return raw, true // legacy entries without a tag are live values
	}
}

