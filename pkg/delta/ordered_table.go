package delta

import (
	"sync"
	"sync/atomic"

	"github.com/vela-db/vela/pkg/btree"
	"github.com/vela-db/vela/pkg/types"
	"github.com/vela-db/vela/pkg/vkey"
)

// orderedTable adapts the teacher's B+Tree, which stores an int64
// "data pointer" per key, into a byte-value ordered map: values live in
// a side table keyed by that pointer, which this type hands out as a
// monotone counter. The tree still does all the ordering and latch
// work; this is purely the value-storage indirection the original
// heap-offset design used a file offset for.
type orderedTable struct {
	tree  *btree.BPlusTree
	mu    sync.RWMutex
	store_ map[int64][]byte
	nextID atomic.Int64
}

func newOrderedTable(degree int) *orderedTable {
	return &orderedTable{
		tree:  btree.NewUniqueTree(degree),
		store_: make(map[int64][]byte),
	}
}

// store saves raw bytes and returns the handle to pass to tree.Insert.
func (t *orderedTable) store(raw []byte) int64 {
	id := t.nextID.Add(1)
	t.mu.Lock()
	t.store_[id] = raw
	t.mu.Unlock()
	return id
}

func (t *orderedTable) load(id int64) []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store_[id]
}

// drainAll walks every leaf in key order and returns the decoded entries.
// It leaves the tree and value store in place; discarding the table is
// up to the caller.
func (t *orderedTable) drainAll() []DrainedEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, idx := t.tree.FindLeafLowerBound(nil)
	defer func() {
		if node != nil {
			node.RUnlock()
		}
	}()

	out := make([]DrainedEntry, 0)
	for node != nil {
		for ; idx < node.N; idx++ {
			k := node.Keys[idx].(types.BytesKey)
			uk, ts, err := vkey.Decode(vkey.Key(k))
			if err != nil {
				continue
			}
			raw := t.store_[node.DataPtrs[idx]]
			val, live := untagValue(raw)
			out = append(out, DrainedEntry{UserKey: uk, Value: val, Live: live, Ts: ts})
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
