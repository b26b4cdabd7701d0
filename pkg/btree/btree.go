package btree

import (
	"fmt"
	"sort"
	"sync" // guards Root and structural (split/merge) operations

	"github.com/vela-db/vela/pkg/errors"
	"github.com/vela-db/vela/pkg/types"
)

// BPlusTree is the concurrent B+Tree pkg/delta uses as Tier-1's
// in-memory row store; the hash index (pkg/index) does not use it.
// Keys are types.Comparable — for the row variant a vkey-encoded
// (userKey, commitTs) pair — compared via the Compare contract.
type BPlusTree struct {
	T         int
	Root      *Node
	UniqueKey bool         // true rejects a duplicate key instead of overwriting it
	mu        sync.RWMutex // protects the Root pointer and structural (split/merge) operations
}

// NewTree builds a non-unique tree: inserting a key that is already
// present overwrites its stored value rather than returning an error.
// The tree never holds two entries under equal keys.
func NewTree(t int) *BPlusTree {
	return &BPlusTree{
		T:         t,
		Root:      NewNode(t, true),
		UniqueKey: false,
	}
}

// NewUniqueTree builds a tree that rejects duplicate keys with a
// ConstraintViolation error instead of overwriting — pkg/delta uses it
// for each Tier-1 row table, where every (userKey, commitTs) vkey is
// distinct.
func NewUniqueTree(t int) *BPlusTree {
	return &BPlusTree{
		T:         t,
		Root:      NewNode(t, true),
		UniqueKey: true,
	}
}

// Insert adds key/dataPtr, enforcing UniqueKey if the tree was built
// with NewUniqueTree.
func (b *BPlusTree) Insert(key types.Comparable, dataPtr int64) error {
	return b.insertHelper(key, dataPtr, b.UniqueKey)
}

// Replace forcibly overwrites key's value regardless of UniqueKey,
// inserting key if it is absent.
func (b *BPlusTree) Replace(key types.Comparable, dataPtr int64) error {
	return b.Upsert(key, func(oldValue int64, exists bool) (int64, error) {
		return dataPtr, nil
	})
}

// Upsert runs fn against the current value for key (if any) and
// stores whatever it returns. fn runs while the target leaf's lock is
// held, making the read-modify-write atomic with respect to concurrent
// inserts/deletes on that leaf.
func (b *BPlusTree) Upsert(key types.Comparable, fn func(oldValue int64, exists bool) (newValue int64, err error)) error {
	return b.upsertHelper(key, fn)
}

func (b *BPlusTree) insertHelper(key types.Comparable, dataPtr int64, uniqueKey bool) error {
	return b.Upsert(key, func(oldValue int64, exists bool) (int64, error) {
		if exists && uniqueKey {
			return 0, errors.WithField(errors.New(errors.ConstraintViolation, "duplicate key violation"), "key", fmt.Sprintf("%v", key))
		}
		return dataPtr, nil
	})
}

func (b *BPlusTree) upsertHelper(key types.Comparable, fn func(oldValue int64, exists bool) (newValue int64, err error)) error {

	b.mu.Lock()
	root := b.Root
	root.Lock()

	if root.IsFull() {
		newRoot := NewNode(b.T, false)
		newRoot.Children = append(newRoot.Children, root)
		newRoot.SplitChild(0)
		b.Root = newRoot
		b.mu.Unlock()

		newRoot.Lock()
		root.Unlock()

		return b.upsertTopDown(newRoot, key, fn)
	}

	b.mu.Unlock()
	return b.upsertTopDown(root, key, fn)
}

// upsertTopDown descends the tree, splitting any full child before
// stepping into it (preventive splitting) so the eventual leaf write
// never needs to split on the way back up. curr arrives already locked
// by the caller.
func (b *BPlusTree) upsertTopDown(curr *Node, key types.Comparable, fn func(oldValue int64, exists bool) (newValue int64, err error)) error {

	// curr changes as we descend (latch crabbing hands the lock down
	// to the child), so unlocks are managed by hand below rather than
	// via a single stacked defer.
	defer func() {
		if curr != nil {
			curr.Unlock()
		}
	}()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}

		child := curr.Children[i]
		child.Lock()

		if child.IsFull() {
			curr.SplitChild(i)

			if key.Compare(curr.Keys[i]) >= 0 {
				// key landed in the new right sibling
				child.Unlock()
				child = curr.Children[i+1]
				child.Lock()
			}
		}

		// latch crabbing: release the parent, keep the child locked
		curr.Unlock()
		curr = child
	}

	// curr is a locked leaf, guaranteed non-full by the preventive
	// splits above, so the write below can't trigger a split itself.
	return curr.UpsertNonFull(key, fn)
}

// Delete removes key from the tree, reporting whether it was present.
func (b *BPlusTree) Delete(key types.Comparable) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	root := b.Root
	root.Lock()
	removed := root.Remove(key)
	if !root.Leaf && root.N == 0 && len(root.Children) == 1 {
		b.Root = root.Children[0]
	}
	root.Unlock()
	return removed
}

// Search looks up key, latch-crabbing down from the root under
// read locks.
func (b *BPlusTree) Search(key types.Comparable) (*Node, bool) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()

		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	for j := 0; j < curr.N; j++ {
		if key.Compare(curr.Keys[j]) == 0 {
			return curr, true
		}
	}
	return nil, false
}

// Get returns the data pointer stored under key, thread-safe via the
// same internal latch crabbing as Search. It is an exact-key lookup;
// pkg/delta's versioned reads seek with FindLeafLowerBound instead.
func (b *BPlusTree) Get(key types.Comparable) (int64, bool) {
	if b == nil {
		return 0, false
	}
	b.mu.RLock()
	curr := b.Root
	if curr == nil {
		b.mu.RUnlock()
		return 0, false
	}
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()

		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	for j := 0; j < curr.N; j++ {
		if key.Compare(curr.Keys[j]) == 0 {
			return curr.DataPtrs[j], true
		}
	}
	return 0, false
}

// FindLeafLowerBound locates the leaf a range scan should start
// walking from, for the first key >= key (or the leftmost leaf if key
// is nil, for an unbounded scan). Returns the leaf still holding its
// read lock — the caller must RUnlock it once done, since the scan
// typically walks Node.Next from here without re-acquiring locks node
// by node.
func (b *BPlusTree) FindLeafLowerBound(key types.Comparable) (*Node, int) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		var i int
		if key == nil {
			i = 0
		} else {
			i = sort.Search(curr.N, func(i int) bool {
				return curr.Keys[i].Compare(key) >= 0
			})
		}

		child := curr.Children[i]
		child.RLock()
		curr.RUnlock()
		curr = child
	}

	var idx int
	if key == nil {
		idx = 0
	} else {
		idx = sort.Search(curr.N, func(i int) bool {
			return curr.Keys[i].Compare(key) >= 0
		})
	}

	return curr, idx
}

// findLeafLowerBound is an unlocked-return wrapper kept for callers
// (and tests) that don't want to manage the returned leaf's RLock
// themselves.
func (b *BPlusTree) findLeafLowerBound(key types.Comparable) (*Node, int) {
	node, idx := b.FindLeafLowerBound(key)
	if node != nil {
		node.RUnlock()
	}
	return node, idx
}
