// Package mvcc implements the transaction manager and garbage collector
// (spec.md §4.8): the active-snapshot set, the GC watermark, and pruning
// of versions no active snapshot can still see. TransactionRegistry
// generalizes the teacher's own storage.TransactionRegistry
// (pkg/storage/transaction_manager.go) from an LSN-keyed registry to
// the oracle-timestamp model shared by every tier here.
package mvcc

import (
	"sync"

	"github.com/vela-db/vela/pkg/errors"
	"github.com/vela-db/vela/pkg/oracle"
)

// TxState is the typestate of a transaction handle (spec.md §9): a
// runtime-checked field rejecting operations outside Active rather than
// a zero-sized-type marker, since Go has no such construct.
type TxState int

const (
	Active TxState = iota
	Committed
	RolledBack
)

// Registry tracks active transactions' read timestamps so the GC
// watermark can be computed as their minimum (spec.md §4.8).
type Registry struct {
	oracle *oracle.Oracle

	mu     sync.RWMutex
	active map[uint64]uint64 // tx-id (== read-ts) -> read-ts
}

// NewRegistry builds a Registry driven by the given oracle.
func NewRegistry(o *oracle.Oracle) *Registry {
	return &Registry{oracle: o, active: make(map[uint64]uint64)}
}

// Transaction is a typestate handle returned by Begin.
type Transaction struct {
	reg      *Registry
	readTs   uint64
	commitTs uint64
	state    TxState
	mu       sync.Mutex
}

// Begin allocates a read-ts from the oracle and registers the
// transaction as active.
func (r *Registry) Begin() *Transaction {
	readTs := r.oracle.Next()
	r.mu.Lock()
	r.active[readTs] = readTs
	r.mu.Unlock()
	return &Transaction{reg: r, readTs: readTs, state: Active}
}

// ReadTs returns the transaction's snapshot read timestamp.
func (t *Transaction) ReadTs() uint64 { return t.readTs }

// State returns the transaction's current typestate.
func (t *Transaction) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// AllocateCommitTs issues the transaction's commit timestamp — another
// oracle tick — and is only valid while Active.
func (t *Transaction) AllocateCommitTs() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return 0, errors.InvalidOperationError("cannot allocate a commit timestamp", "transaction is not active")
	}
	t.commitTs = t.reg.oracle.Next()
	return t.commitTs, nil
}

// Commit finalizes the transaction, removing it from the active set. No
// writes may reach storage through this handle afterward.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return errors.InvalidOperationError("cannot commit", "transaction is not active")
	}
	t.state = Committed
	t.reg.end(t.readTs)
	return nil
}

// Rollback abandons the transaction without applying its writes.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return errors.InvalidOperationError("cannot roll back", "transaction is not active")
	}
	t.state = RolledBack
	t.reg.end(t.readTs)
	return nil
}

func (r *Registry) end(readTs uint64) {
	r.mu.Lock()
	delete(r.active, readTs)
	r.mu.Unlock()
}

// MinActiveTs returns the minimum read-ts among active transactions, or
// (0, false) if none are active.
func (r *Registry) MinActiveTs() (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.active) == 0 {
		return 0, false
	}
	min := uint64(0)
	first := true
	for _, ts := range r.active {
		if first || ts < min {
			min, first = ts, false
		}
	}
	return min, true
}

// ActiveCount returns the number of currently active transactions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// Watermark is the GC safety boundary: min_active_ts, or the oracle's
// current value if no transaction is active (spec.md §4.8).
func (r *Registry) Watermark() uint64 {
	if min, ok := r.MinActiveTs(); ok {
		return min
	}
	return r.oracle.Peek()
}

// GCResult reports the outcome of a garbage-collection pass.
type GCResult struct {
	Deleted int
}

// GC prunes, for every user-key in every table of d, versions older than
// watermark beyond the most recent minVersionsPerKey — but never deletes
// the boundary-preserving newest-before-watermark version (spec.md
// §4.8, invariant I3). It reports the number of versions deleted.
//
// This requires iterating the Delta tier's raw version chains, which
// delta.Row does not expose through its snapshot-oriented API; GC walks
// via the VersionWalker hook a Delta-backed store supplies.
func GC(vw VersionWalker, watermark uint64, minVersionsPerKey int) (GCResult, error) {
	return runGC(vw, watermark, minVersionsPerKey, true)
}

// GCEstimate walks the same structure as GC without deleting anything,
// returning how many versions a real GC pass would remove.
func GCEstimate(vw VersionWalker, watermark uint64, minVersionsPerKey int) (GCResult, error) {
	return runGC(vw, watermark, minVersionsPerKey, false)
}

// VersionWalker exposes, per table, every user-key's full version chain
// (newest-first) and a deletion hook. delta.Row provides these methods
// (the façade adapts it); wos.WOS keeps one value per key and has no
// version chains to walk.
type VersionWalker interface {
	Tables() []string
	Versions(table string, userKey []byte) []VersionInfo
	Keys(table string) [][]byte
	DeleteVersion(table string, userKey []byte, ts uint64) error
}

// VersionInfo is one entry in a key's version chain.
type VersionInfo struct {
	Ts   uint64
	Live bool
}

func runGC(vw VersionWalker, watermark uint64, minVersionsPerKey int, apply bool) (GCResult, error) {
	if minVersionsPerKey < 1 {
		minVersionsPerKey = 1
	}
	result := GCResult{}
	for _, table := range vw.Tables() {
		for _, key := range vw.Keys(table) {
			versions := vw.Versions(table, key) // newest-first
			kept := 0
			sawNewerVisible := false
			for _, v := range versions {
				if kept < minVersionsPerKey {
					kept++
					if v.Ts <= watermark {
						sawNewerVisible = true
					}
					continue
				}
				if v.Ts < watermark && sawNewerVisible {
					if apply {
						if err := vw.DeleteVersion(table, key, v.Ts); err != nil {
							return result, errors.Wrap(errors.Storage, err, "gc delete version")
						}
					}
					result.Deleted++
				} else if v.Ts <= watermark {
					sawNewerVisible = true
				}
			}
		}
	}
	return result, nil
}
