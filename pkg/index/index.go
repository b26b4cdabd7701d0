// Package index implements the hash secondary index of spec.md §4.10/§4.2:
// an O(1) lookup from (table, column, value) to the set of row ids
// holding that value, maintained via insert/delete hooks. Row ids use
// github.com/google/uuid, matching the teacher's own row-identity
// choice.
package index

import (
	"sync"

	"github.com/google/uuid"
)

// Status mirrors spec.md §4.10's {Building, Ready, Disabled} set for
// online index rebuild.
type Status int

const (
	Building Status = iota
	Ready
	Disabled
)

// Kind is the index implementation family; this package only implements
// Hash (spec.md restricts the core to a hash index), but the registry
// (pkg/registry) records BTree/Bitmap as valid metadata kinds for
// forward compatibility with an index type this core doesn't build.
type Kind int

const (
	KindHash Kind = iota
	KindBTree
	KindBitmap
)

// Hash is a single (table, column) secondary index: value -> row id set.
type Hash struct {
	mu      sync.RWMutex
	byValue map[string]map[uuid.UUID]struct{}
	status  Status
}

// NewHash builds an empty hash index in Building state; call Ready() once
// the initial population pass completes.
func NewHash() *Hash {
	return &Hash{byValue: make(map[string]map[uuid.UUID]struct{}), status: Building}
}

// Ready marks the index usable by readers.
func (h *Hash) Ready() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = Ready
}

// Disable marks the index unusable without discarding its contents.
func (h *Hash) Disable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = Disabled
}

// Status returns the index's current lifecycle state.
func (h *Hash) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Insert records that value maps to rowID — the insert hook spec.md
// §3 describes index maintenance calling on every row insert.
func (h *Hash) Insert(value string, rowID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byValue[value]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		h.byValue[value] = set
	}
	set[rowID] = struct{}{}
}

// Delete removes the (value, rowID) mapping, e.g. on row delete/update.
func (h *Hash) Delete(value string, rowID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byValue[value]
	if !ok {
		return
	}
	delete(set, rowID)
	if len(set) == 0 {
		delete(h.byValue, value)
	}
}

// Lookup returns every row id currently mapped to value.
func (h *Hash) Lookup(value string) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.byValue[value]
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
