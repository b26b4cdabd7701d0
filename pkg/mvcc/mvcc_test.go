package mvcc

import (
	"testing"

	"github.com/vela-db/vela/pkg/oracle"
)

func TestBeginCommit_RemovesFromActiveSet(t *testing.T) {
	reg := NewRegistry(oracle.New())
	tx := reg.Begin()
	if reg.ActiveCount() != 1 {
		t.Fatalf("expected 1 active transaction, got %d", reg.ActiveCount())
	}
	if _, err := tx.AllocateCommitTs(); err != nil {
		t.Fatalf("AllocateCommitTs: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if reg.ActiveCount() != 0 {
		t.Fatalf("expected 0 active transactions after commit, got %d", reg.ActiveCount())
	}
}

func TestTypestate_RejectsPostCommitOperations(t *testing.T) {
	reg := NewRegistry(oracle.New())
	tx := reg.Begin()
	_ = tx.Commit()

	if err := tx.Commit(); err == nil {
		t.Fatalf("expected error committing an already-committed transaction")
	}
	if err := tx.Rollback(); err == nil {
		t.Fatalf("expected error rolling back an already-committed transaction")
	}
	if _, err := tx.AllocateCommitTs(); err == nil {
		t.Fatalf("expected error allocating a commit-ts on a committed transaction")
	}
}

func TestWatermark_FallsBackToOracleWhenNoneActive(t *testing.T) {
	o := oracle.New()
	reg := NewRegistry(o)
	o.Next()
	o.Next()
	if w := reg.Watermark(); w != o.Peek() {
		t.Fatalf("Watermark() = %d, want %d (oracle peek)", w, o.Peek())
	}
}

func TestWatermark_IsMinActiveReadTs(t *testing.T) {
	reg := NewRegistry(oracle.New())
	tx1 := reg.Begin()
	_ = reg.Begin()

	if w := reg.Watermark(); w != tx1.ReadTs() {
		t.Fatalf("Watermark() = %d, want the earlier transaction's read-ts %d", w, tx1.ReadTs())
	}
}

type fakeWalker struct {
	versions map[string][]VersionInfo
	deleted  []uint64
}

func (f *fakeWalker) Tables() []string { return []string{"t"} }
func (f *fakeWalker) Keys(table string) [][]byte {
	keys := make([][]byte, 0, len(f.versions))
	for k := range f.versions {
		keys = append(keys, []byte(k))
	}
	return keys
}
func (f *fakeWalker) Versions(table string, key []byte) []VersionInfo {
	return f.versions[string(key)]
}
func (f *fakeWalker) DeleteVersion(table string, key []byte, ts uint64) error {
	f.deleted = append(f.deleted, ts)
	return nil
}

func TestGC_PreservesBoundaryVersion(t *testing.T) {
	fw := &fakeWalker{versions: map[string][]VersionInfo{
		"k": {
			{Ts: 30, Live: true},
			{Ts: 20, Live: true},
			{Ts: 10, Live: true},
		},
	}}
	// watermark 22 => snapshot at 22 needs the ts=20 version (newest <= 22).
	result, err := GC(fw, 22, 1)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if result.Deleted != 1 || len(fw.deleted) != 1 || fw.deleted[0] != 10 {
		t.Fatalf("expected only ts=10 deleted, got %+v (result=%+v)", fw.deleted, result)
	}
}

func TestGCEstimate_DoesNotDelete(t *testing.T) {
	fw := &fakeWalker{versions: map[string][]VersionInfo{
		"k": {{Ts: 30, Live: true}, {Ts: 20, Live: true}, {Ts: 10, Live: true}},
	}}
	result, err := GCEstimate(fw, 22, 1)
	if err != nil {
		t.Fatalf("GCEstimate: %v", err)
	}
	if result.Deleted != 1 {
		t.Fatalf("expected an estimate of 1, got %d", result.Deleted)
	}
	if len(fw.deleted) != 0 {
		t.Fatalf("GCEstimate must not actually delete anything")
	}
}
