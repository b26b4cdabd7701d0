package registry

import "testing"

func TestAlterTable_AppendsVersionAndKeepsHistory(t *testing.T) {
	r := NewSchemaRegistry()
	if _, err := r.CreateTable("users", []Column{{Name: "id", Type: Int64}}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := r.AlterTable("users", []Column{{Name: "id", Type: Int64}, {Name: "email", Type: Utf8}}, "add email"); err != nil {
		t.Fatalf("AlterTable: %v", err)
	}

	current, err := r.Current("users")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.Version != 2 || len(current.Columns) != 2 {
		t.Fatalf("expected version 2 with 2 columns, got %+v", current)
	}

	v1, err := r.Version("users", 1)
	if err != nil || len(v1.Columns) != 1 {
		t.Fatalf("expected version 1 to remain queryable, got %+v, err=%v", v1, err)
	}
}

func TestRollback_RepointsCurrentWithoutTruncatingHistory(t *testing.T) {
	r := NewSchemaRegistry()
	r.CreateTable("users", []Column{{Name: "id", Type: Int64}})
	r.AlterTable("users", []Column{{Name: "id", Type: Int64}, {Name: "email", Type: Utf8}}, "add email")

	if _, err := r.Rollback("users", 1); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	current, _ := r.Current("users")
	if current.Version != 1 {
		t.Fatalf("expected current version 1 after rollback, got %d", current.Version)
	}
	if _, err := r.Version("users", 2); err != nil {
		t.Fatalf("expected version 2 to still exist after rollback, got err=%v", err)
	}
}

func TestIndexRegistry_CompleteReindexDisablesPriorReady(t *testing.T) {
	r := NewIndexRegistry()
	first := r.StartReindex("idx_email", 0)
	if err := r.CompleteReindex("idx_email"); err != nil {
		t.Fatalf("CompleteReindex: %v", err)
	}
	if first.Status != 1 { // index.Ready == 1
		t.Fatalf("expected first version Ready, got %v", first.Status)
	}

	second := r.StartReindex("idx_email", 0)
	if err := r.CompleteReindex("idx_email"); err != nil {
		t.Fatalf("CompleteReindex: %v", err)
	}
	if first.Status != 2 { // index.Disabled == 2
		t.Fatalf("expected prior Ready version disabled, got %v", first.Status)
	}
	if second.Status != 1 {
		t.Fatalf("expected new version Ready, got %v", second.Status)
	}

	current, ok := r.Current("idx_email")
	if !ok || current != second {
		t.Fatalf("expected Current() to return the newest Ready version")
	}
}

func TestCompleteReindex_WithoutStartReturnsError(t *testing.T) {
	r := NewIndexRegistry()
	r.StartReindex("idx_email", 0)
	r.CompleteReindex("idx_email")

	if err := r.CompleteReindex("idx_email"); err == nil {
		t.Fatalf("expected an error completing a reindex with no in-progress version")
	}
}

func TestDrop_RemovesAllVersions(t *testing.T) {
	r := NewIndexRegistry()
	r.StartReindex("idx_email", 0)
	if err := r.Drop("idx_email"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, ok := r.Current("idx_email"); ok {
		t.Fatalf("expected no current version after drop")
	}
}
