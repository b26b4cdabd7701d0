package parser

import (
	"testing"

	"github.com/vela-db/vela/pkg/sql/plan"
)

func TestParse_SimpleSelectBuildsScanFilterProjectLimit(t *testing.T) {
	lp, err := Parse("SELECT id, name FROM users WHERE age > 18 ORDER BY name DESC LIMIT 10")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	limit, ok := lp.(*plan.Limit)
	if !ok {
		t.Fatalf("expected a Limit at the root, got %T", lp)
	}
	if limit.Count != 10 {
		t.Fatalf("expected limit count 10, got %d", limit.Count)
	}
	sortNode, ok := limit.Input.(*plan.Sort)
	if !ok {
		t.Fatalf("expected a Sort beneath the Limit, got %T", limit.Input)
	}
	if !sortNode.OrderBy[0].Desc {
		t.Fatalf("expected descending order")
	}
	proj, ok := sortNode.Input.(*plan.Project)
	if !ok {
		t.Fatalf("expected a Project beneath the Sort, got %T", sortNode.Input)
	}
	scan, ok := proj.Input.(*plan.Scan)
	if !ok {
		t.Fatalf("expected a Scan beneath the Project, got %T", proj.Input)
	}
	if scan.Table != "users" {
		t.Fatalf("expected table 'users', got %q", scan.Table)
	}
	if scan.Filter == nil {
		t.Fatalf("expected a filter pushed onto the scan")
	}
}

func TestParse_SelectStarHasNoProjectNode(t *testing.T) {
	lp, err := Parse("SELECT * FROM users")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := lp.(*plan.Scan); !ok {
		t.Fatalf("expected a bare Scan for SELECT *, got %T", lp)
	}
}

func TestParse_AggregateWithGroupBy(t *testing.T) {
	lp, err := Parse("SELECT city, COUNT(*) FROM users GROUP BY city")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	agg, ok := lp.(*plan.Aggregate)
	if !ok {
		t.Fatalf("expected an Aggregate node, got %T", lp)
	}
	if len(agg.GroupBy) != 1 {
		t.Fatalf("expected 1 group-by key, got %d", len(agg.GroupBy))
	}
}

func TestParse_Insert(t *testing.T) {
	lp, err := Parse("INSERT INTO users (id, name) VALUES (1, 'alice'), (2, 'bob')")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ins, ok := lp.(*plan.Insert)
	if !ok {
		t.Fatalf("expected an Insert node, got %T", lp)
	}
	if ins.Table != "users" || len(ins.Columns) != 2 || len(ins.Rows) != 2 {
		t.Fatalf("unexpected insert shape: %+v", ins)
	}
}

func TestParse_UpdateWithWhere(t *testing.T) {
	lp, err := Parse("UPDATE users SET name = 'carol' WHERE id = 1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	upd, ok := lp.(*plan.Update)
	if !ok {
		t.Fatalf("expected an Update node, got %T", lp)
	}
	if upd.Table != "users" || upd.Filter == nil {
		t.Fatalf("unexpected update shape: %+v", upd)
	}
	if _, ok := upd.Assignments["name"]; !ok {
		t.Fatalf("expected an assignment to 'name', got %+v", upd.Assignments)
	}
}

func TestParse_DeleteWithWhere(t *testing.T) {
	lp, err := Parse("DELETE FROM users WHERE id = 1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	del, ok := lp.(*plan.Delete)
	if !ok {
		t.Fatalf("expected a Delete node, got %T", lp)
	}
	if del.Table != "users" || del.Filter == nil {
		t.Fatalf("unexpected delete shape: %+v", del)
	}
}

func TestParse_CreateTable(t *testing.T) {
	lp, err := Parse("CREATE TABLE users (id int, name varchar(64) not null)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ct, ok := lp.(*plan.CreateTable)
	if !ok {
		t.Fatalf("expected a CreateTable node, got %T", lp)
	}
	if ct.Table != "users" || len(ct.Columns) != 2 {
		t.Fatalf("unexpected create table shape: %+v", ct)
	}
	if ct.Columns[1].Nullable {
		t.Fatalf("expected 'name' to be NOT NULL")
	}
}

func TestParse_UnsupportedStatementReturnsError(t *testing.T) {
	if _, err := Parse("GRANT ALL ON users TO admin"); err == nil {
		t.Fatalf("expected an error for an unsupported statement")
	}
}

func TestParse_MalformedSQLReturnsError(t *testing.T) {
	if _, err := Parse("SELEC * FORM users"); err == nil {
		t.Fatalf("expected a parse error for malformed SQL")
	}
}
