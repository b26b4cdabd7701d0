package vela

import (
	"strings"

	"github.com/google/uuid"

	"github.com/vela-db/vela/pkg/errors"
	"github.com/vela-db/vela/pkg/registry"
	"github.com/vela-db/vela/pkg/rowcodec"
	"github.com/vela-db/vela/pkg/sql/exec"
	"github.com/vela-db/vela/pkg/sql/optimizer"
	"github.com/vela-db/vela/pkg/sql/parser"
	"github.com/vela-db/vela/pkg/sql/plan"
)

// Batch is one result batch from SQL execution: a slice of decoded rows.
type Batch = exec.Batch

// PreparedStatement is a parsed, optimized, plan-cached SQL statement
// ready for repeated execution (spec.md §6's prepare/execute_prepared).
type PreparedStatement struct {
	sql  string
	plan plan.LogicalPlan
}

func (db *DB) planFor(sql string) (plan.LogicalPlan, error) {
	if cached, ok := db.planCache.Get(sql); ok {
		if p, ok := cached.(plan.LogicalPlan); ok {
			return p, nil
		}
	}
	p, err := parser.Parse(sql)
	if err != nil {
		return nil, err
	}
	p = optimizer.Optimize(p)
	db.planCache.Put(sql, p)
	return p, nil
}

// Prepare parses, optimizes, and caches sql, returning a handle for
// repeated execution via ExecutePrepared.
func (db *DB) Prepare(sql string) (*PreparedStatement, error) {
	p, err := db.planFor(sql)
	if err != nil {
		return nil, err
	}
	return &PreparedStatement{sql: sql, plan: p}, nil
}

// ExecutePrepared runs a previously prepared statement. Params is
// accepted for spec.md §6 API compatibility, but this engine's parser
// never produces a placeholder expression node — every prepared
// statement is fully literal-bound at Prepare time — so params is
// presently unused.
func (db *DB) ExecutePrepared(stmt *PreparedStatement, params map[string]any) ([]Batch, error) {
	return db.executePlan(stmt.plan)
}

// ExecuteSQL parses (or reuses a cached plan for), optimizes, and runs
// sql, returning its result as a list of batches (spec.md §6).
func (db *DB) ExecuteSQL(sql string) ([]Batch, error) {
	p, err := db.planFor(sql)
	if err != nil {
		return nil, err
	}
	return db.executePlan(p)
}

func (db *DB) executePlan(p plan.LogicalPlan) ([]Batch, error) {
	switch n := p.(type) {
	case *plan.CreateTable:
		return nil, db.execCreateTable(n)
	case *plan.Insert:
		return nil, db.execInsert(n)
	case *plan.Update:
		return nil, db.execUpdate(n)
	case *plan.Delete:
		return nil, db.execDelete(n)
	default:
		op, err := exec.Build(p, db.tableLoader)
		if err != nil {
			return nil, err
		}
		result, err := exec.Collect(op)
		if err != nil {
			return nil, err
		}
		return []Batch{result}, nil
	}
}

// tableLoader is the exec.TableLoader every Volcano-tree query scan
// bottoms out at: it loads a table's currently visible rows from the
// merged tier view and decodes them from their on-disk rowcodec form.
// The loader doesn't need to apply filter itself — exec.Build
// re-applies Scan.Filter over whatever rows it returns — but loading the
// already-merged, already-deduped entry list is still the cheap part.
func (db *DB) tableLoader(table string, filter plan.Expr) (exec.Batch, error) {
	entries, err := db.loadTableEntries(table)
	if err != nil {
		return nil, err
	}
	out := make(exec.Batch, 0, len(entries))
	for _, e := range entries {
		row, err := rowcodec.Decode(e.Value)
		if err != nil {
			return nil, errors.Wrap(errors.Serialization, err, "decode row for SQL scan")
		}
		out = append(out, row)
	}
	return out, nil
}

func decodeRow(data []byte) (rowcodec.Row, error) {
	return rowcodec.Decode(data)
}

func columnTypeFromKeyword(kw string) registry.ColumnType {
	lower := strings.ToLower(kw)
	switch {
	case strings.Contains(lower, "int"):
		return registry.Int64
	case strings.Contains(lower, "float"), strings.Contains(lower, "double"),
		strings.Contains(lower, "decimal"), strings.Contains(lower, "numeric"):
		return registry.Float64
	case strings.Contains(lower, "bool"):
		return registry.Boolean
	case strings.Contains(lower, "time"), strings.Contains(lower, "date"):
		return registry.Timestamp
	default:
		return registry.Utf8
	}
}

func (db *DB) execCreateTable(n *plan.CreateTable) error {
	cols := make([]registry.Column, len(n.Columns))
	for i, c := range n.Columns {
		cols[i] = registry.Column{Name: c.Name, Type: columnTypeFromKeyword(c.Type), Nullable: c.Nullable}
	}
	if _, err := db.schemas.CreateTable(n.Table, cols); err != nil {
		return err
	}
	return db.appendSchemaDDL(n.Table, cols)
}

func literalValue(e plan.Expr) (any, error) {
	lit, ok := e.(plan.Literal)
	if !ok {
		return nil, errors.Newf(errors.SqlNotSupported, "non-literal expression is not supported here: %T", e)
	}
	switch lit.Kind {
	case plan.LitNull:
		return nil, nil
	case plan.LitBoolean:
		return lit.Bool, nil
	case plan.LitInt32:
		return int64(lit.Int32), nil
	case plan.LitInt64:
		return lit.Int64, nil
	case plan.LitFloat64:
		return lit.Float, nil
	case plan.LitUtf8:
		return lit.Str, nil
	default:
		return nil, errors.Newf(errors.SqlNotSupported, "unknown literal kind %d", lit.Kind)
	}
}

// execInsert evaluates each VALUES row (literals only — plan.Insert's
// own doc comment rules out anything else, since it's evaluated with no
// input row) into a rowcodec.Row, JSON-encodes it, and writes it under a
// freshly generated row ID, keeping the raw KV façade and the SQL layer
// on the same underlying tiers.
func (db *DB) execInsert(n *plan.Insert) error {
	for _, rowExprs := range n.Rows {
		if len(rowExprs) != len(n.Columns) {
			return errors.Newf(errors.SqlExecution, "insert into %q: column/value count mismatch", n.Table)
		}
		row := make(rowcodec.Row, len(n.Columns))
		for i, colName := range n.Columns {
			val, err := literalValue(rowExprs[i])
			if err != nil {
				return err
			}
			row[colName] = val
		}
		encoded, err := rowcodec.Encode(row)
		if err != nil {
			return err
		}
		rowID := uuid.New()
		if _, err := db.writeVersioned(n.Table, rowID[:], encoded, false); err != nil {
			return err
		}
		db.bumpRowCounter(n.Table, 1)
		db.indexEachColumn(n.Table, rowID, row, false)
	}
	return nil
}

func evalAssignment(e plan.Expr, row rowcodec.Row) (any, error) {
	switch v := e.(type) {
	case plan.Literal:
		return literalValue(v)
	case plan.Column:
		return row[v.Name], nil
	default:
		return nil, errors.Newf(errors.SqlNotSupported, "UPDATE SET only supports literal or column-copy expressions, got %T", e)
	}
}

// execUpdate rewrites every row of n.Table matching n.Filter, using
// exec.FilterRows against a one-row batch to test membership — the
// mechanism that package explicitly exists for (Insert/Update/Delete
// execution that bypasses the Volcano operator tree).
func (db *DB) execUpdate(n *plan.Update) error {
	entries, err := db.loadTableEntries(n.Table)
	if err != nil {
		return err
	}
	for _, e := range entries {
		row, err := rowcodec.Decode(e.Value)
		if err != nil {
			continue
		}
		if n.Filter != nil {
			kept, err := exec.FilterRows(exec.Batch{row}, n.Filter)
			if err != nil {
				return err
			}
			if len(kept) == 0 {
				continue
			}
		}

		rowID, idErr := uuid.FromBytes(e.Key)
		hasRowID := idErr == nil
		if hasRowID {
			db.indexEachColumn(n.Table, rowID, row, true)
		}

		for col, expr := range n.Assignments {
			val, err := evalAssignment(expr, row)
			if err != nil {
				return err
			}
			row[col] = val
		}
		encoded, err := rowcodec.Encode(row)
		if err != nil {
			return err
		}
		if _, err := db.writeVersioned(n.Table, e.Key, encoded, false); err != nil {
			return err
		}
		if hasRowID {
			db.indexEachColumn(n.Table, rowID, row, false)
		}
	}
	return nil
}

// execDelete removes every row of n.Table matching n.Filter.
func (db *DB) execDelete(n *plan.Delete) error {
	entries, err := db.loadTableEntries(n.Table)
	if err != nil {
		return err
	}
	for _, e := range entries {
		row, _ := rowcodec.Decode(e.Value) // nil on a non-SQL-managed row; index retraction just skips it

		if n.Filter != nil {
			if row == nil {
				continue
			}
			kept, err := exec.FilterRows(exec.Batch{row}, n.Filter)
			if err != nil {
				return err
			}
			if len(kept) == 0 {
				continue
			}
		}
		if row != nil {
			if rowID, idErr := uuid.FromBytes(e.Key); idErr == nil {
				db.indexEachColumn(n.Table, rowID, row, true)
			}
		}
		if _, err := db.writeVersioned(n.Table, e.Key, nil, true); err != nil {
			return err
		}
		db.bumpRowCounter(n.Table, -1)
	}
	return nil
}
