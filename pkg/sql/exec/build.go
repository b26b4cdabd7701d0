package exec

import (
	"github.com/vela-db/vela/pkg/errors"
	"github.com/vela-db/vela/pkg/sql/plan"
)

// TableLoader resolves a Scan's table name (and optional pushed-down
// filter, applied by the loader if it can do so cheaply — e.g. via an
// index) to the rows currently visible to the executing snapshot. The
// engine's loader reads the merged Tier-1 Delta, Tier-3 WOS and Tier-5
// ROS view; the Tier-2 cache is not consulted.
type TableLoader func(table string, filter plan.Expr) (Batch, error)

// Build compiles a logical plan into a physical Volcano operator tree.
func Build(p plan.LogicalPlan, load TableLoader) (Operator, error) {
	switch n := p.(type) {
	case *plan.Scan:
		rows, err := load(n.Table, n.Filter)
		if err != nil {
			return nil, err
		}
		if n.Filter != nil {
			kept := make(Batch, 0, len(rows))
			for _, row := range rows {
				ok, err := evalBool(n.Filter, row)
				if err != nil {
					return nil, err
				}
				if ok {
					kept = append(kept, row)
				}
			}
			rows = kept
		}
		return NewTableScan(rows, n.Columns), nil

	case *plan.Filter:
		input, err := Build(n.Input, load)
		if err != nil {
			return nil, err
		}
		return &Filter{Input: input, Predicate: n.Predicate}, nil

	case *plan.Project:
		input, err := Build(n.Input, load)
		if err != nil {
			return nil, err
		}
		return &Projection{Input: input, Projections: n.Projections}, nil

	case *plan.Sort:
		input, err := Build(n.Input, load)
		if err != nil {
			return nil, err
		}
		return &Sort{Input: input, OrderBy: n.OrderBy}, nil

	case *plan.Limit:
		input, err := Build(n.Input, load)
		if err != nil {
			return nil, err
		}
		return &Limit{Input: input, Count: n.Count, Offset: n.Offset}, nil

	case *plan.Aggregate:
		input, err := Build(n.Input, load)
		if err != nil {
			return nil, err
		}
		return &HashAggregate{Input: input, GroupBy: n.GroupBy, Aggregates: n.Aggregates}, nil

	case *plan.Join:
		left, err := Build(n.Left, load)
		if err != nil {
			return nil, err
		}
		right, err := Build(n.Right, load)
		if err != nil {
			return nil, err
		}
		return &HashJoin{Left: left, Right: right, On: n.On}, nil

	default:
		return nil, errors.Newf(errors.SqlExecution, "cannot build a physical plan for %T", p)
	}
}

// Collect drains an operator to completion, concatenating every batch
// it emits.
func Collect(op Operator) (Batch, error) {
	var all Batch
	for {
		batch, err := op.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			return all, nil
		}
		all = append(all, batch...)
	}
}

// FilterRows returns a new batch of the rows that satisfy filter, used by
// Insert/Update/Delete execution which doesn't go through the Volcano
// tree (spec.md's logical-plan DML nodes are executed directly by the
// façade rather than compiled into operators).
func FilterRows(rows Batch, filter plan.Expr) (Batch, error) {
	if filter == nil {
		return rows, nil
	}
	var kept Batch
	for _, row := range rows {
		ok, err := evalBool(filter, row)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, row)
		}
	}
	return kept, nil
}
