// Package optimizer applies the four pure plan-to-plan rewrite rules of
// spec.md §4.6, in order: predicate pushdown, projection pushdown,
// constant folding, limit pushdown. No cost-based join reordering is
// performed — that remains a Non-goal.
package optimizer

import "github.com/vela-db/vela/pkg/sql/plan"

// Optimize applies all four rules, in order, to p and returns the
// rewritten plan. Each rule recurses through the whole tree before the
// next rule runs, so a rewrite made by an earlier rule is visible to
// later ones.
func Optimize(p plan.LogicalPlan) plan.LogicalPlan {
	p = pushdownPredicates(p)
	p = pushdownProjections(p)
	p = foldConstants(p)
	p = pushdownLimits(p)
	return p
}

// pushdownPredicates merges a Filter sitting directly above a Scan into
// Scan.Filter (AND-combined with any filter already there), and walks a
// Filter above a Project down through the Project when the predicate
// only references bare columns/literals (spec.md rule 1).
func pushdownPredicates(p plan.LogicalPlan) plan.LogicalPlan {
	switch n := p.(type) {
	case *plan.Filter:
		input := pushdownPredicates(n.Input)
		switch in := input.(type) {
		case *plan.Scan:
			merged := in.Filter
			if merged == nil {
				merged = n.Predicate
			} else {
				merged = plan.BinaryOp{Op: "AND", Left: merged, Right: n.Predicate}
			}
			return &plan.Scan{Table: in.Table, Columns: in.Columns, Filter: merged}
		case *plan.Project:
			if conservativelyPushable(n.Predicate) {
				return &plan.Project{
					Input:       pushdownPredicates(&plan.Filter{Input: in.Input, Predicate: n.Predicate}),
					Projections: in.Projections,
				}
			}
		}
		return &plan.Filter{Input: input, Predicate: n.Predicate}
	case *plan.Project:
		return &plan.Project{Input: pushdownPredicates(n.Input), Projections: n.Projections}
	case *plan.Sort:
		return &plan.Sort{Input: pushdownPredicates(n.Input), OrderBy: n.OrderBy}
	case *plan.Limit:
		return &plan.Limit{Input: pushdownPredicates(n.Input), Count: n.Count, Offset: n.Offset}
	case *plan.Aggregate:
		return &plan.Aggregate{Input: pushdownPredicates(n.Input), GroupBy: n.GroupBy, Aggregates: n.Aggregates}
	case *plan.Join:
		return &plan.Join{Left: pushdownPredicates(n.Left), Right: pushdownPredicates(n.Right), On: n.On}
	default:
		return p
	}
}

// conservativelyPushable reports whether every column reference in e is
// a bare Column/Literal tree — the conservative test spec.md's rule 1
// requires before walking a Filter through a Project.
func conservativelyPushable(e plan.Expr) bool {
	switch v := e.(type) {
	case plan.Column, plan.Literal:
		return true
	case plan.BinaryOp:
		return conservativelyPushable(v.Left) && conservativelyPushable(v.Right)
	case plan.IsNull:
		return conservativelyPushable(v.Expr)
	case plan.IsNotNull:
		return conservativelyPushable(v.Expr)
	case plan.InList:
		if !conservativelyPushable(v.Expr) {
			return false
		}
		for _, item := range v.List {
			if !conservativelyPushable(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// pushdownProjections narrows a Scan beneath a Project to the union of
// columns the Project's expressions actually reference, dropping the
// rest before materialization (spec.md rule 2).
func pushdownProjections(p plan.LogicalPlan) plan.LogicalPlan {
	switch n := p.(type) {
	case *plan.Project:
		input := pushdownProjections(n.Input)
		if scan, ok := input.(*plan.Scan); ok && len(n.Projections) > 0 {
			needed := map[string]struct{}{}
			var order []string
			for _, item := range n.Projections {
				for _, c := range plan.ColumnsOf(item.Expr) {
					if _, seen := needed[c]; !seen {
						needed[c] = struct{}{}
						order = append(order, c)
					}
				}
			}
			if scan.Filter != nil {
				for _, c := range plan.ColumnsOf(scan.Filter) {
					if _, seen := needed[c]; !seen {
						needed[c] = struct{}{}
						order = append(order, c)
					}
				}
			}
			if len(order) > 0 {
				input = &plan.Scan{Table: scan.Table, Columns: order, Filter: scan.Filter}
			}
		}
		return &plan.Project{Input: input, Projections: n.Projections}
	case *plan.Filter:
		return &plan.Filter{Input: pushdownProjections(n.Input), Predicate: n.Predicate}
	case *plan.Sort:
		return &plan.Sort{Input: pushdownProjections(n.Input), OrderBy: n.OrderBy}
	case *plan.Limit:
		return &plan.Limit{Input: pushdownProjections(n.Input), Count: n.Count, Offset: n.Offset}
	case *plan.Aggregate:
		return &plan.Aggregate{Input: pushdownProjections(n.Input), GroupBy: n.GroupBy, Aggregates: n.Aggregates}
	case *plan.Join:
		return &plan.Join{Left: pushdownProjections(n.Left), Right: pushdownProjections(n.Right), On: n.On}
	default:
		return p
	}
}

// foldConstants recursively evaluates BinaryOp nodes whose operands are
// both literals, drops a Filter whose predicate folds to true, and
// leaves folding a predicate to false as a runtime empty-result
// short-circuit rather than eliminating the plan node here (spec.md
// rule 3, implementer choice documented in DESIGN.md).
func foldConstants(p plan.LogicalPlan) plan.LogicalPlan {
	switch n := p.(type) {
	case *plan.Filter:
		input := foldConstants(n.Input)
		folded := foldExpr(n.Predicate)
		if lit, ok := folded.(plan.Literal); ok && lit.Kind == plan.LitBoolean && lit.Bool {
			return input
		}
		return &plan.Filter{Input: input, Predicate: folded}
	case *plan.Scan:
		if n.Filter == nil {
			return n
		}
		folded := foldExpr(n.Filter)
		if lit, ok := folded.(plan.Literal); ok && lit.Kind == plan.LitBoolean && lit.Bool {
			return &plan.Scan{Table: n.Table, Columns: n.Columns}
		}
		return &plan.Scan{Table: n.Table, Columns: n.Columns, Filter: folded}
	case *plan.Project:
		projections := make([]plan.ProjectionItem, len(n.Projections))
		for i, item := range n.Projections {
			projections[i] = plan.ProjectionItem{Expr: foldExpr(item.Expr), Alias: item.Alias}
		}
		return &plan.Project{Input: foldConstants(n.Input), Projections: projections}
	case *plan.Sort:
		return &plan.Sort{Input: foldConstants(n.Input), OrderBy: n.OrderBy}
	case *plan.Limit:
		return &plan.Limit{Input: foldConstants(n.Input), Count: n.Count, Offset: n.Offset}
	case *plan.Aggregate:
		return &plan.Aggregate{Input: foldConstants(n.Input), GroupBy: n.GroupBy, Aggregates: n.Aggregates}
	case *plan.Join:
		return &plan.Join{Left: foldConstants(n.Left), Right: foldConstants(n.Right), On: foldExpr(n.On)}
	default:
		return p
	}
}

func foldExpr(e plan.Expr) plan.Expr {
	bo, ok := e.(plan.BinaryOp)
	if !ok {
		return e
	}
	left := foldExpr(bo.Left)
	right := foldExpr(bo.Right)
	ll, lok := left.(plan.Literal)
	rl, rok := right.(plan.Literal)
	if !lok || !rok {
		return plan.BinaryOp{Op: bo.Op, Left: left, Right: right}
	}
	if folded, ok := foldLiterals(bo.Op, ll, rl); ok {
		return folded
	}
	return plan.BinaryOp{Op: bo.Op, Left: left, Right: right}
}

func foldLiterals(op string, l, r plan.Literal) (plan.Literal, bool) {
	switch op {
	case "AND":
		if l.Kind == plan.LitBoolean && r.Kind == plan.LitBoolean {
			return plan.Literal{Kind: plan.LitBoolean, Bool: l.Bool && r.Bool}, true
		}
	case "OR":
		if l.Kind == plan.LitBoolean && r.Kind == plan.LitBoolean {
			return plan.Literal{Kind: plan.LitBoolean, Bool: l.Bool || r.Bool}, true
		}
	case "+", "-", "*", "/":
		return foldArithmetic(op, l, r)
	case "=", "!=", "<", "<=", ">", ">=":
		return foldComparison(op, l, r)
	}
	return plan.Literal{}, false
}

func asFloat(l plan.Literal) (float64, bool) {
	switch l.Kind {
	case plan.LitInt32:
		return float64(l.Int32), true
	case plan.LitInt64:
		return float64(l.Int64), true
	case plan.LitFloat64:
		return l.Float, true
	default:
		return 0, false
	}
}

func foldArithmetic(op string, l, r plan.Literal) (plan.Literal, bool) {
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if !lok || !rok {
		return plan.Literal{}, false
	}
	isInt := l.Kind != plan.LitFloat64 && r.Kind != plan.LitFloat64
	var result float64
	switch op {
	case "+":
		result = lf + rf
	case "-":
		result = lf - rf
	case "*":
		result = lf * rf
	case "/":
		if rf == 0 {
			return plan.Literal{}, false
		}
		result = lf / rf
	}
	if isInt {
		return plan.Literal{Kind: plan.LitInt64, Int64: int64(result)}, true
	}
	return plan.Literal{Kind: plan.LitFloat64, Float: result}, true
}

func foldComparison(op string, l, r plan.Literal) (plan.Literal, bool) {
	var cmp int
	switch {
	case l.Kind == plan.LitUtf8 && r.Kind == plan.LitUtf8:
		switch {
		case l.Str < r.Str:
			cmp = -1
		case l.Str > r.Str:
			cmp = 1
		}
	default:
		lf, lok := asFloat(l)
		rf, rok := asFloat(r)
		if !lok || !rok {
			return plan.Literal{}, false
		}
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}
	}
	var result bool
	switch op {
	case "=":
		result = cmp == 0
	case "!=":
		result = cmp != 0
	case "<":
		result = cmp < 0
	case "<=":
		result = cmp <= 0
	case ">":
		result = cmp > 0
	case ">=":
		result = cmp >= 0
	}
	return plan.Literal{Kind: plan.LitBoolean, Bool: result}, true
}

// pushdownLimits swaps a Limit above a Project beneath it when offset
// is 0, and merges adjacent Limits (count = min, offset = sum), per
// spec.md rule 4.
func pushdownLimits(p plan.LogicalPlan) plan.LogicalPlan {
	switch n := p.(type) {
	case *plan.Limit:
		input := pushdownLimits(n.Input)
		if inner, ok := input.(*plan.Limit); ok {
			count := n.Count
			if inner.Count < count {
				count = inner.Count
			}
			return &plan.Limit{Input: inner.Input, Count: count, Offset: n.Offset + inner.Offset}
		}
		if proj, ok := input.(*plan.Project); ok && n.Offset == 0 {
			return &plan.Project{
				Input:       &plan.Limit{Input: proj.Input, Count: n.Count, Offset: 0},
				Projections: proj.Projections,
			}
		}
		return &plan.Limit{Input: input, Count: n.Count, Offset: n.Offset}
	case *plan.Filter:
		return &plan.Filter{Input: pushdownLimits(n.Input), Predicate: n.Predicate}
	case *plan.Project:
		return &plan.Project{Input: pushdownLimits(n.Input), Projections: n.Projections}
	case *plan.Sort:
		return &plan.Sort{Input: pushdownLimits(n.Input), OrderBy: n.OrderBy}
	case *plan.Aggregate:
		return &plan.Aggregate{Input: pushdownLimits(n.Input), GroupBy: n.GroupBy, Aggregates: n.Aggregates}
	case *plan.Join:
		return &plan.Join{Left: pushdownLimits(n.Left), Right: pushdownLimits(n.Right), On: n.On}
	default:
		return p
	}
}
