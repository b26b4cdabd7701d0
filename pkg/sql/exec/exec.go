// Package exec implements the Volcano/pull physical operator tree of
// spec.md §4.6: every operator exposes Schema/Next/Reset, pulling
// batches from its input(s) on demand. Rows are represented as
// rowcodec.Row maps rather than true columnar arrays — there is no
// Arrow implementation anywhere in the example pack, and the storage
// tiers beneath this package already hand back row-shaped data decoded
// by rowcodec — so "one array output per expression per batch" is
// realized here as one evaluated value per expression per row, applied
// batch-at-a-time exactly as the pull model requires.
package exec

import (
	"sort"

	"github.com/vela-db/vela/pkg/errors"
	"github.com/vela-db/vela/pkg/rowcodec"
	"github.com/vela-db/vela/pkg/sql/plan"
)

// Batch is one unit of rows flowing through the operator tree.
type Batch []rowcodec.Row

// Operator is a physical, pull-based plan node.
type Operator interface {
	Schema() []string
	Next() (Batch, error) // nil Batch, nil error signals exhaustion
	Reset() error
}

// TableScan is pre-loaded with every batch it will ever emit — set by
// the engine from whichever tier (cache, WOS, ROS) answered the scan —
// and applies an optional column projection while emitting.
type TableScan struct {
	columns []string
	source  []Batch
	pos     int
}

// NewTableScan builds a TableScan over pre-materialized rows, optionally
// narrowed to columns (nil/empty means all columns).
func NewTableScan(rows Batch, columns []string) *TableScan {
	return &TableScan{columns: columns, source: []Batch{rows}}
}

func (s *TableScan) Schema() []string { return s.columns }

func (s *TableScan) Next() (Batch, error) {
	if s.pos >= len(s.source) {
		return nil, nil
	}
	batch := s.source[s.pos]
	s.pos++
	if len(s.columns) == 0 {
		return batch, nil
	}
	projected := make(Batch, len(batch))
	for i, row := range batch {
		out := make(rowcodec.Row, len(s.columns))
		for _, c := range s.columns {
			out[c] = row[c]
		}
		projected[i] = out
	}
	return projected, nil
}

func (s *TableScan) Reset() error { s.pos = 0; return nil }

// Filter evaluates Predicate against each incoming row, returning only
// the rows where it is true; empty results are skipped, not emitted.
type Filter struct {
	Input     Operator
	Predicate plan.Expr
}

func (f *Filter) Schema() []string { return f.Input.Schema() }

func (f *Filter) Next() (Batch, error) {
	for {
		batch, err := f.Input.Next()
		if err != nil || batch == nil {
			return nil, err
		}
		var kept Batch
		for _, row := range batch {
			ok, err := evalBool(f.Predicate, row)
			if err != nil {
				return nil, err
			}
			if ok {
				kept = append(kept, row)
			}
		}
		if len(kept) > 0 {
			return kept, nil
		}
	}
}

func (f *Filter) Reset() error { return f.Input.Reset() }

// Projection evaluates each output expression against the incoming
// batch; it passes rows through unchanged when the expression list is
// empty (SELECT *).
type Projection struct {
	Input       Operator
	Projections []plan.ProjectionItem
}

func (p *Projection) Schema() []string {
	if len(p.Projections) == 0 {
		return p.Input.Schema()
	}
	names := make([]string, len(p.Projections))
	for i, item := range p.Projections {
		names[i] = projectionName(item)
	}
	return names
}

func (p *Projection) Next() (Batch, error) {
	batch, err := p.Input.Next()
	if err != nil || batch == nil {
		return nil, err
	}
	if len(p.Projections) == 0 {
		return batch, nil
	}
	out := make(Batch, len(batch))
	for i, row := range batch {
		projected := make(rowcodec.Row, len(p.Projections))
		for _, item := range p.Projections {
			v, err := eval(item.Expr, row)
			if err != nil {
				return nil, err
			}
			projected[projectionName(item)] = v
		}
		out[i] = projected
	}
	return out, nil
}

func (p *Projection) Reset() error { return p.Input.Reset() }

func projectionName(item plan.ProjectionItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	if col, ok := item.Expr.(plan.Column); ok {
		return col.Name
	}
	return "?column?"
}

// HashAggregate builds a hash table keyed by the group-by key vector,
// draining all input before emitting one output batch.
type HashAggregate struct {
	Input      Operator
	GroupBy    []plan.Expr
	Aggregates []plan.AggExpr

	done bool
}

type aggState struct {
	count int64
	sum   float64
	min   float64
	max   float64
	seen  bool
}

func (h *HashAggregate) Schema() []string {
	names := make([]string, 0, len(h.GroupBy)+len(h.Aggregates))
	for i := range h.GroupBy {
		names = append(names, groupColumnName(h.GroupBy[i], i))
	}
	for _, a := range h.Aggregates {
		names = append(names, aggAlias(a))
	}
	return names
}

func groupColumnName(e plan.Expr, i int) string {
	if col, ok := e.(plan.Column); ok {
		return col.Name
	}
	return "group" + string(rune('0'+i))
}

func aggAlias(a plan.AggExpr) string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.Func
}

func (h *HashAggregate) Next() (Batch, error) {
	if h.done {
		return nil, nil
	}
	h.done = true

	type groupKey string
	groups := map[groupKey][]any{}
	states := map[groupKey]map[string]*aggState{}
	order := []groupKey{}

	for {
		batch, err := h.Input.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}
		for _, row := range batch {
			keyVals := make([]any, len(h.GroupBy))
			for i, g := range h.GroupBy {
				v, err := eval(g, row)
				if err != nil {
					return nil, err
				}
				keyVals[i] = v
			}
			key := groupKey(formatKey(keyVals))
			if _, ok := groups[key]; !ok {
				groups[key] = keyVals
				states[key] = map[string]*aggState{}
				order = append(order, key)
			}
			for _, a := range h.Aggregates {
				st := states[key][aggAlias(a)]
				if st == nil {
					st = &aggState{}
					states[key][aggAlias(a)] = st
				}
				if err := accumulate(st, a, row); err != nil {
					return nil, err
				}
			}
		}
	}

	out := make(Batch, 0, len(order))
	for _, key := range order {
		row := rowcodec.Row{}
		keyVals := groups[key]
		for i, g := range h.GroupBy {
			row[groupColumnName(g, i)] = keyVals[i]
		}
		for _, a := range h.Aggregates {
			if a.Func == "GROUP_KEY" {
				for i, g := range h.GroupBy {
					if g == a.Arg {
						row[aggAlias(a)] = keyVals[i]
					}
				}
				continue
			}
			row[aggAlias(a)] = finalize(states[key][aggAlias(a)], a.Func)
		}
		out = append(out, row)
	}
	return out, nil
}

func (h *HashAggregate) Reset() error {
	h.done = false
	return h.Input.Reset()
}

func accumulate(st *aggState, a plan.AggExpr, row rowcodec.Row) error {
	switch a.Func {
	case "COUNT":
		if a.Arg == nil {
			st.count++
			return nil
		}
		v, err := eval(a.Arg, row)
		if err != nil {
			return err
		}
		if v != nil {
			st.count++
		}
		return nil
	}
	v, err := eval(a.Arg, row)
	if err != nil {
		return err
	}
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	switch a.Func {
	case "SUM", "AVG":
		st.sum += f
		st.count++
	case "MIN":
		if !st.seen || f < st.min {
			st.min = f
		}
		st.seen = true
	case "MAX":
		if !st.seen || f > st.max {
			st.max = f
		}
		st.seen = true
	}
	return nil
}

func finalize(st *aggState, fn string) any {
	if st == nil {
		return nil
	}
	switch fn {
	case "COUNT":
		return st.count
	case "SUM":
		return st.sum
	case "AVG":
		if st.count == 0 {
			return nil
		}
		return st.sum / float64(st.count)
	case "MIN":
		return st.min
	case "MAX":
		return st.max
	default:
		return nil
	}
}

// HashJoin is a classic build-probe equi-join: the left (build) side is
// fully materialized first, then the right (probe) side emits joined
// batches.
type HashJoin struct {
	Left, Right Operator
	On          plan.Expr

	built bool
	index map[string][]rowcodec.Row
}

func (j *HashJoin) Schema() []string {
	return append(append([]string{}, j.Left.Schema()...), j.Right.Schema()...)
}

func (j *HashJoin) build() error {
	bo, ok := j.On.(plan.BinaryOp)
	if !ok || bo.Op != "=" {
		return errors.New(errors.SqlNotSupported, "hash join requires an equi-join condition")
	}
	j.index = map[string][]rowcodec.Row{}
	for {
		batch, err := j.Left.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		for _, row := range batch {
			v, err := eval(bo.Left, row)
			if err != nil {
				return err
			}
			key := formatKey([]any{v})
			j.index[key] = append(j.index[key], row)
		}
	}
	j.built = true
	return nil
}

func (j *HashJoin) Next() (Batch, error) {
	if !j.built {
		if err := j.build(); err != nil {
			return nil, err
		}
	}
	bo := j.On.(plan.BinaryOp)
	for {
		batch, err := j.Right.Next()
		if err != nil || batch == nil {
			return nil, err
		}
		var out Batch
		for _, probeRow := range batch {
			v, err := eval(bo.Right, probeRow)
			if err != nil {
				return nil, err
			}
			key := formatKey([]any{v})
			for _, buildRow := range j.index[key] {
				merged := make(rowcodec.Row, len(buildRow)+len(probeRow))
				for k, v := range buildRow {
					merged[k] = v
				}
				for k, v := range probeRow {
					merged[k] = v
				}
				out = append(out, merged)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}
}

func (j *HashJoin) Reset() error {
	j.built = false
	j.index = nil
	if err := j.Left.Reset(); err != nil {
		return err
	}
	return j.Right.Reset()
}

// Sort materializes all input into one merged batch and orders it
// lexicographically across the key columns.
type Sort struct {
	Input   Operator
	OrderBy []plan.OrderKey

	emitted bool
}

func (s *Sort) Schema() []string { return s.Input.Schema() }

func (s *Sort) Next() (Batch, error) {
	if s.emitted {
		return nil, nil
	}
	s.emitted = true

	var all Batch
	for {
		batch, err := s.Input.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}
		all = append(all, batch...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		for _, key := range s.OrderBy {
			vi, _ := eval(key.Expr, all[i])
			vj, _ := eval(key.Expr, all[j])
			cmp := compareNullable(vi, vj, key.NullsFirst)
			if cmp == 0 {
				continue
			}
			if key.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return all, nil
}

func (s *Sort) Reset() error {
	s.emitted = false
	return s.Input.Reset()
}

// Limit counts emitted rows, skips Offset rows across batch boundaries,
// and slices the final batch if the count falls mid-batch.
type Limit struct {
	Input  Operator
	Count  int
	Offset int

	skipped int
	emitted int
}

func (l *Limit) Schema() []string { return l.Input.Schema() }

func (l *Limit) Next() (Batch, error) {
	if l.emitted >= l.Count {
		return nil, nil
	}
	for {
		batch, err := l.Input.Next()
		if err != nil || batch == nil {
			return nil, err
		}
		if l.skipped < l.Offset {
			remaining := l.Offset - l.skipped
			if remaining >= len(batch) {
				l.skipped += len(batch)
				continue
			}
			batch = batch[remaining:]
			l.skipped = l.Offset
		}
		room := l.Count - l.emitted
		if room <= 0 {
			return nil, nil
		}
		if len(batch) > room {
			batch = batch[:room]
		}
		l.emitted += len(batch)
		return batch, nil
	}
}

func (l *Limit) Reset() error {
	l.skipped, l.emitted = 0, 0
	return l.Input.Reset()
}
