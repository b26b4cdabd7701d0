// Package plan defines the logical query plan of spec.md §4.6: the
// expression tree and the plan node variants (Scan, Filter, Project,
// Sort, Limit, Aggregate, Join, Insert, Update, Delete) produced by
// pkg/sql/parser and rewritten by pkg/sql/optimizer before pkg/sql/exec
// turns it into a physical operator tree.
package plan

// LiteralKind tags the scalar variants a Literal may hold.
type LiteralKind int

const (
	LitNull LiteralKind = iota
	LitBoolean
	LitInt32
	LitInt64
	LitFloat64
	LitUtf8
)

// Expr is any node of a scalar expression tree.
type Expr interface{ isExpr() }

// Column references an input column by name.
type Column struct{ Name string }

// Literal is a scalar tagged union: Null, Boolean, Int32, Int64,
// Float64, Utf8.
type Literal struct {
	Kind  LiteralKind
	Bool  bool
	Int32 int32
	Int64 int64
	Float float64
	Str   string
}

// BinaryOp covers arithmetic, comparison, and AND/OR operators.
type BinaryOp struct {
	Op          string
	Left, Right Expr
}

// Function is a named function call applied to argument expressions
// (also used to represent aggregate functions inside an Aggregate
// plan node's Aggregates list).
type Function struct {
	Name string
	Args []Expr
}

// InList tests membership of Expr within List.
type InList struct {
	Expr Expr
	List []Expr
}

// IsNull tests whether Expr evaluates to null.
type IsNull struct{ Expr Expr }

// IsNotNull tests whether Expr evaluates to a non-null value.
type IsNotNull struct{ Expr Expr }

func (Column) isExpr()    {}
func (Literal) isExpr()   {}
func (BinaryOp) isExpr()  {}
func (Function) isExpr()  {}
func (InList) isExpr()    {}
func (IsNull) isExpr()    {}
func (IsNotNull) isExpr() {}

// LogicalPlan is any node of the logical plan tree.
type LogicalPlan interface{ isPlan() }

// Scan reads a table, optionally narrowed to a column subset and/or a
// pushed-down filter.
type Scan struct {
	Table   string
	Columns []string // nil/empty means all columns
	Filter  Expr      // nil means no filter pushed down
}

// Filter keeps only input rows for which Predicate is true.
type Filter struct {
	Input     LogicalPlan
	Predicate Expr
}

// ProjectionItem is one output column of a Project node.
type ProjectionItem struct {
	Expr  Expr
	Alias string // empty means derive a name from Expr
}

// Project computes the output projection list over Input.
type Project struct {
	Input       LogicalPlan
	Projections []ProjectionItem
}

// OrderKey is one ORDER BY term.
type OrderKey struct {
	Expr       Expr
	Desc       bool
	NullsFirst bool
}

// Sort orders Input by OrderBy.
type Sort struct {
	Input   LogicalPlan
	OrderBy []OrderKey
}

// Limit restricts Input to Count rows after skipping Offset.
type Limit struct {
	Input  LogicalPlan
	Count  int
	Offset int
}

// AggExpr is one aggregate computed by an Aggregate node (SUM, COUNT,
// AVG, MIN, MAX).
type AggExpr struct {
	Func  string
	Arg   Expr // nil for COUNT(*)
	Alias string
}

// Aggregate groups Input by GroupBy and computes Aggregates per group.
type Aggregate struct {
	Input      LogicalPlan
	GroupBy    []Expr
	Aggregates []AggExpr
}

// Join is an equi-join executed by a hash join physical operator.
type Join struct {
	Left, Right LogicalPlan
	On          Expr
}

// Insert appends Rows of expressions (evaluated with no input row, so
// only literals are valid) into Table's Columns.
type Insert struct {
	Table   string
	Columns []string
	Rows    [][]Expr
}

// Update rewrites, for rows of Table matching Filter, the columns named
// in Assignments.
type Update struct {
	Table       string
	Assignments map[string]Expr
	Filter      Expr
}

// Delete removes rows of Table matching Filter.
type Delete struct {
	Table  string
	Filter Expr
}

// CreateTable declares a new table's initial schema — an extension
// beyond spec.md's logical-plan list, added because the parser accepts
// a basic CREATE TABLE statement (SPEC_FULL §4.6).
type CreateTable struct {
	Table   string
	Columns []ColumnDef
}

// ColumnDef is one column of a CREATE TABLE statement.
type ColumnDef struct {
	Name     string
	Type     string // raw SQL type keyword; coerced to registry.ColumnType by the caller
	Nullable bool
}

func (*Scan) isPlan()        {}
func (*Filter) isPlan()      {}
func (*Project) isPlan()     {}
func (*Sort) isPlan()        {}
func (*Limit) isPlan()       {}
func (*Aggregate) isPlan()   {}
func (*Join) isPlan()        {}
func (*Insert) isPlan()      {}
func (*Update) isPlan()      {}
func (*Delete) isPlan()      {}
func (*CreateTable) isPlan() {}

// ColumnsOf returns the set of column names a scalar expression tree
// directly references, used by the optimizer's projection pushdown.
func ColumnsOf(e Expr) []string {
	var out []string
	var walk func(Expr)
	walk = func(e Expr) {
		switch v := e.(type) {
		case Column:
			out = append(out, v.Name)
		case Literal:
		case BinaryOp:
			walk(v.Left)
			walk(v.Right)
		case Function:
			for _, a := range v.Args {
				walk(a)
			}
		case InList:
			walk(v.Expr)
			for _, a := range v.List {
				walk(a)
			}
		case IsNull:
			walk(v.Expr)
		case IsNotNull:
			walk(v.Expr)
		}
	}
	walk(e)
	return out
}

// IsBareColumnOrLiteral reports whether e is only a Column or Literal.
// The optimizer does not call it; its pushdown test is its own
// conservativelyPushable, which also accepts compound expressions.
func IsBareColumnOrLiteral(e Expr) bool {
	switch e.(type) {
	case Column, Literal:
		return true
	default:
		return false
	}
}
