package exec

import (
	"fmt"
	"strings"

	"github.com/vela-db/vela/pkg/errors"
	"github.com/vela-db/vela/pkg/rowcodec"
	"github.com/vela-db/vela/pkg/sql/plan"
)

// eval evaluates a scalar expression against row. A null operand
// propagates null through arithmetic and comparison. AND and OR do not
// use three-valued logic: they treat a null operand as false and always
// return a boolean. IN skips null list items and returns false, not
// null, when nothing matches.
func eval(e plan.Expr, row rowcodec.Row) (any, error) {
	switch v := e.(type) {
	case plan.Column:
		return row[v.Name], nil
	case plan.Literal:
		return literalValue(v), nil
	case plan.BinaryOp:
		return evalBinaryOp(v, row)
	case plan.Function:
		return evalFunction(v, row)
	case plan.InList:
		return evalInList(v, row)
	case plan.IsNull:
		val, err := eval(v.Expr, row)
		if err != nil {
			return nil, err
		}
		return val == nil, nil
	case plan.IsNotNull:
		val, err := eval(v.Expr, row)
		if err != nil {
			return nil, err
		}
		return val != nil, nil
	default:
		return nil, errors.Newf(errors.SqlExecution, "unsupported expression type %T", e)
	}
}

// evalBool evaluates e and coerces the result to a boolean for Filter's
// mask, treating null as false (standard SQL WHERE semantics).
func evalBool(e plan.Expr, row rowcodec.Row) (bool, error) {
	v, err := eval(e, row)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func literalValue(l plan.Literal) any {
	switch l.Kind {
	case plan.LitNull:
		return nil
	case plan.LitBoolean:
		return l.Bool
	case plan.LitInt32:
		return l.Int32
	case plan.LitInt64:
		return l.Int64
	case plan.LitFloat64:
		return l.Float
	case plan.LitUtf8:
		return l.Str
	default:
		return nil
	}
}

func evalBinaryOp(b plan.BinaryOp, row rowcodec.Row) (any, error) {
	switch b.Op {
	case "AND":
		l, err := evalBool(b.Left, row)
		if err != nil {
			return nil, err
		}
		if !l {
			return false, nil
		}
		return evalBool(b.Right, row)
	case "OR":
		l, err := evalBool(b.Left, row)
		if err != nil {
			return nil, err
		}
		if l {
			return true, nil
		}
		return evalBool(b.Right, row)
	}

	left, err := eval(b.Left, row)
	if err != nil {
		return nil, err
	}
	right, err := eval(b.Right, row)
	if err != nil {
		return nil, err
	}
	if left == nil || right == nil {
		return nil, nil
	}

	switch b.Op {
	case "=", "!=", "<", "<=", ">", ">=":
		return compareValues(left, right, b.Op)
	case "+", "-", "*", "/":
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if !lok || !rok {
			return nil, errors.Newf(errors.TypeMismatch, "arithmetic requires numeric operands, got %T and %T", left, right)
		}
		switch b.Op {
		case "+":
			return lf + rf, nil
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			if rf == 0 {
				return nil, errors.New(errors.SqlExecution, "division by zero")
			}
			return lf / rf, nil
		}
	}
	return nil, errors.Newf(errors.SqlNotSupported, "unsupported operator %q", b.Op)
}

func compareValues(left, right any, op string) (any, error) {
	var cmp int
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		cmp = strings.Compare(ls, rs)
	} else {
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if !lok || !rok {
			return nil, errors.Newf(errors.TypeMismatch, "cannot compare %T and %T", left, right)
		}
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}
	}
	switch op {
	case "=":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return nil, errors.Newf(errors.SqlNotSupported, "unsupported comparison operator %q", op)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func evalFunction(f plan.Function, row rowcodec.Row) (any, error) {
	return nil, errors.Newf(errors.SqlNotSupported, "scalar function %q is not supported", f.Name)
}

func evalInList(in plan.InList, row rowcodec.Row) (any, error) {
	v, err := eval(in.Expr, row)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	for _, item := range in.List {
		iv, err := eval(item, row)
		if err != nil {
			return nil, err
		}
		if iv == nil {
			continue
		}
		if eq, err := compareValues(v, iv, "="); err == nil && eq == true {
			return true, nil
		}
	}
	return false, nil
}

func formatKey(vals []any) string {
	var b strings.Builder
	for i, v := range vals {
		if i > 0 {
			b.WriteByte('\x00')
		}
		fmt.Fprintf(&b, "%v", v)
	}
	return b.String()
}

func compareNullable(a, b any, nullsFirst bool) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		if nullsFirst {
			return -1
		}
		return 1
	}
	if b == nil {
		if nullsFirst {
			return 1
		}
		return -1
	}
	if res, err := compareValues(a, b, "<"); err == nil && res == true {
		return -1
	}
	if res, err := compareValues(a, b, ">"); err == nil && res == true {
		return 1
	}
	return 0
}
