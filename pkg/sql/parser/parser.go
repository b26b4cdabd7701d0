// Package parser implements the SQL front-end of spec.md §4.6: it
// wraps vitess.io/vitess/go/vt/sqlparser (built once via sqlparser.New,
// exactly as nethalo-dbsafe's own internal/parser/sql.go does) for
// statement classification, error reporting, and text canonicalization,
// then drives a small internal recursive-descent expression parser
// (exprlang.go) over the canonicalized clause text to build a
// pkg/sql/plan logical plan. Unsupported statements surface as
// errors.SqlNotSupported; malformed SQL surfaces as errors.SqlParse
// carrying the failing text.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/vela-db/vela/pkg/errors"
	"github.com/vela-db/vela/pkg/sql/plan"
	"vitess.io/vitess/go/vt/sqlparser"
)

var (
	parserOnce      sync.Once
	globalParser    *sqlparser.Parser
	globalParserErr error
)

func getParser() (*sqlparser.Parser, error) {
	parserOnce.Do(func() {
		globalParser, globalParserErr = sqlparser.New(sqlparser.Options{})
	})
	return globalParser, globalParserErr
}

// Parse translates a single SQL statement into a logical plan.
func Parse(sql string) (plan.LogicalPlan, error) {
	text := strings.TrimRight(strings.TrimSpace(sql), ";")
	p, err := getParser()
	if err != nil {
		return nil, errors.Wrap(errors.SqlParse, err, "initialize sql parser")
	}
	stmt, err := p.Parse(text)
	if err != nil {
		return nil, errors.SqlParseError(err.Error(), text)
	}
	canonical := sqlparser.String(stmt)

	switch stmt.(type) {
	case *sqlparser.Select:
		return parseSelect(canonical)
	case *sqlparser.Insert:
		return parseInsert(canonical)
	case *sqlparser.Update:
		return parseUpdate(canonical)
	case *sqlparser.Delete:
		return parseDelete(canonical)
	case *sqlparser.CreateTable:
		return parseCreateTable(canonical)
	default:
		return nil, errors.SqlNotSupportedError(text, "statement type is not supported by this engine")
	}
}

var reFromTable = regexp.MustCompile(`(?is)^from\s+(\S+)`)

func parseSelect(canonical string) (plan.LogicalPlan, error) {
	clauses := splitSelectClauses(canonical)

	fromMatch := reFromTable.FindStringSubmatch("from " + clauses.from)
	if fromMatch == nil {
		return nil, errors.SqlNotSupportedError(canonical, "SELECT without a single source table is not supported")
	}
	table := strings.Trim(strings.SplitN(clauses.from, " ", 2)[0], "`")

	var scanFilter plan.Expr
	if clauses.where != "" {
		f, err := parseExpr(clauses.where)
		if err != nil {
			return nil, err
		}
		scanFilter = f
	}
	var lp plan.LogicalPlan = &plan.Scan{Table: table, Filter: scanFilter}

	groupBy, err := parseExprList(clauses.groupBy)
	if err != nil {
		return nil, err
	}

	selectItems, err := parseSelectList(clauses.selectList)
	if err != nil {
		return nil, err
	}

	if len(groupBy) > 0 || containsAggregate(selectItems) {
		aggregates, err := toAggregates(selectItems)
		if err != nil {
			return nil, err
		}
		lp = &plan.Aggregate{Input: lp, GroupBy: groupBy, Aggregates: aggregates}
	} else if !isSelectStar(clauses.selectList) {
		lp = &plan.Project{Input: lp, Projections: selectItems}
	}

	if clauses.orderBy != "" {
		orderBy, err := parseOrderBy(clauses.orderBy)
		if err != nil {
			return nil, err
		}
		lp = &plan.Sort{Input: lp, OrderBy: orderBy}
	}

	if clauses.limit != "" {
		count, offset, err := parseLimit(clauses.limit)
		if err != nil {
			return nil, err
		}
		lp = &plan.Limit{Input: lp, Count: count, Offset: offset}
	}

	return lp, nil
}

func isSelectStar(selectList string) bool {
	return strings.TrimSpace(selectList) == "*"
}

func parseSelectList(s string) ([]plan.ProjectionItem, error) {
	if isSelectStar(s) {
		return nil, nil
	}
	var items []plan.ProjectionItem
	for _, part := range splitTopLevelComma(s) {
		expr, alias := splitAlias(part)
		e, err := parseExpr(expr)
		if err != nil {
			return nil, err
		}
		items = append(items, plan.ProjectionItem{Expr: e, Alias: alias})
	}
	return items, nil
}

var reAlias = regexp.MustCompile(`(?is)^(.*?)\s+as\s+(\S+)$`)

func splitAlias(s string) (expr string, alias string) {
	if m := reAlias.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1]), strings.Trim(m[2], "`")
	}
	return s, ""
}

func containsAggregate(items []plan.ProjectionItem) bool {
	for _, item := range items {
		if isAggregateExpr(item.Expr) {
			return true
		}
	}
	return false
}

func isAggregateExpr(e plan.Expr) bool {
	fn, ok := e.(plan.Function)
	if !ok {
		return false
	}
	switch fn.Name {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	default:
		return false
	}
}

func toAggregates(items []plan.ProjectionItem) ([]plan.AggExpr, error) {
	var out []plan.AggExpr
	for _, item := range items {
		fn, ok := item.Expr.(plan.Function)
		if !ok {
			if col, ok := item.Expr.(plan.Column); ok {
				// Bare column in a GROUP BY select list: treated as an
				// implicit group key, not an aggregate.
				out = append(out, plan.AggExpr{Func: "GROUP_KEY", Arg: col, Alias: orAlias(item.Alias, col.Name)})
				continue
			}
			return nil, errors.SqlNotSupportedError("", "SELECT list with GROUP BY must use aggregate functions or grouped columns")
		}
		var arg plan.Expr
		if len(fn.Args) > 0 {
			arg = fn.Args[0]
		}
		out = append(out, plan.AggExpr{Func: fn.Name, Arg: arg, Alias: orAlias(item.Alias, strings.ToLower(fn.Name))})
	}
	return out, nil
}

func orAlias(alias, fallback string) string {
	if alias != "" {
		return alias
	}
	return fallback
}

var reOrderItem = regexp.MustCompile(`(?i)\s+(nulls\s+first|nulls\s+last|asc|desc)$`)

func parseOrderBy(s string) ([]plan.OrderKey, error) {
	var out []plan.OrderKey
	for _, item := range splitTopLevelComma(s) {
		key, err := parseOrderItem(item)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, nil
}

func parseOrderItem(s string) (plan.OrderKey, error) {
	key := plan.OrderKey{}
	text := s
	for {
		m := reOrderItem.FindStringSubmatchIndex(text)
		if m == nil {
			break
		}
		suffix := strings.ToLower(strings.TrimSpace(text[m[2]:m[3]]))
		switch {
		case suffix == "desc":
			key.Desc = true
		case suffix == "asc":
			key.Desc = false
		case suffix == "nulls first":
			key.NullsFirst = true
		case suffix == "nulls last":
			key.NullsFirst = false
		}
		text = text[:m[0]]
	}
	e, err := parseExpr(text)
	if err != nil {
		return plan.OrderKey{}, err
	}
	key.Expr = e
	return key, nil
}

var (
	reLimitOffsetComma = regexp.MustCompile(`(?i)^(\d+)\s*,\s*(\d+)$`)
	reLimitOffsetKw    = regexp.MustCompile(`(?i)^(\d+)\s+offset\s+(\d+)$`)
	reLimitOnly        = regexp.MustCompile(`(?i)^(\d+)$`)
)

func parseLimit(s string) (count int, offset int, err error) {
	s = strings.TrimSpace(s)
	if m := reLimitOffsetComma.FindStringSubmatch(s); m != nil {
		offset, _ = strconv.Atoi(m[1])
		count, _ = strconv.Atoi(m[2])
		return count, offset, nil
	}
	if m := reLimitOffsetKw.FindStringSubmatch(s); m != nil {
		count, _ = strconv.Atoi(m[1])
		offset, _ = strconv.Atoi(m[2])
		return count, offset, nil
	}
	if m := reLimitOnly.FindStringSubmatch(s); m != nil {
		count, _ = strconv.Atoi(m[1])
		return count, 0, nil
	}
	return 0, 0, errors.SqlNotSupportedError(s, "unrecognized LIMIT clause form")
}

var (
	reInsertTable   = regexp.MustCompile(`(?is)^insert\s+into\s+(\S+)\s*(\(([^)]*)\))?\s*values\s*(.+)$`)
	reValuesTuple   = regexp.MustCompile(`\(([^()]*)\)`)
)

func parseInsert(canonical string) (plan.LogicalPlan, error) {
	m := reInsertTable.FindStringSubmatch(canonical)
	if m == nil {
		return nil, errors.SqlNotSupportedError(canonical, "only INSERT ... VALUES is supported")
	}
	table := strings.Trim(m[1], "`")
	var columns []string
	if m[3] != "" {
		for _, c := range splitTopLevelComma(m[3]) {
			columns = append(columns, strings.Trim(c, "`"))
		}
	}

	tupleMatches := reValuesTuple.FindAllStringSubmatch(m[4], -1)
	if tupleMatches == nil {
		return nil, errors.SqlNotSupportedError(canonical, "INSERT requires at least one VALUES tuple")
	}
	rows := make([][]plan.Expr, 0, len(tupleMatches))
	for _, tuple := range tupleMatches {
		exprs, err := parseExprList(tuple[1])
		if err != nil {
			return nil, err
		}
		rows = append(rows, exprs)
	}

	return &plan.Insert{Table: table, Columns: columns, Rows: rows}, nil
}

var reUpdateTable = regexp.MustCompile(`(?is)^update\s+(\S+)\s+set\s+(.+?)(\s+where\s+(.+))?$`)

func parseUpdate(canonical string) (plan.LogicalPlan, error) {
	m := reUpdateTable.FindStringSubmatch(canonical)
	if m == nil {
		return nil, errors.SqlNotSupportedError(canonical, "malformed UPDATE statement")
	}
	table := strings.Trim(m[1], "`")
	assignments := map[string]plan.Expr{}
	for _, part := range splitTopLevelComma(m[2]) {
		col, rhs, ok := strings.Cut(part, "=")
		if !ok {
			return nil, errors.SqlNotSupportedError(canonical, "expected column = value in SET clause")
		}
		e, err := parseExpr(rhs)
		if err != nil {
			return nil, err
		}
		assignments[strings.Trim(strings.TrimSpace(col), "`")] = e
	}
	var filter plan.Expr
	if m[4] != "" {
		f, err := parseExpr(m[4])
		if err != nil {
			return nil, err
		}
		filter = f
	}
	return &plan.Update{Table: table, Assignments: assignments, Filter: filter}, nil
}

var reDeleteTable = regexp.MustCompile(`(?is)^delete\s+from\s+(\S+)(\s+where\s+(.+))?$`)

func parseDelete(canonical string) (plan.LogicalPlan, error) {
	m := reDeleteTable.FindStringSubmatch(canonical)
	if m == nil {
		return nil, errors.SqlNotSupportedError(canonical, "malformed DELETE statement")
	}
	table := strings.Trim(m[1], "`")
	var filter plan.Expr
	if m[3] != "" {
		f, err := parseExpr(m[3])
		if err != nil {
			return nil, err
		}
		filter = f
	}
	return &plan.Delete{Table: table, Filter: filter}, nil
}

var (
	reCreateTable  = regexp.MustCompile(`(?is)^create\s+table\s+(\S+)\s*\((.+)\)[^)]*$`)
	reColumnNull   = regexp.MustCompile(`(?i)\bnot\s+null\b`)
)

func parseCreateTable(canonical string) (plan.LogicalPlan, error) {
	m := reCreateTable.FindStringSubmatch(canonical)
	if m == nil {
		return nil, errors.SqlNotSupportedError(canonical, "malformed CREATE TABLE statement")
	}
	table := strings.Trim(m[1], "`")
	var columns []plan.ColumnDef
	for _, part := range splitTopLevelComma(m[2]) {
		fields := strings.Fields(part)
		if len(fields) < 2 {
			continue
		}
		columns = append(columns, plan.ColumnDef{
			Name:     strings.Trim(fields[0], "`"),
			Type:     strings.ToLower(fields[1]),
			Nullable: !reColumnNull.MatchString(part),
		})
	}
	if len(columns) == 0 {
		return nil, errors.SqlNotSupportedError(canonical, "CREATE TABLE requires at least one column")
	}
	return &plan.CreateTable{Table: table, Columns: columns}, nil
}
