package parser

import (
	"strings"
)

// selectClauses holds the raw text of each clause split out of a
// canonicalized SELECT statement.
type selectClauses struct {
	selectList string
	from       string
	where      string
	groupBy    string
	orderBy    string
	limit      string
}

var clauseKeywords = []string{"FROM", "WHERE", "GROUP BY", "ORDER BY", "LIMIT"}

// splitSelectClauses scans a canonical "select ... from ... where ..."
// string and splits it into clauses at top-level keyword boundaries
// (outside parens and string literals), in the fixed order spec.md's
// SELECT grammar always presents them.
func splitSelectClauses(sql string) selectClauses {
	lower := strings.ToLower(sql)
	n := len(sql)
	depth := 0
	inString := false

	type hit struct {
		keyword string
		start   int
		end     int
	}
	var hits []hit

	i := 0
	for i < n {
		c := sql[i]
		switch {
		case inString:
			if c == '\'' {
				inString = false
			}
			i++
			continue
		case c == '\'':
			inString = true
			i++
			continue
		case c == '(':
			depth++
			i++
			continue
		case c == ')':
			depth--
			i++
			continue
		}
		if depth == 0 {
			matched := false
			for _, kw := range clauseKeywords {
				lkw := strings.ToLower(kw)
				if strings.HasPrefix(lower[i:], lkw) && isWordBoundary(lower, i, len(lkw)) {
					hits = append(hits, hit{keyword: kw, start: i, end: i + len(lkw)})
					i += len(lkw)
					matched = true
					break
				}
			}
			if matched {
				continue
			}
		}
		i++
	}

	var c selectClauses
	// "select " prefix precedes the first hit (or the whole string minus
	// trailing clauses if there are none).
	selectStart := 6 // len("select")
	firstBoundary := n
	if len(hits) > 0 {
		firstBoundary = hits[0].start
	}
	c.selectList = strings.TrimSpace(sql[selectStart:firstBoundary])

	for idx, h := range hits {
		segEnd := n
		if idx+1 < len(hits) {
			segEnd = hits[idx+1].start
		}
		text := strings.TrimSpace(sql[h.end:segEnd])
		switch h.keyword {
		case "FROM":
			c.from = text
		case "WHERE":
			c.where = text
		case "GROUP BY":
			c.groupBy = text
		case "ORDER BY":
			c.orderBy = text
		case "LIMIT":
			c.limit = text
		}
	}
	return c
}

func isWordBoundary(s string, start, length int) bool {
	if start > 0 && isIdentChar(s[start-1]) {
		return false
	}
	end := start + length
	if end < len(s) && isIdentChar(s[end]) {
		return false
	}
	return true
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// splitTopLevelComma splits s on top-level commas (outside parens and
// string literals), trimming whitespace from each part. An empty input
// yields nil.
func splitTopLevelComma(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var parts []string
	depth := 0
	inString := false
	last := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case inString:
			if c == '\'' {
				inString = false
			}
		case c == '\'':
			inString = true
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(s[last:i]))
			last = i + 1
		}
	}
	parts = append(parts, strings.TrimSpace(s[last:]))
	return parts
}
