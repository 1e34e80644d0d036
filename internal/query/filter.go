// Package query implements the query engine (spec §4.6): the decision
// tree that routes a request to the cache or the remote client, the
// in-memory filter/orderby/select evaluators that serve cache hits, and
// result formatting/enrichment.
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nietsneuah/fmquery/internal/cache"
)

// Clause is one flat comparison clause: "<field> <op> <literal>".
type Clause struct {
	Field   string
	Op      string
	Literal string
}

var (
	connectiveRe = regexp.MustCompile(`(?i)\s+(and|or)\s+`)
	clauseRe     = regexp.MustCompile(`(?i)^"?([A-Za-z0-9_ ]+?)"?\s+(eq|ne|gt|ge|lt|le)\s+(.+)$`)
)

// splitFlat splits a filter expression on top-level and/or connectives,
// returning the clause texts and the connective before each clause after
// the first (spec §4.6: "Boolean connectives and/or at the top level; no
// grouping with parentheses required" — matches the open question in
// spec §9 preserving the source's flat-only limitation).
func splitFlat(filter string) (clauses []string, connectives []string) {
	idx := connectiveRe.FindAllStringSubmatchIndex(filter, -1)
	if len(idx) == 0 {
		return []string{strings.TrimSpace(filter)}, nil
	}
	prev := 0
	for _, m := range idx {
		clauses = append(clauses, strings.TrimSpace(filter[prev:m[0]]))
		connectives = append(connectives, strings.ToLower(filter[m[2]:m[3]]))
		prev = m[1]
	}
	clauses = append(clauses, strings.TrimSpace(filter[prev:]))
	return clauses, connectives
}

// parseClause parses a single flat comparison clause. ok is false for
// clause shapes the in-memory evaluator doesn't recognize (e.g. function
// calls); those are skipped rather than failed (spec §4.6 "Unrepresentable
// comparisons are skipped (not failed)").
func parseClause(text string) (Clause, bool) {
	m := clauseRe.FindStringSubmatch(text)
	if m == nil {
		return Clause{}, false
	}
	return Clause{Field: strings.TrimSpace(m[1]), Op: strings.ToLower(m[2]), Literal: strings.TrimSpace(m[3])}, true
}

func stripQuotes(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// evaluateClause reports whether row satisfies clause. dateField names the
// table's configured date column, if any; comparisons against it use date
// parsing rather than string/numeric coercion.
func evaluateClause(row cache.Record, clause Clause, dateField string) bool {
	value, present := row[clause.Field]
	literal := stripQuotes(clause.Literal)

	if dateField != "" && clause.Field == dateField {
		rowTime, ok := value.(time.Time)
		litTime, err := time.Parse("2006-01-02", literal)
		if !ok || err != nil {
			return true // unrepresentable: skip, not fail
		}
		return compareOrdered(clause.Op, rowTime.Unix(), litTime.Unix(), func(a, b int64) int {
			if a < b {
				return -1
			}
			if a > b {
				return 1
			}
			return 0
		})
	}

	switch clause.Op {
	case "eq", "ne":
		if !present {
			return true
		}
		match := asString(value) == literal
		if clause.Op == "ne" {
			return !match
		}
		return match
	case "gt", "ge", "lt", "le":
		if !present {
			return true
		}
		rowNum, rowOK := asFloat(value)
		litNum, litErr := strconv.ParseFloat(literal, 64)
		if !rowOK || litErr != nil {
			return true // unrepresentable: skip
		}
		return compareOrdered(clause.Op, rowNum, litNum, func(a, b float64) int {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			default:
				return 0
			}
		})
	}
	return true
}

func compareOrdered[T any](op string, a, b T, cmp func(T, T) int) bool {
	c := cmp(a, b)
	switch op {
	case "gt":
		return c > 0
	case "ge":
		return c >= 0
	case "lt":
		return c < 0
	case "le":
		return c <= 0
	case "eq":
		return c == 0
	case "ne":
		return c != 0
	}
	return true
}

func asString(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format("2006-01-02")
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

// EvaluateFilter applies filter as an in-memory predicate over rows,
// evaluating flat and/or connectives left to right without operator
// precedence (spec §4.6).
func EvaluateFilter(rows []cache.Record, filter, dateField string) []cache.Record {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return rows
	}
	clauseTexts, connectives := splitFlat(filter)

	var out []cache.Record
	for _, row := range rows {
		result := true
		for i, text := range clauseTexts {
			clause, ok := parseClause(text)
			var clauseResult bool
			if !ok {
				clauseResult = true // unrepresentable clause shape: skip
			} else {
				clauseResult = evaluateClause(row, clause, dateField)
			}
			if i == 0 {
				result = clauseResult
				continue
			}
			conn := connectives[i-1]
			if conn == "or" {
				result = result || clauseResult
			} else {
				result = result && clauseResult
			}
		}
		if result {
			out = append(out, row)
		}
	}
	return out
}

// ExtractDateRange scans filter for bounds on dateField, treating "eq X"
// as both the lower and upper bound of X (spec §4.6, §9: extraction is
// scoped strictly to the table's configured date field so a same-named
// coincidence on another column never triggers range extraction).
func ExtractDateRange(filter, dateField string) (min, max *string) {
	if dateField == "" {
		return nil, nil
	}
	clauseTexts, _ := splitFlat(filter)
	for _, text := range clauseTexts {
		clause, ok := parseClause(text)
		if !ok || clause.Field != dateField {
			continue
		}
		lit := stripQuotes(clause.Literal)
		switch clause.Op {
		case "eq":
			min, max = &lit, &lit
		case "ge", "gt":
			min = &lit
		case "le", "lt":
			max = &lit
		}
	}
	return min, max
}
