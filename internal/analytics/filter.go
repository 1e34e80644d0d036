package analytics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nietsneuah/fmquery/internal/cache"
)

// pandas-style comparison operators, distinct from the OData shorthand the
// query engine evaluates (spec §4.7 "filter: Pandas query expression").
var (
	andOrRe     = regexp.MustCompile(`(?i)\s+(and|or)\s+`)
	comparisonRe = regexp.MustCompile(`^(.+?)\s*(==|!=|>=|<=|>|<)\s*(.+)$`)
)

func splitAndOr(expr string) (clauses []string, connectives []string) {
	idx := andOrRe.FindAllStringSubmatchIndex(expr, -1)
	if len(idx) == 0 {
		return []string{strings.TrimSpace(expr)}, nil
	}
	prev := 0
	for _, m := range idx {
		clauses = append(clauses, strings.TrimSpace(expr[prev:m[0]]))
		connectives = append(connectives, strings.ToLower(expr[m[2]:m[3]]))
		prev = m[1]
	}
	clauses = append(clauses, strings.TrimSpace(expr[prev:]))
	return clauses, connectives
}

func stripQuote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func evalComparison(row cache.Record, clause string) (bool, error) {
	m := comparisonRe.FindStringSubmatch(clause)
	if m == nil {
		return false, fmt.Errorf("unrecognized filter clause %q", clause)
	}
	field, op, literal := strings.TrimSpace(m[1]), m[2], stripQuote(m[3])
	value := row[field]

	if n, nok := asFloat(value); nok {
		if litNum, err := strconv.ParseFloat(literal, 64); err == nil {
			return compareFloat(op, n, litNum), nil
		}
	}
	if t, ok := value.(time.Time); ok {
		if lt, err := time.Parse("2006-01-02", literal); err == nil {
			return compareFloat(op, float64(t.Unix()), float64(lt.Unix())), nil
		}
	}
	return compareString(op, asStr(value), literal), nil
}

func compareFloat(op string, a, b float64) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case "<=":
		return a <= b
	}
	return false
}

func compareString(op, a, b string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case "<=":
		return a <= b
	}
	return false
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
	}
	return 0, false
}

func asStr(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// EvaluateFilter filters rows by a flat and/or pandas-style query
// expression (spec §4.7 "Apply pandas filter").
func EvaluateFilter(rows []cache.Record, expr string) ([]cache.Record, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return rows, nil
	}
	clauses, connectives := splitAndOr(expr)

	var out []cache.Record
	for _, row := range rows {
		result := true
		for i, clause := range clauses {
			v, err := evalComparison(row, clause)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				result = v
				continue
			}
			if connectives[i-1] == "or" {
				result = result || v
			} else {
				result = result && v
			}
		}
		if result {
			out = append(out, row)
		}
	}
	return out, nil
}
