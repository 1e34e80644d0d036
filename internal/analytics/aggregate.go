package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nietsneuah/fmquery/internal/cache"
)

// supportedAggFuncs is the closed vocabulary of aggregate functions (spec
// §4.7 "Supported functions: sum, count, mean, min, max, median, nunique,
// std").
var supportedAggFuncs = map[string]bool{
	"sum": true, "count": true, "mean": true, "min": true,
	"max": true, "median": true, "nunique": true, "std": true,
}

// AggSpec is one parsed "func:field" aggregate pair.
type AggSpec struct {
	Func  string
	Field string
}

func (a AggSpec) columnName() string { return a.Field + "_" + a.Func }

// parseAggregates parses the comma-separated "func:field" aggregate spec,
// validating each function and field name (spec §4.7 "_parse_aggregates").
func parseAggregates(spec string, columns []string) ([]AggSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}

	var specs []AggSpec
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid aggregate format %q; expected 'function:field' (e.g. 'sum:InvoiceTotal')", pair)
		}
		fn := strings.ToLower(strings.TrimSpace(pair[:idx]))
		field := strings.TrimSpace(pair[idx+1:])
		if !supportedAggFuncs[fn] {
			return nil, fmt.Errorf("unknown function %q; supported: count, max, mean, median, min, nunique, std, sum", fn)
		}
		if !known[field] {
			return nil, fmt.Errorf("field %q not in dataset; available: %s", field, strings.Join(columns, ", "))
		}
		specs = append(specs, AggSpec{Func: fn, Field: field})
	}
	return specs, nil
}

// computeAgg reduces values (row-order, possibly containing nils) with fn.
func computeAgg(values []any, fn string) float64 {
	switch fn {
	case "count":
		n := 0
		for _, v := range values {
			if v != nil {
				n++
			}
		}
		return float64(n)
	case "nunique":
		seen := make(map[string]bool)
		for _, v := range values {
			if v != nil {
				seen[asStr(v)] = true
			}
		}
		return float64(len(seen))
	}

	var nums []float64
	for _, v := range values {
		if n, ok := asFloat(v); ok {
			nums = append(nums, n)
		}
	}
	if len(nums) == 0 {
		return 0
	}
	switch fn {
	case "sum":
		var s float64
		for _, n := range nums {
			s += n
		}
		return s
	case "mean":
		var s float64
		for _, n := range nums {
			s += n
		}
		return s / float64(len(nums))
	case "min":
		m := nums[0]
		for _, n := range nums[1:] {
			if n < m {
				m = n
			}
		}
		return m
	case "max":
		m := nums[0]
		for _, n := range nums[1:] {
			if n > m {
				m = n
			}
		}
		return m
	case "median":
		sorted := append([]float64(nil), nums...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]
	case "std":
		var mean float64
		for _, n := range nums {
			mean += n
		}
		mean /= float64(len(nums))
		var sumSq float64
		for _, n := range nums {
			sumSq += (n - mean) * (n - mean)
		}
		if len(nums) < 2 {
			return 0
		}
		return math.Sqrt(sumSq / float64(len(nums)-1))
	}
	return 0
}

// group is one groupby bucket: its key-field values and the rows in it.
type group struct {
	keys []string
	rows []cache.Record
}

// groupRows buckets rows by the string representation of each field in
// fields, preserving first-seen group order.
func groupRows(rows []cache.Record, fields []string) []*group {
	index := make(map[string]int)
	var groups []*group
	for _, row := range rows {
		keys := make([]string, len(fields))
		for i, f := range fields {
			keys[i] = asStr(row[f])
		}
		gk := strings.Join(keys, "\x1f")
		idx, ok := index[gk]
		if !ok {
			idx = len(groups)
			index[gk] = idx
			groups = append(groups, &group{keys: keys})
		}
		groups[idx].rows = append(groups[idx].rows, row)
	}
	return groups
}

func columnValues(rows []cache.Record, field string) []any {
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row[field]
	}
	return out
}

// sortResultRows sorts result rows (maps from column name to formatted
// string/number) by the named column, honoring a trailing " desc" (spec
// §4.7 "Sort and limit").
func sortResultRows(rows []map[string]any, columns []string, sortSpec string) {
	sortSpec = strings.TrimSpace(sortSpec)
	if sortSpec == "" {
		return
	}
	parts := strings.Fields(sortSpec)
	col := parts[0]
	desc := len(parts) > 1 && strings.EqualFold(parts[1], "desc")
	found := false
	for _, c := range columns {
		if c == col {
			found = true
			break
		}
	}
	if !found {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		c := compareAny(rows[i][col], rows[j][col])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareAny(a, b any) int {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := asStr(a), asStr(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}
