package analytics

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/nietsneuah/fmquery/internal/cache"
)

// Request is one analyze invocation's parameters (spec §4.7, §6 "Analyze").
type Request struct {
	Dataset   string
	Groupby   string
	Aggregate string
	Filter    string
	Sort      string
	Limit     int
	Period    string // "", "week", "month", "quarter"
	Pivot     string // pivot column name, or ""
}

const defaultLimit = 50

// Analyze dispatches on the parameter combination per spec §4.7's table:
// describe, scalar aggregate, value-count, grouped aggregate, time-series,
// or pivot.
func (m *Manager) Analyze(req Request) (string, error) {
	ds, err := m.resolve(req.Dataset)
	if err != nil {
		return "", err
	}

	rows := ds.Rows
	if req.Filter != "" {
		rows, err = EvaluateFilter(rows, req.Filter)
		if err != nil {
			return "", fmt.Errorf("filter error: %w", err)
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	groupbyFields := splitFields(req.Groupby)
	for _, f := range groupbyFields {
		if !contains(ds.Columns, f) {
			return "", fmt.Errorf("field %q not in dataset; available: %s", f, strings.Join(ds.Columns, ", "))
		}
	}

	switch {
	case len(groupbyFields) == 0 && req.Aggregate == "":
		return describe(ds.Name, rows, ds.Columns, len(rows)), nil

	case len(groupbyFields) == 0:
		return m.scalarAggregate(ds, rows, req.Aggregate)

	case req.Aggregate == "":
		return valueCounts(ds.Name, rows, groupbyFields, len(rows), limit), nil

	case req.Pivot != "":
		return m.pivot(ds, rows, groupbyFields, req)

	case req.Period != "":
		return m.timeSeries(ds, rows, groupbyFields, req, limit)

	default:
		return m.groupedAggregate(ds, rows, groupbyFields, req, limit)
	}
}

func splitFields(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// describe renders simplified summary statistics per column: count and,
// for numeric columns, mean/min/max; for non-numeric columns, the number
// of distinct values (spec §4.7 "describe: summary statistics across all
// columns").
func describe(name string, rows []cache.Record, columns []string, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summary statistics for %q (%d records):\n\n", name, total)
	tw := tabwriter.NewWriter(&b, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "column\tcount\tmean\tmin\tmax\tdistinct")
	for _, col := range columns {
		values := columnValues(rows, col)
		nonNull := 0
		var nums []any
		for _, v := range values {
			if v != nil {
				nonNull++
				if _, ok := asFloat(v); ok {
					nums = append(nums, v)
				}
			}
		}
		if len(nums) > 0 {
			mean := computeAgg(nums, "mean")
			min := computeAgg(nums, "min")
			max := computeAgg(nums, "max")
			fmt.Fprintf(tw, "%s\t%d\t%.4g\t%.4g\t%.4g\t-\n", col, nonNull, mean, min, max)
		} else {
			distinct := int(computeAgg(values, "nunique"))
			fmt.Fprintf(tw, "%s\t%d\t-\t-\t-\t%d\n", col, nonNull, distinct)
		}
	}
	tw.Flush()
	return b.String()
}

func (m *Manager) scalarAggregate(ds *Dataset, rows []cache.Record, aggregate string) (string, error) {
	specs, err := parseAggregates(aggregate, ds.Columns)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analysis of %q (%d records aggregated):\n\n", ds.Name, len(rows))
	tw := tabwriter.NewWriter(&b, 0, 2, 2, ' ', 0)
	var header, line []string
	for _, spec := range specs {
		header = append(header, spec.columnName())
		v := computeAgg(columnValues(rows, spec.Field), spec.Func)
		line = append(line, formatNumber(v))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	fmt.Fprintln(tw, strings.Join(line, "\t"))
	tw.Flush()
	return b.String(), nil
}

func valueCounts(name string, rows []cache.Record, fields []string, total, limit int) string {
	groups := groupRows(rows, fields)
	sort.SliceStable(groups, func(i, j int) bool { return len(groups[i].rows) > len(groups[j].rows) })

	var b strings.Builder
	fmt.Fprintf(&b, "Group counts for %q (%d records):\n\n", name, total)
	tw := tabwriter.NewWriter(&b, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(append(append([]string(nil), fields...), "count"), "\t"))
	shown := groups
	if limit < len(shown) {
		shown = shown[:limit]
	}
	for _, g := range shown {
		fmt.Fprintln(tw, strings.Join(append(append([]string(nil), g.keys...), fmt.Sprint(len(g.rows))), "\t"))
	}
	tw.Flush()
	fmt.Fprintf(&b, "\n(%d groups)", len(groups))
	return b.String()
}

func (m *Manager) groupedAggregate(ds *Dataset, rows []cache.Record, groupbyFields []string, req Request, limit int) (string, error) {
	specs, err := parseAggregates(req.Aggregate, ds.Columns)
	if err != nil {
		return "", err
	}

	normRows, norm := applyValueMaps(m.store, ds.Table, rows, groupbyFields)
	groups := groupRows(normRows, groupbyFields)

	results := make([]map[string]any, len(groups))
	columns := append(append([]string(nil), groupbyFields...), specColumnNames(specs)...)
	for i, g := range groups {
		r := make(map[string]any, len(columns))
		for j, f := range groupbyFields {
			r[f] = g.keys[j]
		}
		for _, spec := range specs {
			r[spec.columnName()] = computeAgg(columnValues(g.rows, spec.Field), spec.Func)
		}
		results[i] = r
	}
	sortResultRows(results, columns, req.Sort)

	total := len(results)
	if limit < len(results) {
		results = results[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analysis of %q (%d records aggregated):\n\n", ds.Name, len(rows))
	writeTable(&b, columns, results)
	fmt.Fprintf(&b, "\n(%d groups shown, %d total records in dataset)", total, len(rows))
	if trailer := normalizeTrailer(norm); trailer != "" {
		fmt.Fprintf(&b, "\n%s", trailer)
	}
	return b.String(), nil
}

func (m *Manager) timeSeries(ds *Dataset, rows []cache.Record, groupbyFields []string, req Request, limit int) (string, error) {
	specs, err := parseAggregates(req.Aggregate, ds.Columns)
	if err != nil {
		return "", err
	}
	if len(groupbyFields) == 0 {
		return "", fmt.Errorf("time-series analysis requires a date-typed first groupby column")
	}
	dateField := groupbyFields[0]
	secondary := groupbyFields[1:]

	normRows, norm := applyValueMaps(m.store, ds.Table, rows, secondary)

	type bucketed struct {
		period string
		rest   []string
		row    cache.Record
	}
	var bucketRows []bucketed
	for _, row := range normRows {
		period, ok := bucketPeriod(row[dateField], req.Period)
		if !ok {
			continue // unrepresentable: skip this row rather than fail the whole analysis
		}
		rest := make([]string, len(secondary))
		for i, f := range secondary {
			rest[i] = asStr(row[f])
		}
		bucketRows = append(bucketRows, bucketed{period: period, rest: rest, row: row})
	}

	index := make(map[string]int)
	var groups []*group
	for _, br := range bucketRows {
		key := append([]string{br.period}, br.rest...)
		gk := strings.Join(key, "\x1f")
		idx, ok := index[gk]
		if !ok {
			idx = len(groups)
			index[gk] = idx
			groups = append(groups, &group{keys: key})
		}
		groups[idx].rows = append(groups[idx].rows, br.row)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].keys[0] < groups[j].keys[0] })

	columns := append(append([]string{dateField}, secondary...), specColumnNames(specs)...)
	results := make([]map[string]any, len(groups))
	for i, g := range groups {
		r := make(map[string]any, len(columns))
		for j, f := range append([]string{dateField}, secondary...) {
			r[f] = g.keys[j]
		}
		for _, spec := range specs {
			r[spec.columnName()] = computeAgg(columnValues(g.rows, spec.Field), spec.Func)
		}
		results[i] = r
	}
	sortResultRows(results, columns, req.Sort)
	total := len(results)
	if limit < len(results) {
		results = results[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Time-series analysis of %q bucketed by %s (%d records):\n\n", ds.Name, req.Period, len(rows))
	writeTable(&b, columns, results)
	fmt.Fprintf(&b, "\n(%d periods shown, %d total records in dataset)", total, len(rows))
	if trailer := normalizeTrailer(norm); trailer != "" {
		fmt.Fprintf(&b, "\n%s", trailer)
	}
	return b.String(), nil
}

func (m *Manager) pivot(ds *Dataset, rows []cache.Record, groupbyFields []string, req Request) (string, error) {
	if len(groupbyFields) != 1 {
		return "", fmt.Errorf("pivot requires exactly one groupby row-key column")
	}
	specs, err := parseAggregates(req.Aggregate, ds.Columns)
	if err != nil {
		return "", err
	}
	if len(specs) == 0 {
		return "", fmt.Errorf("pivot requires an aggregate function:field pair")
	}
	spec := specs[0]
	rowField := groupbyFields[0]

	normRows, norm := applyValueMaps(m.store, ds.Table, rows, []string{rowField, req.Pivot})

	rowKeys := make(map[string]bool)
	colKeys := make(map[string]bool)
	cells := make(map[string][]any) // "row\x1fcol" -> values
	for _, row := range normRows {
		rk, ck := asStr(row[rowField]), asStr(row[req.Pivot])
		rowKeys[rk] = true
		colKeys[ck] = true
		key := rk + "\x1f" + ck
		cells[key] = append(cells[key], row[spec.Field])
	}

	rowList := sortedKeys(rowKeys)
	colList := sortedKeys(colKeys)

	var b strings.Builder
	fmt.Fprintf(&b, "Pivot of %q: %s rows x %s (%s)\n\n", ds.Name, rowField, req.Pivot, spec.columnName())
	tw := tabwriter.NewWriter(&b, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(append([]string{rowField}, colList...), "\t"))
	for _, rk := range rowList {
		line := []string{rk}
		for _, ck := range colList {
			values := cells[rk+"\x1f"+ck]
			if len(values) == 0 {
				line = append(line, "0")
				continue
			}
			line = append(line, formatNumber(computeAgg(values, spec.Func)))
		}
		fmt.Fprintln(tw, strings.Join(line, "\t"))
	}
	tw.Flush()
	if trailer := normalizeTrailer(norm); trailer != "" {
		fmt.Fprintf(&b, "\n%s", trailer)
	}
	return b.String(), nil
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func specColumnNames(specs []AggSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.columnName()
	}
	return out
}

func writeTable(b *strings.Builder, columns []string, rows []map[string]any) {
	tw := tabwriter.NewWriter(b, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	for _, row := range rows {
		line := make([]string, len(columns))
		for i, col := range columns {
			line[i] = formatCell(row[col])
		}
		fmt.Fprintln(tw, strings.Join(line, "\t"))
	}
	tw.Flush()
}

func formatCell(v any) string {
	if f, ok := v.(float64); ok {
		return formatNumber(f)
	}
	return asStr(v)
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.4g", f)
}
