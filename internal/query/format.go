package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nietsneuah/fmquery/internal/cache"
	"github.com/nietsneuah/fmquery/internal/store"
)

const valueTruncateLen = 500

// FormatRecords renders rows as "--- Record N ---" blocks, one indented
// field per line, skipping OData annotation fields (those prefixed with
// "@") and empty values and truncating long values (spec §4.6/§6 response
// shape). A "Count: N" line leads the output only when totalCount is given.
func FormatRecords(rows []cache.Record, totalCount *int) string {
	var b strings.Builder
	if totalCount != nil {
		fmt.Fprintf(&b, "Count: %d\n\n", *totalCount)
	}
	if len(rows) == 0 {
		b.WriteString("No records found.")
		return b.String()
	}
	for i, row := range rows {
		fmt.Fprintf(&b, "--- Record %d ---\n", i+1)
		names := make([]string, 0, len(row))
		for name := range row {
			if strings.HasPrefix(name, "@") {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v := formatValue(row[name])
			if v == "" {
				continue
			}
			fmt.Fprintf(&b, "  %s: %s\n", name, v)
		}
		if i != len(rows)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func formatValue(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		s = t.Format("2006-01-02")
	case string:
		s = t
	default:
		s = fmt.Sprintf("%v", t)
	}
	if len(s) > valueTruncateLen {
		s = s[:valueTruncateLen] + "... (truncated)"
	}
	return s
}

// BuildContextSection renders the "--- Context ---" enrichment block for a
// table, joining every stored context entry across all context types (spec
// §4.3/§4.6 response enrichment).
func BuildContextSection(s *store.Store, table string) string {
	entries := s.TableContext(table)
	if len(entries) == 0 {
		return ""
	}
	keys := make([]store.ContextKey, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Field != keys[j].Field {
			return keys[i].Field < keys[j].Field
		}
		return keys[i].ContextType < keys[j].ContextType
	})

	var b strings.Builder
	b.WriteString("--- Context ---\n")
	for _, k := range keys {
		label := k.ContextType
		if k.Field != "" {
			label = k.Field + "." + k.ContextType
		}
		fmt.Fprintf(&b, "%s: %s\n", label, entries[k])
	}
	return b.String()
}

// BuildCacheSection renders the "--- Cache ---" enrichment block describing
// a table's cache entry state, using humanized row counts and ages (spec
// §4.5/§4.6 response enrichment).
func BuildCacheSection(e *cache.Entry) string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("--- Cache ---\n")
	fmt.Fprintf(&b, "Rows: %s\n", humanize.Comma(int64(e.RowCount())))
	if !e.LastRefresh.IsZero() {
		fmt.Fprintf(&b, "Last refresh: %s\n", humanize.Time(e.LastRefresh))
	}
	if e.Min != nil && e.Max != nil {
		fmt.Fprintf(&b, "Date range cached: %s to %s\n", e.Min.Format("2006-01-02"), e.Max.Format("2006-01-02"))
	}
	return b.String()
}
