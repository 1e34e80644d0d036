package query

import (
	"sort"
	"strings"

	"github.com/nietsneuah/fmquery/internal/cache"
)

type orderKey struct {
	field string
	desc  bool
}

func parseOrderBy(orderby string) []orderKey {
	orderby = strings.TrimSpace(orderby)
	if orderby == "" {
		return nil
	}
	var keys []orderKey
	for _, part := range strings.Split(orderby, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		k := orderKey{field: fields[0]}
		if len(fields) > 1 && strings.EqualFold(fields[1], "desc") {
			k.desc = true
		}
		keys = append(keys, k)
	}
	return keys
}

// OrderBy stably sorts rows by the comma-separated "field [asc|desc]"
// clauses in orderby, applied in left-to-right priority (spec §4.6).
func OrderBy(rows []cache.Record, orderby string) []cache.Record {
	keys := parseOrderBy(orderby)
	if len(keys) == 0 {
		return rows
	}
	out := append([]cache.Record(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range keys {
			c := compareValues(out[i][k.field], out[j][k.field])
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return out
}

func compareValues(a, b any) int {
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
	as, bs := asString(a), asString(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// Select projects rows down to the comma-separated field list. An empty
// select leaves rows unchanged (spec §4.6).
func Select(rows []cache.Record, fields string) []cache.Record {
	fields = strings.TrimSpace(fields)
	if fields == "" {
		return rows
	}
	var names []string
	for _, f := range strings.Split(fields, ",") {
		f = strings.Trim(strings.TrimSpace(f), `"`)
		if f != "" {
			names = append(names, f)
		}
	}
	out := make([]cache.Record, len(rows))
	for i, row := range rows {
		projected := make(cache.Record, len(names))
		for _, name := range names {
			if v, ok := row[name]; ok {
				projected[name] = v
			}
		}
		out[i] = projected
	}
	return out
}

// Paginate applies OData $top/$skip slicing. top < 0 means unbounded.
func Paginate(rows []cache.Record, top, skip int) []cache.Record {
	if skip > 0 {
		if skip >= len(rows) {
			return nil
		}
		rows = rows[skip:]
	}
	if top >= 0 && top < len(rows) {
		rows = rows[:top]
	}
	return rows
}
