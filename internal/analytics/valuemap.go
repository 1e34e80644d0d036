package analytics

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nietsneuah/fmquery/internal/cache"
	"github.com/nietsneuah/fmquery/internal/store"
)

// normalizeResult holds the per-field replacement counts produced by
// applyValueMaps, used to build the "Normalized:" output trailer.
type normalizeResult struct {
	field        string
	replacements int
}

// applyValueMaps looks up a value_map context entry for each of fields on
// table and, where present and parseable as a JSON object, replaces column
// values in a COPY of rows (spec §4.7 "Value-map normalization"). The
// caller's original slice (and therefore the cache/dataset it came from)
// is never mutated.
func applyValueMaps(s *store.Store, table string, rows []cache.Record, fields []string) ([]cache.Record, []normalizeResult) {
	var results []normalizeResult
	maps := make(map[string]map[string]string, len(fields))
	for _, f := range fields {
		raw, ok := s.ContextValue(table, f, store.ContextValueMap)
		if !ok {
			continue
		}
		var m map[string]string
		if err := json.Unmarshal([]byte(raw), &m); err != nil || len(m) == 0 {
			continue // malformed serialization: silently ignored
		}
		maps[f] = m
	}
	if len(maps) == 0 {
		return rows, nil
	}

	out := make([]cache.Record, len(rows))
	counts := make(map[string]int, len(maps))
	for i, row := range rows {
		copyRow := make(cache.Record, len(row))
		for k, v := range row {
			copyRow[k] = v
		}
		for field, m := range maps {
			if canonical, ok := m[asStr(copyRow[field])]; ok {
				copyRow[field] = canonical
				counts[field]++
			}
		}
		out[i] = copyRow
	}

	for _, f := range fields {
		if n, ok := counts[f]; ok && n > 0 {
			results = append(results, normalizeResult{field: f, replacements: n})
		}
	}
	return out, results
}

func normalizeTrailer(results []normalizeResult) string {
	if len(results) == 0 {
		return ""
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("%s (%d replaced)", r.field, r.replacements)
	}
	return "Normalized: " + strings.Join(parts, ", ")
}
