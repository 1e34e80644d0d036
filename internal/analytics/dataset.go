// Package analytics implements the analytics engine (spec §4.7):
// named in-memory datasets loaded from a table query, and groupby /
// aggregate / time-series / pivot analysis over cached frames.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nietsneuah/fmquery/internal/cache"
	"github.com/nietsneuah/fmquery/internal/ddl"
	"github.com/nietsneuah/fmquery/internal/odata"
	"github.com/nietsneuah/fmquery/internal/shaper"
	"github.com/nietsneuah/fmquery/internal/store"
)

// maxDatasets bounds the named-dataset map. The source kept these for the
// life of the process with no eviction (business datasets run 1-5MB each);
// an LRU cap keeps a long-lived server process from growing unbounded
// across many analyst sessions while still serving the common case (a
// handful of named datasets in flight) without evicting anything.
const maxDatasets = 64

// pageSize is the fetch page size used while auto-paginating a dataset
// load (spec §4.7 "Load named dataset" / source's 10000-row pages).
const pageSize = 10000

// Dataset is one named, session-persistent frame (spec §3.1 supplement).
type Dataset struct {
	Name     string
	Table    string
	Filter   string
	Select   string
	LoadedAt time.Time
	Rows     []cache.Record
	Columns  []string
}

// Manager owns the named-dataset map and table-cache analyze fallback.
type Manager struct {
	mu       sync.RWMutex
	datasets *lru.Cache[string, *Dataset]
	store    *store.Store
	cache    *cache.Cache
}

// NewManager constructs an analytics manager over the schema store and
// table cache (used as the analyze fallback when a name isn't a loaded
// dataset).
func NewManager(s *store.Store, c *cache.Cache) *Manager {
	datasets, err := lru.New[string, *Dataset](maxDatasets)
	if err != nil {
		panic(err) // only fails for a non-positive size, which maxDatasets never is
	}
	return &Manager{datasets: datasets, store: s, cache: c}
}

// ListDatasets renders every currently loaded dataset's name, source,
// row count, and columns (spec §4.7 "list datasets").
func (m *Manager) ListDatasets() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := m.datasets.Keys()
	if len(keys) == 0 {
		return "No datasets loaded."
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Loaded datasets:\n\n")
	for _, name := range keys {
		d, ok := m.datasets.Peek(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  %s: %d rows from %s\n", d.Name, len(d.Rows), d.Table)
		filter := d.Filter
		if filter == "" {
			filter = "(none)"
		}
		fmt.Fprintf(&b, "    Filter: %s\n", filter)
		fmt.Fprintf(&b, "    Columns: %s\n", strings.Join(d.Columns, ", "))
		fmt.Fprintf(&b, "    Loaded: %s\n\n", d.LoadedAt.Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}

// LoadDataset fetches table, applying filter/select through shaper
// normalization and field quoting, auto-paginating in pageSize
// chunks, and installs the result under name (spec §4.7 "Load named
// dataset"). Re-loading the same name replaces it.
func (m *Manager) LoadDataset(ctx context.Context, client *odata.Client, name, table, filter, selectFields string) (string, error) {
	td := m.store.Table(table)
	if td == nil {
		return "", fmt.Errorf("unknown table %q", table)
	}
	if !m.store.IsExposed(table) {
		return "", fmt.Errorf("table %q is not exposed", table)
	}

	params := map[string]string{"$top": strconv.Itoa(pageSize)}
	order := []string{"$top"}
	if filter != "" {
		params["$filter"] = shaper.QuoteFieldsInFilter(shaper.NormalizeDatesInFilter(filter))
		order = append(order, "$filter")
	}
	if selectFields != "" {
		params["$select"] = shaper.QuoteFieldsInSelect(selectFields)
		order = append(order, "$select")
	}

	var allRows []map[string]any
	skip := 0
	for {
		pageParams := make(map[string]string, len(params)+1)
		for k, v := range params {
			pageParams[k] = v
		}
		pageOrder := append([]string(nil), order...)
		if skip > 0 {
			pageParams["$skip"] = strconv.Itoa(skip)
			pageOrder = append(pageOrder, "$skip")
		}

		resp, err := client.GetJSON(ctx, table, pageParams, pageOrder)
		if err != nil {
			return "", err
		}
		page := rowsFromResponse(resp)
		allRows = append(allRows, page...)
		if len(page) < pageSize {
			break
		}
		skip += pageSize
	}

	if len(allRows) == 0 {
		return fmt.Sprintf("0 records matched filter for %q. Dataset %q not created.", table, name), nil
	}

	rows := convertRows(allRows, td.Fields)
	columns := columnNames(rows)

	d := &Dataset{
		Name:     name,
		Table:    table,
		Filter:   filter,
		Select:   selectFields,
		LoadedAt: time.Now(),
		Rows:     rows,
		Columns:  columns,
	}

	m.mu.Lock()
	m.datasets.Add(name, d)
	m.mu.Unlock()

	summary := fmt.Sprintf("Dataset %q: %d rows x %d columns\nSource: %s", name, len(rows), len(columns), table)
	if filter != "" {
		summary += fmt.Sprintf(" | Filter: %s", filter)
	}
	summary += "\nColumns: " + strings.Join(columns, ", ")
	return summary, nil
}

// resolve looks up a dataset by name, trying the named-dataset map first
// and falling back to the table cache (spec §4.7 "The dataset lookup
// tries the named-dataset map first, then the table cache").
func (m *Manager) resolve(name string) (*Dataset, error) {
	m.mu.RLock()
	d, ok := m.datasets.Get(name)
	m.mu.RUnlock()
	if ok {
		return d, nil
	}

	if entry := m.cache.Get(name); entry != nil {
		entry.Lock()
		rows := append([]cache.Record(nil), entry.Rows...)
		entry.Unlock()
		return &Dataset{Name: name, Table: name, Rows: rows, Columns: columnNames(rows)}, nil
	}

	m.mu.RLock()
	names := m.datasets.Keys()
	m.mu.RUnlock()
	available := "(none)"
	if len(names) > 0 {
		sort.Strings(names)
		available = strings.Join(names, ", ")
	}
	return nil, fmt.Errorf("dataset %q not found. Loaded datasets: %s. Load a dataset first", name, available)
}

// Flush drops one table-cache entry by name. Named datasets are untouched
// (spec §4.7 "Flush. By name within the table cache only; named datasets
// persist").
func (m *Manager) Flush(table string) {
	m.cache.Flush(table)
}

func rowsFromResponse(resp map[string]any) []map[string]any {
	raw, ok := resp["value"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func convertRows(raw []map[string]any, fields map[string]*ddl.FieldDef) []cache.Record {
	out := make([]cache.Record, len(raw))
	for i, m := range raw {
		rec := make(cache.Record, len(m))
		for name, v := range m {
			fd := fields[name]
			if fd != nil && (fd.Type == ddl.SemanticDate || fd.Type == ddl.SemanticDatetime) {
				if s, ok := v.(string); ok {
					if t, err := parseTime(s); err == nil {
						rec[name] = t
						continue
					}
				}
			}
			rec[name] = v
		}
		out[i] = rec
	}
	return out
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", s)
}

func columnNames(rows []cache.Record) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for name := range row {
			if !seen[name] {
				seen[name] = true
				cols = append(cols, name)
			}
		}
	}
	sort.Strings(cols)
	return cols
}
