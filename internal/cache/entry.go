package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultRowCap is the default maximum row-set size per cached table
// (spec §3 Cache entry invariant).
const DefaultRowCap = 50000

// Record is one cached row: field name to value.
type Record map[string]any

// Entry is one per-table cache entry (spec §3). Exactly one Entry exists
// per table name that has ever been fetched into the cache.
type Entry struct {
	mu sync.Mutex // held for the duration of gap computation, fetch, and merge

	Table       string
	Rows        []Record
	DateField   string // empty for cache_all
	PKField     string
	Min, Max    *time.Time
	LastRefresh time.Time
	RowCap      int

	order []string          // PK values in first-seen order
	index map[string]int    // PK value -> position in order
}

// NewEntry constructs an empty cache entry for table, with the given
// primary-key and date field names. rowCap <= 0 uses DefaultRowCap.
func NewEntry(table, pkField, dateField string, rowCap int) *Entry {
	if rowCap <= 0 {
		rowCap = DefaultRowCap
	}
	return &Entry{
		Table:     table,
		PKField:   pkField,
		DateField: dateField,
		RowCap:    rowCap,
		order:     nil,
		index:     make(map[string]int),
	}
}

// Lock acquires the entry's per-table lock for the duration of gap
// computation, fetch, and merge (spec §4.5, §5 "per-fingerprint
// concurrency", option (a), preferred).
func (e *Entry) Lock()   { e.mu.Lock() }
func (e *Entry) Unlock() { e.mu.Unlock() }

// Bounds returns the entry's current date bounds as a *DateRange, or nil
// if the entry has no rows yet.
func (e *Entry) Bounds() *DateRange {
	if e.Min == nil && e.Max == nil {
		return nil
	}
	return &DateRange{Min: e.Min, Max: e.Max}
}

func pkString(v any) string {
	return fmt.Sprintf("%v", v)
}

// Merge appends newRows into the cache, deduplicating by primary key
// (keeping the newest occurrence's field values while preserving each
// key's first-seen position), enforcing the row cap, and updating date
// bounds and the refresh timestamp (spec §4.5 "Merge").
func (e *Entry) Merge(newRows []Record, refreshedAt time.Time) {
	if e.index == nil {
		e.index = make(map[string]int)
	}

	rebuilt := make([]Record, 0, len(e.Rows)+len(newRows))
	rebuilt = append(rebuilt, e.Rows...)
	rebuilt = append(rebuilt, newRows...)

	order := make([]string, 0, len(rebuilt))
	data := make(map[string]Record, len(rebuilt))
	for _, row := range rebuilt {
		pk := pkString(row[e.PKField])
		if _, ok := data[pk]; !ok {
			order = append(order, pk)
		}
		data[pk] = row // last write wins: newest occurrence's values
	}

	merged := make([]Record, len(order))
	for i, pk := range order {
		merged[i] = data[pk]
	}

	merged = e.enforceRowCap(merged)

	e.Rows = merged
	e.order = order
	e.index = make(map[string]int, len(order))
	for i, pk := range order {
		e.index[pk] = i
	}

	e.updateBoundsFrom(newRows)
	e.LastRefresh = refreshedAt
}

// enforceRowCap trims merged to RowCap rows: if a date field is
// configured, sort descending by that field and keep the first N
// (newest); otherwise keep the last N by insertion order (spec §4.5 "Row
// cap").
func (e *Entry) enforceRowCap(merged []Record) []Record {
	if e.RowCap <= 0 || len(merged) <= e.RowCap {
		return merged
	}

	if e.DateField == "" {
		return append([]Record(nil), merged[len(merged)-e.RowCap:]...)
	}

	sorted := append([]Record(nil), merged...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, oki := sorted[i][e.DateField].(time.Time)
		tj, okj := sorted[j][e.DateField].(time.Time)
		if !oki || !okj {
			return false
		}
		return ti.After(tj)
	})
	return sorted[:e.RowCap]
}

func (e *Entry) updateBoundsFrom(rows []Record) {
	if e.DateField == "" {
		return
	}
	for _, row := range rows {
		t, ok := row[e.DateField].(time.Time)
		if !ok {
			continue
		}
		t = day(t)
		if e.Min == nil || t.Before(*e.Min) {
			tt := t
			e.Min = &tt
		}
		if e.Max == nil || t.After(*e.Max) {
			tt := t
			e.Max = &tt
		}
	}
}

// RowCount returns the number of cached rows.
func (e *Entry) RowCount() int {
	return len(e.Rows)
}
