// Package cache implements the table cache (spec §4.5): date-range gap
// computation, primary-key-keyed merge, row-cap enforcement, and
// per-table locking for concurrent cache extension.
package cache

import "time"

const dayLayout = "2006-01-02"

// DateRange is an inclusive date range. Either bound may be nil, meaning
// open-ended.
type DateRange struct {
	Min *time.Time
	Max *time.Time
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func parseDay(s string) time.Time {
	t, _ := time.Parse(dayLayout, s)
	return day(t)
}

func formatDay(t time.Time) string {
	return t.Format(dayLayout)
}

// ComputeGaps produces the minimal set of (min, max) day ranges that, once
// fetched and merged, make a cache with existing bounds cover the union
// with the requested range (spec §4.5 "Date-range gap computation").
//
// existing is nil when no cache entry exists yet for the table, in which
// case the requested range is returned unchanged as the single gap to
// fetch.
func ComputeGaps(existing *DateRange, requested DateRange) []DateRange {
	if existing == nil {
		return []DateRange{requested}
	}

	var gaps []DateRange

	// Left gap.
	if requested.Min != nil {
		if existing.Min != nil && requested.Min.Before(*existing.Min) {
			end := existing.Min.AddDate(0, 0, -1)
			gaps = append(gaps, DateRange{Min: requested.Min, Max: &end})
		}
	} else if existing.Min != nil {
		end := existing.Min.AddDate(0, 0, -1)
		gaps = append(gaps, DateRange{Min: nil, Max: &end})
	}

	// Right gap.
	if requested.Max != nil {
		if existing.Max != nil && requested.Max.After(*existing.Max) {
			start := existing.Max.AddDate(0, 0, 1)
			gaps = append(gaps, DateRange{Min: &start, Max: requested.Max})
		}
	} else if existing.Max != nil {
		start := existing.Max.AddDate(0, 0, 1)
		gaps = append(gaps, DateRange{Min: &start, Max: nil})
	}

	return gaps
}

// TodayRefreshGap returns a (today, today) gap when the requested range
// touches the current date and a cache already exists, per the
// today-refresh rule (spec §4.5). Returns nil otherwise.
func TodayRefreshGap(existing *DateRange, requested DateRange, today time.Time) *DateRange {
	if existing == nil {
		return nil
	}
	today = day(today)
	touchesToday := requested.Max == nil || !requested.Max.Before(today)
	if !touchesToday {
		return nil
	}
	return &DateRange{Min: &today, Max: &today}
}

// DedupeGaps removes exact-duplicate ranges, preserving first-seen order.
func DedupeGaps(gaps []DateRange) []DateRange {
	seen := make(map[string]bool)
	var out []DateRange
	for _, g := range gaps {
		key := rangeKey(g)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, g)
	}
	return out
}

func rangeKey(r DateRange) string {
	min, max := "∞", "∞"
	if r.Min != nil {
		min = formatDay(*r.Min)
	}
	if r.Max != nil {
		max = formatDay(*r.Max)
	}
	return min + ".." + max
}
