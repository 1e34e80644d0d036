// Package reportdates computes named report-period date ranges (week to
// date, month to date, quarter over quarter, and similar) from a caller
// supplied anchor date, plus the filter-expression builder that turns a
// resolved range into an OData clause.
//
// All functions here are pure: the caller injects "today" rather than the
// package reading the wall clock, so results stay deterministic and
// testable.
package reportdates

import "time"

// Range is an inclusive ISO-8601 date range.
type Range struct {
	Start string
	End   string
}

// Comparison pairs a current-period range with the range it is compared
// against.
type Comparison struct {
	Current  Range
	Previous Range
}

// ReportDates computes period ranges relative to a fixed anchor date.
type ReportDates struct {
	today time.Time
}

// New returns a ReportDates anchored at the given date (truncated to
// day precision in UTC).
func New(today time.Time) ReportDates {
	y, m, d := today.Date()
	return ReportDates{today: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func iso(t time.Time) string {
	return t.Format("2006-01-02")
}

func monthEnd(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

func quarterStart(t time.Time) time.Time {
	qMonth := ((int(t.Month())-1)/3)*3 + 1
	return time.Date(t.Year(), time.Month(qMonth), 1, 0, 0, 0, 0, time.UTC)
}

func prevMonthStart(t time.Time) time.Time {
	if t.Month() == time.January {
		return time.Date(t.Year()-1, time.December, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month()-1, 1, 0, 0, 0, 0, time.UTC)
}

// clampDay returns the given day, clamped to the last day of (year, month).
func clampDay(year int, month time.Month, day int) time.Time {
	last := monthEnd(year, month).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Daily returns today as a single-day range.
func (r ReportDates) Daily() Range {
	return Range{iso(r.today), iso(r.today)}
}

// Yesterday returns yesterday as a single-day range.
func (r ReportDates) Yesterday() Range {
	y := r.today.AddDate(0, 0, -1)
	return Range{iso(y), iso(y)}
}

// WTD returns the Monday of the current week through today.
func (r ReportDates) WTD() Range {
	weekday := int(r.today.Weekday())
	// Go's Weekday is Sunday=0..Saturday=6; Python's is Monday=0..Sunday=6.
	mondayOffset := (weekday + 6) % 7
	monday := r.today.AddDate(0, 0, -mondayOffset)
	return Range{iso(monday), iso(r.today)}
}

// MTD returns the first of the current month through today.
func (r ReportDates) MTD() Range {
	start := time.Date(r.today.Year(), r.today.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Range{iso(start), iso(r.today)}
}

// FullMonth returns the full current calendar month.
func (r ReportDates) FullMonth() Range {
	start := time.Date(r.today.Year(), r.today.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := monthEnd(r.today.Year(), r.today.Month())
	return Range{iso(start), iso(end)}
}

// QTD returns the first day of the current quarter through today.
func (r ReportDates) QTD() Range {
	start := quarterStart(r.today)
	return Range{iso(start), iso(r.today)}
}

// YTD returns January 1st of the current year through today.
func (r ReportDates) YTD() Range {
	start := time.Date(r.today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	return Range{iso(start), iso(r.today)}
}

// DoD compares today against yesterday.
func (r ReportDates) DoD() Comparison {
	return Comparison{Current: r.Daily(), Previous: r.Yesterday()}
}

// WoW compares this week-to-date against the same weekday offset in the
// previous week.
func (r ReportDates) WoW() Comparison {
	current := r.WTD()
	weekday := int(r.today.Weekday())
	mondayOffset := (weekday + 6) % 7
	monday := r.today.AddDate(0, 0, -mondayOffset)
	prevMonday := monday.AddDate(0, 0, -7)
	prevEnd := prevMonday.AddDate(0, 0, int(r.today.Sub(monday).Hours()/24))
	return Comparison{Current: current, Previous: Range{iso(prevMonday), iso(prevEnd)}}
}

// MoM compares the full current month against the full previous month.
func (r ReportDates) MoM() Comparison {
	current := r.FullMonth()
	prevStart := prevMonthStart(r.today)
	prevEnd := monthEnd(prevStart.Year(), prevStart.Month())
	return Comparison{Current: current, Previous: Range{iso(prevStart), iso(prevEnd)}}
}

// CMTDvsPMTD compares current month-to-date against the same day-of-month
// offset in the previous month.
func (r ReportDates) CMTDvsPMTD() Comparison {
	current := r.MTD()
	prevStart := prevMonthStart(r.today)
	prevEnd := clampDay(prevStart.Year(), prevStart.Month(), r.today.Day())
	return Comparison{Current: current, Previous: Range{iso(prevStart), iso(prevEnd)}}
}

// MTDCYvsPY compares current-year month-to-date against the same month in
// the prior year.
func (r ReportDates) MTDCYvsPY() Comparison {
	current := r.MTD()
	prevStart := time.Date(r.today.Year()-1, r.today.Month(), 1, 0, 0, 0, 0, time.UTC)
	prevEnd := clampDay(prevStart.Year(), r.today.Month(), r.today.Day())
	return Comparison{Current: current, Previous: Range{iso(prevStart), iso(prevEnd)}}
}

// YTDCYvsPY compares current-year to-date against the prior year through
// the same month/day.
func (r ReportDates) YTDCYvsPY() Comparison {
	current := r.YTD()
	prevStart := time.Date(r.today.Year()-1, time.January, 1, 0, 0, 0, 0, time.UTC)
	prevEnd := clampDay(r.today.Year()-1, r.today.Month(), r.today.Day())
	return Comparison{Current: current, Previous: Range{iso(prevStart), iso(prevEnd)}}
}

// QTDCQvsPQ compares the current quarter-to-date against the same offset
// into the previous quarter.
func (r ReportDates) QTDCQvsPQ() Comparison {
	currentQStart := quarterStart(r.today)
	current := r.QTD()
	offsetDays := int(r.today.Sub(currentQStart).Hours() / 24)

	var prevQStart time.Time
	if currentQStart.Month() == time.January {
		prevQStart = time.Date(r.today.Year()-1, time.October, 1, 0, 0, 0, 0, time.UTC)
	} else {
		prevQStart = time.Date(r.today.Year(), currentQStart.Month()-3, 1, 0, 0, 0, 0, time.UTC)
	}
	prevEnd := prevQStart.AddDate(0, 0, offsetDays)
	return Comparison{Current: current, Previous: Range{iso(prevQStart), iso(prevEnd)}}
}

// QTDCQvsPQPY compares the current quarter-to-date against the same
// quarter in the prior year.
func (r ReportDates) QTDCQvsPQPY() Comparison {
	current := r.QTD()
	currentQStart := quarterStart(r.today)
	prevQStart := time.Date(r.today.Year()-1, currentQStart.Month(), 1, 0, 0, 0, 0, time.UTC)
	prevEnd := clampDay(r.today.Year()-1, r.today.Month(), r.today.Day())
	return Comparison{Current: current, Previous: Range{iso(prevQStart), iso(prevEnd)}}
}

// BuildPeriodFilter builds an OData filter clause for a resolved date
// range: "field eq start" when the range is a single day, otherwise
// "field ge start and field le end".
func BuildPeriodFilter(dateField, start, end string) string {
	if start == end {
		return dateField + " eq " + start
	}
	return dateField + " ge " + start + " and " + dateField + " le " + end
}
