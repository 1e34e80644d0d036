package query

import (
	"testing"
	"time"

	"github.com/nietsneuah/fmquery/internal/cache"
)

func rows() []cache.Record {
	return []cache.Record{
		{"OrderID": "1", "Status": "Open", "Total": 100.0, "ServiceDate": mustDate("2025-01-01")},
		{"OrderID": "2", "Status": "Closed", "Total": 250.0, "ServiceDate": mustDate("2025-02-15")},
		{"OrderID": "3", "Status": "Open", "Total": 50.0, "ServiceDate": mustDate("2025-03-20")},
	}
}

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestEvaluateFilterSingleEquality(t *testing.T) {
	out := EvaluateFilter(rows(), `Status eq 'Open'`, "")
	if len(out) != 2 {
		t.Fatalf("expected 2 open rows, got %d", len(out))
	}
}

func TestEvaluateFilterOrderingComparator(t *testing.T) {
	out := EvaluateFilter(rows(), `Total gt 75`, "")
	if len(out) != 2 {
		t.Fatalf("expected 2 rows with Total > 75, got %d", len(out))
	}
}

func TestEvaluateFilterAndConnective(t *testing.T) {
	out := EvaluateFilter(rows(), `Status eq 'Open' and Total gt 75`, "")
	if len(out) != 1 || out[0]["OrderID"] != "1" {
		t.Fatalf("expected only OrderID 1, got %+v", out)
	}
}

func TestEvaluateFilterOrConnective(t *testing.T) {
	out := EvaluateFilter(rows(), `Status eq 'Closed' or Total lt 60`, "")
	if len(out) != 2 {
		t.Fatalf("expected 2 rows, got %+v", out)
	}
}

func TestEvaluateFilterDateField(t *testing.T) {
	out := EvaluateFilter(rows(), `ServiceDate ge 2025-02-01`, "ServiceDate")
	if len(out) != 2 {
		t.Fatalf("expected 2 rows on/after Feb 1, got %+v", out)
	}
}

func TestEvaluateFilterUnrepresentableClauseSkipped(t *testing.T) {
	out := EvaluateFilter(rows(), `contains(Status,'pen')`, "")
	if len(out) != len(rows()) {
		t.Fatalf("expected unrecognized clause to pass every row through, got %d", len(out))
	}
}

func TestEvaluateFilterEmptyReturnsAll(t *testing.T) {
	out := EvaluateFilter(rows(), "", "")
	if len(out) != 3 {
		t.Fatalf("expected all rows with empty filter, got %d", len(out))
	}
}

func TestExtractDateRangeEquality(t *testing.T) {
	min, max := ExtractDateRange(`ServiceDate eq 2025-03-20`, "ServiceDate")
	if min == nil || max == nil || *min != "2025-03-20" || *max != "2025-03-20" {
		t.Fatalf("min=%v max=%v", min, max)
	}
}

func TestExtractDateRangeBoundedRange(t *testing.T) {
	min, max := ExtractDateRange(`ServiceDate ge 2025-01-01 and ServiceDate le 2025-01-31`, "ServiceDate")
	if min == nil || max == nil || *min != "2025-01-01" || *max != "2025-01-31" {
		t.Fatalf("min=%v max=%v", min, max)
	}
}

func TestExtractDateRangeIgnoresOtherFields(t *testing.T) {
	min, max := ExtractDateRange(`Status eq 'Open'`, "ServiceDate")
	if min != nil || max != nil {
		t.Fatalf("expected no bounds extracted, got min=%v max=%v", min, max)
	}
}
