package query

import (
	"testing"

	"github.com/nietsneuah/fmquery/internal/cache"
)

func TestOrderBySingleKeyAscending(t *testing.T) {
	out := OrderBy(rows(), "Total asc")
	if out[0]["OrderID"] != "3" || out[2]["OrderID"] != "2" {
		t.Fatalf("unexpected order: %+v", out)
	}
}

func TestOrderByDescending(t *testing.T) {
	out := OrderBy(rows(), "Total desc")
	if out[0]["OrderID"] != "2" {
		t.Fatalf("expected highest total first, got %+v", out[0])
	}
}

func TestOrderByMultiKey(t *testing.T) {
	data := []cache.Record{
		{"A": "x", "B": 2.0},
		{"A": "x", "B": 1.0},
		{"A": "y", "B": 0.0},
	}
	out := OrderBy(data, "A asc, B asc")
	if out[0]["B"] != 1.0 || out[1]["B"] != 2.0 || out[2]["A"] != "y" {
		t.Fatalf("unexpected multi-key order: %+v", out)
	}
}

func TestSelectProjectsOnlyListedFields(t *testing.T) {
	out := Select(rows(), `"OrderID", "Status"`)
	for _, row := range out {
		if len(row) != 2 {
			t.Fatalf("expected 2 fields per row, got %+v", row)
		}
		if _, ok := row["Total"]; ok {
			t.Fatalf("expected Total excluded, got %+v", row)
		}
	}
}

func TestSelectEmptyLeavesRowsUnchanged(t *testing.T) {
	out := Select(rows(), "")
	if len(out[0]) != len(rows()[0]) {
		t.Fatalf("expected rows unchanged, got %+v", out)
	}
}

func TestPaginateTopAndSkip(t *testing.T) {
	data := rows()
	out := Paginate(data, 1, 1)
	if len(out) != 1 || out[0]["OrderID"] != data[1]["OrderID"] {
		t.Fatalf("unexpected pagination result: %+v", out)
	}
}

func TestPaginateSkipBeyondLengthReturnsEmpty(t *testing.T) {
	out := Paginate(rows(), 10, 100)
	if len(out) != 0 {
		t.Fatalf("expected empty slice, got %+v", out)
	}
}
