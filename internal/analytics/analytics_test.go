package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nietsneuah/fmquery/internal/cache"
	"github.com/nietsneuah/fmquery/internal/ddl"
	"github.com/nietsneuah/fmquery/internal/odata"
	"github.com/nietsneuah/fmquery/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open("", nil)
	if err != nil {
		t.Fatal(err)
	}
	s.ReplaceAll("t1", map[string]*store.TableDescriptor{
		"Invoices": {Name: "Invoices", Fields: map[string]*ddl.FieldDef{
			"InvoiceID":    {Name: "InvoiceID", Type: ddl.SemanticNumber, PK: true},
			"Technician":   {Name: "Technician", Type: ddl.SemanticText},
			"Zone":         {Name: "Zone", Type: ddl.SemanticText},
			"InvoiceTotal": {Name: "InvoiceTotal", Type: ddl.SemanticDecimal},
			"ServiceDate":  {Name: "ServiceDate", Type: ddl.SemanticDate},
		}},
	}, nil, map[string]bool{"Invoices": true})
	return NewManager(s, cache.New()), s
}

func sampleRows() []cache.Record {
	return []cache.Record{
		{"InvoiceID": 1.0, "Technician": "Jake", "Zone": "A", "InvoiceTotal": 100.0, "ServiceDate": mustDate("2025-01-05")},
		{"InvoiceID": 2.0, "Technician": "Jake", "Zone": "A", "InvoiceTotal": 200.0, "ServiceDate": mustDate("2025-01-20")},
		{"InvoiceID": 3.0, "Technician": "Jacob Owens", "Zone": "B", "InvoiceTotal": 150.0, "ServiceDate": mustDate("2025-02-10")},
		{"InvoiceID": 4.0, "Technician": "Mike", "Zone": "B", "InvoiceTotal": 300.0, "ServiceDate": mustDate("2025-02-15")},
	}
}

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func loadSampleDataset(t *testing.T, m *Manager) {
	t.Helper()
	m.mu.Lock()
	m.datasets.Add("inv", &Dataset{
		Name: "inv", Table: "Invoices", Rows: sampleRows(),
		Columns: []string{"InvoiceID", "Technician", "Zone", "InvoiceTotal", "ServiceDate"},
	})
	m.mu.Unlock()
}

func TestLoadDatasetAutoPaginatesAndInstalls(t *testing.T) {
	m, _ := newTestManager(t)
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{"value": []any{
			map[string]any{"InvoiceID": 1.0, "Technician": "Jake"},
		}})
	}))
	defer srv.Close()
	client := odata.NewClientAt(srv.URL, "u", "p", srv.Client(), odata.DefaultRetryConfig())

	summary, err := m.LoadDataset(context.Background(), client, "inv", "Invoices", "", "")
	if err != nil {
		t.Fatalf("LoadDataset error: %v", err)
	}
	if !strings.Contains(summary, "1 rows") {
		t.Errorf("unexpected summary: %q", summary)
	}
	if calls != 1 {
		t.Errorf("expected a single page fetch, got %d", calls)
	}
	if strings.Contains(m.ListDatasets(), "No datasets") {
		t.Errorf("expected dataset listed after load")
	}
}

func TestLoadDatasetUnknownTable(t *testing.T) {
	m, _ := newTestManager(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	client := odata.NewClientAt(srv.URL, "u", "p", srv.Client(), odata.DefaultRetryConfig())
	if _, err := m.LoadDataset(context.Background(), client, "x", "Nope", "", ""); err == nil {
		t.Fatal("expected error for unknown table")
	}
}

func TestAnalyzeDescribeWithNoGroupbyOrAggregate(t *testing.T) {
	m, _ := newTestManager(t)
	loadSampleDataset(t, m)
	out, err := m.Analyze(Request{Dataset: "inv"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Summary statistics") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestAnalyzeScalarAggregate(t *testing.T) {
	m, _ := newTestManager(t)
	loadSampleDataset(t, m)
	out, err := m.Analyze(Request{Dataset: "inv", Aggregate: "sum:InvoiceTotal"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "InvoiceTotal_sum") || !strings.Contains(out, "750") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestAnalyzeValueCounts(t *testing.T) {
	m, _ := newTestManager(t)
	loadSampleDataset(t, m)
	out, err := m.Analyze(Request{Dataset: "inv", Groupby: "Zone"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Group counts") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestAnalyzeGroupedAggregate(t *testing.T) {
	m, _ := newTestManager(t)
	loadSampleDataset(t, m)
	out, err := m.Analyze(Request{Dataset: "inv", Groupby: "Zone", Aggregate: "sum:InvoiceTotal", Sort: "InvoiceTotal_sum desc"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Zone") || !strings.Contains(out, "InvoiceTotal_sum") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestAnalyzeGroupedAggregateWithValueMapNormalization(t *testing.T) {
	m, s := newTestManager(t)
	loadSampleDataset(t, m)
	s.UpsertContext(store.ContextKey{Table: "Invoices", Field: "Technician", ContextType: store.ContextValueMap}, `{"Jake":"Jacob Owens"}`)

	out, err := m.Analyze(Request{Dataset: "inv", Groupby: "Technician", Aggregate: "sum:InvoiceTotal"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Jacob Owens") || !strings.Contains(out, "450") {
		t.Errorf("expected merged Jacob Owens group with sum 450, got %q", out)
	}
	if !strings.Contains(out, "Normalized:") {
		t.Errorf("expected Normalized trailer, got %q", out)
	}
	// original dataset must be unchanged
	ds, ok := m.datasets.Get("inv")
	if !ok {
		t.Fatal("dataset missing")
	}
	for _, row := range ds.Rows {
		if row["InvoiceID"] == 1.0 && row["Technician"] != "Jake" {
			t.Errorf("source dataset mutated: row 1 Technician = %v, want unchanged Jake", row["Technician"])
		}
	}
}

func TestAnalyzeTimeSeries(t *testing.T) {
	m, _ := newTestManager(t)
	loadSampleDataset(t, m)
	out, err := m.Analyze(Request{Dataset: "inv", Groupby: "ServiceDate", Aggregate: "sum:InvoiceTotal", Period: "month"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "2025-01") || !strings.Contains(out, "2025-02") {
		t.Errorf("expected monthly buckets, got %q", out)
	}
}

func TestAnalyzePivot(t *testing.T) {
	m, _ := newTestManager(t)
	loadSampleDataset(t, m)
	out, err := m.Analyze(Request{Dataset: "inv", Groupby: "Technician", Pivot: "Zone", Aggregate: "sum:InvoiceTotal"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Pivot of") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestAnalyzeUnknownDataset(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Analyze(Request{Dataset: "missing"}); err == nil {
		t.Fatal("expected error for unknown dataset")
	}
}

func TestAnalyzeInvalidAggregateFunction(t *testing.T) {
	m, _ := newTestManager(t)
	loadSampleDataset(t, m)
	if _, err := m.Analyze(Request{Dataset: "inv", Aggregate: "bogus:InvoiceTotal"}); err == nil {
		t.Fatal("expected error for unknown function")
	}
}

func TestFlushRemovesTableCacheOnlyNotNamedDatasets(t *testing.T) {
	m, _ := newTestManager(t)
	loadSampleDataset(t, m)
	entry := m.cache.GetOrCreate("Invoices", "InvoiceID", "", 10)
	entry.Merge([]cache.Record{{"InvoiceID": 1.0}}, time.Now())

	m.Flush("Invoices")
	if m.cache.Get("Invoices") != nil {
		t.Error("expected table cache entry flushed")
	}
	if _, ok := m.datasets.Get("inv"); !ok {
		t.Error("expected named dataset to survive flush")
	}
}

func TestResolveFallsBackToTableCache(t *testing.T) {
	m, _ := newTestManager(t)
	entry := m.cache.GetOrCreate("Invoices", "InvoiceID", "", 10)
	entry.Merge([]cache.Record{{"InvoiceID": 1.0, "Zone": "A"}}, time.Now())

	ds, err := m.resolve("Invoices")
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Rows) != 1 {
		t.Errorf("expected 1 row from table cache fallback, got %d", len(ds.Rows))
	}
}
