package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nietsneuah/fmquery/internal/analytics"
	"github.com/nietsneuah/fmquery/internal/query"
)

// ListTablesReport renders the "list tables" operation: curated
// descriptions first, then auto-discovered names as a single summary
// line (spec §4.6/§6). A table counts as curated when it carries at
// least one table-scoped context entry (field="") to describe it.
func (e *Engine) ListTablesReport() string {
	if msg, failed := e.LastBootstrapError(); failed {
		return fmt.Sprintf("Table discovery failed during bootstrap: %s", msg)
	}

	names := e.Query.ListTables()
	var curated, discovered []string
	for _, name := range names {
		if desc := e.tableDescription(name); desc != "" {
			curated = append(curated, fmt.Sprintf("  %s: %s", name, desc))
		} else {
			discovered = append(discovered, name)
		}
	}

	var b strings.Builder
	b.WriteString("Available tables:\n")
	if len(curated) > 0 {
		b.WriteString(strings.Join(curated, "\n") + "\n")
	}
	if len(discovered) > 0 {
		fmt.Fprintf(&b, "Also available (auto-discovered, no description yet): %s\n", strings.Join(discovered, ", "))
	}
	if len(curated) == 0 && len(discovered) == 0 {
		b.WriteString("  (none known — has bootstrap run yet?)\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) tableDescription(table string) string {
	entries := e.Store.TableContext(table)
	var parts []string
	for key, value := range entries {
		if key.Field == "" && value != "" {
			parts = append(parts, value)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// QueryRecords runs one query operation, capping top at the spec's 10,000
// ceiling (spec §6).
func (e *Engine) QueryRecords(ctx context.Context, req query.Request) (string, error) {
	if req.Top > 10000 {
		req.Top = 10000
	}
	return e.Query.Query(ctx, req, time.Now())
}

// GetRecord fetches a single record by ID.
func (e *Engine) GetRecord(ctx context.Context, table, idField, id string) (string, error) {
	return e.Query.GetRecord(ctx, table, idField, id)
}

// CountRecords resolves a record count for a table.
func (e *Engine) CountRecords(ctx context.Context, table, filter string) (int, error) {
	return e.Query.Count(ctx, table, filter)
}

// LoadDataset loads a named dataset from the remote client.
func (e *Engine) LoadDataset(ctx context.Context, name, table, filter, selectFields string) (string, error) {
	client := e.Tenant.ActiveClient()
	if client == nil {
		return "", fmt.Errorf("no active tenant connection")
	}
	return e.Analytics.LoadDataset(ctx, client, name, table, filter, selectFields)
}

// Analyze runs the analytics dispatch over a previously loaded dataset.
func (e *Engine) Analyze(req analytics.Request) (string, error) {
	return e.Analytics.Analyze(req)
}

// ListDatasets lists every loaded named dataset.
func (e *Engine) ListDatasets() string {
	return e.Analytics.ListDatasets()
}

// FlushDatasets clears the table cache, either for one table or wholesale
// (named datasets are untouched — spec §4.7 "Flush").
func (e *Engine) FlushDatasets(table string) {
	if table == "" {
		e.Cache.FlushAll()
		return
	}
	e.Analytics.Flush(table)
}

// ListTenants renders every configured tenant.
func (e *Engine) ListTenants() string {
	return e.Tenant.ListTenants()
}
