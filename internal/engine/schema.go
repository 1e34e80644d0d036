package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nietsneuah/fmquery/internal/ddl"
	"github.com/nietsneuah/fmquery/internal/store"
)

// GetSchema formats one table's field list, hiding internal-tier fields
// unless showInternal is set. If refresh is set, the table's DDL is
// re-fetched via the DDL script before formatting (spec §6 "Get schema",
// grounded on `schema.py`'s `_format_ddl_schema`).
func (e *Engine) GetSchema(ctx context.Context, table string, refresh, showInternal bool) (string, error) {
	if refresh {
		if err := e.refreshTableSchema(ctx, table); err != nil {
			return "", err
		}
	}

	td := e.Store.Table(table)
	if td == nil {
		return "", fmt.Errorf("unknown table %q. Available: %s", table, strings.Join(e.Query.ListTables(), ", "))
	}

	names := make([]string, 0, len(td.Fields))
	for name := range td.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	internalCount := 0
	for _, name := range names {
		if td.Fields[name].Tier == ddl.TierInternal {
			internalCount++
		}
	}
	hidden := 0
	if !showInternal {
		hidden = internalCount
	}

	var b strings.Builder
	header := fmt.Sprintf("Table: %s (%d fields", table, len(names))
	if hidden > 0 {
		header += fmt.Sprintf(", %d internal hidden", hidden)
	}
	header += ")"
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("-", len(header)) + "\n")

	for _, name := range names {
		fd := td.Fields[name]
		if !showInternal && fd.Tier == ddl.TierInternal {
			continue
		}
		var markers []string
		if fd.PK {
			markers = append(markers, "PK")
		}
		if fd.FK {
			markers = append(markers, "FK")
		}
		if fd.Tier == ddl.TierKey {
			markers = append(markers, "key")
		}
		if fd.Tier == ddl.TierInternal {
			markers = append(markers, "internal")
		}
		markerStr := ""
		if len(markers) > 0 {
			markerStr = " [" + strings.Join(markers, ", ") + "]"
		}
		dateHint := ""
		if fd.Type == ddl.SemanticDate || fd.Type == ddl.SemanticDatetime {
			dateHint = "  (filter as: YYYY-MM-DD, no quotes)"
		}
		fmt.Fprintf(&b, "  %s: %s%s%s\n", name, fd.Type, markerStr, dateHint)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "%d fields total\n", len(names))
	if hidden > 0 {
		fmt.Fprintf(&b, "Tip: pass show_all=true to see all %d fields.\n", len(names))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (e *Engine) refreshTableSchema(ctx context.Context, table string) error {
	client := e.Tenant.ActiveClient()
	if client == nil {
		return fmt.Errorf("no active tenant connection")
	}
	ddlText, err := fetchDDLText(ctx, client, []string{table})
	if err != nil {
		e.Store.SetScriptAvailability(store.ScriptUnavailable)
		return err
	}
	e.Store.SetScriptAvailability(store.ScriptAvailable)

	annotations, _ := fetchAnnotations(ctx, client)
	schemas := ddl.ParseDDL(ddlText, annotations)
	fields, ok := schemas[table]
	if !ok {
		return fmt.Errorf("DDL refresh returned no definition for table %q", table)
	}
	fieldMap := make(map[string]*ddl.FieldDef, len(fields))
	for name, fd := range fields {
		fieldMap[name] = fd
	}
	e.Store.UpdateTables(map[string]*store.TableDescriptor{table: {Name: table, Fields: fieldMap}})
	return nil
}
