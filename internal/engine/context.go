package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/nietsneuah/fmquery/internal/store"
)

// SaveContext writes one operational-context entry to the remote context
// table and the local store, deduplicating on (table, field, type) via
// PATCH rather than creating a duplicate row (spec §6 "Save context",
// grounded on `context.py`'s save_context).
func (e *Engine) SaveContext(ctx context.Context, table, fieldName, contextType, value, source string) (string, error) {
	client := e.Tenant.ActiveClient()
	if client == nil {
		return "", fmt.Errorf("no active tenant connection")
	}
	if contextType == "" {
		contextType = store.ContextFieldValues
	}
	if source == "" {
		source = "manual"
	}

	filter := buildContextDedupeFilter(table, fieldName, contextType)
	existing, err := client.GetJSON(ctx, contextTable, map[string]string{"$filter": filter, "$top": "1"}, []string{"$filter", "$top"})
	if err != nil {
		return "", fmt.Errorf("checking existing context: %w", err)
	}

	key := store.ContextKey{Table: table, Field: fieldName, ContextType: contextType}
	rows, _ := existing["value"].([]any)
	if len(rows) > 0 {
		row, _ := rows[0].(map[string]any)
		pk := fmt.Sprintf("%v", row["PrimaryKey"])
		path := fmt.Sprintf("%s('%s')", contextTable, escapeKey(pk))
		if _, err := client.PatchJSON(ctx, path, map[string]any{"Context": value, "Source": source}); err != nil {
			return "", fmt.Errorf("updating context: %w", err)
		}
		e.Store.UpsertContext(key, value)
		return fmt.Sprintf("Updated context for %s.%s: %s", table, fieldOrTable(fieldName), value), nil
	}

	body := map[string]any{
		"TableName":   table,
		"FieldName":   fieldName,
		"ContextType": contextType,
		"Context":     value,
		"Source":      source,
		"CreatedBy":   "fmquery",
	}
	if _, err := client.PostJSON(ctx, contextTable, body); err != nil {
		return "", fmt.Errorf("creating context: %w", err)
	}
	e.Store.UpsertContext(key, value)
	return fmt.Sprintf("Created context for %s.%s: %s", table, fieldOrTable(fieldName), value), nil
}

// DeleteContext removes one operational-context entry from the remote
// context table and the local store, matching by (table, field, type)
// (spec §6 "Delete context", grounded on `context.py`'s delete_context).
func (e *Engine) DeleteContext(ctx context.Context, table, fieldName, contextType string) (string, error) {
	client := e.Tenant.ActiveClient()
	if client == nil {
		return "", fmt.Errorf("no active tenant connection")
	}
	if contextType == "" {
		contextType = store.ContextFieldValues
	}

	filter := buildContextDedupeFilter(table, fieldName, contextType)
	existing, err := client.GetJSON(ctx, contextTable, map[string]string{"$filter": filter, "$top": "1"}, []string{"$filter", "$top"})
	if err != nil {
		return "", fmt.Errorf("finding context to delete: %w", err)
	}
	rows, _ := existing["value"].([]any)
	key := store.ContextKey{Table: table, Field: fieldName, ContextType: contextType}
	if len(rows) == 0 {
		e.Store.RemoveContext(key)
		return fmt.Sprintf("No context found for %s.%s (%s)", table, fieldOrTable(fieldName), contextType), nil
	}
	row, _ := rows[0].(map[string]any)
	pk := fmt.Sprintf("%v", row["PrimaryKey"])
	path := fmt.Sprintf("%s('%s')", contextTable, escapeKey(pk))
	if err := client.Delete(ctx, path); err != nil {
		return "", fmt.Errorf("deleting context: %w", err)
	}
	e.Store.RemoveContext(key)
	return fmt.Sprintf("Deleted context for %s.%s (%s)", table, fieldOrTable(fieldName), contextType), nil
}

func fieldOrTable(field string) string {
	if field == "" {
		return "(table)"
	}
	return field
}

func escapeKey(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// buildContextDedupeFilter matches the server quirk documented in
// context.py: the remote OData server rejects `eq ''` for empty strings,
// so an absent table/field scope is matched with `length(Field) eq 0`.
func buildContextDedupeFilter(table, field, contextType string) string {
	var parts []string
	if table != "" {
		parts = append(parts, fmt.Sprintf(`"TableName" eq '%s'`, escapeKey(table)))
	} else {
		parts = append(parts, `length("TableName") eq 0`)
	}
	if field != "" {
		parts = append(parts, fmt.Sprintf(`"FieldName" eq '%s'`, escapeKey(field)))
	} else {
		parts = append(parts, `length("FieldName") eq 0`)
	}
	parts = append(parts, fmt.Sprintf(`"ContextType" eq '%s'`, escapeKey(contextType)))
	return strings.Join(parts, " and ")
}
