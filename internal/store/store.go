// Package store holds the schema store (spec §4.3): table descriptors,
// field annotations folded into them, operational context entries, the
// exposed-table name set, and the DDL-script-availability tri-state. It
// is process-wide state, replaced wholesale on tenant switch, and copied
// into an embedded sqlite database. Open does not load that copy back, so
// a new process starts with an empty store.
package store

import (
	"log/slog"
	"sort"
	"sync"
)

// Store is the single owning value for schema-store state (spec §9
// "Global mutable state... best expressed as a single engine value that
// owns its maps"). Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	tenant   string
	tables   map[string]*TableDescriptor
	context  map[ContextKey]string
	exposed  map[string]bool
	script   ScriptAvailability

	mirror *sqliteMirror
	log    *slog.Logger
}

// Open constructs a Store, optionally mirroring to a sqlite database at
// dbPath (empty path disables persistence — in-memory only).
func Open(dbPath string, log *slog.Logger) (*Store, error) {
	mirror, err := openSQLiteMirror(dbPath)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		tables:  make(map[string]*TableDescriptor),
		context: make(map[ContextKey]string),
		exposed: make(map[string]bool),
		script:  ScriptUnknown,
		mirror:  mirror,
		log:     log,
	}, nil
}

// Close releases the sqlite mirror connection, if any.
func (s *Store) Close() error {
	return s.mirror.close()
}

// ReplaceAll wholesale-replaces every collection for the given tenant —
// invoked by bootstrap and tenant switch (spec §4.3, §4.8).
func (s *Store) ReplaceAll(tenant string, tables map[string]*TableDescriptor, context map[ContextKey]string, exposed map[string]bool) {
	if tables == nil {
		tables = make(map[string]*TableDescriptor)
	}
	if context == nil {
		context = make(map[ContextKey]string)
	}
	if exposed == nil {
		exposed = make(map[string]bool)
	}
	s.mu.Lock()
	s.tenant = tenant
	s.tables = tables
	s.context = context
	s.exposed = exposed
	s.mu.Unlock()

	if err := s.mirror.replaceAll(tenant, tables, context, exposed); err != nil {
		s.log.Warn("schema mirror replace failed", "tenant", tenant, "error", err)
	}
}

// UpdateTables merges the given table descriptors into the existing set,
// overwriting any table of the same name — used by a schema refresh that
// re-fetches DDL for one table rather than the whole tenant (spec §6 "Get
// schema" refresh flag).
func (s *Store) UpdateTables(tables map[string]*TableDescriptor) {
	s.mu.Lock()
	for name, td := range tables {
		s.tables[name] = td
	}
	merged := make(map[string]*TableDescriptor, len(s.tables))
	for name, td := range s.tables {
		merged[name] = td
	}
	tenant, context, exposed := s.tenant, s.context, s.exposed
	s.mu.Unlock()

	if err := s.mirror.replaceAll(tenant, merged, context, exposed); err != nil {
		s.log.Warn("schema mirror update failed", "error", err)
	}
}

// Clear empties every collection without changing the active tenant name
// (used mid tenant-switch, spec §4.8 steps 1-2).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[string]*TableDescriptor)
	s.context = make(map[ContextKey]string)
	s.exposed = make(map[string]bool)
	s.script = ScriptUnknown
}

// UpsertContext adds or overwrites one context entry.
func (s *Store) UpsertContext(key ContextKey, value string) {
	s.mu.Lock()
	s.context[key] = value
	tenant := s.tenant
	s.mu.Unlock()

	if err := s.mirror.upsertContext(tenant, key, value); err != nil {
		s.log.Warn("context mirror upsert failed", "key", key, "error", err)
	}
}

// RemoveContext deletes one context entry, if present.
func (s *Store) RemoveContext(key ContextKey) {
	s.mu.Lock()
	delete(s.context, key)
	tenant := s.tenant
	s.mu.Unlock()

	if err := s.mirror.removeContext(tenant, key); err != nil {
		s.log.Warn("context mirror remove failed", "key", key, "error", err)
	}
}

// Table returns the descriptor for name, or nil if unknown. Never raises
// (spec §7 "Schema-store lookups never raise; missing entries return
// sentinel-empty values").
func (s *Store) Table(name string) *TableDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[name]
}

// TableNames returns all known table names, sorted.
func (s *Store) TableNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExposedTables returns the exposed-table name set, sorted.
func (s *Store) ExposedTables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.exposed))
	for name := range s.exposed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsExposed reports whether name is in the exposed-table set.
func (s *Store) IsExposed(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exposed[name]
}

// SetScriptAvailability records the DDL-script tri-state.
func (s *Store) SetScriptAvailability(avail ScriptAvailability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = avail
}

// ScriptAvailability returns the current DDL-script tri-state.
func (s *Store) ScriptAvailability() ScriptAvailability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.script
}

// FieldContext collects the context entries for one (table, field) pair
// across all context types, keyed by context type name.
func (s *Store) FieldContext(table, field string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string)
	for key, value := range s.context {
		if key.Table == table && key.Field == field {
			out[key.ContextType] = value
		}
	}
	return out
}

// TableContext lists all context entries scoped to a table, regardless of
// field.
func (s *Store) TableContext(table string) map[ContextKey]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ContextKey]string)
	for key, value := range s.context {
		if key.Table == table {
			out[key] = value
		}
	}
	return out
}

// ContextValue looks up one specific (table, field, context-type) entry.
func (s *Store) ContextValue(table, field, contextType string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.context[ContextKey{Table: table, Field: field, ContextType: contextType}]
	return v, ok
}

// PrimaryKey resolves a table's primary-key field name: the first field
// descriptor carrying the PK flag, or the literal fallback "PrimaryKey"
// when none is flagged (spec §4.3).
func (s *Store) PrimaryKey(table string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	td := s.tables[table]
	if td == nil {
		return "PrimaryKey"
	}
	names := make([]string, 0, len(td.Fields))
	for name := range td.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if td.Fields[name].PK {
			return name
		}
	}
	return "PrimaryKey"
}

// DateField returns the date field configured by a date-range cache
// policy, or "" if the table has no such policy.
func (s *Store) DateField(table string) string {
	policy := s.CachePolicy(table)
	if policy.Kind == CachePolicyDateRange {
		return policy.DateField
	}
	return ""
}

// CachePolicy resolves a table's cache policy by scanning its
// cache_config context entries (spec §4.3 "Cache-policy resolution").
func (s *Store) CachePolicy(table string) CachePolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.context[ContextKey{Table: table, Field: "", ContextType: ContextCacheConfig}]; ok && v == "cache_all" {
		return CachePolicy{Kind: CachePolicyCacheAll}
	}
	for key, value := range s.context {
		if key.Table == table && key.ContextType == ContextCacheConfig && key.Field != "" && value == "date_key" {
			return CachePolicy{Kind: CachePolicyDateRange, DateField: key.Field}
		}
	}
	return CachePolicy{Kind: CachePolicyNone}
}
