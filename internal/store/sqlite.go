package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// sqliteMirror writes a copy of the schema store's collections to sqlite
// as they change. Nothing reads the copy back: Open starts with an empty
// in-memory store, so after a restart the schema comes from a fresh
// bootstrap. Only schema metadata is written; the table cache (rows
// fetched from the OData endpoint) is never mirrored here (spec §4.3,
// SPEC_FULL.md §4.3 "Persistence (ambient addition)").
//
// Adapted from the WAL-mode sqlite bring-up in the engine this project
// grew out of: same pragma string, same "open once, init schema, keep a
// *sql.DB" shape, repointed at table/field/context tables instead of
// chat-session tables.
type sqliteMirror struct {
	db *sql.DB
}

func openSQLiteMirror(dbPath string) (*sqliteMirror, error) {
	if dbPath == "" {
		return &sqliteMirror{}, nil
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open schema mirror: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping schema mirror: %w", err)
	}

	m := &sqliteMirror{db: db}
	if err := m.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema mirror: %w", err)
	}
	return m, nil
}

func (m *sqliteMirror) initSchema() error {
	if m.db == nil {
		return nil
	}
	schema := `
	CREATE TABLE IF NOT EXISTS schema_tables (
		tenant TEXT NOT NULL,
		table_name TEXT NOT NULL,
		cache_policy_kind INTEGER NOT NULL DEFAULT 0,
		cache_policy_field TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant, table_name)
	);

	CREATE TABLE IF NOT EXISTS schema_fields (
		tenant TEXT NOT NULL,
		table_name TEXT NOT NULL,
		field_name TEXT NOT NULL,
		semantic_type TEXT NOT NULL,
		tier TEXT NOT NULL,
		is_pk INTEGER NOT NULL DEFAULT 0,
		is_fk INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant, table_name, field_name)
	);

	CREATE TABLE IF NOT EXISTS schema_context (
		tenant TEXT NOT NULL,
		table_name TEXT NOT NULL,
		field_name TEXT NOT NULL DEFAULT '',
		context_type TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (tenant, table_name, field_name, context_type)
	);

	CREATE TABLE IF NOT EXISTS schema_exposed_tables (
		tenant TEXT NOT NULL,
		table_name TEXT NOT NULL,
		PRIMARY KEY (tenant, table_name)
	);
	`
	_, err := m.db.Exec(schema)
	return err
}

func (m *sqliteMirror) close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// replaceAll wipes and rewrites every mirrored row for one tenant — used
// by bulk replace on bootstrap/tenant switch (spec §4.3 "bulk replace
// (per tenant)").
func (m *sqliteMirror) replaceAll(tenant string, tables map[string]*TableDescriptor, context map[ContextKey]string, exposed map[string]bool) error {
	if m.db == nil {
		return nil
	}
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM schema_tables WHERE tenant = ?",
		"DELETE FROM schema_fields WHERE tenant = ?",
		"DELETE FROM schema_context WHERE tenant = ?",
		"DELETE FROM schema_exposed_tables WHERE tenant = ?",
	} {
		if _, err := tx.Exec(stmt, tenant); err != nil {
			return err
		}
	}

	for name, td := range tables {
		if err := insertTable(tx, tenant, name, td); err != nil {
			return err
		}
	}
	for key, value := range context {
		if _, err := tx.Exec(`INSERT INTO schema_context (tenant, table_name, field_name, context_type, value)
			VALUES (?, ?, ?, ?, ?)`, tenant, key.Table, key.Field, key.ContextType, value); err != nil {
			return err
		}
	}
	for name := range exposed {
		if _, err := tx.Exec(`INSERT INTO schema_exposed_tables (tenant, table_name) VALUES (?, ?)`, tenant, name); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertTable(tx *sql.Tx, tenant, name string, td *TableDescriptor) error {
	if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_tables
		(tenant, table_name, cache_policy_kind, cache_policy_field) VALUES (?, ?, ?, ?)`,
		tenant, name, td.CachePolicy.Kind, td.CachePolicy.DateField); err != nil {
		return err
	}
	for _, f := range td.Fields {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_fields
			(tenant, table_name, field_name, semantic_type, tier, is_pk, is_fk, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			tenant, name, f.Name, string(f.Type), string(f.Tier), boolToInt(f.PK), boolToInt(f.FK), f.Description); err != nil {
			return err
		}
	}
	return nil
}

// upsertContext mirrors a single per-entry context upsert.
func (m *sqliteMirror) upsertContext(tenant string, key ContextKey, value string) error {
	if m.db == nil {
		return nil
	}
	_, err := m.db.Exec(`INSERT INTO schema_context (tenant, table_name, field_name, context_type, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant, table_name, field_name, context_type) DO UPDATE SET value = excluded.value`,
		tenant, key.Table, key.Field, key.ContextType, value)
	return err
}

func (m *sqliteMirror) removeContext(tenant string, key ContextKey) error {
	if m.db == nil {
		return nil
	}
	_, err := m.db.Exec(`DELETE FROM schema_context WHERE tenant = ? AND table_name = ? AND field_name = ? AND context_type = ?`,
		tenant, key.Table, key.Field, key.ContextType)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
