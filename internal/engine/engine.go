// Package engine is the single owning value that wires the schema store,
// table cache, analytics manager, tenant controller, and remote client
// together (spec §9 "Global mutable state... best expressed as a single
// engine value"), and runs the bootstrap pipeline that populates the
// schema store at connect time and after every tenant switch.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nietsneuah/fmquery/internal/analytics"
	"github.com/nietsneuah/fmquery/internal/cache"
	"github.com/nietsneuah/fmquery/internal/ddl"
	"github.com/nietsneuah/fmquery/internal/metadata"
	"github.com/nietsneuah/fmquery/internal/odata"
	"github.com/nietsneuah/fmquery/internal/query"
	"github.com/nietsneuah/fmquery/internal/store"
	"github.com/nietsneuah/fmquery/internal/tenant"
)

const ddlScriptName = "SCR_DDL_GetTableDDL"
const contextTable = "TBL_DDL_Context"
const diagnosticRingCap = 1000

// StepOutcome records one bootstrap step's result for diagnostics.
type StepOutcome struct {
	Step    int
	Name    string
	OK      bool
	Message string
}

// BootstrapDiagnostic is one full bootstrap run (spec §3.1).
type BootstrapDiagnostic struct {
	RunID     string
	Tenant    string
	Steps     []StepOutcome
	Timestamp time.Time
}

// Engine owns every process-wide collaborator: schema store, table cache,
// analytics manager, tenant controller, and the query decision tree built
// over them. There is exactly one Engine per process (spec §9).
type Engine struct {
	Store     *store.Store
	Cache     *cache.Cache
	Query     *query.Engine
	Analytics *analytics.Manager
	Tenant    *tenant.Controller
	log       *slog.Logger

	diagMu sync.Mutex
	diag   []BootstrapDiagnostic
}

// New wires an Engine over a schema store opened at dbPath (empty disables
// sqlite persistence) and a retry policy shared by every tenant client.
func New(dbPath string, retry odata.RetryConfig, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	s, err := store.Open(dbPath, log)
	if err != nil {
		return nil, err
	}
	c := cache.New()
	tc := tenant.NewController(s, c, retry)

	return &Engine{
		Store:     s,
		Cache:     c,
		Analytics: analytics.NewManager(s, c),
		Tenant:    tc,
		log:       log,
		diag:      make([]BootstrapDiagnostic, 0, diagnosticRingCap),
	}, nil
}

// Connect activates the given credential provider's default tenant and
// runs bootstrap against it. Call once at startup.
func (e *Engine) Connect(ctx context.Context, provider tenant.CredentialProvider) (string, error) {
	name, err := e.Tenant.Init(provider)
	if err != nil {
		return "", err
	}
	client := e.Tenant.ActiveClient()
	e.Query = query.NewEngine(e.Store, e.Cache, client)
	if client != nil {
		e.bootstrap(ctx, name, client)
	}
	return name, nil
}

// UseTenant switches the active tenant and re-bootstraps against it,
// rebuilding the query engine over the new client (spec §4.8).
func (e *Engine) UseTenant(ctx context.Context, name string) (string, error) {
	return e.Tenant.UseTenant(ctx, name, func(ctx context.Context, client *odata.Client) error {
		e.Query = query.NewEngine(e.Store, e.Cache, client)
		e.bootstrap(ctx, e.Tenant.ActiveName(), client)
		return nil
	})
}

// bootstrap runs the six-step pipeline (spec §4.4), recording a diagnostic
// regardless of outcome. Step 1 failure aborts; every later step is
// best-effort.
func (e *Engine) bootstrap(ctx context.Context, tenantName string, client *odata.Client) {
	run := BootstrapDiagnostic{RunID: uuid.New().String(), Tenant: tenantName, Timestamp: time.Now()}
	record := func(step int, name string, err error) {
		o := StepOutcome{Step: step, Name: name, OK: err == nil}
		if err != nil {
			o.Message = err.Error()
		}
		run.Steps = append(run.Steps, o)
	}

	// Step 1: service document -> exposed table names.
	exposed, err := discoverExposedTables(ctx, client)
	record(1, "discover tables", err)
	if err != nil {
		e.Store.Clear()
		e.recordDiagnostic(run)
		return
	}
	exposedSet := make(map[string]bool, len(exposed))
	for _, name := range exposed {
		exposedSet[name] = true
	}

	// Step 2: DDL script invocation.
	ddlText, scriptErr := fetchDDLText(ctx, client, exposed)
	record(2, "ddl script", scriptErr)
	if scriptErr != nil {
		e.Store.SetScriptAvailability(store.ScriptUnavailable)
		e.finishBootstrapWithoutDDL(ctx, tenantName, client, exposedSet, record, &run)
		return
	}
	e.Store.SetScriptAvailability(store.ScriptAvailable)

	// Step 3: intersect CREATE TABLE names with the exposed set.
	baseTables := ddl.CreateTableNames(ddlText)
	intersected := intersect(baseTables, exposedSet)
	record(3, "intersect base tables", nil)

	// Step 4: metadata XML annotations (best-effort).
	annotations, err := fetchAnnotations(ctx, client)
	record(4, "metadata annotations", err)

	// Step 5: parse DDL into field descriptors, install into the store.
	schemas := ddl.ParseDDL(ddlText, annotations)
	tables := buildTableDescriptors(schemas, intersected)
	e.Store.ReplaceAll(tenantName, tables, nil, intersectedSet(intersected))
	record(5, "parse ddl into store", nil)

	// Step 6: fold the remote context table into the store (best-effort).
	ctxRows, err := fetchContextRows(ctx, client)
	record(6, "load context", err)
	if err == nil {
		for key, value := range ctxRows {
			e.Store.UpsertContext(key, value)
		}
	}

	e.recordDiagnostic(run)
}

// finishBootstrapWithoutDDL handles the degraded path where the DDL
// script is unavailable: the store falls back to the step-1 exposed
// list with no field descriptors beyond what $metadata alone can infer.
func (e *Engine) finishBootstrapWithoutDDL(ctx context.Context, tenantName string, client *odata.Client, exposedSet map[string]bool, record func(int, string, error), run *BootstrapDiagnostic) {
	record(3, "intersect base tables", nil)
	annotations, err := fetchAnnotations(ctx, client)
	record(4, "metadata annotations", err)

	tables := make(map[string]*store.TableDescriptor, len(exposedSet))
	for name := range exposedSet {
		fields := make(map[string]*ddl.FieldDef)
		for fieldName, ann := range annotations[name] {
			fields[fieldName] = &ddl.FieldDef{
				Name:        fieldName,
				Type:        ddl.SemanticUnknown,
				Tier:        ddl.AssignTier(fieldName, ann),
				Description: ann.Comment,
			}
		}
		tables[name] = &store.TableDescriptor{Name: name, Fields: fields}
	}
	e.Store.ReplaceAll(tenantName, tables, nil, exposedSet)
	record(5, "parse ddl into store (degraded)", nil)

	ctxRows, err := fetchContextRows(ctx, client)
	record(6, "load context", err)
	if err == nil {
		for key, value := range ctxRows {
			e.Store.UpsertContext(key, value)
		}
	}
	e.recordDiagnostic(*run)
}

func intersectedSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func buildTableDescriptors(schemas map[string]ddl.TableSchema, exposed []string) map[string]*store.TableDescriptor {
	allowed := intersectedSet(exposed)
	out := make(map[string]*store.TableDescriptor, len(schemas))
	for name, fields := range schemas {
		if !allowed[name] {
			continue
		}
		fieldMap := make(map[string]*ddl.FieldDef, len(fields))
		for fn, fd := range fields {
			fieldMap[fn] = fd
		}
		out[name] = &store.TableDescriptor{Name: name, Fields: fieldMap}
	}
	return out
}

func intersect(baseTables []string, exposed map[string]bool) []string {
	var out []string
	for _, name := range baseTables {
		if exposed[name] {
			out = append(out, name)
		}
	}
	return out
}

func discoverExposedTables(ctx context.Context, client *odata.Client) ([]string, error) {
	resp, err := client.GetJSON(ctx, "", map[string]string{"$format": "JSON"}, []string{"$format"})
	if err != nil {
		return nil, err
	}
	raw, _ := resp["value"].([]any)
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			if name, ok := m["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func fetchDDLText(ctx context.Context, client *odata.Client, tableNames []string) (string, error) {
	resp, err := client.PostJSON(ctx, "Script."+ddlScriptName, map[string]any{
		"scriptParameterValue": encodeScriptParam(tableNames),
	})
	if err != nil {
		return "", err
	}
	return extractScriptResult(resp), nil
}

func encodeScriptParam(names []string) string {
	out := "["
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += `"` + n + `"`
	}
	return out + "]"
}

func extractScriptResult(resp map[string]any) string {
	sr, ok := resp["scriptResult"]
	if !ok {
		if v, ok := resp["value"].(string); ok {
			return v
		}
		return ""
	}
	switch v := sr.(type) {
	case string:
		return v
	case map[string]any:
		if rp, ok := v["resultParameter"].(string); ok {
			return rp
		}
	}
	return ""
}

func fetchAnnotations(ctx context.Context, client *odata.Client) (map[string]map[string]*ddl.Annotations, error) {
	xmlText, err := client.GetMetadataXML(ctx)
	if err != nil {
		return nil, err
	}
	return metadata.ExtractFieldAnnotations(xmlText), nil
}

func fetchContextRows(ctx context.Context, client *odata.Client) (map[store.ContextKey]string, error) {
	resp, err := client.GetJSON(ctx, contextTable, map[string]string{"$orderby": `"TableName","FieldName"`}, []string{"$orderby"})
	if err != nil {
		return nil, err
	}
	raw, _ := resp["value"].([]any)
	out := make(map[store.ContextKey]string, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		table, _ := m["TableName"].(string)
		field, _ := m["FieldName"].(string)
		ctype, _ := m["ContextType"].(string)
		value, _ := m["Context"].(string)
		if ctype == "" {
			continue
		}
		out[store.ContextKey{Table: table, Field: field, ContextType: ctype}] = value
	}
	return out, nil
}

func (e *Engine) recordDiagnostic(run BootstrapDiagnostic) {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	if len(e.diag) >= diagnosticRingCap {
		e.diag = e.diag[1:]
	}
	e.diag = append(e.diag, run)
}

// RecentDiagnostics returns the bootstrap diagnostic ring, oldest first.
func (e *Engine) RecentDiagnostics() []BootstrapDiagnostic {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	out := make([]BootstrapDiagnostic, len(e.diag))
	copy(out, e.diag)
	return out
}

// LastBootstrapError returns step 1's recorded error message from the most
// recent bootstrap run, if step 1 failed — used for the "List tables"
// diagnostic substitution (spec §4.6).
func (e *Engine) LastBootstrapError() (string, bool) {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	if len(e.diag) == 0 {
		return "", false
	}
	last := e.diag[len(e.diag)-1]
	for _, step := range last.Steps {
		if step.Step == 1 && !step.OK {
			return step.Message, true
		}
	}
	return "", false
}
