package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nietsneuah/fmquery/internal/cache"
	"github.com/nietsneuah/fmquery/internal/ddl"
	"github.com/nietsneuah/fmquery/internal/odata"
	"github.com/nietsneuah/fmquery/internal/reportdates"
	"github.com/nietsneuah/fmquery/internal/store"
)

// Engine is the query decision tree (spec §4.6): it routes a table query
// to the in-memory cache or the remote client depending on the table's
// cache policy, and formats the result for the caller.
type Engine struct {
	Store  *store.Store
	Cache  *cache.Cache
	Client *odata.Client
}

// NewEngine wires a query engine over the given schema store, table cache,
// and remote client.
func NewEngine(s *store.Store, c *cache.Cache, client *odata.Client) *Engine {
	return &Engine{Store: s, Cache: c, Client: client}
}

// pageSize is the fetch page size used while auto-paginating a cache-fill
// fetch (spec §4.6 "auto-paginating in page sizes of 10,000").
const pageSize = 10000

// Request is one query operation's parameters (spec §6 query surface).
type Request struct {
	Table   string
	Filter  string
	Select  string
	OrderBy string
	Top     int // -1 means unbounded
	Skip    int
}

// Query resolves one query request end to end: decision tree routing,
// in-memory evaluation for cache hits, remote fetch for cache misses or
// uncached tables, and response formatting (spec §4.6).
func (e *Engine) Query(ctx context.Context, req Request, today time.Time) (string, error) {
	td := e.Store.Table(req.Table)
	if td == nil {
		return "", fmt.Errorf("unknown table %q. Available: %s", req.Table, strings.Join(e.ListTables(), ", "))
	}

	var rows []cache.Record
	var err error

	switch td.CachePolicy.Kind {
	case store.CachePolicyNone:
		rows, err = e.fetchDirect(ctx, req)
	case store.CachePolicyCacheAll:
		rows, err = e.queryCacheAll(ctx, td, req)
	case store.CachePolicyDateRange:
		rows, err = e.queryDateRange(ctx, td, req, today)
	}
	if err != nil {
		return "", err
	}

	rows = OrderBy(rows, req.OrderBy)
	rows = Paginate(rows, req.Top, req.Skip)
	rows = Select(rows, req.Select)

	out := FormatRecords(rows, nil)
	if ctxSection := BuildContextSection(e.Store, req.Table); ctxSection != "" {
		out += "\n\n" + ctxSection
	}
	if cacheSection := BuildCacheSection(e.Cache.Get(req.Table)); cacheSection != "" {
		out += "\n" + cacheSection
	}
	return out, nil
}

// fetchDirect issues the request straight through to the remote client —
// used for tables with no cache policy (spec §4.6 "no policy").
func (e *Engine) fetchDirect(ctx context.Context, req Request) ([]cache.Record, error) {
	params := map[string]string{}
	var order []string
	if req.Filter != "" {
		params["$filter"] = req.Filter
		order = append(order, "$filter")
	}
	if req.Select != "" {
		params["$select"] = req.Select
		order = append(order, "$select")
	}
	if req.OrderBy != "" {
		params["$orderby"] = req.OrderBy
		order = append(order, "$orderby")
	}
	if req.Top >= 0 {
		params["$top"] = strconv.Itoa(req.Top)
		order = append(order, "$top")
	}
	if req.Skip > 0 {
		params["$skip"] = strconv.Itoa(req.Skip)
		order = append(order, "$skip")
	}

	resp, err := e.Client.GetJSON(ctx, req.Table, params, order)
	if err != nil {
		return nil, err
	}
	rows := rowsFromResponse(resp)
	return convertRows(rows, e.Store.Table(req.Table).Fields), nil
}

// queryCacheAll serves from a fully-cached table, fetching the entire
// table once, auto-paginated, if the cache entry is empty (spec §4.6
// "cache_all policy" — "fetch the entire table paginated").
func (e *Engine) queryCacheAll(ctx context.Context, td *store.TableDescriptor, req Request) ([]cache.Record, error) {
	pk := e.Store.PrimaryKey(req.Table)
	entry := e.Cache.GetOrCreate(req.Table, pk, "", cache.DefaultRowCap)

	entry.Lock()
	needsFetch := entry.RowCount() == 0
	entry.Unlock()

	if needsFetch {
		rows, err := e.fetchAllPages(ctx, req.Table, nil, nil, td.Fields)
		if err != nil {
			return nil, err
		}
		entry.Lock()
		entry.Merge(rows, time.Now())
		entry.Unlock()
	}

	entry.Lock()
	rows := append([]cache.Record(nil), entry.Rows...)
	entry.Unlock()

	return EvaluateFilter(rows, req.Filter, ""), nil
}

// fetchAllPages fetches table through baseParams/baseOrder, auto-paginating
// in pageSize chunks via $top/$skip until a short page indicates exhaustion
// (spec §4.6).
func (e *Engine) fetchAllPages(ctx context.Context, table string, baseParams map[string]string, baseOrder []string, fields map[string]*ddl.FieldDef) ([]cache.Record, error) {
	params := map[string]string{"$top": strconv.Itoa(pageSize)}
	for k, v := range baseParams {
		params[k] = v
	}
	order := append([]string{"$top"}, baseOrder...)

	var all []cache.Record
	skip := 0
	for {
		pageParams := make(map[string]string, len(params)+1)
		for k, v := range params {
			pageParams[k] = v
		}
		pageOrder := append([]string(nil), order...)
		if skip > 0 {
			pageParams["$skip"] = strconv.Itoa(skip)
			pageOrder = append(pageOrder, "$skip")
		}

		resp, err := e.Client.GetJSON(ctx, table, pageParams, pageOrder)
		if err != nil {
			return nil, err
		}
		page := convertRows(rowsFromResponse(resp), fields)
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		skip += pageSize
	}
	return all, nil
}

// queryDateRange serves from a date-range-policy table: it computes the
// requested range from the filter, fills any uncached gaps (including the
// today-refresh gap), merges results, then evaluates the full filter
// in-memory (spec §4.6 "date-range policy").
func (e *Engine) queryDateRange(ctx context.Context, td *store.TableDescriptor, req Request, today time.Time) ([]cache.Record, error) {
	dateField := td.CachePolicy.DateField
	pk := e.Store.PrimaryKey(req.Table)
	entry := e.Cache.GetOrCreate(req.Table, pk, dateField, cache.DefaultRowCap)

	minStr, maxStr := ExtractDateRange(req.Filter, dateField)
	requested := cache.DateRange{}
	if minStr != nil {
		t, perr := time.Parse("2006-01-02", *minStr)
		if perr == nil {
			requested.Min = &t
		}
	}
	if maxStr != nil {
		t, perr := time.Parse("2006-01-02", *maxStr)
		if perr == nil {
			requested.Max = &t
		}
	}

	// The entry lock is held across gap computation, fetch, and merge, so
	// concurrent queries on this table do not fetch the same gap twice.
	entry.Lock()
	defer entry.Unlock()
	existing := entry.Bounds()

	// No bound on the date field and nothing cached yet: a gap fill here
	// would resolve to an unbounded full-table fetch the server would time
	// out on, so bypass the cache entirely (spec §4.6).
	if requested.Min == nil && requested.Max == nil && entry.RowCount() == 0 {
		return e.fetchDirect(ctx, req)
	}

	gaps := cache.ComputeGaps(existing, requested)
	if refresh := cache.TodayRefreshGap(existing, requested, today); refresh != nil {
		gaps = cache.DedupeGaps(append(gaps, *refresh))
	}

	for i, gap := range gaps {
		filter := buildGapFilter(dateField, gap)
		rows, err := e.fetchAllPages(ctx, req.Table, map[string]string{"$filter": filter}, []string{"$filter"}, td.Fields)
		if err != nil {
			if i > 0 {
				// Earlier gaps stay merged, but the cached view is incomplete
				// for this request: answer it with a direct remote fetch.
				return e.fetchDirect(ctx, req)
			}
			return nil, err
		}
		entry.Merge(rows, time.Now())
	}

	rows := append([]cache.Record(nil), entry.Rows...)
	return EvaluateFilter(rows, req.Filter, dateField), nil
}

func buildGapFilter(dateField string, gap cache.DateRange) string {
	switch {
	case gap.Min != nil && gap.Max != nil:
		return reportdates.BuildPeriodFilter(dateField, gap.Min.Format("2006-01-02"), gap.Max.Format("2006-01-02"))
	case gap.Min != nil:
		return dateField + " ge " + gap.Min.Format("2006-01-02")
	case gap.Max != nil:
		return dateField + " le " + gap.Max.Format("2006-01-02")
	default:
		return ""
	}
}

// rowsFromResponse extracts the OData "value" array from a decoded JSON
// response body.
func rowsFromResponse(resp map[string]any) []map[string]any {
	raw, ok := resp["value"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// convertRows coerces Date/Datetime field values from JSON strings into
// time.Time so the in-memory filter/cache layers can compare them.
func convertRows(raw []map[string]any, fields map[string]*ddl.FieldDef) []cache.Record {
	out := make([]cache.Record, len(raw))
	for i, m := range raw {
		rec := make(cache.Record, len(m))
		for name, v := range m {
			fd := fields[name]
			if fd != nil && (fd.Type == ddl.SemanticDate || fd.Type == ddl.SemanticDatetime) {
				if s, ok := v.(string); ok {
					if t, err := parseODataTime(s); err == nil {
						rec[name] = t
						continue
					}
				}
			}
			rec[name] = v
		}
		out[i] = rec
	}
	return out
}

func parseODataTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", s)
}

// Count resolves a record count for a table using the spec's $top=1
// &$count=true&$select="<PK>" shape against the remote client, or, for
// cached tables, the in-memory row count after filtering (spec §4.6, §8
// scenario 8).
func (e *Engine) Count(ctx context.Context, table, filter string) (int, error) {
	td := e.Store.Table(table)
	if td == nil {
		return 0, fmt.Errorf("unknown table %q. Available: %s", table, strings.Join(e.ListTables(), ", "))
	}

	if td.CachePolicy.Kind == store.CachePolicyNone {
		pk := e.Store.PrimaryKey(table)
		params := map[string]string{
			"$top":    "1",
			"$count":  "true",
			"$select": `"` + pk + `"`,
		}
		order := []string{"$top", "$count", "$select"}
		if filter != "" {
			params["$filter"] = filter
			order = append(order, "$filter")
		}
		resp, err := e.Client.GetJSON(ctx, table, params, order)
		if err != nil {
			return 0, err
		}
		return extractCount(resp), nil
	}

	req := Request{Table: table, Filter: filter, Top: -1}
	var rows []cache.Record
	var err error
	if td.CachePolicy.Kind == store.CachePolicyCacheAll {
		rows, err = e.queryCacheAll(ctx, td, req)
	} else {
		rows, err = e.queryDateRange(ctx, td, req, time.Now())
	}
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// extractCount reads the response row count, preferring the standard
// "@odata.count" key and falling back to the server's non-standard
// "@count" key (spec §6 server quirk).
func extractCount(resp map[string]any) int {
	if c, ok := resp["@odata.count"].(float64); ok {
		return int(c)
	}
	if c, ok := resp["@count"].(float64); ok {
		return int(c)
	}
	return 0
}

// GetRecord fetches a single record by filtering idField eq id and reading
// the first row, rather than addressing it with key-predicate syntax
// (spec §6 "single-record shaped as a filter").
func (e *Engine) GetRecord(ctx context.Context, table, idField, id string) (string, error) {
	td := e.Store.Table(table)
	if td == nil {
		return "", fmt.Errorf("unknown table %q. Available: %s", table, strings.Join(e.ListTables(), ", "))
	}
	if idField == "" {
		idField = e.Store.PrimaryKey(table)
	}

	filter := fmt.Sprintf(`"%s" eq %s`, idField, formatIDLiteral(id))
	req := Request{Table: table, Filter: filter, Top: 1}

	var rows []cache.Record
	var err error
	switch td.CachePolicy.Kind {
	case store.CachePolicyNone:
		rows, err = e.fetchDirect(ctx, req)
	case store.CachePolicyCacheAll:
		rows, err = e.queryCacheAll(ctx, td, req)
	case store.CachePolicyDateRange:
		rows, err = e.queryDateRange(ctx, td, req, today())
	}
	if err != nil {
		return "", err
	}
	rows = Paginate(rows, 1, 0)
	return FormatRecords(rows, nil), nil
}

func today() time.Time { return time.Now() }

// formatIDLiteral quotes id as an OData string literal unless it is
// already a bare integer, matching how the server expects key values.
func formatIDLiteral(id string) string {
	if _, err := strconv.Atoi(id); err == nil {
		return id
	}
	return "'" + strings.ReplaceAll(id, "'", "''") + "'"
}

// ListTables reports the exposed table names, falling back to every known
// table name if the exposed set is empty (spec §4.4/§6 "list tables"
// diagnostic substitution).
func (e *Engine) ListTables() []string {
	exposed := e.Store.ExposedTables()
	if len(exposed) > 0 {
		return exposed
	}
	names := e.Store.TableNames()
	sort.Strings(names)
	return names
}

// ResolvePeriodFilter resolves a named report period (e.g. "mtd", "wtd")
// against the table's date field into a ready-to-use OData filter clause
// (spec §2.3/§4.6 named-period convenience).
func ResolvePeriodFilter(dateField, period string, today time.Time) (string, error) {
	rd := reportdates.New(today)
	var rng reportdates.Range
	switch strings.ToLower(period) {
	case "daily", "today":
		rng = rd.Daily()
	case "yesterday":
		rng = rd.Yesterday()
	case "wtd":
		rng = rd.WTD()
	case "mtd":
		rng = rd.MTD()
	case "full_month":
		rng = rd.FullMonth()
	case "qtd":
		rng = rd.QTD()
	case "ytd":
		rng = rd.YTD()
	default:
		return "", fmt.Errorf("unknown report period %q", period)
	}
	return reportdates.BuildPeriodFilter(dateField, rng.Start, rng.End), nil
}
