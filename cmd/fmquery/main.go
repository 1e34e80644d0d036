// Command fmquery is an operator console over the FileMaker OData query
// mediator: a readline shell exposing the thirteen downstream operations
// for manual querying, cache flushing, and tenant switching outside of
// AI-assistant integration (spec §6 "Ambient external surface").
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/nietsneuah/fmquery/internal/analytics"
	"github.com/nietsneuah/fmquery/internal/engine"
	"github.com/nietsneuah/fmquery/internal/odata"
	"github.com/nietsneuah/fmquery/internal/query"
	"github.com/nietsneuah/fmquery/internal/tenant"
)

const version = "0.1.0"

func main() {
	var (
		tenantFlag = flag.String("tenant", "", "Tenant to connect to at startup (default: provider's default tenant)")
		dbPath     = flag.String("db", "", "sqlite mirror path (empty disables persistence)")
		debug      = flag.Bool("debug", false, "Enable debug-level logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `fmquery v%s - FileMaker OData query mediator

Usage: fmquery [options]

Options:
`, version)
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr, "\nType 'help' at the prompt for the command list.")
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	e, err := engine.New(*dbPath, odata.DefaultRetryConfig(), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	provider := tenant.NewEnvCredentialProvider()
	ctx := context.Background()
	active, err := e.Connect(ctx, provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *tenantFlag != "" && !strings.EqualFold(*tenantFlag, active) {
		if msg, err := e.UseTenant(ctx, *tenantFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		} else {
			fmt.Println(msg)
		}
	}

	shell, err := newShell(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer shell.rl.Close()
	shell.run()
}

// shell is the operator console's readline loop and command dispatch.
type shell struct {
	engine *engine.Engine
	rl     *readline.Instance
}

func newShell(e *engine.Engine) (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mfmquery>\033[0m ",
		HistoryFile:     "/tmp/fmquery_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("readline: %w", err)
	}
	return &shell{engine: e, rl: rl}, nil
}

func (s *shell) run() {
	fmt.Println("fmquery — type 'help' for commands, 'exit' to quit.")
	for {
		line, err := s.rl.Readline()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := s.dispatch(line); err != nil {
			fmt.Printf("\033[31mError: %v\033[0m\n", err)
		}
	}
}

func (s *shell) dispatch(line string) error {
	fields, err := tokenize(line)
	if err != nil {
		return err
	}
	cmd, rest := fields[0], fields[1:]
	kv := parseKV(rest)
	args := positional(rest)

	switch strings.ToLower(cmd) {
	case "exit", "quit":
		os.Exit(0)
	case "help":
		printHelp()
	case "list-tables", "tables":
		fmt.Println(s.engine.ListTablesReport())
	case "schema":
		return s.cmdSchema(args, kv)
	case "query":
		return s.cmdQuery(args, kv)
	case "get":
		return s.cmdGet(args, kv)
	case "count":
		return s.cmdCount(args, kv)
	case "load":
		return s.cmdLoad(args, kv)
	case "analyze":
		return s.cmdAnalyze(args, kv)
	case "datasets":
		fmt.Println(s.engine.ListDatasets())
	case "flush":
		table := ""
		if len(args) > 0 {
			table = args[0]
		}
		s.engine.FlushDatasets(table)
		fmt.Println("Flushed.")
	case "save-context":
		return s.cmdSaveContext(args, kv)
	case "delete-context":
		return s.cmdDeleteContext(args, kv)
	case "tenant":
		if len(args) == 0 {
			return fmt.Errorf("usage: tenant <name>")
		}
		msg, err := s.engine.UseTenant(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(msg)
	case "tenants":
		fmt.Println(s.engine.ListTenants())
	default:
		return fmt.Errorf("unknown command %q; type 'help'", cmd)
	}
	return nil
}

func (s *shell) cmdSchema(args []string, kv map[string]string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: schema <table> [refresh=true] [all=true]")
	}
	refresh := kv["refresh"] == "true"
	showAll := kv["all"] == "true" || kv["show_all"] == "true"
	out, err := s.engine.GetSchema(context.Background(), args[0], refresh, showAll)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func (s *shell) cmdQuery(args []string, kv map[string]string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: query <table> [filter=...] [select=...] [top=N] [skip=N] [orderby=...] [period=...]")
	}
	req := query.Request{Table: args[0], Filter: kv["filter"], Select: kv["select"], OrderBy: kv["orderby"], Top: -1}
	if v, ok := kv["top"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("top: %w", err)
		}
		req.Top = n
	}
	if v, ok := kv["skip"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("skip: %w", err)
		}
		req.Skip = n
	}
	if period, ok := kv["period"]; ok && req.Filter == "" {
		dateField := s.engine.Store.DateField(args[0])
		filter, err := query.ResolvePeriodFilter(dateField, period, time.Now())
		if err != nil {
			return err
		}
		req.Filter = filter
	}
	out, err := s.engine.QueryRecords(context.Background(), req)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func (s *shell) cmdGet(args []string, kv map[string]string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: get <table> <id> [idfield=...]")
	}
	out, err := s.engine.GetRecord(context.Background(), args[0], kv["idfield"], args[1])
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func (s *shell) cmdCount(args []string, kv map[string]string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: count <table> [filter=...]")
	}
	n, err := s.engine.CountRecords(context.Background(), args[0], kv["filter"])
	if err != nil {
		return err
	}
	fmt.Printf("%d\n", n)
	return nil
}

func (s *shell) cmdLoad(args []string, kv map[string]string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: load <name> <table> [filter=...] [select=...]")
	}
	out, err := s.engine.LoadDataset(context.Background(), args[0], args[1], kv["filter"], kv["select"])
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func (s *shell) cmdAnalyze(args []string, kv map[string]string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: analyze <dataset> [groupby=...] [aggregate=...] [filter=...] [sort=...] [limit=N] [period=...] [pivot=...]")
	}
	req := analytics.Request{
		Dataset:   args[0],
		Groupby:   kv["groupby"],
		Aggregate: kv["aggregate"],
		Filter:    kv["filter"],
		Sort:      kv["sort"],
		Period:    kv["period"],
		Pivot:     kv["pivot"],
	}
	if v, ok := kv["limit"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("limit: %w", err)
		}
		req.Limit = n
	}
	out, err := s.engine.Analyze(req)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func (s *shell) cmdSaveContext(args []string, kv map[string]string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: save-context <table> value=\"...\" [field=...] [type=...] [source=...]")
	}
	out, err := s.engine.SaveContext(context.Background(), args[0], kv["field"], kv["type"], kv["value"], kv["source"])
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func (s *shell) cmdDeleteContext(args []string, kv map[string]string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: delete-context <table> [field=...] [type=...]")
	}
	out, err := s.engine.DeleteContext(context.Background(), args[0], kv["field"], kv["type"])
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func printHelp() {
	fmt.Print(`
Commands:
  list-tables                                List exposed tables
  schema <table> [refresh=true] [all=true]   Show a table's fields
  query <table> [filter=] [select=] [top=] [skip=] [orderby=] [period=]
  get <table> <id> [idfield=]                Fetch one record by id
  count <table> [filter=]                    Count matching records
  load <name> <table> [filter=] [select=]    Load a named dataset
  analyze <dataset> [groupby=] [aggregate=] [filter=] [sort=] [limit=] [period=] [pivot=]
  datasets                                   List loaded datasets
  flush [table]                               Flush the table cache (all tables if omitted)
  save-context <table> value="..." [field=] [type=] [source=]
  delete-context <table> [field=] [type=]
  tenant <name>                               Switch active tenant
  tenants                                     List configured tenants
  help                                        Show this help
  exit                                        Quit
`)
}

// tokenize splits a command line on whitespace, treating a double-quoted
// span as one token (so filter="Status eq 'Open'" survives as a single
// key=value pair).
func tokenize(line string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quote")
	}
	flush()
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return tokens, nil
}

// parseKV extracts key=value pairs from a command's tokens.
func parseKV(tokens []string) map[string]string {
	kv := make(map[string]string, len(tokens))
	for _, a := range tokens {
		if i := strings.IndexByte(a, '='); i > 0 {
			kv[a[:i]] = a[i+1:]
		}
	}
	return kv
}

// positional returns the tokens that are not key=value pairs, in order —
// a command's bare arguments (table name, id, dataset name, and so on).
func positional(tokens []string) []string {
	var out []string
	for _, a := range tokens {
		if !strings.Contains(a, "=") {
			out = append(out, a)
		}
	}
	return out
}
