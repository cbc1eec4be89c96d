package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alexmclaughlin2005/caselaw/internal/chunk"
	"github.com/alexmclaughlin2005/caselaw/internal/config"
	"github.com/alexmclaughlin2005/caselaw/internal/importer"
	"github.com/alexmclaughlin2005/caselaw/internal/ledger"
	"github.com/alexmclaughlin2005/caselaw/internal/metrics"
	"github.com/alexmclaughlin2005/caselaw/internal/metrics/prompush"
	"github.com/alexmclaughlin2005/caselaw/internal/sink"
	"github.com/alexmclaughlin2005/caselaw/internal/tasks"

	// register all backends with the ledger factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "github.com/alexmclaughlin2005/caselaw/internal/ledger/all"
)

const usage = `usage: caselaw-import <command> [flags]

commands:
  chunk      split a source CSV into chunk files and ledger rows
  import     import chunks for one or more tables, resumable
  parallel   import an un-split source with concurrent workers (no ledger)
  progress   print a job's ledger summary as JSON
  reset      return a job's chunks to pending
  delete     remove a job's ledger rows and chunk files

run "caselaw-import <command> -h" for command flags.
`

// main dispatches to one subcommand. Each command loads the shared JSON
// config, opens what it needs, and prints a JSON result on stdout; logs go
// to stderr.
func main() {
	log.SetOutput(os.Stderr)
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "chunk":
		err = cmdChunk(os.Args[2:])
	case "import":
		err = cmdImport(os.Args[2:])
	case "parallel":
		err = cmdParallel(os.Args[2:])
	case "progress":
		err = cmdProgress(os.Args[2:])
	case "reset":
		err = cmdReset(os.Args[2:])
	case "delete":
		err = cmdDelete(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stderr, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

// loadConfig reads, defaults, and validates the shared config file.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		return config.Config{}, fmt.Errorf("configuration is invalid: %s", path)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.Config) (ledger.Store, error) {
	return ledger.New(ctx, ledger.Config{Kind: cfg.Ledger.Kind, DSN: cfg.Ledger.DSN})
}

// setupMetrics installs the selected metrics backend and returns a flush
// func for the end of the run. Decision order: flag, then environment.
func setupMetrics(backendName, gatewayURL, jobName string) func() {
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "pushgateway":
		if gatewayURL == "" {
			gatewayURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gatewayURL == "" {
			gatewayURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(jobName, gatewayURL)
		if err != nil {
			log.Printf("metrics: failed to init pushgateway backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", gatewayURL, backendName, jobName)
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Printf("metrics: flush error: %v", err)
			}
		}
	case "", "none":
		return func() {}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
		return func() {}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdChunk(args []string) error {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	cfgPath := fs.String("config", "configs/import.json", "config JSON path")
	source := fs.String("source", "", "source CSV path (default: <data_dir>/<table>-<date>.csv)")
	table := fs.String("table", "", "target table name")
	date := fs.String("date", "", "dataset date, YYYY-MM-DD")
	chunkSize := fs.Int("chunk-size", 0, "data rows per chunk (default from config)")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *table == "" || *date == "" {
		return fmt.Errorf("chunk: -table and -date are required")
	}
	src := *source
	if src == "" {
		src = fmt.Sprintf("%s/%s-%s.csv", cfg.DataDir, *table, *date)
	}
	size := *chunkSize
	if size == 0 {
		size = cfg.Import.ChunkSizeRows
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	s := &chunk.Splitter{Store: store, ChunksDir: cfg.ChunksDir}
	chunks, err := s.Split(ctx, chunk.SplitRequest{
		SourcePath:    src,
		Table:         *table,
		DatasetDate:   *date,
		ChunkSizeRows: size,
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"table_name":   *table,
		"dataset_date": *date,
		"chunks":       len(chunks),
		"total_rows":   chunks[len(chunks)-1].EndRow,
	})
}

func cmdImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	cfgPath := fs.String("config", "configs/import.json", "config JSON path")
	table := fs.String("table", "", "target table name, or a comma-separated list")
	date := fs.String("date", "", "dataset date, YYYY-MM-DD")
	method := fs.String("method", "", "insert method: batched or copy (default from config)")
	resume := fs.Bool("resume", true, "skip chunks already completed")
	retries := fs.Int("max-retries", 0, "attempts per chunk (default from config)")
	batchSize := fs.Int("batch-size", 0, "rows per insert batch (default from config)")
	onConflict := fs.String("on-conflict", "", "conflict policy: skip or update (default from config)")
	metricsBackend := fs.String("metrics-backend", "none", "metrics backend (pushgateway, none)")
	gatewayURL := fs.String("pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	tables := splitTables(*table)
	if len(tables) == 0 || *date == "" {
		return fmt.Errorf("import: -table and -date are required")
	}

	flush := setupMetrics(*metricsBackend, *gatewayURL, "caselaw-import-"+*date)
	defer flush()

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	conn, closeConn, err := sink.NewPool(ctx, cfg.TargetDB.DSN)
	if err != nil {
		return fmt.Errorf("connect target database: %w", err)
	}
	defer closeConn()

	// SIGINT/SIGTERM stop the run between chunks, leaving the in-flight
	// chunk to land in a terminal status.
	stop := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		log.Printf("received %v, stopping after the current chunk", s)
		close(stop)
	}()

	im := &importer.Importer{
		Store:         store,
		Conn:          conn,
		ChunksDir:     cfg.ChunksDir,
		ExistsTimeout: time.Duration(cfg.Import.ExistsTimeoutSeconds) * time.Second,
	}
	newRequest := func(table string) importer.Request {
		return importer.Request{
			Table:       table,
			DatasetDate: *date,
			Method:      pick(*method, cfg.Import.Method),
			Resume:      *resume,
			MaxRetries:  pickInt(*retries, cfg.Import.MaxRetries),
			BatchSize:   pickInt(*batchSize, cfg.Import.BatchSize),
			OnConflict:  sink.ConflictPolicy(pick(*onConflict, cfg.Import.OnConflict)),
			Parser:      cfg.Parser.Options,
			Stop:        stop,
		}
	}

	if len(tables) == 1 {
		res, err := im.ImportChunked(ctx, newRequest(tables[0]))
		if err != nil {
			return err
		}
		if perr := printJSON(res); perr != nil {
			return perr
		}
		if res.Status == "failed" {
			os.Exit(1)
		}
		return nil
	}

	// Multiple tables run as named tasks on a bounded pool so one command
	// can drive a whole dataset import.
	runner := tasks.NewRunner(cfg.Import.Workers)
	defer runner.Shutdown()

	var mu sync.Mutex
	results := make([]importer.Result, 0, len(tables))
	submitted := make([]*tasks.Task, 0, len(tables))
	for _, tbl := range tables {
		tbl := tbl
		task, err := runner.Submit(tbl, func(ctx context.Context) error {
			res, err := im.ImportChunked(ctx, newRequest(tbl))
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
		if err != nil {
			return err
		}
		submitted = append(submitted, task)
	}

	for _, task := range submitted {
		<-task.Done()
		if err := task.Err(); err != nil {
			log.Printf("import: table %s: %v", task.Name, err)
		}
	}

	if err := printJSON(results); err != nil {
		return err
	}
	exit := 0
	for _, task := range submitted {
		if task.Err() != nil {
			exit = 1
		}
	}
	for _, res := range results {
		if res.Status == "failed" {
			exit = 1
		}
	}
	if exit != 0 {
		os.Exit(exit)
	}
	return nil
}

// splitTables parses a comma-separated table list, dropping empty entries.
func splitTables(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func cmdParallel(args []string) error {
	fs := flag.NewFlagSet("parallel", flag.ExitOnError)
	cfgPath := fs.String("config", "configs/import.json", "config JSON path")
	table := fs.String("table", "", "target table name")
	source := fs.String("source", "", "source CSV path")
	workers := fs.Int("workers", 0, "concurrent workers (default from config)")
	method := fs.String("method", "", "insert method: batched or copy (default from config)")
	batchSize := fs.Int("batch-size", 0, "rows per insert batch (default from config)")
	onConflict := fs.String("on-conflict", "", "conflict policy: skip or update (default from config)")
	metricsBackend := fs.String("metrics-backend", "none", "metrics backend (pushgateway, none)")
	gatewayURL := fs.String("pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *table == "" || *source == "" {
		return fmt.Errorf("parallel: -table and -source are required")
	}

	flush := setupMetrics(*metricsBackend, *gatewayURL, *table)
	defer flush()

	ctx := context.Background()
	conn, closeConn, err := sink.NewPool(ctx, cfg.TargetDB.DSN)
	if err != nil {
		return fmt.Errorf("connect target database: %w", err)
	}
	defer closeConn()

	im := &importer.Importer{Conn: conn, ChunksDir: cfg.ChunksDir}
	res, err := im.ImportRanges(ctx, importer.RangeRequest{
		Table:      *table,
		SourcePath: *source,
		Workers:    pickInt(*workers, cfg.Import.Workers),
		Method:     pick(*method, cfg.Import.Method),
		BatchSize:  pickInt(*batchSize, cfg.Import.BatchSize),
		OnConflict: sink.ConflictPolicy(pick(*onConflict, cfg.Import.OnConflict)),
		Parser:     cfg.Parser.Options,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func cmdProgress(args []string) error {
	fs := flag.NewFlagSet("progress", flag.ExitOnError)
	cfgPath := fs.String("config", "configs/import.json", "config JSON path")
	table := fs.String("table", "", "target table name")
	date := fs.String("date", "", "dataset date, YYYY-MM-DD")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *table == "" || *date == "" {
		return fmt.Errorf("progress: -table and -date are required")
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sum, err := store.Summarize(ctx, *table, *date)
	if err != nil {
		return err
	}
	return printJSON(sum)
}

func cmdReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	cfgPath := fs.String("config", "configs/import.json", "config JSON path")
	table := fs.String("table", "", "target table name")
	date := fs.String("date", "", "dataset date, YYYY-MM-DD")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *table == "" || *date == "" {
		return fmt.Errorf("reset: -table and -date are required")
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	im := &importer.Importer{Store: store, ChunksDir: cfg.ChunksDir}
	n, err := im.ResetChunks(ctx, *table, *date)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"reset_chunks": n})
}

func cmdDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	cfgPath := fs.String("config", "configs/import.json", "config JSON path")
	table := fs.String("table", "", "target table name")
	date := fs.String("date", "", "dataset date, YYYY-MM-DD")
	keepFiles := fs.Bool("keep-files", false, "delete ledger rows only, leave chunk files on disk")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *table == "" || *date == "" {
		return fmt.Errorf("delete: -table and -date are required")
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	im := &importer.Importer{Store: store, ChunksDir: cfg.ChunksDir}
	rows, files, err := im.DeleteChunks(ctx, *table, *date, !*keepFiles)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"deleted_rows": rows, "deleted_files": files})
}

func pick(flagVal, cfgVal string) string {
	if flagVal != "" {
		return flagVal
	}
	return cfgVal
}

func pickInt(flagVal, cfgVal int) int {
	if flagVal != 0 {
		return flagVal
	}
	return cfgVal
}
