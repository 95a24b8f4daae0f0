package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"agentindex/internal/adapter/embedding"
	"agentindex/internal/adapter/httpapi"
	"agentindex/internal/adapter/oracle"
	"agentindex/internal/adapter/store"
	"agentindex/internal/adapter/vectorindex"
	"agentindex/internal/domain"
	"agentindex/internal/infra/config"
	"agentindex/internal/infra/logger"
	"agentindex/internal/infra/tracer"
	"agentindex/internal/usecase"
	"agentindex/internal/usecase/scheduling"
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "--help", "-h", "help":
		showUsage()
		return
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "ingest":
		err = runIngest(args)
	case "parse", "classify", "dedupe", "rank", "build-index":
		err = runJob(cmd, args)
	case "stats":
		err = runStats(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'agentindex --help' for usage.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`agentindex - index and discovery service for AI agents

USAGE:
    agentindex COMMAND [FLAGS]

COMMANDS:
    serve        Run the discovery API and scheduled pipeline jobs
    ingest       Upsert crawled records from a JSON file
    parse        Run one extraction pass over indexed records
    classify     Run one classification pass over parsed records
    dedupe       Run one duplicate-resolution pass
    rank         Recompute quality scores for all rankable records
    build-index  Rebuild the semantic search index
    stats        Print index statistics

FLAGS:
    -config PATH    Config file path (default: ./agentindex.yaml)
    -file PATH      Input file for ingest
    -batch N        Batch size override for pipeline commands

CONFIGURATION:
    Config file: ./agentindex.yaml
    Environment: AGENTINDEX_* variables override config`)
}

// app holds the shared wiring every command needs.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *store.Store
	closeLogger func() error
	stopTracer  func(context.Context) error
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, closeLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}

	stopTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		closeLogger()
		return nil, err
	}

	st, err := store.New(cfg.Store.Path, log)
	if err != nil {
		stopTracer(ctx)
		closeLogger()
		return nil, err
	}

	return &app{cfg: cfg, logger: log, store: st, closeLogger: closeLogger, stopTracer: stopTracer}, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}
	if err := a.stopTracer(ctx); err != nil {
		a.logger.Warn("tracer shutdown failed", "error", err)
	}
	_ = a.closeLogger()
}

// loadedIndex builds the vector index and loads the last snapshot if one
// exists. A missing or stale snapshot is not fatal.
func loadedIndex(a *app, embedder domain.EmbeddingProvider) *vectorindex.Index {
	index := vectorindex.New(embedder, a.logger)
	if err := index.LoadFrom(a.cfg.Index.Dir); err != nil {
		a.logger.Warn("vector index not loaded, serving lexical only until rebuild",
			"dir", a.cfg.Index.Dir, "error", err)
	}
	return index
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "agentindex.yaml", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	llm := oracle.New(a.cfg.Oracle, a.logger)
	embedder := embedding.New(a.cfg.Embedding)
	index := loadedIndex(a, embedder)

	parser := usecase.NewParser(a.store, llm, a.cfg.Oracle.RetryAfter, a.logger)
	classifier := usecase.NewClassifier(a.store, llm, a.logger)
	deduper := usecase.NewDeduper(a.store, llm, a.logger)
	ranker := usecase.NewRanker(a.store, a.store, a.logger)
	builder := usecase.NewIndexBuilder(a.store, embedder, index, a.cfg.Index.Dir, a.cfg.Index.BatchSize, a.logger)
	discovery := usecase.NewDiscovery(a.store, a.store, index, a.cfg.API.MaxResults, a.logger)
	stats := usecase.NewStatsService(a.store, a.store, index, a.logger)

	if a.cfg.Jobs.Enabled {
		sched, err := buildScheduler(a, parser, classifier, deduper, ranker, builder)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	srv := httpapi.NewServer(discovery, stats, ranker, a.store, a.cfg.API, a.logger)
	return srv.Start(ctx)
}

// buildScheduler wires the pipeline jobs. Dedupe, rank, and index builds
// take a cross-process lock so overlapping deployments cannot double-run.
func buildScheduler(a *app, parser *usecase.Parser, classifier *usecase.Classifier, deduper *usecase.Deduper, ranker *usecase.Ranker, builder *usecase.IndexBuilder) (*scheduling.Scheduler, error) {
	guard := usecase.NewJobGuard(a.cfg.Jobs.LockDir)
	jobs := a.cfg.Jobs

	guarded := func(job string, fn func(ctx context.Context) error) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			release, err := guard.Acquire(job)
			if errors.Is(err, domain.ErrJobRunning) {
				a.logger.Info("job skipped, another instance holds the lock", "job", job)
				return nil
			}
			if err != nil {
				return err
			}
			defer release()
			return fn(ctx)
		}
	}

	sched := scheduling.NewScheduler(a.logger)
	sched.RegisterAction(scheduling.ActionParse, func(ctx context.Context) error {
		_, err := parser.Run(ctx, jobs.ParseBatch)
		return err
	})
	sched.RegisterAction(scheduling.ActionClassify, func(ctx context.Context) error {
		_, err := classifier.Run(ctx, jobs.ClassifyBatch)
		return err
	})
	sched.RegisterAction(scheduling.ActionDedupe, guarded("dedupe", func(ctx context.Context) error {
		_, err := deduper.Run(ctx, jobs.DedupeBatch)
		return err
	}))
	sched.RegisterAction(scheduling.ActionRank, guarded("rank", func(ctx context.Context) error {
		_, err := ranker.Run(ctx)
		return err
	}))
	sched.RegisterAction(scheduling.ActionIndexBuild, guarded("index-build", func(ctx context.Context) error {
		_, err := builder.Run(ctx)
		return err
	}))

	tasks := []scheduling.ScheduledTask{
		{Name: "parse", Schedule: jobs.ParseSchedule, Action: scheduling.ActionParse},
		{Name: "classify", Schedule: jobs.ClassifySchedule, Action: scheduling.ActionClassify},
		{Name: "dedupe", Schedule: jobs.DedupeSchedule, Action: scheduling.ActionDedupe},
		{Name: "rank", Schedule: jobs.RankSchedule, Action: scheduling.ActionRank},
		{Name: "index-build", Schedule: jobs.IndexSchedule, Action: scheduling.ActionIndexBuild},
	}
	for _, task := range tasks {
		if err := sched.AddTask(task); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "agentindex.yaml", "config file path")
	file := fs.String("file", "", "JSON file with an array of crawled records")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read %s: %w", *file, err)
	}
	var recs []*domain.AgentRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return fmt.Errorf("parse %s: %w", *file, err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	result, err := usecase.NewIngester(a.store, a.logger).Upsert(ctx, recs)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runJob(name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "agentindex.yaml", "config file path")
	batch := fs.Int("batch", 0, "batch size override")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	llm := oracle.New(a.cfg.Oracle, a.logger)
	guard := usecase.NewJobGuard(a.cfg.Jobs.LockDir)

	batchOr := func(def int) int {
		if *batch > 0 {
			return *batch
		}
		return def
	}

	switch name {
	case "parse":
		result, err := usecase.NewParser(a.store, llm, a.cfg.Oracle.RetryAfter, a.logger).
			Run(ctx, batchOr(a.cfg.Jobs.ParseBatch))
		if err != nil {
			return err
		}
		return printJSON(result)
	case "classify":
		result, err := usecase.NewClassifier(a.store, llm, a.logger).
			Run(ctx, batchOr(a.cfg.Jobs.ClassifyBatch))
		if err != nil {
			return err
		}
		return printJSON(result)
	case "dedupe":
		release, err := guard.Acquire("dedupe")
		if err != nil {
			return err
		}
		defer release()
		result, err := usecase.NewDeduper(a.store, llm, a.logger).
			Run(ctx, batchOr(a.cfg.Jobs.DedupeBatch))
		if err != nil {
			return err
		}
		return printJSON(result)
	case "rank":
		release, err := guard.Acquire("rank")
		if err != nil {
			return err
		}
		defer release()
		result, err := usecase.NewRanker(a.store, a.store, a.logger).Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(result)
	case "build-index":
		release, err := guard.Acquire("index-build")
		if err != nil {
			return err
		}
		defer release()
		embedder := embedding.New(a.cfg.Embedding)
		index := vectorindex.New(embedder, a.logger)
		n, err := usecase.NewIndexBuilder(a.store, embedder, index, a.cfg.Index.Dir, a.cfg.Index.BatchSize, a.logger).
			Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"vectors": n})
	}
	return fmt.Errorf("unknown job %q", name)
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "agentindex.yaml", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	embedder := embedding.New(a.cfg.Embedding)
	index := loadedIndex(a, embedder)

	stats, err := usecase.NewStatsService(a.store, a.store, index, a.logger).Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
