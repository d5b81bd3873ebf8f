// candlectl is the operator tool for the candle version ledger.
// Usage: candlectl [-config path] <command> [flags]
//
// Commands:
//
//	ingest    ingest a JSON batch of candles under a new run
//	runs      list ingestion runs
//	show      print one run as JSON
//	faulty    list completed runs with excessive reject or warn ratios
//	rollback  supersede every version written by a run
//	resolve   print the deduplicated view for a token and range
//	sweep     run one compaction sweep
//	migrate   replay a legacy candle file into the version store
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftmarkets/candleledger/internal/checkpoint"
	"github.com/driftmarkets/candleledger/internal/compact"
	"github.com/driftmarkets/candleledger/internal/config"
	"github.com/driftmarkets/candleledger/internal/database"
	"github.com/driftmarkets/candleledger/internal/dedup"
	"github.com/driftmarkets/candleledger/internal/ingest"
	"github.com/driftmarkets/candleledger/internal/ledger"
	"github.com/driftmarkets/candleledger/internal/model"
	"github.com/driftmarkets/candleledger/internal/rollback"
	"github.com/driftmarkets/candleledger/internal/store"
	"github.com/driftmarkets/candleledger/internal/validate"
)

func main() {
	configPath := flag.String("config", "configs/dedupd.local.yaml", "path to config file")
	flag.Parse()

	// Results go to stdout; keep the log quiet unless something is wrong.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "candlectl: load config:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := dispatch(ctx, flag.Arg(0), flag.Args()[1:], cfg, logger); err != nil {
		fmt.Fprintln(os.Stderr, "candlectl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: candlectl [-config path] <command> [flags]

Commands:
  ingest    ingest a JSON batch of candles under a new run
  runs      list ingestion runs
  show      print one run as JSON
  faulty    list completed runs with excessive reject or warn ratios
  rollback  supersede every version written by a run
  resolve   print the deduplicated view for a token and range
  sweep     run one compaction sweep
  migrate   replay a legacy candle file into the version store

Run "candlectl <command> -h" for command flags.
`)
}

func dispatch(ctx context.Context, cmd string, args []string, cfg *config.ServiceConfig, logger *slog.Logger) error {
	switch cmd {
	case "ingest":
		return cmdIngest(ctx, args, cfg, logger)
	case "runs":
		return cmdRuns(ctx, args, cfg, logger)
	case "show":
		return cmdShow(ctx, args, cfg, logger)
	case "faulty":
		return cmdFaulty(ctx, args, cfg, logger)
	case "rollback":
		return cmdRollback(ctx, args, cfg, logger)
	case "resolve":
		return cmdResolve(ctx, args, cfg, logger)
	case "sweep":
		return cmdSweep(ctx, args, cfg, logger)
	case "migrate":
		return cmdMigrate(ctx, args, cfg, logger)
	}
	usage()
	return fmt.Errorf("unknown command %q", cmd)
}

// versionStore is what candlectl needs from a version store backend.
type versionStore interface {
	store.VersionStore
	store.Pruner
	EnsureSchema(ctx context.Context) error
}

// connect opens the run ledger and the configured version store backend,
// ensuring both schemas exist.
func connect(ctx context.Context, cfg *config.ServiceConfig, logger *slog.Logger) (*ledger.Postgres, versionStore, func(), error) {
	if cfg.Store.Backend == "clickhouse" {
		ledgerPool, err := database.Connect(ctx, cfg.Database.Ledger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect ledger: %w", err)
		}
		conn, err := database.ConnectClickHouse(ctx, cfg.Store.ClickHouse)
		if err != nil {
			ledgerPool.Close()
			return nil, nil, nil, fmt.Errorf("connect clickhouse: %w", err)
		}
		runLedger := ledger.NewPostgres(ledgerPool, logger)
		versions := store.NewClickHouse(conn, logger)
		cleanup := func() {
			versions.Close()
			ledgerPool.Close()
		}
		if err := ensureSchemas(ctx, runLedger, versions); err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		return runLedger, versions, cleanup, nil
	}

	pools, err := database.NewPools(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	runLedger := ledger.NewPostgres(pools.Ledger, logger)
	versions := store.NewPostgres(pools.Versions, logger)
	if err := ensureSchemas(ctx, runLedger, versions); err != nil {
		pools.Close()
		return nil, nil, nil, err
	}
	return runLedger, versions, pools.Close, nil
}

func ensureSchemas(ctx context.Context, l *ledger.Postgres, vs versionStore) error {
	if err := l.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	if err := vs.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure version schema: %w", err)
	}
	return nil
}

func cmdIngest(ctx context.Context, args []string, cfg *config.ServiceConfig, logger *slog.Logger) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	file := fs.String("file", "", "JSON file holding the candle batch")
	source := fs.String("source", "", "source label recorded in the run manifest")
	tierName := fs.String("tier", "backfill", "source tier: unknown, backfill, livefeed or canonical")
	policyName := fs.String("policy", string(cfg.Ingest.Policy), "validation policy: strict or lenient")
	runID := fs.String("run", "", "run ID; generated when empty")
	fs.Parse(args)

	if *file == "" || *source == "" {
		return fmt.Errorf("ingest needs -file and -source")
	}
	tier, err := model.ParseSourceTier(*tierName)
	if err != nil {
		return err
	}
	policy, err := validate.ParsePolicy(*policyName)
	if err != nil {
		return err
	}
	candles, err := readCandleFile(*file)
	if err != nil {
		return err
	}

	runLedger, versions, cleanup, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	engine := dedup.NewEngine(versions, logger)
	svc := ingest.NewService(runLedger, versions, engine, policy, logger)

	run, err := runLedger.StartRun(ctx, model.RunManifest{
		RunID:  *runID,
		Source: *source,
		Tier:   tier,
		Config: map[string]string{"file": *file, "policy": string(policy)},
	})
	if err != nil {
		return err
	}

	result, err := svc.IngestBatch(ctx, run.RunID, candles)
	if err != nil {
		if _, failErr := runLedger.FailRun(context.WithoutCancel(ctx), run.RunID, model.RunStats{}); failErr != nil {
			logger.Warn("could not mark run failed", "run_id", run.RunID, "error", failErr)
		}
		return err
	}
	final, err := runLedger.CompleteRun(ctx, run.RunID, model.RunStats{})
	if err != nil {
		return err
	}

	fmt.Printf("run %s completed: accepted=%d rejected=%d warned=%d deduplicated=%d\n",
		final.RunID, result.Accepted, result.Rejected, result.Warned, result.Deduplicated)
	return nil
}

func cmdRuns(ctx context.Context, args []string, cfg *config.ServiceConfig, logger *slog.Logger) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	status := fs.String("status", "", "filter by status: pending, running, completed, failed or rolled_back")
	source := fs.String("source", "", "filter by source label")
	limit := fs.Int("limit", 50, "maximum runs to list, newest first")
	fs.Parse(args)

	filter := ledger.RunFilter{Source: *source, Limit: *limit}
	if *status != "" {
		s := model.RunStatus(*status)
		if !s.Valid() {
			return fmt.Errorf("unknown status %q", *status)
		}
		filter.Statuses = []model.RunStatus{s}
	}

	runLedger, _, cleanup, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := runLedger.ListRuns(ctx, filter)
	if err != nil {
		return err
	}
	printRuns(runs)
	return nil
}

func cmdShow(ctx context.Context, args []string, cfg *config.ServiceConfig, logger *slog.Logger) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	runID := fs.String("run", "", "run ID to show")
	fs.Parse(args)

	if *runID == "" {
		return fmt.Errorf("show needs -run")
	}

	runLedger, _, cleanup, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	run, err := runLedger.GetRun(ctx, *runID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func cmdFaulty(ctx context.Context, args []string, cfg *config.ServiceConfig, logger *slog.Logger) error {
	fs := flag.NewFlagSet("faulty", flag.ExitOnError)
	rejected := fs.Float64("rejected", 0.5, "flag runs whose rejected ratio exceeds this")
	warned := fs.Float64("warned", 0.5, "flag runs whose warned ratio exceeds this")
	fs.Parse(args)

	runLedger, _, cleanup, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := runLedger.FindFaultyRuns(ctx, ledger.FaultThresholds{
		MaxRejectedRatio: *rejected,
		MaxWarnedRatio:   *warned,
	})
	if err != nil {
		return err
	}
	printRuns(runs)
	return nil
}

func cmdRollback(ctx context.Context, args []string, cfg *config.ServiceConfig, logger *slog.Logger) error {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	runID := fs.String("run", "", "run ID to roll back")
	fs.Parse(args)

	if *runID == "" {
		return fmt.Errorf("rollback needs -run")
	}

	runLedger, versions, cleanup, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	engine := dedup.NewEngine(versions, logger)
	mgr := rollback.NewManager(runLedger, versions, engine, logger)
	report, err := mgr.Rollback(ctx, *runID)
	if err != nil {
		return err
	}

	fmt.Printf("run %s rolled back: versions_superseded=%d keys_changed=%d\n",
		report.RunID, report.VersionsSuperseded, report.KeysChanged)
	return nil
}

func cmdResolve(ctx context.Context, args []string, cfg *config.ServiceConfig, logger *slog.Logger) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	token := fs.String("token", "", "token identifier")
	chain := fs.String("chain", "", "chain name")
	interval := fs.String("interval", "", "interval label, e.g. 5m")
	from := fs.Int64("from", 0, "range start, µs since epoch, inclusive")
	to := fs.Int64("to", 0, "range end, µs since epoch, exclusive; 0 means unbounded")
	fs.Parse(args)

	_, versions, cleanup, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	engine := dedup.NewEngine(versions, logger)
	view, err := engine.ResolveRange(ctx, store.ScanRange{
		Token:    *token,
		Chain:    *chain,
		Interval: *interval,
		FromTS:   *from,
		ToTS:     *to,
	})
	if err != nil {
		return err
	}

	for _, v := range view {
		fmt.Printf("%s  open=%g high=%g low=%g close=%g volume=%g  score=%d tier=%s run=%s\n",
			v.CandleKey, v.Open, v.High, v.Low, v.Close, v.Volume, v.QualityScore, v.Tier, v.RunID)
	}
	fmt.Printf("%d candles\n", len(view))
	return nil
}

func cmdSweep(ctx context.Context, args []string, cfg *config.ServiceConfig, logger *slog.Logger) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "report prunable versions without removing them")
	fs.Parse(args)

	_, versions, cleanup, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	sweeper := compact.NewSweeper(compact.SweeperConfig{
		Interval:   cfg.Sweeper.Interval,
		Quiescence: cfg.Sweeper.Quiescence,
		Window:     cfg.Sweeper.Window,
		Lookback:   cfg.Sweeper.Lookback,
	}, versions, nil, logger)

	report, err := sweeper.Sweep(ctx, *dryRun)
	if err != nil {
		return err
	}

	fmt.Printf("windows=%d keys_examined=%d keys_compacted=%d versions_pruned=%d dry_run=%v\n",
		report.Windows, report.KeysExamined, report.KeysCompacted, report.VersionsPruned, report.DryRun)
	return nil
}

func cmdMigrate(ctx context.Context, args []string, cfg *config.ServiceConfig, logger *slog.Logger) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	jobID := fs.String("job", "", "job ID; checkpoints are stored per job")
	file := fs.String("file", "", "JSON file holding the legacy candles")
	from := fs.Int64("from", 0, "range start, µs since epoch, inclusive")
	to := fs.Int64("to", 0, "range end, µs since epoch, exclusive")
	window := fs.Int64("window", cfg.Migration.Window.Microseconds(), "window width, µs")
	tierName := fs.String("tier", "backfill", "tier recorded on migrated versions")
	policyName := fs.String("policy", string(cfg.Ingest.Policy), "validation policy: strict or lenient")
	scoreLegacy := fs.Bool("score-legacy", false, "score migrated candles like fresh ingests instead of the sentinel 0")
	dryRun := fs.Bool("dry-run", false, "fetch and validate only; no writes")
	resume := fs.Bool("resume", false, "continue from this job's checkpoint")
	fs.Parse(args)

	if *jobID == "" || *file == "" {
		return fmt.Errorf("migrate needs -job and -file")
	}
	tier, err := model.ParseSourceTier(*tierName)
	if err != nil {
		return err
	}
	policy, err := validate.ParsePolicy(*policyName)
	if err != nil {
		return err
	}
	src, err := newFileSource(*file)
	if err != nil {
		return err
	}

	runLedger, versions, cleanup, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	cps, err := checkpoint.NewStore(cfg.Migration.CheckpointDir, logger)
	if err != nil {
		return err
	}

	migrator := compact.NewMigrator(runLedger, versions, cps, logger)
	report, err := migrator.Run(ctx, src, compact.MigrationJob{
		JobID:       *jobID,
		Source:      "migration:" + *jobID + ":" + *file,
		From:        *from,
		To:          *to,
		Window:      *window,
		Tier:        tier,
		Policy:      policy,
		ScoreLegacy: *scoreLegacy,
		DryRun:      *dryRun,
		Resume:      *resume,
	})
	if err != nil {
		if report.Windows > 0 {
			fmt.Printf("committed %d windows before the failure; rerun with -resume to continue\n", report.Windows)
		}
		return err
	}

	fmt.Printf("migration %s: windows=%d skipped=%d fetched=%d migrated=%d rejected=%d dry_run=%v\n",
		*jobID, report.Windows, report.WindowsSkipped, report.Fetched, report.Migrated, report.Rejected, report.DryRun)
	return nil
}

// printRuns writes one line per run to stdout, newest first as returned by
// the ledger, followed by a count.
func printRuns(runs []model.IngestionRun) {
	for _, r := range runs {
		fmt.Printf("%s  status=%s source=%s tier=%s started=%d ended=%d fetched=%d inserted=%d rejected=%d warned=%d deduplicated=%d\n",
			r.RunID, r.Status, r.Source, r.Tier, r.StartedAt, r.EndedAt,
			r.Stats.Fetched, r.Stats.Inserted, r.Stats.Rejected, r.Stats.Warned, r.Stats.Deduplicated)
	}
	fmt.Printf("%d runs\n", len(runs))
}

// readCandleFile parses a JSON array of raw candles.
func readCandleFile(path string) ([]ingest.RawCandle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var candles []ingest.RawCandle
	if err := json.Unmarshal(raw, &candles); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return candles, nil
}

// fileSource serves a JSON candle file as a windowed legacy source.
type fileSource struct {
	candles []compact.LegacyCandle
}

func newFileSource(path string) (*fileSource, error) {
	rows, err := readCandleFile(path)
	if err != nil {
		return nil, err
	}
	src := &fileSource{candles: make([]compact.LegacyCandle, 0, len(rows))}
	for _, r := range rows {
		src.candles = append(src.candles, compact.LegacyCandle{CandleKey: r.Key(), Candle: r.Candle()})
	}
	return src, nil
}

func (s *fileSource) FetchWindow(ctx context.Context, from, to int64) ([]compact.LegacyCandle, error) {
	var out []compact.LegacyCandle
	for _, c := range s.candles {
		if c.OpenTS >= from && c.OpenTS < to {
			out = append(out, c)
		}
	}
	return out, nil
}
