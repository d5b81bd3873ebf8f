package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/driftmarkets/candleledger/internal/compact"
	"github.com/driftmarkets/candleledger/internal/config"
	"github.com/driftmarkets/candleledger/internal/database"
	"github.com/driftmarkets/candleledger/internal/ledger"
	"github.com/driftmarkets/candleledger/internal/metrics"
	"github.com/driftmarkets/candleledger/internal/store"
	"github.com/driftmarkets/candleledger/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/dedupd.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting dedupd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"store_backend", cfg.Store.Backend,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to databases
	logger.Info("connecting to databases",
		"ledger_host", cfg.Database.Ledger.Host,
		"ledger_database", cfg.Database.Ledger.Name,
	)

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer stores.close()

	logger.Info("databases connected")

	// Metrics
	m := metrics.New(metrics.Config{
		Enabled: true,
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Path:    cfg.Metrics.Path,
	})

	// Start health and metrics server
	healthServer := &http.Server{
		Addr:    m.Addr(),
		Handler: createHealthHandler(m, stores),
	}

	go func() {
		logger.Info("starting health server", "addr", m.Addr(), "metrics_path", m.Path())
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Start the compaction sweeper
	sweeper := compact.NewSweeper(compact.SweeperConfig{
		Interval:   cfg.Sweeper.Interval,
		Quiescence: cfg.Sweeper.Quiescence,
		Window:     cfg.Sweeper.Window,
		Lookback:   cfg.Sweeper.Lookback,
	}, stores.versions, m, logger)

	if err := sweeper.Start(ctx); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}

	logger.Info("dedupd running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := sweeper.Stop(shutdownCtx); err != nil {
		logger.Error("sweeper shutdown error", "error", err)
	}
	healthServer.Shutdown(shutdownCtx)

	logger.Info("dedupd stopped")
}

// pinger covers both pgx pools and ClickHouse connections.
type pinger interface {
	Ping(ctx context.Context) error
}

// versionStore is what dedupd needs from a version store backend: the shared
// read/write interface plus schema management and pruning for the sweeper.
type versionStore interface {
	store.VersionStore
	store.Pruner
	EnsureSchema(ctx context.Context) error
}

// stores bundles the connected ledger and version store with the connections
// the health check should ping.
type stores struct {
	ledger   *ledger.Postgres
	versions versionStore
	health   map[string]pinger
	close    func()
}

// openStores connects the run ledger and the configured version store
// backend, and ensures both schemas exist.
func openStores(ctx context.Context, cfg *config.ServiceConfig, logger *slog.Logger) (*stores, error) {
	if cfg.Store.Backend == "clickhouse" {
		ledgerPool, err := database.Connect(ctx, cfg.Database.Ledger)
		if err != nil {
			return nil, fmt.Errorf("connect ledger: %w", err)
		}
		conn, err := database.ConnectClickHouse(ctx, cfg.Store.ClickHouse)
		if err != nil {
			ledgerPool.Close()
			return nil, fmt.Errorf("connect clickhouse: %w", err)
		}

		runLedger := ledger.NewPostgres(ledgerPool, logger)
		versions := store.NewClickHouse(conn, logger)
		s := &stores{
			ledger:   runLedger,
			versions: versions,
			health:   map[string]pinger{"ledger": ledgerPool, "clickhouse": conn},
		}
		s.close = func() {
			versions.Close()
			ledgerPool.Close()
		}
		if err := runLedger.EnsureSchema(ctx); err != nil {
			s.close()
			return nil, fmt.Errorf("ensure ledger schema: %w", err)
		}
		if err := versions.EnsureSchema(ctx); err != nil {
			s.close()
			return nil, fmt.Errorf("ensure version schema: %w", err)
		}
		return s, nil
	}

	pools, err := database.NewPools(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	runLedger := ledger.NewPostgres(pools.Ledger, logger)
	versions := store.NewPostgres(pools.Versions, logger)
	s := &stores{
		ledger:   runLedger,
		versions: versions,
		health:   map[string]pinger{"postgres": pools},
	}
	s.close = pools.Close
	if err := runLedger.EnsureSchema(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	if err := versions.EnsureSchema(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("ensure version schema: %w", err)
	}
	return s, nil
}

// createHealthHandler creates the HTTP handler for health checks, metrics and
// debug endpoints.
func createHealthHandler(m *metrics.Metrics, s *stores) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(m.Path(), m.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string            `json:"status"`
			Components map[string]string `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]string),
		}

		for name, dep := range s.health {
			if err := dep.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components[name] = "disconnected: " + err.Error()
			} else {
				health.Components[name] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/faulty-runs", func(w http.ResponseWriter, r *http.Request) {
		thresholds := ledger.FaultThresholds{
			MaxRejectedRatio: 0.5,
			MaxWarnedRatio:   0.5,
		}
		if v := r.URL.Query().Get("rejected"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				thresholds.MaxRejectedRatio = f
			}
		}
		if v := r.URL.Query().Get("warned"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				thresholds.MaxWarnedRatio = f
			}
		}

		runs, err := s.ledger.FindFaultyRuns(r.Context(), thresholds)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count": len(runs),
			"runs":  runs,
		})
	})

	return mux
}
