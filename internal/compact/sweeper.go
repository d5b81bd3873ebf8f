package compact

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftmarkets/candleledger/internal/dedup"
	"github.com/driftmarkets/candleledger/internal/metrics"
	"github.com/driftmarkets/candleledger/internal/model"
	"github.com/driftmarkets/candleledger/internal/store"
)

// Store is the slice of the version store the sweeper needs.
type Store interface {
	Scan(ctx context.Context, r store.ScanRange) ([]model.CandleVersion, error)
	Prune(ctx context.Context, versionIDs []string) (int64, error)
}

// SweeperConfig holds compaction settings.
type SweeperConfig struct {
	Interval   time.Duration // Time between background sweeps (default: 15m)
	Quiescence time.Duration // Keys written within this window are left alone (default: 1h)
	Window     time.Duration // Width of one scan window (default: 24h)
	Lookback   time.Duration // How far back a sweep reaches (default: 30d)
}

// DefaultSweeperConfig returns sensible defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   15 * time.Minute,
		Quiescence: time.Hour,
		Window:     24 * time.Hour,
		Lookback:   30 * 24 * time.Hour,
	}
}

// Sweeper prunes versions that resolution can no longer pick. Pruning is an
// optimization only: the logical view of every key is identical before and
// after a sweep, there are just fewer rows left to scan.
type Sweeper struct {
	cfg     SweeperConfig
	store   Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper over the given store. The metrics instance
// may be nil.
func NewSweeper(cfg SweeperConfig, s Store, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:     cfg,
		store:   s,
		metrics: m,
		logger:  logger,
		now:     func() int64 { return time.Now().UnixMicro() },
	}
}

// Start begins the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("compaction sweeper started",
		"interval", s.cfg.Interval,
		"quiescence", s.cfg.Quiescence,
	)
	return nil
}

// Stop gracefully shuts down the sweeper.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("compaction sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main sweep loop.
func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Sweep immediately on start.
	s.sweepCycle()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepCycle()
		}
	}
}

func (s *Sweeper) sweepCycle() {
	start := time.Now()
	report, err := s.Sweep(s.ctx, false)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.metrics.RecordSweep(false, time.Since(start))
		s.logger.Error("sweep failed", "error", err)
		return
	}
	s.metrics.RecordSweep(true, time.Since(start))
	s.metrics.AddVersionsPruned(report.VersionsPruned)
	s.metrics.AddKeysCompacted(report.KeysCompacted)
	s.logger.Info("sweep complete",
		"windows", report.Windows,
		"keys_examined", report.KeysExamined,
		"keys_compacted", report.KeysCompacted,
		"versions_pruned", report.VersionsPruned,
	)
}

// Sweep walks the lookback range one window at a time and prunes the losing
// and tombstoned versions of quiescent keys. In dry-run mode nothing is
// removed; the report counts what a real sweep would prune.
func (s *Sweeper) Sweep(ctx context.Context, dryRun bool) (model.SweepReport, error) {
	report := model.SweepReport{DryRun: dryRun}

	now := s.now()
	cutoff := now - s.cfg.Quiescence.Microseconds()
	from := now - s.cfg.Lookback.Microseconds()
	if from >= cutoff {
		return report, nil
	}

	for _, w := range Windows(from, cutoff, s.cfg.Window.Microseconds()) {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		versions, err := s.store.Scan(ctx, store.ScanRange{
			FromTS:            w.From,
			ToTS:              w.To,
			IncludeSuperseded: true,
		})
		if err != nil {
			return report, fmt.Errorf("sweep window [%d, %d): %w", w.From, w.To, err)
		}
		report.Windows++
		if len(versions) == 0 {
			continue
		}

		byKey := make(map[model.CandleKey][]model.CandleVersion)
		for _, v := range versions {
			byKey[v.CandleKey] = append(byKey[v.CandleKey], v)
		}

		var ids []string
		for _, group := range byKey {
			report.KeysExamined++
			if lastWrite(group) > cutoff {
				continue
			}
			prunable := dedup.Prunable(group)
			if len(prunable) == 0 {
				continue
			}
			report.KeysCompacted++
			for _, v := range prunable {
				ids = append(ids, v.VersionID)
			}
		}
		if len(ids) == 0 {
			continue
		}

		if dryRun {
			report.VersionsPruned += int64(len(ids))
			continue
		}
		pruned, err := s.store.Prune(ctx, ids)
		if err != nil {
			return report, fmt.Errorf("prune window [%d, %d): %w", w.From, w.To, err)
		}
		report.VersionsPruned += pruned
	}

	return report, nil
}

// lastWrite returns the most recent ingestion time in a key's version set.
func lastWrite(versions []model.CandleVersion) int64 {
	var last int64
	for _, v := range versions {
		if v.IngestedAt > last {
			last = v.IngestedAt
		}
	}
	return last
}
