package compact

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftmarkets/candleledger/internal/checkpoint"
	"github.com/driftmarkets/candleledger/internal/ledger"
	"github.com/driftmarkets/candleledger/internal/model"
	"github.com/driftmarkets/candleledger/internal/validate"
)

// LegacyCandle is a candle read from a pre-versioning store. It carries no
// provenance; the migration run supplies tier, score and run identity.
type LegacyCandle struct {
	model.CandleKey
	model.Candle
}

// LegacySource supplies legacy candles one window at a time.
type LegacySource interface {
	FetchWindow(ctx context.Context, from, to int64) ([]LegacyCandle, error)
}

// Appender is the write slice of the version store the migrator needs.
type Appender interface {
	Append(ctx context.Context, versions []model.CandleVersion) (int64, error)
}

// MigrationJob describes one bounded-window migration pass.
type MigrationJob struct {
	JobID  string // Names the job; checkpoints are stored per job ID
	Source string // Run manifest source label; defaults to "migration:"+JobID
	From   int64  // Range start, µs, inclusive
	To     int64  // Range end, µs, exclusive
	Window int64  // Window width, µs

	Tier   model.SourceTier
	Policy validate.Policy

	// ScoreLegacy scores migrated candles like fresh ingests. Off by
	// default: migrated rows carry the sentinel score 0, so they can never
	// shadow a validated, freshly ingested version of the same key.
	ScoreLegacy bool

	DryRun bool // Fetch and validate only; no writes, no ledger run, no checkpoints
	Resume bool // Continue from this job's checkpoint instead of From
}

func (j MigrationJob) configSnapshot() map[string]string {
	return map[string]string{
		"job_id":       j.JobID,
		"from":         strconv.FormatInt(j.From, 10),
		"to":           strconv.FormatInt(j.To, 10),
		"window":       strconv.FormatInt(j.Window, 10),
		"policy":       string(j.Policy),
		"score_legacy": strconv.FormatBool(j.ScoreLegacy),
	}
}

// Migrator replays legacy candles into the versioned model.
type Migrator struct {
	ledger      ledger.Store
	store       Appender
	checkpoints *checkpoint.Store
	logger      *slog.Logger
	now         func() int64
}

// NewMigrator creates a migration controller.
func NewMigrator(l ledger.Store, store Appender, cps *checkpoint.Store, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		ledger:      l,
		store:       store,
		checkpoints: cps,
		logger:      logger,
		now:         func() int64 { return time.Now().UnixMicro() },
	}
}

// Run migrates the job's time range window by window. Each committed window
// records its stats in the job's ledger run and advances the checkpoint, so
// a failed or cancelled job resumes at the failed window. The first error
// aborts the current window and fails the run; prior windows stand.
func (m *Migrator) Run(ctx context.Context, src LegacySource, job MigrationJob) (model.MigrationReport, error) {
	if job.JobID == "" {
		return model.MigrationReport{}, fmt.Errorf("migration job needs a job ID")
	}
	if job.From >= job.To {
		return model.MigrationReport{}, fmt.Errorf("migration job %s: empty time range [%d, %d)", job.JobID, job.From, job.To)
	}
	if !job.Policy.Valid() {
		return model.MigrationReport{}, fmt.Errorf("migration job %s: unknown validation policy %q", job.JobID, job.Policy)
	}

	report := model.MigrationReport{DryRun: job.DryRun}

	from := job.From
	var committedWindows uint64
	if job.Resume {
		cp, err := m.checkpoints.Load(job.JobID)
		if err != nil {
			return report, err
		}
		// A completed checkpoint only ends the job if it covers the requested
		// range. Extending To past the high-water mark resumes from there.
		if cp != nil && cp.Completed && cp.LastWindowEnd >= job.To {
			m.logger.Info("migration job already completed", "job_id", job.JobID)
			report.ResumedFrom = cp.LastWindowEnd
			report.WindowsSkipped = int64(len(Windows(job.From, job.To, job.Window)))
			return report, nil
		}
		if cp != nil && cp.LastWindowEnd > from {
			report.ResumedFrom = cp.LastWindowEnd
			report.WindowsSkipped = int64(len(Windows(job.From, cp.LastWindowEnd, job.Window)))
			committedWindows = cp.Windows
			from = cp.LastWindowEnd
		}
	}

	windows := Windows(from, job.To, job.Window)

	if job.DryRun {
		return m.dryRun(ctx, src, job, windows, report)
	}

	source := job.Source
	if source == "" {
		source = "migration:" + job.JobID
	}
	run, err := m.ledger.StartRun(ctx, model.RunManifest{
		Source: source,
		Tier:   job.Tier,
		Config: job.configSnapshot(),
	})
	if err != nil {
		return report, err
	}
	report.RunID = run.RunID

	m.logger.Info("migration started",
		"job_id", job.JobID,
		"run_id", run.RunID,
		"windows", len(windows),
		"windows_skipped", report.WindowsSkipped,
	)

	for _, w := range windows {
		delta, err := m.migrateWindow(ctx, src, job, run.RunID, w)
		if err == nil {
			err = m.ledger.RecordStats(ctx, run.RunID, delta)
		}
		if err == nil {
			committedWindows++
			err = m.checkpoints.Save(&checkpoint.Checkpoint{
				JobID:         job.JobID,
				LastWindowEnd: w.To,
				Windows:       committedWindows,
			})
		}
		if err != nil {
			return report, m.failWindow(ctx, job, run.RunID, w, err)
		}

		report.Windows++
		report.Fetched += delta.Fetched
		report.Migrated += delta.Inserted
		report.Rejected += delta.Rejected
	}

	if err := m.checkpoints.Save(&checkpoint.Checkpoint{
		JobID:         job.JobID,
		LastWindowEnd: job.To,
		Windows:       committedWindows,
		Completed:     true,
	}); err != nil {
		// All windows are committed; a resume would only replay the last
		// window, which rewrites identical rows.
		m.logger.Warn("failed to mark migration checkpoint completed", "job_id", job.JobID, "error", err)
	}

	if _, err := m.ledger.CompleteRun(ctx, run.RunID, model.RunStats{}); err != nil {
		return report, fmt.Errorf("complete migration run %s: %w", run.RunID, err)
	}

	m.logger.Info("migration complete",
		"job_id", job.JobID,
		"run_id", run.RunID,
		"windows", report.Windows,
		"fetched", report.Fetched,
		"migrated", report.Migrated,
		"rejected", report.Rejected,
	)
	return report, nil
}

// migrateWindow fetches, validates and appends one window.
func (m *Migrator) migrateWindow(ctx context.Context, src LegacySource, job MigrationJob, runID string, w Window) (model.RunStats, error) {
	if err := ctx.Err(); err != nil {
		return model.RunStats{}, err
	}

	candles, err := src.FetchWindow(ctx, w.From, w.To)
	if err != nil {
		return model.RunStats{}, fmt.Errorf("fetch window: %w", err)
	}

	var stats model.RunStats
	stats.Fetched = int64(len(candles))

	ingestedAt := m.now()
	versions := make([]model.CandleVersion, 0, len(candles))
	for _, c := range candles {
		result := validate.Check(c.Candle, job.Tier, job.Policy)
		if result.Status == validate.Rejected {
			stats.Rejected++
			stats.AddError(result.Reason, 1)
			continue
		}
		if result.Status == validate.Warned {
			stats.Warned++
		}

		score := 0
		if job.ScoreLegacy {
			score = result.Score
		}
		versions = append(versions, model.CandleVersion{
			VersionID:    legacyVersionID(job.JobID, c),
			CandleKey:    c.CandleKey,
			Candle:       c.Candle,
			QualityScore: score,
			Tier:         job.Tier,
			RunID:        runID,
			IngestedAt:   ingestedAt,
		})
	}

	inserted, err := m.store.Append(ctx, versions)
	if err != nil {
		return model.RunStats{}, fmt.Errorf("append window: %w", err)
	}
	stats.Inserted = inserted
	return stats, nil
}

// dryRun fetches and validates without writing anything.
func (m *Migrator) dryRun(ctx context.Context, src LegacySource, job MigrationJob, windows []Window, report model.MigrationReport) (model.MigrationReport, error) {
	for _, w := range windows {
		err := ctx.Err()
		var candles []LegacyCandle
		if err == nil {
			candles, err = src.FetchWindow(ctx, w.From, w.To)
		}
		if err != nil {
			return report, &MigrationBatchFailure{JobID: job.JobID, WindowFrom: w.From, WindowTo: w.To, Err: err}
		}

		report.Fetched += int64(len(candles))
		for _, c := range candles {
			if validate.Check(c.Candle, job.Tier, job.Policy).Status == validate.Rejected {
				report.Rejected++
			} else {
				report.Migrated++
			}
		}
		report.Windows++
	}
	return report, nil
}

// failWindow fails the run and wraps the window error. The ledger write uses
// an uncancelled context so a cancelled job still lands in Failed.
func (m *Migrator) failWindow(ctx context.Context, job MigrationJob, runID string, w Window, err error) error {
	fail := &MigrationBatchFailure{JobID: job.JobID, WindowFrom: w.From, WindowTo: w.To, Err: err}

	var stats model.RunStats
	stats.AddError(fail.Error(), 1)
	if _, ferr := m.ledger.FailRun(context.WithoutCancel(ctx), runID, stats); ferr != nil {
		m.logger.Error("failed to mark migration run failed", "run_id", runID, "error", ferr)
	}
	return fail
}

// legacyVersionID derives a stable ID from the job and candle content, so
// re-running a committed window rewrites identical rows that the store drops
// as duplicates.
func legacyVersionID(jobID string, c LegacyCandle) string {
	var sb strings.Builder
	sb.WriteString(jobID)
	sb.WriteByte('|')
	sb.WriteString(c.CandleKey.String())
	for _, f := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		sb.WriteByte('|')
		sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(sb.String())).String()
}
