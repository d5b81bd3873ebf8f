package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftmarkets/candleledger/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
	run_id       TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	tier         SMALLINT NOT NULL,
	status       TEXT NOT NULL,
	started_at   BIGINT NOT NULL,
	ended_at     BIGINT NOT NULL DEFAULT 0,
	config_hash  TEXT NOT NULL,
	fetched      BIGINT NOT NULL DEFAULT 0,
	inserted     BIGINT NOT NULL DEFAULT 0,
	rejected     BIGINT NOT NULL DEFAULT 0,
	warned       BIGINT NOT NULL DEFAULT 0,
	deduplicated BIGINT NOT NULL DEFAULT 0,
	errors       JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_ingestion_runs_status
	ON ingestion_runs (status);

CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started_at
	ON ingestion_runs (started_at);
`

const runColumns = `run_id, source, tier, status, started_at, ended_at, config_hash, fetched, inserted, rejected, warned, deduplicated, errors`

// Postgres stores the run ledger in a PostgreSQL table. Status transitions
// are compare-and-set on the status column, so concurrent controllers cannot
// both move the same run.
type Postgres struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, logger: logger}
}

// EnsureSchema creates the ledger table and indexes if missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create ingestion_runs schema: %w", err)
	}
	return nil
}

// StartRun registers a new run in Running state.
func (s *Postgres) StartRun(ctx context.Context, manifest model.RunManifest) (model.IngestionRun, error) {
	runID := manifest.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	run := model.IngestionRun{
		RunID:      runID,
		Source:     manifest.Source,
		Tier:       manifest.Tier,
		Status:     model.RunRunning,
		StartedAt:  time.Now().UnixMicro(),
		ConfigHash: manifest.ConfigHash(),
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO ingestion_runs (run_id, source, tier, status, started_at, config_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO NOTHING
	`, run.RunID, run.Source, int16(run.Tier), string(run.Status), run.StartedAt, run.ConfigHash)
	if err != nil {
		return model.IngestionRun{}, fmt.Errorf("start run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.IngestionRun{}, &DuplicateRunError{RunID: runID}
	}

	s.logger.Info("run started", "run_id", runID, "source", run.Source, "tier", run.Tier.String())
	return run, nil
}

// GetRun returns the run as persisted.
func (s *Postgres) GetRun(ctx context.Context, runID string) (model.IngestionRun, error) {
	return s.fetchRun(ctx, runID)
}

// RecordStats folds a stats delta into a running run. Counters accumulate in
// SQL; the error list is merged in Go and written back whole.
func (s *Postgres) RecordStats(ctx context.Context, runID string, delta model.RunStats) error {
	current, err := s.fetchRun(ctx, runID)
	if err != nil {
		return err
	}
	if current.Status != model.RunRunning {
		return &InvalidTransitionError{RunID: runID, From: current.Status, To: model.RunRunning}
	}

	merged := current.Stats
	merged.Add(model.RunStats{Errors: delta.Errors})
	errJSON, err := marshalRunErrors(merged.Errors)
	if err != nil {
		return fmt.Errorf("record stats for run %s: %w", runID, err)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE ingestion_runs SET
			fetched      = fetched + $2,
			inserted     = inserted + $3,
			rejected     = rejected + $4,
			warned       = warned + $5,
			deduplicated = deduplicated + $6,
			errors       = $7
		WHERE run_id = $1 AND status = $8
	`, runID, delta.Fetched, delta.Inserted, delta.Rejected, delta.Warned, delta.Deduplicated,
		errJSON, string(model.RunRunning))
	if err != nil {
		return fmt.Errorf("record stats for run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		// The run left Running between the read and the write.
		return &InvalidTransitionError{RunID: runID, From: current.Status, To: model.RunRunning}
	}
	return nil
}

// CompleteRun folds the final delta in and freezes the run as Completed.
func (s *Postgres) CompleteRun(ctx context.Context, runID string, final model.RunStats) (model.IngestionRun, error) {
	return s.finish(ctx, runID, final, model.RunCompleted)
}

// FailRun folds the final delta in and freezes the run as Failed.
func (s *Postgres) FailRun(ctx context.Context, runID string, final model.RunStats) (model.IngestionRun, error) {
	return s.finish(ctx, runID, final, model.RunFailed)
}

func (s *Postgres) finish(ctx context.Context, runID string, final model.RunStats, to model.RunStatus) (model.IngestionRun, error) {
	current, err := s.fetchRun(ctx, runID)
	if err != nil {
		return model.IngestionRun{}, err
	}
	if !canTransition(current.Status, to) {
		return model.IngestionRun{}, &InvalidTransitionError{RunID: runID, From: current.Status, To: to}
	}

	merged := current.Stats
	merged.Add(model.RunStats{Errors: final.Errors})
	errJSON, err := marshalRunErrors(merged.Errors)
	if err != nil {
		return model.IngestionRun{}, fmt.Errorf("finish run %s: %w", runID, err)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE ingestion_runs SET
			status       = $2,
			ended_at     = $3,
			fetched      = fetched + $4,
			inserted     = inserted + $5,
			rejected     = rejected + $6,
			warned       = warned + $7,
			deduplicated = deduplicated + $8,
			errors       = $9
		WHERE run_id = $1 AND status = $10
	`, runID, string(to), time.Now().UnixMicro(),
		final.Fetched, final.Inserted, final.Rejected, final.Warned, final.Deduplicated,
		errJSON, string(model.RunRunning))
	if err != nil {
		return model.IngestionRun{}, fmt.Errorf("finish run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		refreshed, ferr := s.fetchRun(ctx, runID)
		if ferr != nil {
			return model.IngestionRun{}, ferr
		}
		return model.IngestionRun{}, &InvalidTransitionError{RunID: runID, From: refreshed.Status, To: to}
	}

	s.logger.Info("run finished", "run_id", runID, "status", string(to))
	return s.fetchRun(ctx, runID)
}

// MarkRolledBack records that the run's versions have been tombstoned.
func (s *Postgres) MarkRolledBack(ctx context.Context, runID string) (model.IngestionRun, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ingestion_runs SET status = $2
		WHERE run_id = $1 AND status = ANY($3)
	`, runID, string(model.RunRolledBack), []string{string(model.RunCompleted), string(model.RunFailed)})
	if err != nil {
		return model.IngestionRun{}, fmt.Errorf("mark run %s rolled back: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		current, ferr := s.fetchRun(ctx, runID)
		if ferr != nil {
			return model.IngestionRun{}, ferr
		}
		return model.IngestionRun{}, &InvalidTransitionError{RunID: runID, From: current.Status, To: model.RunRolledBack}
	}
	return s.fetchRun(ctx, runID)
}

// ListRuns returns matching runs, newest first.
func (s *Postgres) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error) {
	query, args := buildListQuery(filter)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collectRuns(rows)
}

// FindFaultyRuns returns completed runs exceeding the thresholds, newest
// first.
func (s *Postgres) FindFaultyRuns(ctx context.Context, thresholds FaultThresholds) ([]model.IngestionRun, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+runColumns+`
		FROM ingestion_runs
		WHERE status = $1 AND fetched > 0
			AND (rejected::DOUBLE PRECISION / fetched > $2
				OR warned::DOUBLE PRECISION / fetched > $3)
		ORDER BY started_at DESC, run_id DESC
	`, string(model.RunCompleted), thresholds.MaxRejectedRatio, thresholds.MaxWarnedRatio)
	if err != nil {
		return nil, fmt.Errorf("find faulty runs: %w", err)
	}
	return collectRuns(rows)
}

// Close releases the underlying pool.
func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}

func (s *Postgres) fetchRun(ctx context.Context, runID string) (model.IngestionRun, error) {
	row := s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM ingestion_runs WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.IngestionRun{}, &RunNotFoundError{RunID: runID}
	}
	if err != nil {
		return model.IngestionRun{}, fmt.Errorf("fetch run %s: %w", runID, err)
	}
	return run, nil
}

func buildListQuery(filter RunFilter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + runColumns + ` FROM ingestion_runs WHERE started_at >= $1`)
	args := []any{filter.From}

	if filter.To > 0 {
		args = append(args, filter.To)
		fmt.Fprintf(&sb, " AND started_at < $%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		fmt.Fprintf(&sb, " AND status = ANY($%d)", len(args))
	}
	if filter.Source != "" {
		args = append(args, filter.Source)
		fmt.Fprintf(&sb, " AND source = $%d", len(args))
	}
	sb.WriteString(" ORDER BY started_at DESC, run_id DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	return sb.String(), args
}

func collectRuns(rows pgx.Rows) ([]model.IngestionRun, error) {
	defer rows.Close()

	var out []model.IngestionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read run rows: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (model.IngestionRun, error) {
	var (
		run     model.IngestionRun
		tier    int16
		status  string
		errJSON []byte
	)
	if err := row.Scan(
		&run.RunID, &run.Source, &tier, &status, &run.StartedAt, &run.EndedAt, &run.ConfigHash,
		&run.Stats.Fetched, &run.Stats.Inserted, &run.Stats.Rejected, &run.Stats.Warned,
		&run.Stats.Deduplicated, &errJSON,
	); err != nil {
		return model.IngestionRun{}, err
	}
	run.Tier = model.SourceTier(tier)
	run.Status = model.RunStatus(status)

	if len(errJSON) > 0 {
		if err := json.Unmarshal(errJSON, &run.Stats.Errors); err != nil {
			return model.IngestionRun{}, fmt.Errorf("decode run errors: %w", err)
		}
	}
	return run, nil
}

func marshalRunErrors(errs []model.RunError) ([]byte, error) {
	if errs == nil {
		errs = []model.RunError{}
	}
	return json.Marshal(errs)
}
