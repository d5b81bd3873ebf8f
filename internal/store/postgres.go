package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftmarkets/candleledger/internal/model"
)

// postgresSchema creates the version log. The partial index serves logical
// view reads, which only ever touch live rows.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS candle_versions (
	version_id    TEXT PRIMARY KEY,
	token         TEXT NOT NULL,
	chain         TEXT NOT NULL,
	open_ts       BIGINT NOT NULL,
	"interval"    TEXT NOT NULL,
	open          DOUBLE PRECISION NOT NULL,
	high          DOUBLE PRECISION NOT NULL,
	low           DOUBLE PRECISION NOT NULL,
	close         DOUBLE PRECISION NOT NULL,
	volume        DOUBLE PRECISION NOT NULL,
	quality_score INTEGER NOT NULL,
	tier          SMALLINT NOT NULL,
	run_id        TEXT NOT NULL,
	ingested_at   BIGINT NOT NULL,
	superseded    BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_candle_versions_live_key
	ON candle_versions (chain, token, "interval", open_ts)
	WHERE NOT superseded;

CREATE INDEX IF NOT EXISTS idx_candle_versions_run
	ON candle_versions (run_id);

CREATE INDEX IF NOT EXISTS idx_candle_versions_open_ts
	ON candle_versions (open_ts);
`

const versionColumns = `version_id, token, chain, open_ts, "interval", open, high, low, close, volume, quality_score, tier, run_id, ingested_at, superseded`

// Postgres stores candle versions in a PostgreSQL table.
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

// EnsureSchema creates the version table and indexes if missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create candle_versions schema: %w", err)
	}
	return nil
}

// Append inserts versions using a single batched round trip. Version IDs that
// already exist are dropped by ON CONFLICT, so redelivery cannot double-write.
func (s *Postgres) Append(ctx context.Context, versions []model.CandleVersion) (int64, error) {
	if len(versions) == 0 {
		return 0, nil
	}

	start := time.Now()

	batch := &pgx.Batch{}
	for _, v := range versions {
		batch.Queue(`
			INSERT INTO candle_versions (`+versionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (version_id) DO NOTHING
		`, v.VersionID, v.Token, v.Chain, v.OpenTS, v.Interval,
			v.Open, v.High, v.Low, v.Close, v.Volume,
			v.QualityScore, int16(v.Tier), v.RunID, v.IngestedAt, v.Superseded)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range versions {
		ct, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("append candle versions: %w", err)
		}
		inserted += ct.RowsAffected()
	}

	s.logger.Debug("appended candle versions",
		"count", len(versions),
		"inserted", inserted,
		"duration", time.Since(start),
	)
	return inserted, nil
}

// Scan returns versions matching r in deterministic order.
func (s *Postgres) Scan(ctx context.Context, r ScanRange) ([]model.CandleVersion, error) {
	query, args := buildScanQuery(r)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan candle versions: %w", err)
	}
	return collectVersions(rows)
}

// ScanRun returns every version written by the run, superseded included.
func (s *Postgres) ScanRun(ctx context.Context, runID string) ([]model.CandleVersion, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+versionColumns+`
		FROM candle_versions
		WHERE run_id = $1
		ORDER BY open_ts, chain, token, "interval", ingested_at, version_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("scan run %s: %w", runID, err)
	}
	return collectVersions(rows)
}

// SupersedeRun tombstones all live versions of the run.
func (s *Postgres) SupersedeRun(ctx context.Context, runID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE candle_versions SET superseded = TRUE
		WHERE run_id = $1 AND NOT superseded
	`, runID)
	if err != nil {
		return 0, fmt.Errorf("supersede run %s: %w", runID, err)
	}
	return tag.RowsAffected(), nil
}

// Prune physically removes the given versions.
func (s *Postgres) Prune(ctx context.Context, versionIDs []string) (int64, error) {
	if len(versionIDs) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM candle_versions WHERE version_id = ANY($1)`, versionIDs)
	if err != nil {
		return 0, fmt.Errorf("prune candle versions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the underlying pool.
func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}

// buildScanQuery translates a ScanRange into SQL. Conditions are appended in
// a fixed order so the query text is stable for a given range shape.
func buildScanQuery(r ScanRange) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + versionColumns + ` FROM candle_versions WHERE open_ts >= $1`)
	args := []any{r.FromTS}

	if r.ToTS > 0 {
		args = append(args, r.ToTS)
		fmt.Fprintf(&sb, " AND open_ts < $%d", len(args))
	}
	if r.Token != "" {
		args = append(args, r.Token)
		fmt.Fprintf(&sb, " AND token = $%d", len(args))
	}
	if r.Chain != "" {
		args = append(args, r.Chain)
		fmt.Fprintf(&sb, " AND chain = $%d", len(args))
	}
	if r.Interval != "" {
		args = append(args, r.Interval)
		fmt.Fprintf(&sb, ` AND "interval" = $%d`, len(args))
	}
	if !r.IncludeSuperseded {
		sb.WriteString(" AND NOT superseded")
	}
	sb.WriteString(` ORDER BY open_ts, chain, token, "interval", ingested_at, version_id`)
	return sb.String(), args
}

// collectVersions drains pgx rows into versions.
func collectVersions(rows pgx.Rows) ([]model.CandleVersion, error) {
	defer rows.Close()

	var out []model.CandleVersion
	for rows.Next() {
		var v model.CandleVersion
		var tier int16
		if err := rows.Scan(
			&v.VersionID, &v.Token, &v.Chain, &v.OpenTS, &v.Interval,
			&v.Open, &v.High, &v.Low, &v.Close, &v.Volume,
			&v.QualityScore, &tier, &v.RunID, &v.IngestedAt, &v.Superseded,
		); err != nil {
			return nil, fmt.Errorf("scan candle version row: %w", err)
		}
		v.Tier = model.SourceTier(tier)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read candle version rows: %w", err)
	}
	return out, nil
}
