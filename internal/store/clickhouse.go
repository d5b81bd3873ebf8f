package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/driftmarkets/candleledger/internal/model"
)

// clickhouseSchema uses a plain MergeTree. ReplacingMergeTree would collapse
// versions of a key in the background, which is exactly what this table must
// not do: every version stays visible until compaction prunes it.
const clickhouseSchema = `
CREATE TABLE IF NOT EXISTS candle_versions (
	version_id    String CODEC(ZSTD(1)),
	token         String CODEC(ZSTD(1)),
	chain         LowCardinality(String),
	"interval"    LowCardinality(String),
	open_ts       Int64 CODEC(DoubleDelta, LZ4),
	open          Float64 CODEC(Gorilla, LZ4),
	high          Float64 CODEC(Gorilla, LZ4),
	low           Float64 CODEC(Gorilla, LZ4),
	close         Float64 CODEC(Gorilla, LZ4),
	volume        Float64 CODEC(Gorilla, LZ4),
	quality_score Int32 CODEC(Delta, ZSTD(1)),
	tier          Int8,
	run_id        String CODEC(ZSTD(1)),
	ingested_at   Int64 CODEC(DoubleDelta, LZ4),
	superseded    Bool
) ENGINE = MergeTree
ORDER BY (chain, token, "interval", open_ts, version_id)
`

const chVersionColumns = `version_id, token, chain, "interval", open_ts, open, high, low, close, volume, quality_score, tier, run_id, ingested_at, superseded`

// ClickHouse stores candle versions in a ClickHouse table over the native
// protocol. Tombstoning and pruning run as synchronous mutations, so they are
// slower than on Postgres but remain correct; ClickHouse suits deployments
// where scan-heavy audit queries dominate.
//
// ClickHouse has no unique key enforcement, so unlike the Postgres backend a
// redelivered version ID is written again. Resolution is unaffected because
// duplicate versions compare equal on every component except identity.
type ClickHouse struct {
	conn   driver.Conn
	logger *slog.Logger
}

// NewClickHouse wraps an existing native connection.
func NewClickHouse(conn driver.Conn, logger *slog.Logger) *ClickHouse {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClickHouse{conn: conn, logger: logger}
}

// EnsureSchema creates the version table if missing.
func (s *ClickHouse) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, clickhouseSchema); err != nil {
		return fmt.Errorf("create candle_versions schema: %w", err)
	}
	return nil
}

// Append inserts versions in a single native batch.
func (s *ClickHouse) Append(ctx context.Context, versions []model.CandleVersion) (int64, error) {
	if len(versions) == 0 {
		return 0, nil
	}

	start := time.Now()

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO candle_versions (`+chVersionColumns+`) VALUES`)
	if err != nil {
		return 0, fmt.Errorf("prepare candle version batch: %w", err)
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, v := range versions {
		if v.VersionID == "" {
			return 0, fmt.Errorf("append candle version for %s: missing version ID", v.CandleKey)
		}
		if err := batch.Append(
			v.VersionID, v.Token, v.Chain, v.Interval, v.OpenTS,
			v.Open, v.High, v.Low, v.Close, v.Volume,
			int32(v.QualityScore), int8(v.Tier), v.RunID, v.IngestedAt, v.Superseded,
		); err != nil {
			return 0, fmt.Errorf("append candle version for %s: %w", v.CandleKey, err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send candle version batch: %w", err)
	}

	s.logger.Debug("appended candle versions",
		"count", len(versions),
		"duration", time.Since(start),
	)
	return int64(len(versions)), nil
}

// Scan returns versions matching r in deterministic order.
func (s *ClickHouse) Scan(ctx context.Context, r ScanRange) ([]model.CandleVersion, error) {
	query, args := buildNativeScanQuery(r)
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan candle versions: %w", err)
	}
	return collectNativeVersions(rows)
}

// ScanRun returns every version written by the run, superseded included.
func (s *ClickHouse) ScanRun(ctx context.Context, runID string) ([]model.CandleVersion, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+chVersionColumns+`
		FROM candle_versions
		WHERE run_id = ?
		ORDER BY open_ts, chain, token, "interval", ingested_at, version_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("scan run %s: %w", runID, err)
	}
	return collectNativeVersions(rows)
}

// SupersedeRun tombstones all live versions of the run. The affected count is
// read before the mutation because ClickHouse mutations do not report one.
func (s *ClickHouse) SupersedeRun(ctx context.Context, runID string) (int64, error) {
	var live uint64
	row := s.conn.QueryRow(ctx, `
		SELECT count() FROM candle_versions
		WHERE run_id = ? AND superseded = false
	`, runID)
	if err := row.Scan(&live); err != nil {
		return 0, fmt.Errorf("count live versions of run %s: %w", runID, err)
	}
	if live == 0 {
		return 0, nil
	}

	err := s.conn.Exec(ctx, `
		ALTER TABLE candle_versions
		UPDATE superseded = true
		WHERE run_id = ? AND superseded = false
		SETTINGS mutations_sync = 1
	`, runID)
	if err != nil {
		return 0, fmt.Errorf("supersede run %s: %w", runID, err)
	}
	return int64(live), nil
}

// Prune physically removes the given versions.
func (s *ClickHouse) Prune(ctx context.Context, versionIDs []string) (int64, error) {
	if len(versionIDs) == 0 {
		return 0, nil
	}

	var present uint64
	row := s.conn.QueryRow(ctx, `
		SELECT count() FROM candle_versions WHERE has(?, version_id)
	`, versionIDs)
	if err := row.Scan(&present); err != nil {
		return 0, fmt.Errorf("count prunable versions: %w", err)
	}
	if present == 0 {
		return 0, nil
	}

	err := s.conn.Exec(ctx, `
		ALTER TABLE candle_versions
		DELETE WHERE has(?, version_id)
		SETTINGS mutations_sync = 1
	`, versionIDs)
	if err != nil {
		return 0, fmt.Errorf("prune candle versions: %w", err)
	}
	return int64(present), nil
}

// Close terminates the native connection.
func (s *ClickHouse) Close() error {
	return s.conn.Close()
}

func buildNativeScanQuery(r ScanRange) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + chVersionColumns + ` FROM candle_versions WHERE open_ts >= ?`)
	args := []any{r.FromTS}

	if r.ToTS > 0 {
		sb.WriteString(" AND open_ts < ?")
		args = append(args, r.ToTS)
	}
	if r.Token != "" {
		sb.WriteString(" AND token = ?")
		args = append(args, r.Token)
	}
	if r.Chain != "" {
		sb.WriteString(" AND chain = ?")
		args = append(args, r.Chain)
	}
	if r.Interval != "" {
		sb.WriteString(` AND "interval" = ?`)
		args = append(args, r.Interval)
	}
	if !r.IncludeSuperseded {
		sb.WriteString(" AND superseded = false")
	}
	sb.WriteString(` ORDER BY open_ts, chain, token, "interval", ingested_at, version_id`)
	return sb.String(), args
}

func collectNativeVersions(rows driver.Rows) ([]model.CandleVersion, error) {
	defer rows.Close()

	var out []model.CandleVersion
	for rows.Next() {
		var (
			v     model.CandleVersion
			score int32
			tier  int8
		)
		if err := rows.Scan(
			&v.VersionID, &v.Token, &v.Chain, &v.Interval, &v.OpenTS,
			&v.Open, &v.High, &v.Low, &v.Close, &v.Volume,
			&score, &tier, &v.RunID, &v.IngestedAt, &v.Superseded,
		); err != nil {
			return nil, fmt.Errorf("scan candle version row: %w", err)
		}
		v.QualityScore = int(score)
		v.Tier = model.SourceTier(tier)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read candle version rows: %w", err)
	}
	return out, nil
}
