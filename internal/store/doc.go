// Package store persists candle versions.
//
// The version table is append-only: re-ingesting a candle for an existing key
// writes a new version row, never an update. The only mutations permitted are
// the superseded tombstone flip (rollback) and physical pruning (compaction).
//
// Three backends implement VersionStore:
//   - Memory: mutex-guarded map, used in tests and single-process tooling
//   - Postgres: pgx batch inserts, duplicate version IDs dropped on conflict
//   - ClickHouse: native-protocol batch inserts, tombstones via mutations
//
// All backends return scan results in the same deterministic order, so
// higher layers behave identically regardless of backend.
package store
