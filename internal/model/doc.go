// Package model defines shared data types used across candleledger.
//
// All types mirror the persisted schema managed by internal/store (candle
// versions) and internal/ledger (ingestion runs).
//
// Conventions:
//   - Timestamps: int64 microseconds since Unix epoch
//   - OHLCV fields: float64
//   - IDs: string (generated run and version IDs are UUIDs)
package model
