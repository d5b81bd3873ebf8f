// Package database provides connection management for PostgreSQL and
// ClickHouse.
//
// Each candleledger instance maintains:
//   - PostgreSQL: ingestion runs (relational data), plus candle versions
//     when the postgres store backend is selected
//   - ClickHouse: candle versions at analytical scale (optional backend)
package database
