package database

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftmarkets/candleledger/internal/config"
)

// Pools holds the PostgreSQL connections for a candleledger instance.
type Pools struct {
	// Ledger holds ingestion runs (relational data).
	Ledger *pgxpool.Pool

	// Versions holds candle versions (time-series data).
	Versions *pgxpool.Pool
}

// NewPools creates connection pools for both databases.
func NewPools(ctx context.Context, cfg config.DatabaseConfig) (*Pools, error) {
	ledger, err := Connect(ctx, cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("connect ledger: %w", err)
	}

	versions, err := Connect(ctx, cfg.Versions)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("connect versions: %w", err)
	}

	return &Pools{
		Ledger:   ledger,
		Versions: versions,
	}, nil
}

// Connect creates a single connection pool.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// ConnectClickHouse opens a native ClickHouse connection for the version
// store backend.
func ConnectClickHouse(ctx context.Context, cfg config.ClickHouseConfig) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return conn, nil
}

// Close closes both connection pools.
func (p *Pools) Close() {
	if p.Ledger != nil {
		p.Ledger.Close()
	}
	if p.Versions != nil {
		p.Versions.Close()
	}
}

// Ping verifies both connections are healthy.
func (p *Pools) Ping(ctx context.Context) error {
	if err := p.Ledger.Ping(ctx); err != nil {
		return fmt.Errorf("ping ledger: %w", err)
	}
	if err := p.Versions.Ping(ctx); err != nil {
		return fmt.Errorf("ping versions: %w", err)
	}
	return nil
}
