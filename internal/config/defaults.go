package config

import (
	"time"

	"github.com/driftmarkets/candleledger/internal/validate"
)

// Default values for optional configuration fields.
const (
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 10
	DefaultMinConns        = 2
	DefaultStoreBackend    = "postgres"
	DefaultClickHouseAddr  = "localhost:9000"
	DefaultIngestPolicy    = validate.Lenient
	DefaultSweepInterval   = 15 * time.Minute
	DefaultSweepQuiescence = 1 * time.Hour
	DefaultSweepWindow     = 24 * time.Hour
	DefaultSweepLookback   = 30 * 24 * time.Hour
	DefaultCheckpointDir   = "checkpoints"
	DefaultMigrationWindow = 24 * time.Hour
	DefaultMetricsPort     = 9090
	DefaultMetricsPath     = "/metrics"
)

func (c *ServiceConfig) applyDefaults() {
	// Database defaults
	applyDBDefaults(&c.Database.Ledger)
	applyDBDefaults(&c.Database.Versions)

	// Store defaults
	if c.Store.Backend == "" {
		c.Store.Backend = DefaultStoreBackend
	}
	if c.Store.ClickHouse.Addr == "" {
		c.Store.ClickHouse.Addr = DefaultClickHouseAddr
	}

	// Ingest defaults
	if c.Ingest.Policy == "" {
		c.Ingest.Policy = DefaultIngestPolicy
	}

	// Sweeper defaults
	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = DefaultSweepInterval
	}
	if c.Sweeper.Quiescence == 0 {
		c.Sweeper.Quiescence = DefaultSweepQuiescence
	}
	if c.Sweeper.Window == 0 {
		c.Sweeper.Window = DefaultSweepWindow
	}
	if c.Sweeper.Lookback == 0 {
		c.Sweeper.Lookback = DefaultSweepLookback
	}

	// Migration defaults
	if c.Migration.CheckpointDir == "" {
		c.Migration.CheckpointDir = DefaultCheckpointDir
	}
	if c.Migration.Window == 0 {
		c.Migration.Window = DefaultMigrationWindow
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
