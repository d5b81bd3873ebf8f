package config

import (
	"time"

	"github.com/driftmarkets/candleledger/internal/validate"
)

// ServiceConfig is the root configuration for a candleledger instance.
type ServiceConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Database  DatabaseConfig  `yaml:"database"`
	Store     StoreConfig     `yaml:"store"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Migration MigrationConfig `yaml:"migration"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// DatabaseConfig holds the PostgreSQL connections. The run ledger always
// lives in Postgres; Versions is used only when store.backend is "postgres".
type DatabaseConfig struct {
	Ledger   DBConfig `yaml:"ledger"`
	Versions DBConfig `yaml:"versions"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// StoreConfig selects the candle version store backend.
type StoreConfig struct {
	Backend    string           `yaml:"backend"` // "postgres" or "clickhouse"
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// ClickHouseConfig holds the ClickHouse connection for the version store.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// IngestConfig holds write-path settings.
type IngestConfig struct {
	Policy validate.Policy `yaml:"policy"`
}

// SweeperConfig holds compaction sweeper settings.
type SweeperConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Quiescence time.Duration `yaml:"quiescence"`
	Window     time.Duration `yaml:"window"`
	Lookback   time.Duration `yaml:"lookback"`
}

// MigrationConfig holds batch migration settings.
type MigrationConfig struct {
	CheckpointDir string        `yaml:"checkpoint_dir"`
	Window        time.Duration `yaml:"window"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
