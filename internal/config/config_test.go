package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftmarkets/candleledger/internal/validate"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-ledger
  az: us-east-1a
database:
  ledger:
    host: localhost
    port: 5432
    name: candle_ledger
    user: testuser
    password: testpass
  versions:
    host: localhost
    port: 5432
    name: candle_versions
    user: testuser
    password: testpass
store:
  backend: clickhouse
  clickhouse:
    addr: ch.example.com:9000
    database: candles
ingest:
  policy: strict
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-ledger" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-ledger")
	}
	if cfg.Database.Ledger.Host != "localhost" {
		t.Errorf("Database.Ledger.Host = %q, want %q", cfg.Database.Ledger.Host, "localhost")
	}
	if cfg.Store.Backend != "clickhouse" {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, "clickhouse")
	}
	if cfg.Store.ClickHouse.Addr != "ch.example.com:9000" {
		t.Errorf("Store.ClickHouse.Addr = %q, want %q", cfg.Store.ClickHouse.Addr, "ch.example.com:9000")
	}
	if cfg.Ingest.Policy != validate.Strict {
		t.Errorf("Ingest.Policy = %q, want %q", cfg.Ingest.Policy, validate.Strict)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-ledger
database:
  ledger:
    host: localhost
    name: candle_ledger
    user: testuser
    password: ${TEST_DB_PASSWORD}
  versions:
    host: localhost
    name: candle_versions
    user: testuser
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Ledger.Password != "secret123" {
		t.Errorf("Database.Ledger.Password = %q, want %q", cfg.Database.Ledger.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-ledger
database:
  ledger:
    host: localhost
    name: candle_ledger
    user: testuser
    password: testpass
  versions:
    host: localhost
    name: candle_versions
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Database.Ledger.Port != DefaultDBPort {
		t.Errorf("Database.Ledger.Port = %d, want default %d", cfg.Database.Ledger.Port, DefaultDBPort)
	}
	if cfg.Database.Ledger.MaxConns != DefaultMaxConns {
		t.Errorf("Database.Ledger.MaxConns = %d, want default %d", cfg.Database.Ledger.MaxConns, DefaultMaxConns)
	}
	if cfg.Store.Backend != DefaultStoreBackend {
		t.Errorf("Store.Backend = %q, want default %q", cfg.Store.Backend, DefaultStoreBackend)
	}
	if cfg.Ingest.Policy != DefaultIngestPolicy {
		t.Errorf("Ingest.Policy = %q, want default %q", cfg.Ingest.Policy, DefaultIngestPolicy)
	}
	if cfg.Sweeper.Interval != DefaultSweepInterval {
		t.Errorf("Sweeper.Interval = %v, want default %v", cfg.Sweeper.Interval, DefaultSweepInterval)
	}
	if cfg.Migration.Window != DefaultMigrationWindow {
		t.Errorf("Migration.Window = %v, want default %v", cfg.Migration.Window, DefaultMigrationWindow)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
}

func validConfig() ServiceConfig {
	return ServiceConfig{
		Instance: InstanceConfig{ID: "test"},
		Database: DatabaseConfig{
			Ledger:   DBConfig{Host: "localhost", Name: "ledger", User: "user", Password: "pass", MaxConns: 10, MinConns: 2},
			Versions: DBConfig{Host: "localhost", Name: "versions", User: "user", Password: "pass", MaxConns: 10, MinConns: 2},
		},
		Store:  StoreConfig{Backend: "postgres"},
		Ingest: IngestConfig{Policy: validate.Lenient},
		Sweeper: SweeperConfig{
			Interval:   15 * time.Minute,
			Quiescence: time.Hour,
			Window:     24 * time.Hour,
			Lookback:   30 * 24 * time.Hour,
		},
		Migration: MigrationConfig{CheckpointDir: "checkpoints", Window: 24 * time.Hour},
		Metrics:   MetricsConfig{Port: 9090, Path: "/metrics"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServiceConfig)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *ServiceConfig) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *ServiceConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing ledger host",
			mutate:  func(c *ServiceConfig) { c.Database.Ledger.Host = "" },
			wantErr: "database.ledger.host is required",
		},
		{
			name:    "missing versions password",
			mutate:  func(c *ServiceConfig) { c.Database.Versions.Password = "" },
			wantErr: "database.versions.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *ServiceConfig) {
				c.Database.Ledger.MaxConns = 5
				c.Database.Ledger.MinConns = 10
			},
			wantErr: "database.ledger.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *ServiceConfig) { c.Store.Backend = "rocksdb" },
			wantErr: `store.backend must be postgres or clickhouse, got "rocksdb"`,
		},
		{
			name: "clickhouse backend needs database",
			mutate: func(c *ServiceConfig) {
				c.Store.Backend = "clickhouse"
				c.Store.ClickHouse.Addr = "localhost:9000"
			},
			wantErr: "store.clickhouse.database is required",
		},
		{
			name:    "unknown policy",
			mutate:  func(c *ServiceConfig) { c.Ingest.Policy = "relaxed" },
			wantErr: `ingest.policy must be strict or lenient, got "relaxed"`,
		},
		{
			name: "lookback below window",
			mutate: func(c *ServiceConfig) {
				c.Sweeper.Window = 24 * time.Hour
				c.Sweeper.Lookback = time.Hour
			},
			wantErr: "sweeper.lookback must be >= sweeper.window",
		},
		{
			name:    "missing checkpoint dir",
			mutate:  func(c *ServiceConfig) { c.Migration.CheckpointDir = "" },
			wantErr: "migration.checkpoint_dir is required",
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *ServiceConfig) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
