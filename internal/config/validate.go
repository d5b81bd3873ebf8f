package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServiceConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Database.Ledger.validate("database.ledger"); err != nil {
		return err
	}

	switch c.Store.Backend {
	case "postgres":
		if err := c.Database.Versions.validate("database.versions"); err != nil {
			return err
		}
	case "clickhouse":
		if c.Store.ClickHouse.Addr == "" {
			return errors.New("store.clickhouse.addr is required")
		}
		if c.Store.ClickHouse.Database == "" {
			return errors.New("store.clickhouse.database is required")
		}
	default:
		return fmt.Errorf("store.backend must be postgres or clickhouse, got %q", c.Store.Backend)
	}

	if !c.Ingest.Policy.Valid() {
		return fmt.Errorf("ingest.policy must be strict or lenient, got %q", c.Ingest.Policy)
	}

	if c.Sweeper.Interval <= 0 {
		return errors.New("sweeper.interval must be positive")
	}
	if c.Sweeper.Quiescence <= 0 {
		return errors.New("sweeper.quiescence must be positive")
	}
	if c.Sweeper.Window <= 0 {
		return errors.New("sweeper.window must be positive")
	}
	if c.Sweeper.Lookback < c.Sweeper.Window {
		return errors.New("sweeper.lookback must be >= sweeper.window")
	}

	if c.Migration.CheckpointDir == "" {
		return errors.New("migration.checkpoint_dir is required")
	}
	if c.Migration.Window <= 0 {
		return errors.New("migration.window must be positive")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
