// Package rollback disowns everything an ingestion run wrote.
//
// Rollback tombstones the run's versions instead of deleting them, so the
// audit trail survives and the logical view falls back to the next-best
// version per key. The operation is idempotent at the store level: if the
// ledger update fails after tombstoning, a retry flips nothing new and
// completes the run transition.
package rollback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/driftmarkets/candleledger/internal/dedup"
	"github.com/driftmarkets/candleledger/internal/ledger"
	"github.com/driftmarkets/candleledger/internal/model"
	"github.com/driftmarkets/candleledger/internal/store"
)

// Manager coordinates rollbacks across the ledger, the version store and the
// resolution engine.
type Manager struct {
	ledger ledger.Store
	store  store.VersionStore
	engine *dedup.Engine
	logger *slog.Logger
}

// NewManager creates a rollback manager.
func NewManager(l ledger.Store, vs store.VersionStore, engine *dedup.Engine, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{ledger: l, store: vs, engine: engine, logger: logger}
}

// Rollback tombstones every version the run wrote and transitions the run to
// RolledBack. Versions from other runs are never touched. The report counts
// tombstoned versions and the keys whose visible candle changed.
func (m *Manager) Rollback(ctx context.Context, runID string) (model.RollbackReport, error) {
	run, err := m.ledger.GetRun(ctx, runID)
	if err != nil {
		return model.RollbackReport{}, err
	}
	switch run.Status {
	case model.RunRolledBack:
		return model.RollbackReport{}, &AlreadyRolledBackError{RunID: runID}
	case model.RunCompleted, model.RunFailed:
		// Eligible.
	default:
		return model.RollbackReport{}, &RunActiveError{RunID: runID, Status: run.Status}
	}

	versions, err := m.store.ScanRun(ctx, runID)
	if err != nil {
		return model.RollbackReport{}, fmt.Errorf("rollback run %s: %w", runID, err)
	}

	// Only keys where the run still holds a live version can change.
	keySet := make(map[model.CandleKey]struct{})
	for _, v := range versions {
		if !v.Superseded {
			keySet[v.CandleKey] = struct{}{}
		}
	}
	keys := make([]model.CandleKey, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}

	before, err := m.engine.ResolveKeys(ctx, keys)
	if err != nil {
		return model.RollbackReport{}, fmt.Errorf("rollback run %s: resolve before: %w", runID, err)
	}

	flipped, err := m.store.SupersedeRun(ctx, runID)
	if err != nil {
		return model.RollbackReport{}, fmt.Errorf("rollback run %s: %w", runID, err)
	}

	after, err := m.engine.ResolveKeys(ctx, keys)
	if err != nil {
		return model.RollbackReport{}, fmt.Errorf("rollback run %s: resolve after: %w", runID, err)
	}

	var changed int64
	for _, key := range keys {
		b, hadBefore := before[key]
		a, hasAfter := after[key]
		if hadBefore != hasAfter || (hadBefore && b.VersionID != a.VersionID) {
			changed++
		}
	}

	if _, err := m.ledger.MarkRolledBack(ctx, runID); err != nil {
		// Versions are tombstoned but the ledger still says Completed or
		// Failed; a retried Rollback finishes the transition.
		return model.RollbackReport{}, fmt.Errorf("rollback run %s: mark ledger: %w", runID, err)
	}

	report := model.RollbackReport{
		RunID:              runID,
		VersionsSuperseded: flipped,
		KeysChanged:        changed,
	}
	m.logger.Info("run rolled back",
		"run_id", runID,
		"versions_superseded", report.VersionsSuperseded,
		"keys_changed", report.KeysChanged,
	)
	return report, nil
}
