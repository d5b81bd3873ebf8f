package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/driftmarkets/candleledger/internal/model"
)

// Memory is an in-process VersionStore and Pruner. It is safe for concurrent
// use and returns copies, so callers can never mutate stored state.
type Memory struct {
	mu       sync.RWMutex
	versions map[string]model.CandleVersion // keyed by version ID
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{versions: make(map[string]model.CandleVersion)}
}

// Append writes versions, skipping IDs that already exist.
func (m *Memory) Append(ctx context.Context, versions []model.CandleVersion) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var inserted int64
	for _, v := range versions {
		if v.VersionID == "" {
			return inserted, fmt.Errorf("append candle version for %s: missing version ID", v.CandleKey)
		}
		if _, exists := m.versions[v.VersionID]; exists {
			continue
		}
		m.versions[v.VersionID] = v
		inserted++
	}
	return inserted, nil
}

// Scan returns all versions matching r in deterministic order.
func (m *Memory) Scan(ctx context.Context, r ScanRange) ([]model.CandleVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.CandleVersion
	for _, v := range m.versions {
		if r.Matches(v) {
			out = append(out, v)
		}
	}
	sortVersions(out)
	return out, nil
}

// ScanRun returns every version written by the run, superseded included.
func (m *Memory) ScanRun(ctx context.Context, runID string) ([]model.CandleVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.CandleVersion
	for _, v := range m.versions {
		if v.RunID == runID {
			out = append(out, v)
		}
	}
	sortVersions(out)
	return out, nil
}

// SupersedeRun tombstones all live versions of the run.
func (m *Memory) SupersedeRun(ctx context.Context, runID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var flipped int64
	for id, v := range m.versions {
		if v.RunID == runID && !v.Superseded {
			v.Superseded = true
			m.versions[id] = v
			flipped++
		}
	}
	return flipped, nil
}

// Prune physically removes the given versions.
func (m *Memory) Prune(ctx context.Context, versionIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for _, id := range versionIDs {
		if _, exists := m.versions[id]; exists {
			delete(m.versions, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many versions the store holds.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.versions)
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}
