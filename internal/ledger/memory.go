package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftmarkets/candleledger/internal/model"
)

// Memory is an in-process ledger. It is safe for concurrent use and returns
// copies, so callers can never mutate ledger state.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]model.IngestionRun
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{runs: make(map[string]model.IngestionRun)}
}

// StartRun registers a new run in Running state.
func (m *Memory) StartRun(ctx context.Context, manifest model.RunManifest) (model.IngestionRun, error) {
	runID := manifest.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[runID]; exists {
		return model.IngestionRun{}, &DuplicateRunError{RunID: runID}
	}

	run := model.IngestionRun{
		RunID:      runID,
		Source:     manifest.Source,
		Tier:       manifest.Tier,
		Status:     model.RunRunning,
		StartedAt:  time.Now().UnixMicro(),
		ConfigHash: manifest.ConfigHash(),
	}
	m.runs[runID] = run
	return cloneRun(run), nil
}

// GetRun returns a copy of the run.
func (m *Memory) GetRun(ctx context.Context, runID string) (model.IngestionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, exists := m.runs[runID]
	if !exists {
		return model.IngestionRun{}, &RunNotFoundError{RunID: runID}
	}
	return cloneRun(run), nil
}

// RecordStats folds a stats delta into a running run.
func (m *Memory) RecordStats(ctx context.Context, runID string, delta model.RunStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, exists := m.runs[runID]
	if !exists {
		return &RunNotFoundError{RunID: runID}
	}
	if run.Status != model.RunRunning {
		return &InvalidTransitionError{RunID: runID, From: run.Status, To: model.RunRunning}
	}

	run.Stats.Add(delta)
	m.runs[runID] = run
	return nil
}

// CompleteRun folds the final delta in and freezes the run as Completed.
func (m *Memory) CompleteRun(ctx context.Context, runID string, final model.RunStats) (model.IngestionRun, error) {
	return m.finish(runID, final, model.RunCompleted)
}

// FailRun folds the final delta in and freezes the run as Failed.
func (m *Memory) FailRun(ctx context.Context, runID string, final model.RunStats) (model.IngestionRun, error) {
	return m.finish(runID, final, model.RunFailed)
}

func (m *Memory) finish(runID string, final model.RunStats, to model.RunStatus) (model.IngestionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, exists := m.runs[runID]
	if !exists {
		return model.IngestionRun{}, &RunNotFoundError{RunID: runID}
	}
	if !canTransition(run.Status, to) {
		return model.IngestionRun{}, &InvalidTransitionError{RunID: runID, From: run.Status, To: to}
	}

	run.Stats.Add(final)
	run.Status = to
	run.EndedAt = time.Now().UnixMicro()
	m.runs[runID] = run
	return cloneRun(run), nil
}

// MarkRolledBack records that the run's versions have been tombstoned.
func (m *Memory) MarkRolledBack(ctx context.Context, runID string) (model.IngestionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, exists := m.runs[runID]
	if !exists {
		return model.IngestionRun{}, &RunNotFoundError{RunID: runID}
	}
	if !canTransition(run.Status, model.RunRolledBack) {
		return model.IngestionRun{}, &InvalidTransitionError{RunID: runID, From: run.Status, To: model.RunRolledBack}
	}

	run.Status = model.RunRolledBack
	m.runs[runID] = run
	return cloneRun(run), nil
}

// ListRuns returns matching runs, newest first.
func (m *Memory) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.IngestionRun
	for _, run := range m.runs {
		if filter.matches(run) {
			out = append(out, cloneRun(run))
		}
	}
	sortRunsNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// FindFaultyRuns returns completed runs exceeding the thresholds, newest
// first.
func (m *Memory) FindFaultyRuns(ctx context.Context, thresholds FaultThresholds) ([]model.IngestionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.IngestionRun
	for _, run := range m.runs {
		if faulty(run, thresholds) {
			out = append(out, cloneRun(run))
		}
	}
	sortRunsNewestFirst(out)
	return out, nil
}

// Close is a no-op for the in-memory ledger.
func (m *Memory) Close() error {
	return nil
}

func cloneRun(run model.IngestionRun) model.IngestionRun {
	out := run
	if len(run.Stats.Errors) > 0 {
		out.Stats.Errors = make([]model.RunError, len(run.Stats.Errors))
		copy(out.Stats.Errors, run.Stats.Errors)
	}
	return out
}

func sortRunsNewestFirst(runs []model.IngestionRun) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt != runs[j].StartedAt {
			return runs[i].StartedAt > runs[j].StartedAt
		}
		return runs[i].RunID > runs[j].RunID
	})
}
