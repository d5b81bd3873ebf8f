package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/driftmarkets/candleledger/internal/model"
)

func startRun(t *testing.T, m *Memory, id, source string) model.IngestionRun {
	t.Helper()
	run, err := m.StartRun(context.Background(), model.RunManifest{
		RunID:  id,
		Source: source,
		Tier:   model.TierBackfill,
	})
	if err != nil {
		t.Fatalf("StartRun(%s) error = %v", id, err)
	}
	return run
}

func TestStartRun(t *testing.T) {
	m := NewMemory()
	run := startRun(t, m, "run-a", "dexscreener")

	if run.Status != model.RunRunning {
		t.Errorf("Status = %s, want %s", run.Status, model.RunRunning)
	}
	if run.StartedAt == 0 {
		t.Error("StartedAt = 0, want set")
	}
	if run.ConfigHash == "" {
		t.Error("ConfigHash empty")
	}

	// Same ID again is refused.
	_, err := m.StartRun(context.Background(), model.RunManifest{RunID: "run-a", Source: "other"})
	var dup *DuplicateRunError
	if !errors.As(err, &dup) {
		t.Fatalf("duplicate StartRun error = %v, want DuplicateRunError", err)
	}
	if dup.RunID != "run-a" {
		t.Errorf("DuplicateRunError.RunID = %s, want run-a", dup.RunID)
	}
}

func TestStartRunGeneratesID(t *testing.T) {
	m := NewMemory()
	run := startRun(t, m, "", "dexscreener")
	if run.RunID == "" {
		t.Error("RunID empty, want generated")
	}
}

func TestGetRunNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.GetRun(context.Background(), "ghost")
	var notFound *RunNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("GetRun error = %v, want RunNotFoundError", err)
	}
}

func TestRecordStatsAccumulates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	startRun(t, m, "run-a", "dexscreener")

	if err := m.RecordStats(ctx, "run-a", model.RunStats{Fetched: 10, Inserted: 8, Rejected: 2,
		Errors: []model.RunError{{Message: "negative volume", Count: 2}}}); err != nil {
		t.Fatalf("RecordStats() error = %v", err)
	}
	if err := m.RecordStats(ctx, "run-a", model.RunStats{Fetched: 5, Inserted: 5,
		Errors: []model.RunError{{Message: "negative volume", Count: 1}}}); err != nil {
		t.Fatalf("RecordStats() error = %v", err)
	}

	run, err := m.GetRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Stats.Fetched != 15 || run.Stats.Inserted != 13 || run.Stats.Rejected != 2 {
		t.Errorf("stats = %+v, want fetched 15, inserted 13, rejected 2", run.Stats)
	}
	if len(run.Stats.Errors) != 1 || run.Stats.Errors[0].Count != 3 {
		t.Errorf("errors = %+v, want one entry with count 3", run.Stats.Errors)
	}
}

func TestCompleteRunFoldsFinalStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	startRun(t, m, "run-a", "dexscreener")

	if err := m.RecordStats(ctx, "run-a", model.RunStats{Fetched: 10, Inserted: 10}); err != nil {
		t.Fatalf("RecordStats() error = %v", err)
	}

	run, err := m.CompleteRun(ctx, "run-a", model.RunStats{Fetched: 2, Inserted: 1, Rejected: 1})
	if err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}
	if run.Status != model.RunCompleted {
		t.Errorf("Status = %s, want %s", run.Status, model.RunCompleted)
	}
	if run.EndedAt == 0 {
		t.Error("EndedAt = 0, want set")
	}
	if run.Stats.Fetched != 12 || run.Stats.Inserted != 11 || run.Stats.Rejected != 1 {
		t.Errorf("stats = %+v, want fetched 12, inserted 11, rejected 1", run.Stats)
	}

	// Stats are frozen after the terminal transition.
	err = m.RecordStats(ctx, "run-a", model.RunStats{Fetched: 1})
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("RecordStats after completion error = %v, want InvalidTransitionError", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("completed run cannot complete again", func(t *testing.T) {
		m := NewMemory()
		startRun(t, m, "run-a", "s")
		if _, err := m.CompleteRun(ctx, "run-a", model.RunStats{}); err != nil {
			t.Fatalf("CompleteRun() error = %v", err)
		}
		_, err := m.CompleteRun(ctx, "run-a", model.RunStats{})
		var invalid *InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Fatalf("error = %v, want InvalidTransitionError", err)
		}
		if invalid.From != model.RunCompleted || invalid.To != model.RunCompleted {
			t.Errorf("transition = %s -> %s, want completed -> completed", invalid.From, invalid.To)
		}
	})

	t.Run("failed run can roll back", func(t *testing.T) {
		m := NewMemory()
		startRun(t, m, "run-a", "s")
		if _, err := m.FailRun(ctx, "run-a", model.RunStats{}); err != nil {
			t.Fatalf("FailRun() error = %v", err)
		}
		run, err := m.MarkRolledBack(ctx, "run-a")
		if err != nil {
			t.Fatalf("MarkRolledBack() error = %v", err)
		}
		if run.Status != model.RunRolledBack {
			t.Errorf("Status = %s, want %s", run.Status, model.RunRolledBack)
		}
	})

	t.Run("running run cannot roll back", func(t *testing.T) {
		m := NewMemory()
		startRun(t, m, "run-a", "s")
		_, err := m.MarkRolledBack(ctx, "run-a")
		var invalid *InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Fatalf("error = %v, want InvalidTransitionError", err)
		}
	})

	t.Run("rolled back run is final", func(t *testing.T) {
		m := NewMemory()
		startRun(t, m, "run-a", "s")
		if _, err := m.CompleteRun(ctx, "run-a", model.RunStats{}); err != nil {
			t.Fatalf("CompleteRun() error = %v", err)
		}
		if _, err := m.MarkRolledBack(ctx, "run-a"); err != nil {
			t.Fatalf("MarkRolledBack() error = %v", err)
		}
		if _, err := m.MarkRolledBack(ctx, "run-a"); err == nil {
			t.Error("second MarkRolledBack did not fail")
		}
	})
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	startRun(t, m, "run-a", "dexscreener")
	startRun(t, m, "run-b", "dexscreener")
	startRun(t, m, "run-c", "coingecko")
	if _, err := m.CompleteRun(ctx, "run-a", model.RunStats{}); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	completed, err := m.ListRuns(ctx, RunFilter{Statuses: []model.RunStatus{model.RunCompleted}})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(completed) != 1 || completed[0].RunID != "run-a" {
		t.Errorf("completed runs = %v, want [run-a]", completed)
	}

	bySource, err := m.ListRuns(ctx, RunFilter{Source: "dexscreener"})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(bySource) != 2 {
		t.Errorf("dexscreener runs = %d, want 2", len(bySource))
	}

	limited, err := m.ListRuns(ctx, RunFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited runs = %d, want 2", len(limited))
	}
}

func TestFindFaultyRuns(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	// 30% rejected.
	startRun(t, m, "run-bad", "s")
	if _, err := m.CompleteRun(ctx, "run-bad", model.RunStats{Fetched: 10, Inserted: 7, Rejected: 3}); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	// Clean.
	startRun(t, m, "run-good", "s")
	if _, err := m.CompleteRun(ctx, "run-good", model.RunStats{Fetched: 10, Inserted: 10}); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	// Worse than run-bad, but still running so not eligible.
	startRun(t, m, "run-open", "s")
	if err := m.RecordStats(ctx, "run-open", model.RunStats{Fetched: 10, Rejected: 9}); err != nil {
		t.Fatalf("RecordStats() error = %v", err)
	}

	faulty, err := m.FindFaultyRuns(ctx, FaultThresholds{MaxRejectedRatio: 0.2, MaxWarnedRatio: 1})
	if err != nil {
		t.Fatalf("FindFaultyRuns() error = %v", err)
	}
	if len(faulty) != 1 || faulty[0].RunID != "run-bad" {
		t.Errorf("faulty runs = %v, want [run-bad]", faulty)
	}

	// At exactly the threshold nothing is flagged.
	faulty, err = m.FindFaultyRuns(ctx, FaultThresholds{MaxRejectedRatio: 0.3, MaxWarnedRatio: 1})
	if err != nil {
		t.Fatalf("FindFaultyRuns() error = %v", err)
	}
	if len(faulty) != 0 {
		t.Errorf("faulty runs = %v, want none at threshold", faulty)
	}
}
