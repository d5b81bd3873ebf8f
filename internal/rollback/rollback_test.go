package rollback

import (
	"context"
	"errors"
	"testing"

	"github.com/driftmarkets/candleledger/internal/dedup"
	"github.com/driftmarkets/candleledger/internal/ledger"
	"github.com/driftmarkets/candleledger/internal/model"
	"github.com/driftmarkets/candleledger/internal/store"
)

type fixture struct {
	ledger  *ledger.Memory
	store   *store.Memory
	engine  *dedup.Engine
	manager *Manager
}

func newFixture() *fixture {
	l := ledger.NewMemory()
	s := store.NewMemory()
	e := dedup.NewEngine(s, nil)
	return &fixture{ledger: l, store: s, engine: e, manager: NewManager(l, s, e, nil)}
}

func (f *fixture) completedRun(t *testing.T, runID string, versions ...model.CandleVersion) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.ledger.StartRun(ctx, model.RunManifest{RunID: runID, Source: "test"}); err != nil {
		t.Fatalf("StartRun(%s) error = %v", runID, err)
	}
	if _, err := f.store.Append(ctx, versions); err != nil {
		t.Fatalf("Append(%s) error = %v", runID, err)
	}
	if _, err := f.ledger.CompleteRun(ctx, runID, model.RunStats{}); err != nil {
		t.Fatalf("CompleteRun(%s) error = %v", runID, err)
	}
}

func candleVersion(id, runID string, key model.CandleKey, score int, ingestedAt int64) model.CandleVersion {
	return model.CandleVersion{
		VersionID:    id,
		CandleKey:    key,
		Candle:       model.Candle{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
		QualityScore: score,
		Tier:         model.TierBackfill,
		RunID:        runID,
		IngestedAt:   ingestedAt,
	}
}

func TestRollbackLeavesOtherRunsVisible(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	k1 := model.CandleKey{Token: "0xabc", Chain: "ethereum", OpenTS: 1000, Interval: "1m"}
	k2 := model.CandleKey{Token: "0xabc", Chain: "ethereum", OpenTS: 2000, Interval: "1m"}

	// run-a holds the loser for k1 and the only version for k2; run-b holds
	// the winner for k1.
	f.completedRun(t, "run-a",
		candleVersion("v1", "run-a", k1, 25, 1),
		candleVersion("v2", "run-a", k2, 120, 1),
	)
	f.completedRun(t, "run-b",
		candleVersion("v3", "run-b", k1, 120, 2),
	)

	report, err := f.manager.Rollback(ctx, "run-a")
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if report.VersionsSuperseded != 2 {
		t.Errorf("VersionsSuperseded = %d, want 2", report.VersionsSuperseded)
	}
	// k1's winner came from run-b, so only k2 changes.
	if report.KeysChanged != 1 {
		t.Errorf("KeysChanged = %d, want 1", report.KeysChanged)
	}

	winner, found, err := f.engine.Resolve(ctx, k1)
	if err != nil || !found {
		t.Fatalf("Resolve(k1) = (found %v, err %v), want winner", found, err)
	}
	if winner.VersionID != "v3" {
		t.Errorf("k1 winner = %s, want v3", winner.VersionID)
	}

	if _, found, err := f.engine.Resolve(ctx, k2); err != nil || found {
		t.Errorf("Resolve(k2) = (found %v, err %v), want no data", found, err)
	}

	run, err := f.ledger.GetRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != model.RunRolledBack {
		t.Errorf("run status = %s, want %s", run.Status, model.RunRolledBack)
	}
}

func TestRollbackFallsBackToNextBest(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	key := model.CandleKey{Token: "0xabc", Chain: "ethereum", OpenTS: 3000, Interval: "1m"}
	f.completedRun(t, "run-b", candleVersion("v1", "run-b", key, 110, 1))
	f.completedRun(t, "run-a", candleVersion("v2", "run-a", key, 125, 2))

	// run-a currently wins.
	winner, _, err := f.engine.Resolve(ctx, key)
	if err != nil || winner.VersionID != "v2" {
		t.Fatalf("pre-rollback winner = %s (err %v), want v2", winner.VersionID, err)
	}

	report, err := f.manager.Rollback(ctx, "run-a")
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if report.KeysChanged != 1 {
		t.Errorf("KeysChanged = %d, want 1", report.KeysChanged)
	}

	winner, found, err := f.engine.Resolve(ctx, key)
	if err != nil || !found {
		t.Fatalf("Resolve() = (found %v, err %v), want winner", found, err)
	}
	if winner.VersionID != "v1" {
		t.Errorf("winner after rollback = %s, want v1", winner.VersionID)
	}
}

func TestRollbackActiveRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	if _, err := f.ledger.StartRun(ctx, model.RunManifest{RunID: "run-a", Source: "test"}); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	_, err := f.manager.Rollback(ctx, "run-a")
	var active *RunActiveError
	if !errors.As(err, &active) {
		t.Fatalf("Rollback() error = %v, want RunActiveError", err)
	}
	if active.Status != model.RunRunning {
		t.Errorf("Status = %s, want %s", active.Status, model.RunRunning)
	}
}

func TestRollbackTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	key := model.CandleKey{Token: "0xabc", Chain: "ethereum", OpenTS: 1000, Interval: "1m"}
	f.completedRun(t, "run-a", candleVersion("v1", "run-a", key, 100, 1))

	if _, err := f.manager.Rollback(ctx, "run-a"); err != nil {
		t.Fatalf("first Rollback() error = %v", err)
	}

	_, err := f.manager.Rollback(ctx, "run-a")
	var already *AlreadyRolledBackError
	if !errors.As(err, &already) {
		t.Fatalf("second Rollback() error = %v, want AlreadyRolledBackError", err)
	}
}

func TestRollbackUnknownRun(t *testing.T) {
	f := newFixture()
	_, err := f.manager.Rollback(context.Background(), "ghost")
	var notFound *ledger.RunNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Rollback() error = %v, want RunNotFoundError", err)
	}
}

func TestRollbackEmptyRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.completedRun(t, "run-a")

	report, err := f.manager.Rollback(ctx, "run-a")
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if report.VersionsSuperseded != 0 || report.KeysChanged != 0 {
		t.Errorf("report = %+v, want zeros", report)
	}

	run, err := f.ledger.GetRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != model.RunRolledBack {
		t.Errorf("status = %s, want %s", run.Status, model.RunRolledBack)
	}
}

func TestRollbackFailedRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	key := model.CandleKey{Token: "0xabc", Chain: "ethereum", OpenTS: 1000, Interval: "1m"}

	if _, err := f.ledger.StartRun(ctx, model.RunManifest{RunID: "run-a", Source: "test"}); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if _, err := f.store.Append(ctx, []model.CandleVersion{candleVersion("v1", "run-a", key, 100, 1)}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := f.ledger.FailRun(ctx, "run-a", model.RunStats{}); err != nil {
		t.Fatalf("FailRun() error = %v", err)
	}

	report, err := f.manager.Rollback(ctx, "run-a")
	if err != nil {
		t.Fatalf("Rollback() of failed run error = %v", err)
	}
	if report.VersionsSuperseded != 1 {
		t.Errorf("VersionsSuperseded = %d, want 1", report.VersionsSuperseded)
	}
}
