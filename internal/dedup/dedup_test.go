package dedup

import (
	"testing"

	"github.com/driftmarkets/candleledger/internal/model"
)

func version(id, runID string, score int, ingestedAt int64) model.CandleVersion {
	return model.CandleVersion{
		VersionID:    id,
		CandleKey:    model.CandleKey{Token: "0xabc", Chain: "ethereum", OpenTS: 1000, Interval: "1m"},
		Candle:       model.Candle{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
		QualityScore: score,
		Tier:         model.TierBackfill,
		RunID:        runID,
		IngestedAt:   ingestedAt,
	}
}

func TestComparePrecedence(t *testing.T) {
	tests := []struct {
		name string
		a, b model.CandleVersion
		want int
	}{
		{
			name: "higher score wins regardless of time",
			a:    version("v1", "run-a", 120, 1),
			b:    version("v2", "run-b", 25, 999),
			want: 1,
		},
		{
			name: "equal score, later ingestion wins",
			a:    version("v1", "run-a", 120, 2),
			b:    version("v2", "run-b", 120, 1),
			want: 1,
		},
		{
			name: "equal score and time, greater run ID wins",
			a:    version("v1", "run-b", 120, 1),
			b:    version("v2", "run-a", 120, 1),
			want: 1,
		},
		{
			name: "full tie broken by version ID",
			a:    version("v2", "run-a", 120, 1),
			b:    version("v1", "run-a", 120, 1),
			want: 1,
		},
		{
			name: "identical version compares equal",
			a:    version("v1", "run-a", 120, 1),
			b:    version("v1", "run-a", 120, 1),
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.want {
				t.Errorf("Compare(a, b) = %d, want %d", got, tt.want)
			}
			if got := Compare(tt.b, tt.a); got != -tt.want {
				t.Errorf("Compare(b, a) = %d, want %d", got, -tt.want)
			}
		})
	}
}

// The winner must not depend on the order versions are presented in.
func TestWinnerOrderIndependent(t *testing.T) {
	a := version("v1", "run-a", 25, 5)
	b := version("v2", "run-b", 120, 1)
	c := version("v3", "run-c", 120, 3)
	d := version("v4", "run-d", 115, 9)

	permutations := [][]model.CandleVersion{
		{a, b, c, d},
		{d, c, b, a},
		{c, a, d, b},
		{b, d, a, c},
	}

	for i, perm := range permutations {
		winner, found := Winner(perm)
		if !found {
			t.Fatalf("permutation %d: no winner", i)
		}
		if winner.VersionID != "v3" {
			t.Errorf("permutation %d: winner = %s, want v3", i, winner.VersionID)
		}
	}
}

func TestWinnerSkipsSuperseded(t *testing.T) {
	best := version("v1", "run-a", 125, 9)
	best.Superseded = true
	runnerUp := version("v2", "run-b", 25, 1)

	winner, found := Winner([]model.CandleVersion{best, runnerUp})
	if !found {
		t.Fatal("no winner")
	}
	if winner.VersionID != "v2" {
		t.Errorf("winner = %s, want v2", winner.VersionID)
	}
}

func TestWinnerAllSuperseded(t *testing.T) {
	a := version("v1", "run-a", 120, 1)
	a.Superseded = true
	b := version("v2", "run-b", 125, 2)
	b.Superseded = true

	if _, found := Winner([]model.CandleVersion{a, b}); found {
		t.Error("found a winner among tombstones")
	}
	if _, found := Winner(nil); found {
		t.Error("found a winner in an empty set")
	}
}

func TestPrunable(t *testing.T) {
	winner := version("v1", "run-a", 125, 5)
	loser := version("v2", "run-b", 120, 1)
	tombstone := version("v3", "run-c", 125, 9)
	tombstone.Superseded = true

	got := Prunable([]model.CandleVersion{winner, loser, tombstone})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, v := range got {
		if v.VersionID == "v1" {
			t.Error("winner marked prunable")
		}
	}
}

func TestPrunableNoLiveVersions(t *testing.T) {
	a := version("v1", "run-a", 120, 1)
	a.Superseded = true
	b := version("v2", "run-b", 125, 2)
	b.Superseded = true

	got := Prunable([]model.CandleVersion{a, b})
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}
