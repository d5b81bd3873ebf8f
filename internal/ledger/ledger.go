package ledger

import (
	"context"

	"github.com/driftmarkets/candleledger/internal/model"
)

// RunFilter selects runs for listing. Zero values leave a dimension open.
type RunFilter struct {
	Statuses []model.RunStatus
	Source   string
	From     int64 // StartedAt >= From, µs
	To       int64 // StartedAt < To, µs; 0 means unbounded
	Limit    int   // 0 means no limit
}

// FaultThresholds define when a completed run counts as faulty. Ratios are
// over fetched candles and a run is faulty when it strictly exceeds either
// bound; 1 disables a bound since no ratio exceeds it.
type FaultThresholds struct {
	MaxRejectedRatio float64
	MaxWarnedRatio   float64
}

// Store is the ingestion run ledger.
//
// StartRun registers the manifest and returns the run already in Running
// state; a manifest without a run ID gets a generated UUID. CompleteRun and
// FailRun fold the final stats delta in before freezing the run. All
// transition methods return the run as persisted after the change.
type Store interface {
	StartRun(ctx context.Context, manifest model.RunManifest) (model.IngestionRun, error)
	GetRun(ctx context.Context, runID string) (model.IngestionRun, error)
	RecordStats(ctx context.Context, runID string, delta model.RunStats) error
	CompleteRun(ctx context.Context, runID string, final model.RunStats) (model.IngestionRun, error)
	FailRun(ctx context.Context, runID string, final model.RunStats) (model.IngestionRun, error)
	MarkRolledBack(ctx context.Context, runID string) (model.IngestionRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error)
	FindFaultyRuns(ctx context.Context, thresholds FaultThresholds) ([]model.IngestionRun, error)
	Close() error
}

// canTransition encodes the run lifecycle.
func canTransition(from, to model.RunStatus) bool {
	switch from {
	case model.RunRunning:
		return to == model.RunCompleted || to == model.RunFailed
	case model.RunCompleted, model.RunFailed:
		return to == model.RunRolledBack
	}
	return false
}

// faulty applies the audit thresholds to a completed run.
func faulty(run model.IngestionRun, t FaultThresholds) bool {
	if run.Status != model.RunCompleted || run.Stats.Fetched == 0 {
		return false
	}
	fetched := float64(run.Stats.Fetched)
	if float64(run.Stats.Rejected)/fetched > t.MaxRejectedRatio {
		return true
	}
	return float64(run.Stats.Warned)/fetched > t.MaxWarnedRatio
}

// matches applies a filter to one run.
func (f RunFilter) matches(run model.IngestionRun) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if run.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Source != "" && run.Source != f.Source {
		return false
	}
	if run.StartedAt < f.From {
		return false
	}
	if f.To > 0 && run.StartedAt >= f.To {
		return false
	}
	return true
}
