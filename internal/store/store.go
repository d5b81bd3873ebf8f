package store

import (
	"context"
	"sort"

	"github.com/driftmarkets/candleledger/internal/model"
)

// ScanRange selects candle versions by key dimensions and time. Empty string
// fields match any value. FromTS is inclusive; ToTS is exclusive, with 0
// meaning unbounded.
type ScanRange struct {
	Token             string
	Chain             string
	Interval          string
	FromTS            int64
	ToTS              int64
	IncludeSuperseded bool
}

// ForKey returns the range that selects exactly one logical key.
func ForKey(key model.CandleKey, includeSuperseded bool) ScanRange {
	return ScanRange{
		Token:             key.Token,
		Chain:             key.Chain,
		Interval:          key.Interval,
		FromTS:            key.OpenTS,
		ToTS:              key.OpenTS + 1,
		IncludeSuperseded: includeSuperseded,
	}
}

// Matches reports whether v falls inside the range.
func (r ScanRange) Matches(v model.CandleVersion) bool {
	if !r.IncludeSuperseded && v.Superseded {
		return false
	}
	if r.Token != "" && v.Token != r.Token {
		return false
	}
	if r.Chain != "" && v.Chain != r.Chain {
		return false
	}
	if r.Interval != "" && v.Interval != r.Interval {
		return false
	}
	if v.OpenTS < r.FromTS {
		return false
	}
	if r.ToTS > 0 && v.OpenTS >= r.ToTS {
		return false
	}
	return true
}

// VersionStore is the append-only candle version log.
//
// Append reports how many rows were physically written; versions whose IDs
// already exist are silently dropped so redelivered batches stay idempotent.
// SupersedeRun tombstones every live version of a run and reports how many
// rows it flipped, so a repeated call returns 0.
type VersionStore interface {
	Append(ctx context.Context, versions []model.CandleVersion) (int64, error)
	Scan(ctx context.Context, r ScanRange) ([]model.CandleVersion, error)
	ScanRun(ctx context.Context, runID string) ([]model.CandleVersion, error)
	SupersedeRun(ctx context.Context, runID string) (int64, error)
	Close() error
}

// Pruner physically removes versions. Only the compaction sweeper holds this
// capability; everything else treats the version log as append-only.
type Pruner interface {
	Prune(ctx context.Context, versionIDs []string) (int64, error)
}

// sortVersions orders scan results deterministically: by time, then key
// dimensions, then arrival, then version ID.
func sortVersions(versions []model.CandleVersion) {
	sort.Slice(versions, func(i, j int) bool {
		a, b := versions[i], versions[j]
		if a.OpenTS != b.OpenTS {
			return a.OpenTS < b.OpenTS
		}
		if a.Chain != b.Chain {
			return a.Chain < b.Chain
		}
		if a.Token != b.Token {
			return a.Token < b.Token
		}
		if a.Interval != b.Interval {
			return a.Interval < b.Interval
		}
		if a.IngestedAt != b.IngestedAt {
			return a.IngestedAt < b.IngestedAt
		}
		return a.VersionID < b.VersionID
	})
}
