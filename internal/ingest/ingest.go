// Package ingest is the write entrypoint for candle data. It validates raw
// source candles against the owning run's declared tier, appends the
// survivors as immutable versions, and folds the outcome into the run ledger.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftmarkets/candleledger/internal/dedup"
	"github.com/driftmarkets/candleledger/internal/ledger"
	"github.com/driftmarkets/candleledger/internal/model"
	"github.com/driftmarkets/candleledger/internal/validate"
)

// RawCandle is one candle tuple as delivered by a fetch client.
type RawCandle struct {
	Token    string  `json:"token"`
	Chain    string  `json:"chain"`
	OpenTS   int64   `json:"open_ts"`
	Interval string  `json:"interval"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// Key returns the logical key the candle belongs to.
func (r RawCandle) Key() model.CandleKey {
	return model.CandleKey{Token: r.Token, Chain: r.Chain, OpenTS: r.OpenTS, Interval: r.Interval}
}

// Candle returns the bar values.
func (r RawCandle) Candle() model.Candle {
	return model.Candle{Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume}
}

// Store is the subset of the version store the ingest path writes through.
type Store interface {
	Append(ctx context.Context, versions []model.CandleVersion) (int64, error)
}

// Service validates and writes candle batches on behalf of ingestion runs.
// Per-candle validation outcomes are folded into counts and run statistics;
// only run-level and store-level failures surface as errors.
type Service struct {
	ledger ledger.Store
	store  Store
	engine *dedup.Engine
	policy validate.Policy
	logger *slog.Logger

	now func() int64
}

// NewService wires the write path. The policy applies to every batch the
// service ingests; anything but Lenient is treated as Strict.
func NewService(l ledger.Store, st Store, engine *dedup.Engine, policy validate.Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger: l,
		store:  st,
		engine: engine,
		policy: policy,
		logger: logger,
		now:    func() int64 { return time.Now().UnixMicro() },
	}
}

// IngestBatch validates candles and writes the survivors as new versions
// belonging to the given run, which must be running. Every candle in the
// batch shares one ingestion timestamp.
func (s *Service) IngestBatch(ctx context.Context, runID string, candles []RawCandle) (model.BatchResult, error) {
	start := time.Now()

	run, err := s.ledger.GetRun(ctx, runID)
	if err != nil {
		return model.BatchResult{}, err
	}
	if run.Status != model.RunRunning {
		return model.BatchResult{}, &ledger.InvalidTransitionError{RunID: runID, From: run.Status, To: model.RunRunning}
	}
	if len(candles) == 0 {
		return model.BatchResult{}, nil
	}

	var result model.BatchResult
	var stats model.RunStats
	stats.Fetched = int64(len(candles))

	ingestedAt := s.now()
	versions := make([]model.CandleVersion, 0, len(candles))
	for _, c := range candles {
		check := validate.Check(c.Candle(), run.Tier, s.policy)
		switch check.Status {
		case validate.Rejected:
			result.Rejected++
			stats.Rejected++
			stats.AddError(check.Reason, 1)
			continue
		case validate.Warned:
			result.Warned++
			stats.Warned++
		default:
			result.Accepted++
		}
		versions = append(versions, model.CandleVersion{
			VersionID:    uuid.NewString(),
			CandleKey:    c.Key(),
			Candle:       c.Candle(),
			QualityScore: check.Score,
			Tier:         run.Tier,
			RunID:        runID,
			IngestedAt:   ingestedAt,
		})
	}

	inserted, err := s.store.Append(ctx, versions)
	if err != nil {
		return model.BatchResult{}, fmt.Errorf("ingest batch for run %s: %w", runID, err)
	}
	stats.Inserted = inserted

	shadowed, err := s.countShadowed(ctx, versions)
	if err != nil {
		return model.BatchResult{}, fmt.Errorf("ingest batch for run %s: %w", runID, err)
	}
	result.Deduplicated = shadowed
	stats.Deduplicated = shadowed

	if err := s.ledger.RecordStats(ctx, runID, stats); err != nil {
		return model.BatchResult{}, err
	}

	s.logger.Info("batch ingested",
		"run_id", runID,
		"accepted", result.Accepted,
		"rejected", result.Rejected,
		"warned", result.Warned,
		"deduplicated", result.Deduplicated,
		"duration", time.Since(start),
	)
	return result, nil
}

// countShadowed resolves the keys the batch touched and counts written
// versions that are not the visible winner for their key.
func (s *Service) countShadowed(ctx context.Context, versions []model.CandleVersion) (int64, error) {
	if len(versions) == 0 {
		return 0, nil
	}
	keys := make([]model.CandleKey, 0, len(versions))
	for _, v := range versions {
		keys = append(keys, v.CandleKey)
	}
	winners, err := s.engine.ResolveKeys(ctx, keys)
	if err != nil {
		return 0, err
	}
	var shadowed int64
	for _, v := range versions {
		if w, ok := winners[v.CandleKey]; ok && w.VersionID != v.VersionID {
			shadowed++
		}
	}
	return shadowed, nil
}
