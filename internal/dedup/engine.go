package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/driftmarkets/candleledger/internal/model"
	"github.com/driftmarkets/candleledger/internal/store"
)

// resolveWorkers bounds concurrent point lookups in ResolveKeys.
const resolveWorkers = 8

// Store is the read slice of the version store the engine needs.
type Store interface {
	Scan(ctx context.Context, r store.ScanRange) ([]model.CandleVersion, error)
}

// Engine answers logical view queries against a version store.
type Engine struct {
	store  Store
	logger *slog.Logger
}

// NewEngine creates a resolution engine over the given store.
func NewEngine(s Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, logger: logger}
}

// Resolve returns the visible version for one key. The second return is
// false when the key has no live version.
func (e *Engine) Resolve(ctx context.Context, key model.CandleKey) (model.CandleVersion, bool, error) {
	versions, err := e.store.Scan(ctx, store.ForKey(key, false))
	if err != nil {
		return model.CandleVersion{}, false, fmt.Errorf("resolve %s: %w", key, err)
	}
	winner, found := Winner(versions)
	return winner, found, nil
}

// ResolveRange returns the logical view over a range: one winning version per
// key, ordered by open time and key dimensions.
func (e *Engine) ResolveRange(ctx context.Context, r store.ScanRange) ([]model.CandleVersion, error) {
	r.IncludeSuperseded = false
	versions, err := e.store.Scan(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("resolve range: %w", err)
	}

	byKey := make(map[model.CandleKey][]model.CandleVersion)
	for _, v := range versions {
		byKey[v.CandleKey] = append(byKey[v.CandleKey], v)
	}

	out := make([]model.CandleVersion, 0, len(byKey))
	for _, group := range byKey {
		if winner, found := Winner(group); found {
			out = append(out, winner)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.OpenTS != b.OpenTS {
			return a.OpenTS < b.OpenTS
		}
		if a.Chain != b.Chain {
			return a.Chain < b.Chain
		}
		if a.Token != b.Token {
			return a.Token < b.Token
		}
		return a.Interval < b.Interval
	})
	return out, nil
}

// ResolveKeys resolves a set of keys concurrently. Keys without a live
// version are absent from the result.
func (e *Engine) ResolveKeys(ctx context.Context, keys []model.CandleKey) (map[model.CandleKey]model.CandleVersion, error) {
	unique := make(map[model.CandleKey]struct{}, len(keys))
	for _, k := range keys {
		unique[k] = struct{}{}
	}

	var mu sync.Mutex
	out := make(map[model.CandleKey]model.CandleVersion, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveWorkers)
	for key := range unique {
		g.Go(func() error {
			winner, found, err := e.Resolve(gctx, key)
			if err != nil {
				return err
			}
			if found {
				mu.Lock()
				out[key] = winner
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
