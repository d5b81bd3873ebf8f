package model

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Candle Types
// -----------------------------------------------------------------------------

// CandleKey identifies one conceptual candle: the price bar that should exist
// for a token on a chain at a given open time and interval. Keys are never
// mutated or deleted; any number of physical versions may share one key.
type CandleKey struct {
	Token    string // Token identifier (mint/contract address or normalized symbol)
	Chain    string // Chain the token trades on (e.g., "ethereum", "solana")
	OpenTS   int64  // Candle open time (µs since epoch)
	Interval string // Interval label (e.g., "1m", "5m", "1h", "1d")
}

// String renders the key as chain/token/interval@openTS.
func (k CandleKey) String() string {
	return fmt.Sprintf("%s/%s/%s@%d", k.Chain, k.Token, k.Interval, k.OpenTS)
}

// Candle holds one OHLCV bar as supplied by an upstream source.
type Candle struct {
	Open   float64 // Opening price
	High   float64 // Highest price in the interval
	Low    float64 // Lowest price in the interval
	Close  float64 // Closing price
	Volume float64 // Traded volume in the interval
}

// CandleVersion is one physical write attempt for a CandleKey. Versions are
// append-only: the only permitted mutation is flipping Superseded on rows
// belonging to a rolled-back run.
type CandleVersion struct {
	VersionID string // Unique physical row ID (UUID), assigned at append time
	CandleKey
	Candle
	QualityScore int        // 0-125, computed at validation time, immutable
	Tier         SourceTier // Declared trustworthiness of the source
	RunID        string     // Ingestion run that wrote this version
	IngestedAt   int64      // Write time (µs since epoch)
	Superseded   bool       // Tombstone; set only when the run is rolled back
}

// -----------------------------------------------------------------------------
// Source Tiers
// -----------------------------------------------------------------------------

// SourceTier ranks data-provider trustworthiness. The integer values are the
// tier's contribution to the quality score and are part of the persisted
// format: they must never be renumbered. Gaps are deliberate so new tiers can
// be inserted without reordering existing data.
type SourceTier int

const (
	TierUnknown   SourceTier = 0 // Unvetted or unrecognized provider
	TierBackfill  SourceTier = 1 // Historical backfill dumps
	TierLiveFeed  SourceTier = 3 // Streaming/live exchange feeds
	TierCanonical SourceTier = 5 // Exchange-official or first-party data
)

// Score returns the tier's quality-score contribution, clamped to [0,5] so a
// corrupt stored value can never break the scorer's bounds guarantee.
func (t SourceTier) Score() int {
	if t < 0 {
		return 0
	}
	if t > 5 {
		return 5
	}
	return int(t)
}

// Valid reports whether t is one of the named tiers.
func (t SourceTier) Valid() bool {
	switch t {
	case TierUnknown, TierBackfill, TierLiveFeed, TierCanonical:
		return true
	}
	return false
}

func (t SourceTier) String() string {
	switch t {
	case TierUnknown:
		return "unknown"
	case TierBackfill:
		return "backfill"
	case TierLiveFeed:
		return "livefeed"
	case TierCanonical:
		return "canonical"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ParseSourceTier parses the string form produced by String,
// case-insensitively.
func ParseSourceTier(s string) (SourceTier, error) {
	switch strings.ToLower(s) {
	case "unknown":
		return TierUnknown, nil
	case "backfill":
		return TierBackfill, nil
	case "livefeed":
		return TierLiveFeed, nil
	case "canonical":
		return TierCanonical, nil
	}
	return TierUnknown, fmt.Errorf("unknown source tier %q", s)
}
