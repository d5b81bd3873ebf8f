// Package score computes candle quality scores.
//
// A score rates how trustworthy a single candle looks on its own. It is the
// leading component of version resolution: a higher-scoring version always
// shadows a lower-scoring one for the same key, regardless of arrival order.
package score

import "github.com/driftmarkets/candleledger/internal/model"

// Score weights. Volume dominates so that a zero-volume candle can never
// outrank a traded one: 10+5+5+5 = 25 < 100.
const (
	volumeWeight = 100 // volume > 0
	rangeWeight  = 10  // high >= low
	openWeight   = 5   // low <= open <= high
	closeWeight  = 5   // low <= close <= high
)

// MaxScore is the highest score a candle can earn: all structural checks
// passing plus the top source tier.
const MaxScore = volumeWeight + rangeWeight + openWeight + closeWeight + 5

// Candle scores c against its structural checks and source tier.
//
// The result is deterministic in (c, tier) alone. Comparisons involving NaN
// are false, so non-finite candles land near zero; callers that must refuse
// such candles outright do so in validation before scoring.
func Candle(c model.Candle, tier model.SourceTier) int {
	s := tier.Score()
	if c.Volume > 0 {
		s += volumeWeight
	}
	if c.High >= c.Low {
		s += rangeWeight
	}
	if c.Open >= c.Low && c.Open <= c.High {
		s += openWeight
	}
	if c.Close >= c.Low && c.Close <= c.High {
		s += closeWeight
	}
	return s
}
