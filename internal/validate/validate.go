// Package validate classifies incoming candles before they are written.
//
// Validation distinguishes corruption from quality issues. Corruption means
// the candle is not a plausible OHLCV observation at all and is refused under
// every policy. Quality issues mean the candle is structurally sound but
// suspect; the active policy decides whether such candles are refused or
// persisted with a warning.
package validate

import (
	"fmt"
	"math"
	"strings"

	"github.com/driftmarkets/candleledger/internal/model"
	"github.com/driftmarkets/candleledger/internal/score"
)

// Policy controls how quality issues are handled. Corruption is fatal under
// both policies.
type Policy string

const (
	// Strict refuses candles with any quality issue.
	Strict Policy = "strict"
	// Lenient persists candles with quality issues and flags them as warned.
	Lenient Policy = "lenient"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return p == Strict || p == Lenient
}

// ParsePolicy parses a policy name, case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(s)) {
	case Strict:
		return Strict, nil
	case Lenient:
		return Lenient, nil
	}
	return "", fmt.Errorf("unknown validation policy %q", s)
}

// Status is the outcome of validating one candle.
type Status string

const (
	// Accepted candles are written with no reservations.
	Accepted Status = "accepted"
	// Rejected candles are refused and never written.
	Rejected Status = "rejected"
	// Warned candles are written but carry a quality reservation.
	Warned Status = "warned"
)

// Result is the validation outcome for a single candle.
type Result struct {
	Status Status
	Score  int    // Quality score; 0 for rejected candles
	Reason string // First issue found; empty for accepted candles
}

// Check validates c under the given policy and scores it.
//
// Checks run in a fixed order and the first hit becomes the Reason, so equal
// inputs always produce equal results.
func Check(c model.Candle, tier model.SourceTier, policy Policy) Result {
	if reason := corruption(c); reason != "" {
		return Result{Status: Rejected, Reason: reason}
	}

	s := score.Candle(c, tier)
	if reason := quality(c); reason != "" {
		if policy == Strict {
			return Result{Status: Rejected, Reason: reason}
		}
		return Result{Status: Warned, Score: s, Reason: reason}
	}
	return Result{Status: Accepted, Score: s}
}

// corruption returns the first fatal defect in c, or "" if none.
func corruption(c model.Candle) string {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"open", c.Open},
		{"high", c.High},
		{"low", c.Low},
		{"close", c.Close},
		{"volume", c.Volume},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return "non-finite " + f.name
		}
	}
	if c.High < c.Low {
		return "high below low"
	}
	if c.Open < 0 {
		return "negative open"
	}
	if c.Close < 0 {
		return "negative close"
	}
	if c.Volume < 0 {
		return "negative volume"
	}
	return ""
}

// quality returns the first non-fatal issue in c, or "" if none.
func quality(c model.Candle) string {
	if c.Volume == 0 {
		return "zero volume"
	}
	if c.Open < c.Low || c.Open > c.High {
		return "open outside range"
	}
	if c.Close < c.Low || c.Close > c.High {
		return "close outside range"
	}
	return ""
}
