package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// -----------------------------------------------------------------------------
// Ingestion Runs
// -----------------------------------------------------------------------------

// RunStatus is the lifecycle state of an ingestion run.
//
// Transitions: pending -> running -> {completed, failed}, and
// {completed, failed} -> rolled_back. Nothing leaves rolled_back.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunRolledBack RunStatus = "rolled_back"
)

// Terminal reports whether no further writes may be attributed to the run.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunRolledBack
}

// Valid reports whether s is a known status value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunPending, RunRunning, RunCompleted, RunFailed, RunRolledBack:
		return true
	}
	return false
}

// RunError is one distinct failure message observed during a run, with the
// number of candles it affected.
type RunError struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

// RunStats accumulates per-run ingestion counters. Stats are mutated only by
// the run's own writer path while the run is running, and are frozen once the
// run reaches a terminal status (the rolled_back transition does not touch
// them).
type RunStats struct {
	Fetched      int64      `json:"fetched"`      // Candles received from the source
	Inserted     int64      `json:"inserted"`     // Versions physically written
	Rejected     int64      `json:"rejected"`     // Candles refused for corruption
	Warned       int64      `json:"warned"`       // Candles written with quality warnings
	Deduplicated int64      `json:"deduplicated"` // Written versions that immediately lost resolution
	Errors       []RunError `json:"errors,omitempty"`
}

// Add accumulates delta into s, merging error entries by message.
func (s *RunStats) Add(delta RunStats) {
	s.Fetched += delta.Fetched
	s.Inserted += delta.Inserted
	s.Rejected += delta.Rejected
	s.Warned += delta.Warned
	s.Deduplicated += delta.Deduplicated
	for _, e := range delta.Errors {
		s.AddError(e.Message, e.Count)
	}
}

// AddError records n occurrences of the given failure message.
func (s *RunStats) AddError(message string, n int64) {
	if n <= 0 || message == "" {
		return
	}
	for i := range s.Errors {
		if s.Errors[i].Message == message {
			s.Errors[i].Count += n
			return
		}
	}
	s.Errors = append(s.Errors, RunError{Message: message, Count: n})
}

// IngestionRun is one tracked ingestion or migration attempt.
type IngestionRun struct {
	RunID      string     `json:"run_id"`      // Unique run identifier (caller-supplied or generated UUID)
	Source     string     `json:"source"`      // Free-form source label from the manifest
	Tier       SourceTier `json:"tier"`        // Declared tier for candles written by this run
	Status     RunStatus  `json:"status"`
	StartedAt  int64      `json:"started_at"`  // µs since epoch
	EndedAt    int64      `json:"ended_at"`    // µs since epoch; 0 while running
	ConfigHash string     `json:"config_hash"` // SHA-256 of the manifest configuration, for reproducibility
	Stats      RunStats   `json:"stats"`
}

// RunManifest describes a run before it starts.
type RunManifest struct {
	RunID  string            // Optional; a UUID is generated when empty
	Source string            // e.g. "dexscreener-backfill", "migration:q3-2025"
	Tier   SourceTier        // Tier applied to every candle in the run
	Config map[string]string // Configuration snapshot, hashed for the audit trail
}

// ConfigHash returns the SHA-256 hex digest of the manifest's identity and
// configuration. encoding/json writes map keys in sorted order, so the digest
// is deterministic for equal manifests.
func (m RunManifest) ConfigHash() string {
	cfg := m.Config
	if cfg == nil {
		cfg = map[string]string{}
	}
	payload := struct {
		Source string            `json:"source"`
		Tier   int               `json:"tier"`
		Config map[string]string `json:"config"`
	}{Source: m.Source, Tier: int(m.Tier), Config: cfg}

	raw, err := json.Marshal(payload)
	if err != nil {
		// Marshalling a map[string]string cannot fail; keep the signature clean.
		panic(fmt.Sprintf("model: marshal run manifest: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
