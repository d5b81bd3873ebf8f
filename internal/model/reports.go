package model

// BatchResult summarizes one ingested batch.
type BatchResult struct {
	Accepted     int64 // Versions written cleanly
	Rejected     int64 // Candles refused before any write
	Warned       int64 // Versions written carrying a quality warning
	Deduplicated int64 // Written versions immediately shadowed by a better version
}

// RollbackReport summarizes a completed rollback.
type RollbackReport struct {
	RunID              string
	VersionsSuperseded int64 // Versions tombstoned by the rollback
	KeysChanged        int64 // Keys whose visible candle differs after the rollback
}

// SweepReport summarizes one compaction sweep.
type SweepReport struct {
	Windows        int64 // Time windows examined
	KeysExamined   int64 // Quiescent keys inspected
	KeysCompacted  int64 // Keys with at least one prunable version
	VersionsPruned int64 // Versions removed, or eligible for removal in a dry run
	DryRun         bool
}

// MigrationReport summarizes one migration pass over a legacy source.
type MigrationReport struct {
	RunID          string
	Windows        int64 // Windows fetched and written
	WindowsSkipped int64 // Windows skipped due to a checkpoint resume
	Fetched        int64 // Legacy candles read
	Migrated       int64 // Versions written
	Rejected       int64 // Legacy candles refused by validation
	ResumedFrom    int64 // Checkpoint boundary the pass resumed from; 0 for a fresh pass
	DryRun         bool
}
