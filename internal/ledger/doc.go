// Package ledger tracks ingestion runs.
//
// Every write into the version store is attributed to exactly one run, and
// every run lives here from StartRun until it reaches a terminal status. The
// ledger is the anchor of the audit trail: given a run ID, the version store
// can name every row the run produced, and rollback can disown all of them.
//
// Lifecycle: a run starts Running, finishes Completed or Failed, and either
// of those may later become RolledBack. Transitions are compare-and-set, so a
// lost race surfaces as an InvalidTransitionError instead of a silent
// overwrite. Stats accumulate only while the run is Running and freeze at the
// first terminal transition.
package ledger
