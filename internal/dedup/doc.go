// Package dedup resolves which candle version is visible for each logical key.
//
// Resolution is a pure function of the live version set: the winner is the
// maximum under a total order over (quality score, ingestion time, run ID,
// version ID). Because the order is total and ignores arrival order, any
// interleaving of ingestion runs converges to the same logical view.
//
// The Engine binds resolution to a version store and answers point, range and
// batch lookups. It never writes; tombstoning and pruning stay with rollback
// and compaction.
package dedup
