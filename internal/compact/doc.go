// Package compact bounds storage growth and drives bulk migrations.
//
// Both jobs share one discipline: never hold more than a single time window
// in memory. The Sweeper walks recent history window by window, pruning
// versions that resolution can no longer pick for keys that have gone quiet.
// The Migrator replays a legacy candle source into the versioned model window
// by window, checkpointing each committed boundary so a crashed job resumes
// where it stopped instead of starting over.
//
// Windows are the unit of failure and cancellation. A window either commits
// whole or not at all as far as progress tracking is concerned; re-running a
// committed migration window writes the same deterministic version IDs and
// therefore changes nothing.
package compact
