// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Compaction sweep outcomes and durations
//   - Versions pruned and keys compacted per sweep
//   - Go runtime and process stats
package metrics
