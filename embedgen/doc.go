// Package embedgen implements the embedding generation pipeline: a
// resumable batch run that embeds every eligible concept, persists
// whole batches atomically, and records its outcome for the progress
// reporter. Concurrent runs are serialized by an advisory lock with a
// stale-takeover TTL.
package embedgen
