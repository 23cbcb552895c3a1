// Package persist provides SQLite-backed load and save hooks for sim.ChunkStore.
//
// The hooks are synchronous, matching the ChunkStore contract: every save is
// committed before the call returns, so a chunk evicted from the cache can be
// reloaded in the same tick. Payloads are stored as JSON, keyed by a namespace
// (usually one per stepper) and the chunk key.
package persist
