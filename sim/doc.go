// Package sim provides the deterministic tick-and-chunk substrate shared by every model.
//
// # Reading Guide
//
// Start with these three files to understand the kernel:
//   - scheduler.go: TickScheduler, the capture → compute → commit phase machine and per-tick seeding
//   - chunkstore.go: ChunkStore, a bounded LRU of keyed payloads with dirty tracking and load/save hooks
//   - rng.go: RandomSource (seed stack) and Generator (freestanding 32-bit PRNG)
//
// # Architecture
//
// The sim package defines the substrate; models and adapters live in sub-packages:
//   - sim/automaton/: 1-D elementary cellular automaton (Rule 110 by default)
//   - sim/tape/: tape-machine descriptors and the chunk-paged tape stepper
//   - sim/trace/: in-memory digest traces and the append-only JSONL emitter
//   - sim/regression/: fixture files with per-step hashes and the replay harness
//   - sim/persist/: SQLite-backed load/save hooks for ChunkStore
//
// Models register one HookSet on a TickScheduler and emit Snapshot values to a
// SnapshotSink. Nothing in this package depends on a concrete model.
//
// # Determinism
//
// With seeding enabled every tick pushes TickSeed(base, salt, tick) onto the shared
// RandomSource and pops it in EndTick, so draws inside a tick depend only on the
// configuration and the tick number. Chunk eviction never changes observable state:
// evicted dirty chunks are saved and reloaded on the next access.
package sim
