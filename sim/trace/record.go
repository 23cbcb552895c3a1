// Package trace records emitted snapshots: in memory as a per-run digest trace, and
// on disk as two append-only JSON-lines streams (snapshots and manifest).
// This package depends only on the sim package's Snapshot interface.
package trace

import "time"

// Manifest event names.
const (
	EventRunStarted  = "run_started"
	EventRunFinished = "run_finished"
)

// RunInfo describes a run in its run_started manifest line.
type RunInfo struct {
	Model      string            `json:"model"`
	Label      string            `json:"label,omitempty"`
	Ticks      int64             `json:"ticks"`
	Enabled    bool              `json:"deterministic"`
	BaseSeed   uint32            `json:"base_seed"`
	TickSalt   uint32            `json:"tick_salt"`
	MaxChunks  int               `json:"max_chunks"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// ManifestRecord is one line of the manifest stream.
type ManifestRecord struct {
	RunID   string        `json:"run_id"`
	Event   string        `json:"event"`
	Time    time.Time     `json:"time"`
	Run     *RunInfo      `json:"run,omitempty"`
	Summary *TraceSummary `json:"summary,omitempty"`
}

// SnapshotRecord is one line of the snapshot stream.
type SnapshotRecord struct {
	RunID    string `json:"run_id"`
	Tick     int64  `json:"tick"`
	Kind     string `json:"kind"`
	Digest   string `json:"digest"`
	Snapshot any    `json:"snapshot"`
}

// DigestRecord is the in-memory trace entry for one emitted snapshot.
type DigestRecord struct {
	Tick   int64
	Kind   string
	Digest string
}
