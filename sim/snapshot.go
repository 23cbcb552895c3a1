package sim

import (
	"crypto/sha256"
	"encoding/hex"
)

// Snapshot is an immutable, serializable view of a stepper's state at one tick.
type Snapshot interface {
	// Kind names the producing model, e.g. "automaton" or "tape".
	Kind() string
	// TickNumber is the tick the snapshot was taken in.
	TickNumber() int64
	// Digest is the hex SHA-256 used by regression fixtures.
	Digest() string
}

// SnapshotSink receives snapshots as steppers emit them.
type SnapshotSink func(Snapshot)

// Fanout returns a sink that forwards to every non-nil sink in order.
func Fanout(sinks ...SnapshotSink) SnapshotSink {
	return func(s Snapshot) {
		for _, sink := range sinks {
			if sink != nil {
				sink(s)
			}
		}
	}
}

// Recorder is a sink that keeps every snapshot in memory.
type Recorder struct {
	Snapshots []Snapshot
}

// Sink returns the recorder as a SnapshotSink.
func (r *Recorder) Sink() SnapshotSink {
	return func(s Snapshot) { r.Snapshots = append(r.Snapshots, s) }
}

// Digests returns the digest of every recorded snapshot.
func (r *Recorder) Digests() []string {
	out := make([]string, len(r.Snapshots))
	for i, s := range r.Snapshots {
		out[i] = s.Digest()
	}
	return out
}

// HashHex returns the lowercase hex SHA-256 of data.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
