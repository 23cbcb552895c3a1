package trace

import "github.com/tc-sim/tccore/sim"

// RunTrace collects the digest of every snapshot emitted during a run.
type RunTrace struct {
	Label   string
	Records []DigestRecord
}

// NewRunTrace creates a RunTrace ready for recording.
func NewRunTrace(label string) *RunTrace {
	return &RunTrace{
		Label:   label,
		Records: make([]DigestRecord, 0),
	}
}

// Record appends the digest of s.
func (rt *RunTrace) Record(s sim.Snapshot) {
	rt.Records = append(rt.Records, DigestRecord{Tick: s.TickNumber(), Kind: s.Kind(), Digest: s.Digest()})
}

// Sink returns the trace as a sim.SnapshotSink.
func (rt *RunTrace) Sink() sim.SnapshotSink {
	return rt.Record
}

// Digests returns the recorded digests in emission order.
func (rt *RunTrace) Digests() []string {
	out := make([]string, len(rt.Records))
	for i, r := range rt.Records {
		out[i] = r.Digest
	}
	return out
}
