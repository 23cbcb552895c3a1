package tape

import (
	"encoding/json"

	"github.com/tc-sim/tccore/sim"
)

// SnapshotType is the Type field of tape snapshots.
const SnapshotType = "tape"

// Window is the half-open tape range [Start, End) carried by a snapshot.
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Snapshot is the emitted view of the machine after a tick.
type Snapshot struct {
	Type     string         `json:"type"`
	Tick     int64          `json:"tick"`
	Head     Head           `json:"head"`
	Tape     []string       `json:"tape"`
	Window   Window         `json:"window"`
	Metadata map[string]any `json:"metadata"`
}

// Kind implements sim.Snapshot.
func (s Snapshot) Kind() string { return s.Type }

// TickNumber implements sim.Snapshot.
func (s Snapshot) TickNumber() int64 { return s.Tick }

// Digest hashes the JSON encoding of the snapshot.
func (s Snapshot) Digest() string {
	data, err := json.Marshal(s)
	if err != nil {
		// Metadata comes from a YAML/JSON document, so it always re-encodes.
		panic(err)
	}
	return sim.HashHex(data)
}

// Symbols joins the tape window without separators.
func (s Snapshot) Symbols() string {
	var n int
	for _, sym := range s.Tape {
		n += len(sym)
	}
	b := make([]byte, 0, n)
	for _, sym := range s.Tape {
		b = append(b, sym...)
	}
	return string(b)
}

var _ sim.Snapshot = Snapshot{}
