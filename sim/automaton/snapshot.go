package automaton

import "github.com/tc-sim/tccore/sim"

// Snapshot is the emitted view of one generation.
type Snapshot struct {
	Type  string `json:"type"`
	Tick  int64  `json:"tick"`
	Width int    `json:"width"`
	Cells []int  `json:"cells"`
}

// Kind implements sim.Snapshot.
func (s Snapshot) Kind() string { return s.Type }

// TickNumber implements sim.Snapshot.
func (s Snapshot) TickNumber() int64 { return s.Tick }

// BitString renders the cells as '0'/'1' characters.
func (s Snapshot) BitString() string {
	cells := make([]uint8, len(s.Cells))
	for i, c := range s.Cells {
		cells[i] = uint8(c)
	}
	return BitString(cells)
}

// Digest hashes the raw bit-string, not the JSON form.
func (s Snapshot) Digest() string {
	return sim.HashHex([]byte(s.BitString()))
}

var _ sim.Snapshot = Snapshot{}
