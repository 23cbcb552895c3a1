package trace

import (
	"strings"

	"github.com/tc-sim/tccore/sim"
)

// TraceSummary aggregates a RunTrace.
type TraceSummary struct {
	Snapshots   int            `json:"snapshots"`
	FirstTick   int64          `json:"first_tick"`
	LastTick    int64          `json:"last_tick"`
	FinalDigest string         `json:"final_digest,omitempty"`
	ChainDigest string         `json:"chain_digest,omitempty"` // SHA-256 over all digests joined by '\n'
	Kinds       map[string]int `json:"kinds"`
}

// Summarize computes aggregate statistics from a RunTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(rt *RunTrace) *TraceSummary {
	summary := &TraceSummary{
		Kinds: make(map[string]int),
	}
	if rt == nil || len(rt.Records) == 0 {
		return summary
	}

	summary.Snapshots = len(rt.Records)
	summary.FirstTick = rt.Records[0].Tick
	summary.LastTick = rt.Records[len(rt.Records)-1].Tick
	summary.FinalDigest = rt.Records[len(rt.Records)-1].Digest
	for _, r := range rt.Records {
		summary.Kinds[r.Kind]++
	}
	summary.ChainDigest = sim.HashHex([]byte(strings.Join(rt.Digests(), "\n")))

	return summary
}
