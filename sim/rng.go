package sim

import (
	"strconv"
	"time"
	"unicode/utf16"
)

// === Seed helpers ===

// HashString coerces an arbitrary string seed into a uint32 using the
// polynomial hash h = h*31 + unit over the UTF-16 code units of s, wrapping at
// 32 bits. Characters outside the BMP contribute both surrogate halves.
func HashString(s string) uint32 {
	var h uint32
	for _, u := range utf16.Encode([]rune(s)) {
		h = h*31 + uint32(u)
	}
	return h
}

// ParseSeed interprets a configured seed. Decimal literals that fit in a uint32
// are used verbatim; anything else is hashed with HashString.
func ParseSeed(s string) uint32 {
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(v)
	}
	return HashString(s)
}

// Mix combines two 32-bit values into a well-distributed 32-bit value.
// Only integer operations are used so the result is identical on every platform.
func Mix(a, b uint32) uint32 {
	h := a ^ (b + 0x9e3779b9 + (a << 6) + (a >> 2))
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

// === Generator ===

// Generator is a freestanding 32-bit PRNG (mulberry32). It owns all of its state,
// so a forked generator can be handed to another goroutine.
//
// Thread-safety: NOT thread-safe. One owner at a time.
type Generator struct {
	seed  uint32
	state uint32
}

// NewGenerator creates a Generator whose stream is fully determined by seed.
func NewGenerator(seed uint32) *Generator {
	return &Generator{seed: seed, state: seed}
}

// Seed returns the value the generator was created from.
func (g *Generator) Seed() uint32 {
	return g.seed
}

// Uint32 advances the generator and returns the next raw 32-bit output.
func (g *Generator) Uint32() uint32 {
	g.state += 0x6d2b79f5
	t := g.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return t ^ (t >> 14)
}

// Float64 returns a value in [0, 1). The division is the only floating-point step.
func (g *Generator) Float64() float64 {
	return float64(g.Uint32()) / 4294967296.0
}

// Intn returns a value in [0, n). Returns 0 when n <= 0.
func (g *Generator) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(g.Float64() * float64(n))
}

// === RandomSource ===

type seedFrame struct {
	gen    *Generator
	seed   uint32
	seeded bool
}

// RandomSource is the simulation-wide random stream. It is either seeded
// (reproducible) or free-running (seeded from the clock on first use), and
// supports scoped seed overrides through PushSeed/PopSeed.
//
// Thread-safety: NOT thread-safe. Must be called from the tick goroutine.
type RandomSource struct {
	gen    *Generator
	seed   uint32
	seeded bool
	stack  []seedFrame

	// now supplies entropy for free-running mode; replaced in tests.
	now func() time.Time
}

// NewRandomSource creates a free-running RandomSource.
func NewRandomSource() *RandomSource {
	return &RandomSource{now: time.Now}
}

func (r *RandomSource) clockSeed() uint32 {
	ns := uint64(r.now().UnixNano())
	return Mix(uint32(ns), uint32(ns>>32))
}

// Float64 returns the next value in [0, 1) from the active stream.
func (r *RandomSource) Float64() float64 {
	if r.gen == nil {
		r.gen = NewGenerator(r.clockSeed())
	}
	return r.gen.Float64()
}

// Seed restarts the active stream from v. Overrides pushed earlier are kept on the stack.
func (r *RandomSource) Seed(v uint32) {
	r.gen = NewGenerator(v)
	r.seed = v
	r.seeded = true
}

// PushSeed saves the active stream and replaces it with one seeded from v.
func (r *RandomSource) PushSeed(v uint32) {
	r.stack = append(r.stack, seedFrame{gen: r.gen, seed: r.seed, seeded: r.seeded})
	r.Seed(v)
}

// PopSeed restores the stream saved by the matching PushSeed.
// Popping an empty stack returns the source to free-running mode.
func (r *RandomSource) PopSeed() {
	if len(r.stack) == 0 {
		r.gen, r.seed, r.seeded = nil, 0, false
		return
	}
	top := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	r.gen, r.seed, r.seeded = top.gen, top.seed, top.seeded
}

// Depth returns the number of pushed overrides.
func (r *RandomSource) Depth() int {
	return len(r.stack)
}

// ActiveSeed returns the seed of the active stream, or false when free-running.
func (r *RandomSource) ActiveSeed() (uint32, bool) {
	return r.seed, r.seeded
}

// Fork returns an independent generator derived from the active seed and label.
// The active stream is not advanced. When free-running, the clock stands in for
// the seed, so forks are not reproducible.
func (r *RandomSource) Fork(label string) *Generator {
	base := r.seed
	if !r.seeded {
		base = r.clockSeed()
	}
	return NewGenerator(Mix(base, HashString(label)))
}

// Reset drops every override and returns to free-running mode.
func (r *RandomSource) Reset() {
	r.stack = nil
	r.gen, r.seed, r.seeded = nil, 0, false
}

// RunWithSeed runs fn with the stream temporarily seeded from v.
func (r *RandomSource) RunWithSeed(v uint32, fn func()) {
	r.PushSeed(v)
	defer r.PopSeed()
	fn()
}
