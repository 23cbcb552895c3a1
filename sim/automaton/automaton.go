// Package automaton implements a 1-D binary cellular automaton driven by the tick scheduler.
//
// The current generation and a scratch buffer live in a sim.ChunkStore under two keys.
// Compute writes the next generation into the buffer; commit swaps the two, so hooks
// reading the current generation during compute never observe a half-written state.
package automaton

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tc-sim/tccore/sim"
)

// Rule110 is the default elementary rule.
const Rule110 = 110

// SnapshotType is the Type field of automaton snapshots.
const SnapshotType = "automaton"

// Options configures a Stepper.
type Options struct {
	Width              int
	Initializer        string // "single", "pattern", "random" or "empty"; default "single"
	InitializerOptions InitOptions
	StateKey           string // default "automaton:state"
	BufferKey          string // default "automaton:buffer"
	Rule               int    // elementary rule number; 0 means Rule110
	EmitPhase          sim.Phase
	Sink               sim.SnapshotSink
	RNG                *sim.RandomSource // consulted only by the random initializer
}

func (o *Options) applyDefaults() {
	if o.Initializer == "" {
		o.Initializer = InitSingle
	}
	if o.StateKey == "" {
		o.StateKey = "automaton:state"
	}
	if o.BufferKey == "" {
		o.BufferKey = "automaton:buffer"
	}
	if o.Rule == 0 {
		o.Rule = Rule110
	}
	if o.EmitPhase == sim.PhaseNone {
		o.EmitPhase = sim.PhaseCommit
	}
}

func (o *Options) validate() error {
	if o.Width <= 0 {
		return fmt.Errorf("%w: automaton width must be positive, got %d", sim.ErrInvalidConfig, o.Width)
	}
	if o.StateKey == o.BufferKey {
		return fmt.Errorf("%w: automaton state and buffer keys must differ (%q)", sim.ErrInvalidConfig, o.StateKey)
	}
	if o.Rule < 0 || o.Rule > 255 {
		return fmt.Errorf("%w: elementary rule must be in [0,255], got %d", sim.ErrInvalidConfig, o.Rule)
	}
	if o.EmitPhase != sim.PhaseCapture && o.EmitPhase != sim.PhaseCommit {
		return fmt.Errorf("%w: automaton snapshots are emitted on capture or commit, not %s", sim.ErrInvalidConfig, o.EmitPhase)
	}
	if _, ok := initializers[o.Initializer]; !ok {
		return fmt.Errorf("%w: unknown automaton initializer %q", sim.ErrInvalidConfig, o.Initializer)
	}
	return nil
}

// Stepper advances the automaton by one generation per tick.
type Stepper struct {
	opts    Options
	store   *sim.ChunkStore[[]uint8]
	initial []uint8

	generation int64
	pending    bool
}

// New creates a Stepper, writes the initial generation into store and registers
// the stepper's hooks on sched. The returned function detaches the hooks and
// leaves the store untouched.
func New(sched *sim.TickScheduler, store *sim.ChunkStore[[]uint8], opts Options) (*Stepper, func(), error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	initial, err := initializers[opts.Initializer](opts.Width, opts.InitializerOptions, opts.rngFor())
	if err != nil {
		return nil, nil, err
	}

	st := &Stepper{opts: opts, store: store, initial: initial}
	store.SetChunk(opts.StateKey, sim.CloneSlice(initial))

	unsubscribe := sched.RegisterHooks("automaton:"+opts.StateKey, sim.HookSet{
		Capture: st.capture,
		Compute: st.compute,
		Commit:  st.commit,
	})
	return st, unsubscribe, nil
}

func (o *Options) rngFor() *sim.Generator {
	if o.RNG == nil {
		return nil
	}
	return o.RNG.Fork("automaton:" + o.StateKey)
}

// Width returns the number of cells.
func (st *Stepper) Width() int {
	return st.opts.Width
}

// Generation returns the number of committed generations.
func (st *Stepper) Generation() int64 {
	return st.generation
}

// GetState returns a copy of the current generation.
func (st *Stepper) GetState() []uint8 {
	return sim.CloneSlice(st.current())
}

func (st *Stepper) current() []uint8 {
	res, err := st.store.GetChunk(st.opts.StateKey)
	if err != nil {
		logrus.Errorf("automaton %q: %v", st.opts.StateKey, err)
	}
	if res.Ok() && len(res.Payload) == st.opts.Width {
		return res.Payload
	}
	// Only reachable when the state chunk was evicted with no save hook.
	logrus.Warnf("automaton %q: state chunk missing; restoring initial generation", st.opts.StateKey)
	cells := sim.CloneSlice(st.initial)
	st.store.SetChunk(st.opts.StateKey, cells)
	st.generation = 0
	return cells
}

// Snapshot returns the current generation as a snapshot for tick.
func (st *Stepper) Snapshot(tick int64) Snapshot {
	cur := st.current()
	cells := make([]int, len(cur))
	for i, c := range cur {
		cells[i] = int(c)
	}
	return Snapshot{Type: SnapshotType, Tick: tick, Width: st.opts.Width, Cells: cells}
}

func (st *Stepper) emit(tick int64) {
	if st.opts.Sink != nil {
		st.opts.Sink(st.Snapshot(tick))
	}
}

func (st *Stepper) capture(ctx sim.TickContext) error {
	if st.opts.EmitPhase == sim.PhaseCapture {
		st.emit(ctx.Tick)
	}
	return nil
}

func (st *Stepper) compute(ctx sim.TickContext) error {
	prev := st.current()
	var buf []uint8
	if res, err := st.store.GetChunk(st.opts.BufferKey); err == nil && res.Ok() && len(res.Payload) == len(prev) {
		buf = res.Payload
	} else {
		buf = make([]uint8, len(prev))
	}
	NextGenerationInto(buf, prev, st.opts.Rule)
	st.store.SetChunk(st.opts.BufferKey, buf)
	st.pending = true
	return nil
}

func (st *Stepper) commit(ctx sim.TickContext) error {
	if !st.pending {
		return fmt.Errorf("automaton %q: commit without compute in tick %d", st.opts.StateKey, ctx.Tick)
	}
	st.pending = false

	cur := st.current()
	res, err := st.store.GetChunk(st.opts.BufferKey)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("automaton %q: computed generation lost before commit", st.opts.StateKey)
	}
	st.store.SetChunk(st.opts.StateKey, res.Payload)
	st.store.SetChunk(st.opts.BufferKey, cur)
	st.generation++

	if st.opts.EmitPhase == sim.PhaseCommit {
		st.emit(ctx.Tick)
	}
	return nil
}

// NextGeneration returns the generation following prev under rule, with
// wrap-around boundaries.
func NextGeneration(prev []uint8, rule int) []uint8 {
	next := make([]uint8, len(prev))
	NextGenerationInto(next, prev, rule)
	return next
}

// NextGenerationInto writes the generation following prev into dst.
// dst and prev must have equal length and must not alias.
func NextGenerationInto(dst, prev []uint8, rule int) {
	w := len(prev)
	for i := 0; i < w; i++ {
		l := prev[(i-1+w)%w] & 1
		c := prev[i] & 1
		r := prev[(i+1)%w] & 1
		dst[i] = uint8(rule>>(l<<2|c<<1|r)) & 1
	}
}

// BitString renders cells as a string of '0' and '1'.
func BitString(cells []uint8) string {
	var sb strings.Builder
	sb.Grow(len(cells))
	for _, c := range cells {
		if c&1 == 1 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
