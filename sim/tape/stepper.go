package tape

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/tc-sim/tccore/sim"
)

// DefaultChunkSize is the number of cells per tape chunk.
const DefaultChunkSize = 64

// Head is the read/write head state.
type Head struct {
	Position  int64  `json:"position"`
	State     string `json:"state"`
	Halted    bool   `json:"halted"`
	Direction Move   `json:"direction"`
}

// Bounds is the inclusive range of cells touched so far.
type Bounds struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

func (b *Bounds) extend(pos int64) {
	if pos < b.Min {
		b.Min = pos
	}
	if pos > b.Max {
		b.Max = pos
	}
}

// InitialTape describes the tape contents written by Reset.
type InitialTape struct {
	Symbols []string
	Offset  int64 // absolute position of Symbols[0]
	Head    int64 // initial head position
}

// ParseTape splits s into alphabet symbols. Strings containing spaces or commas are
// split on them; otherwise every rune is one symbol. Unknown symbols are an error.
func ParseTape(m *Machine, s string) ([]string, error) {
	var syms []string
	if strings.ContainsAny(s, " ,") {
		syms = strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
	} else {
		syms = make([]string, 0, utf8.RuneCountInString(s))
		for _, r := range s {
			syms = append(syms, string(r))
		}
	}
	for _, sym := range syms {
		if _, ok := m.Codes[sym]; !ok {
			return nil, fmt.Errorf("%w %q: tape symbol %q is not in the alphabet", ErrInvalidDescriptor, m.ID, sym)
		}
	}
	return syms, nil
}

// FixtureTape converts a descriptor fixture into an InitialTape.
func FixtureTape(m *Machine, f Fixture) (InitialTape, error) {
	syms, err := ParseTape(m, f.Tape)
	if err != nil {
		return InitialTape{}, err
	}
	return InitialTape{Symbols: syms, Offset: f.Offset, Head: f.Head}, nil
}

// Options configures a Stepper.
type Options struct {
	Descriptor Descriptor
	ChunkSize  int    // cells per chunk; default DefaultChunkSize
	KeyPrefix  string // chunk key prefix; default "tape:<id>"

	// WindowRadius widens the snapshot window to at least this many cells on each
	// side of the head. With FixedWindow the window is exactly that range and the
	// touched bounds are ignored.
	WindowRadius int64
	FixedWindow  bool

	EmitPhase sim.Phase // default PhaseCommit
	Sink      sim.SnapshotSink
	Initial   InitialTape
}

// Stepper runs a Machine over a chunk-paged tape, one transition per tick.
type Stepper struct {
	machine *Machine
	opts    Options
	store   *sim.ChunkStore[[]int]

	head    Head
	bounds  Bounds
	steps   int64
	pending *Action
	known   map[int64]bool // chunk indices ever created by this stepper

	haltedSnapshot *Snapshot
}

// New validates the descriptor, resets the tape to opts.Initial and registers the
// stepper's hooks on sched. Descriptor errors are returned before anything is
// registered. The returned function detaches the hooks and leaves the store untouched.
func New(sched *sim.TickScheduler, store *sim.ChunkStore[[]int], opts Options) (*Stepper, func(), error) {
	m, err := Normalize(opts.Descriptor)
	if err != nil {
		return nil, nil, err
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkSize < 0 {
		return nil, nil, fmt.Errorf("%w: chunk size must be positive, got %d", sim.ErrInvalidConfig, opts.ChunkSize)
	}
	if opts.WindowRadius < 0 {
		return nil, nil, fmt.Errorf("%w: window radius must not be negative, got %d", sim.ErrInvalidConfig, opts.WindowRadius)
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "tape:" + m.ID
	}
	if opts.EmitPhase == sim.PhaseNone {
		opts.EmitPhase = sim.PhaseCommit
	}
	if opts.EmitPhase != sim.PhaseCapture && opts.EmitPhase != sim.PhaseCommit {
		return nil, nil, fmt.Errorf("%w: tape snapshots are emitted on capture or commit, not %s", sim.ErrInvalidConfig, opts.EmitPhase)
	}

	st := &Stepper{machine: m, opts: opts, store: store, known: make(map[int64]bool)}
	if err := st.Reset(opts.Initial); err != nil {
		return nil, nil, err
	}
	unsubscribe := sched.RegisterHooks("tape:"+m.ID, sim.HookSet{
		Capture: st.capture,
		Compute: st.compute,
		Commit:  st.commit,
	})
	return st, unsubscribe, nil
}

// Machine returns the normalized machine.
func (st *Stepper) Machine() *Machine { return st.machine }

// Head returns the current head state.
func (st *Stepper) Head() Head { return st.head }

// Bounds returns the touched range.
func (st *Stepper) Bounds() Bounds { return st.bounds }

// Steps returns the number of transitions applied since the last reset.
func (st *Stepper) Steps() int64 { return st.steps }

// Reset refills every chunk this stepper has created with the blank symbol,
// restores the head to the initial state, then writes initial.Symbols at initial.Offset.
func (st *Stepper) Reset(initial InitialTape) error {
	for _, sym := range initial.Symbols {
		if _, ok := st.machine.Codes[sym]; !ok {
			return fmt.Errorf("%w %q: initial tape symbol %q is not in the alphabet", ErrInvalidDescriptor, st.machine.ID, sym)
		}
	}

	indices := make([]int64, 0, len(st.known))
	for idx := range st.known {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for _, idx := range indices {
		st.store.SetChunk(st.chunkKey(idx), st.blankChunk())
	}

	st.head = Head{
		Position:  initial.Head,
		State:     st.machine.InitialState,
		Halted:    st.machine.IsHaltState(st.machine.InitialState),
		Direction: MoveNone,
	}
	st.bounds = Bounds{Min: initial.Head, Max: initial.Head}
	st.steps = 0
	st.pending = nil
	st.haltedSnapshot = nil

	for i, sym := range initial.Symbols {
		pos := initial.Offset + int64(i)
		st.write(pos, st.machine.Codes[sym])
		st.bounds.extend(pos)
	}
	return nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func (st *Stepper) locate(pos int64) (int64, int) {
	size := int64(st.opts.ChunkSize)
	idx := floorDiv(pos, size)
	return idx, int(pos - idx*size)
}

func (st *Stepper) chunkKey(idx int64) string {
	return fmt.Sprintf("%s:%d", st.opts.KeyPrefix, idx)
}

func (st *Stepper) blankChunk() []int {
	c := make([]int, st.opts.ChunkSize)
	if st.machine.BlankCode != 0 {
		for i := range c {
			c[i] = st.machine.BlankCode
		}
	}
	return c
}

// chunk returns the payload for chunk idx, creating a blank one on first use.
func (st *Stepper) chunk(idx int64) []int {
	key := st.chunkKey(idx)
	res, err := st.store.GetChunk(key)
	if err != nil {
		logrus.Errorf("tape %q: %v", st.machine.ID, err)
	}
	if res.Ok() && len(res.Payload) == st.opts.ChunkSize {
		st.known[idx] = true
		return res.Payload
	}
	if res.Ok() {
		logrus.Warnf("tape %q: chunk %q has %d cells, want %d; replacing with blanks",
			st.machine.ID, key, len(res.Payload), st.opts.ChunkSize)
	}
	c := st.blankChunk()
	st.store.SetChunk(key, c)
	st.known[idx] = true
	return c
}

// Read returns the symbol code at pos.
func (st *Stepper) Read(pos int64) int {
	idx, off := st.locate(pos)
	return st.chunk(idx)[off]
}

// peek returns the symbol code at pos without creating a chunk. Cells in chunks
// that were never written read as blank.
func (st *Stepper) peek(pos int64) int {
	idx, off := st.locate(pos)
	res, err := st.store.GetChunk(st.chunkKey(idx))
	if err != nil {
		logrus.Errorf("tape %q: %v", st.machine.ID, err)
	}
	if res.Ok() && len(res.Payload) == st.opts.ChunkSize {
		return res.Payload[off]
	}
	return st.machine.BlankCode
}

func (st *Stepper) write(pos int64, code int) {
	idx, off := st.locate(pos)
	c := st.chunk(idx)
	c[off] = code
	st.store.MarkDirty(st.chunkKey(idx), true)
}

// Window returns the half-open snapshot range [start, end).
func (st *Stepper) Window() (int64, int64) {
	r := st.opts.WindowRadius
	pos := st.head.Position
	if st.opts.FixedWindow {
		return pos - r, pos + r + 1
	}
	return min(st.bounds.Min, pos-r), max(st.bounds.Max+1, pos+r+1)
}

// Snapshot returns the current state as a snapshot for tick. Once the machine has
// halted the first halted snapshot is returned unchanged for every later tick.
func (st *Stepper) Snapshot(tick int64) Snapshot {
	if st.head.Halted && st.haltedSnapshot != nil {
		return *st.haltedSnapshot
	}
	start, end := st.Window()
	cells := make([]string, 0, end-start)
	for pos := start; pos < end; pos++ {
		cells = append(cells, st.machine.Symbol(st.peek(pos)))
	}
	meta := make(map[string]any, len(st.machine.Metadata)+1)
	for k, v := range st.machine.Metadata {
		meta[k] = v
	}
	meta["machineId"] = st.machine.ID

	snap := Snapshot{
		Type:     SnapshotType,
		Tick:     tick,
		Head:     st.head,
		Tape:     cells,
		Window:   Window{Start: start, End: end},
		Metadata: meta,
	}
	if st.head.Halted {
		st.haltedSnapshot = &snap
	}
	return snap
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
	st.pending = nil
	if st.head.Halted {
		return nil
	}
	a := st.machine.Resolve(st.head.State, st.Read(st.head.Position))
	st.pending = &a
	if a.Kind == ActionImplicitHalt {
		logrus.Debugf("[tick %07d] tape %q: no transition for state %q on %q; halting in place",
			ctx.Tick, st.machine.ID, st.head.State, st.machine.Symbol(a.Write))
	}
	return nil
}

func (st *Stepper) commit(ctx sim.TickContext) error {
	if a := st.pending; a != nil && !st.head.Halted {
		st.apply(*a)
	}
	st.pending = nil
	if st.opts.EmitPhase == sim.PhaseCommit {
		st.emit(ctx.Tick)
	}
	return nil
}

func (st *Stepper) apply(a Action) {
	pos := st.head.Position
	st.write(pos, a.Write)
	st.bounds.extend(pos)

	next := pos + a.Move.Delta()
	st.bounds.extend(next)

	st.head.Position = next
	st.head.Direction = a.Move
	st.head.State = a.Next
	st.head.Halted = a.Halt || st.machine.IsHaltState(a.Next)
	st.steps++
}
