package sim

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// === Phases ===

// Phase is one stage of a tick.
type Phase int

const (
	// PhaseNone is the state of an open tick before capture has run.
	PhaseNone Phase = iota
	// PhaseCapture reads state and emits snapshots.
	PhaseCapture
	// PhaseCompute derives the next state without publishing it.
	PhaseCompute
	// PhaseCommit publishes computed state.
	PhaseCommit
)

// Phases lists runnable phases in execution order.
var Phases = []Phase{PhaseCapture, PhaseCompute, PhaseCommit}

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseCapture:
		return "capture"
	case PhaseCompute:
		return "compute"
	case PhaseCommit:
		return "commit"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ParsePhase maps a phase name to a Phase.
func ParsePhase(name string) (Phase, error) {
	switch name {
	case "capture":
		return PhaseCapture, nil
	case "compute":
		return PhaseCompute, nil
	case "commit":
		return PhaseCommit, nil
	}
	return PhaseNone, fmt.Errorf("%w %q", ErrUnknownPhase, name)
}

var (
	// ErrPhaseOrder is returned when a phase runs out of order within an open tick.
	ErrPhaseOrder = errors.New("phase out of order")
	// ErrUnknownPhase is returned for a phase that cannot be run or registered.
	ErrUnknownPhase = errors.New("unknown phase")
)

// === Tick context ===

// TickContext describes the tick being executed. Hooks receive it by value.
type TickContext struct {
	Tick      int64
	DT        float64
	Mode      string
	Scheduler string
	Phase     Phase

	// Seed is the per-tick seed. Valid only when Seeded is true.
	Seed   uint32
	Seeded bool
}

// ContextOption overrides fields of the current tick context.
type ContextOption func(*TickContext)

// WithDT overrides the tick duration.
func WithDT(dt float64) ContextOption {
	return func(c *TickContext) { c.DT = dt }
}

// WithMode overrides the tick mode label.
func WithMode(mode string) ContextOption {
	return func(c *TickContext) { c.Mode = mode }
}

// SchedulerConfig controls per-tick seeding.
type SchedulerConfig struct {
	Enabled  bool
	BaseSeed uint32
	TickSalt uint32
}

// TickSeed derives the seed pushed for a tick: mix(base, mix(salt, tick)).
func TickSeed(base, salt uint32, tick int64) uint32 {
	return Mix(base, Mix(salt, uint32(tick)))
}

// === Hooks ===

// Hook is invoked once per tick for the phase it is registered on.
// A returned error (or panic) is logged and does not affect other hooks.
type Hook func(ctx TickContext) error

// HookSet bundles optional hooks for each phase.
type HookSet struct {
	Capture Hook
	Compute Hook
	Commit  Hook
}

type hookEntry struct {
	id   uint64
	name string
	fn   Hook
}

// === TickScheduler ===

// TickScheduler runs each tick as capture → compute → commit, fanning out to
// registered hooks in registration order. When determinism is enabled it pushes a
// per-tick seed onto the RandomSource for the duration of the tick.
//
// Thread-safety: NOT thread-safe. One tick is open at a time.
type TickScheduler struct {
	label  string
	rng    *RandomSource
	config SchedulerConfig

	hooks  map[Phase][]hookEntry
	nextID uint64

	ctx        TickContext
	open       bool
	seedPushed bool
	lastTick   int64
	hasTicked  bool
}

// NewTickScheduler creates a scheduler bound to rng. A nil rng gets a fresh RandomSource.
func NewTickScheduler(label string, rng *RandomSource) *TickScheduler {
	if rng == nil {
		rng = NewRandomSource()
	}
	return &TickScheduler{
		label: label,
		rng:   rng,
		hooks: make(map[Phase][]hookEntry),
	}
}

// Configure replaces the seeding configuration. It takes effect at the next BeginTick.
func (s *TickScheduler) Configure(cfg SchedulerConfig) {
	s.config = cfg
}

// Config returns the current seeding configuration.
func (s *TickScheduler) Config() SchedulerConfig {
	return s.config
}

// Label returns the scheduler label placed into every TickContext.
func (s *TickScheduler) Label() string {
	return s.label
}

// RNG returns the RandomSource this scheduler seeds.
func (s *TickScheduler) RNG() *RandomSource {
	return s.rng
}

// Context returns the open tick context, if any.
func (s *TickScheduler) Context() (TickContext, bool) {
	return s.ctx, s.open
}

// BeginTick opens a tick. An already open tick is force-closed with a warning;
// its remaining phases never run.
func (s *TickScheduler) BeginTick(ctx TickContext) TickContext {
	if s.open {
		// TODO: offer a strict mode that returns an error here instead of dropping the open tick's commit.
		logrus.Warnf("[tick %07d] scheduler %q: beginTick while tick %d is open (phase %s); force-closing it",
			ctx.Tick, s.label, s.ctx.Tick, s.ctx.Phase)
		s.EndTick()
	}

	ctx.Phase = PhaseNone
	ctx.Scheduler = s.label
	if s.config.Enabled {
		base := s.config.BaseSeed
		if ctx.Seeded {
			base = ctx.Seed
		}
		ctx.Seed = TickSeed(base, s.config.TickSalt, ctx.Tick)
		ctx.Seeded = true
		s.rng.PushSeed(ctx.Seed)
		s.seedPushed = true
	} else {
		ctx.Seed, ctx.Seeded = 0, false
	}

	s.ctx = ctx
	s.open = true
	s.lastTick = ctx.Tick
	s.hasTicked = true
	return ctx
}

// RunPhase runs every hook registered for phase. The phase must be the next one
// expected in the open tick; anything else returns ErrPhaseOrder. Calling capture
// with no open tick begins the next tick with a warning.
func (s *TickScheduler) RunPhase(phase Phase, opts ...ContextOption) error {
	if phase < PhaseCapture || phase > PhaseCommit {
		return fmt.Errorf("%w: %s", ErrUnknownPhase, phase)
	}
	if !s.open {
		if phase != PhaseCapture {
			return fmt.Errorf("%w: %s requested with no open tick", ErrPhaseOrder, phase)
		}
		next := int64(0)
		if s.hasTicked {
			next = s.lastTick + 1
		}
		logrus.Warnf("[tick %07d] scheduler %q: capture without beginTick; starting tick automatically", next, s.label)
		s.BeginTick(TickContext{Tick: next})
	}
	if expected := s.ctx.Phase + 1; phase != expected {
		return fmt.Errorf("%w: tick %d expected %s, got %s (current %s)",
			ErrPhaseOrder, s.ctx.Tick, expected, phase, s.ctx.Phase)
	}

	for _, opt := range opts {
		opt(&s.ctx)
	}
	s.ctx.Phase = phase

	// Copy so hooks may unregister themselves while the phase runs.
	hooks := append([]hookEntry(nil), s.hooks[phase]...)
	for _, h := range hooks {
		s.invoke(h, s.ctx)
	}
	return nil
}

func (s *TickScheduler) invoke(h hookEntry, ctx TickContext) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"scheduler": s.label,
				"phase":     ctx.Phase.String(),
				"hook":      h.name,
				"tick":      ctx.Tick,
			}).Errorf("hook panicked: %v", r)
		}
	}()
	if err := h.fn(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"scheduler": s.label,
			"phase":     ctx.Phase.String(),
			"hook":      h.name,
			"tick":      ctx.Tick,
		}).Errorf("hook failed: %v", err)
	}
}

// EndTick closes the open tick and pops its seed. Options are applied to the
// context before it is cleared.
func (s *TickScheduler) EndTick(opts ...ContextOption) {
	if !s.open {
		logrus.Warnf("scheduler %q: endTick with no open tick", s.label)
		return
	}
	for _, opt := range opts {
		opt(&s.ctx)
	}
	if s.ctx.Phase != PhaseCommit {
		logrus.Warnf("[tick %07d] scheduler %q: closing tick at phase %s before commit", s.ctx.Tick, s.label, s.ctx.Phase)
	}
	if s.seedPushed {
		s.rng.PopSeed()
		s.seedPushed = false
	}
	s.ctx = TickContext{}
	s.open = false
}

// Step runs one full tick: begin, capture, compute, commit, end.
func (s *TickScheduler) Step(tick int64, dt float64) error {
	s.BeginTick(TickContext{Tick: tick, DT: dt})
	for _, p := range Phases {
		if err := s.RunPhase(p); err != nil {
			s.EndTick()
			return err
		}
	}
	s.EndTick()
	return nil
}

// Register adds a hook for phase and returns a function that removes it.
// The returned function is safe to call more than once.
func (s *TickScheduler) Register(phase Phase, name string, fn Hook) (func(), error) {
	if phase < PhaseCapture || phase > PhaseCommit {
		return nil, fmt.Errorf("%w: cannot register on %s", ErrUnknownPhase, phase)
	}
	if fn == nil {
		return func() {}, nil
	}
	s.nextID++
	id := s.nextID
	s.hooks[phase] = append(s.hooks[phase], hookEntry{id: id, name: name, fn: fn})
	return func() { s.unregister(phase, id) }, nil
}

func (s *TickScheduler) unregister(phase Phase, id uint64) {
	list := s.hooks[phase]
	for i, h := range list {
		if h.id == id {
			s.hooks[phase] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// RegisterHooks registers every non-nil hook in set under name and returns one
// function that removes all of them.
func (s *TickScheduler) RegisterHooks(name string, set HookSet) func() {
	var disposers []func()
	for i, fn := range []Hook{set.Capture, set.Compute, set.Commit} {
		if fn == nil {
			continue
		}
		d, _ := s.Register(Phases[i], name, fn)
		disposers = append(disposers, d)
	}
	return func() {
		for _, d := range disposers {
			d()
		}
	}
}

// HookCount returns the number of hooks registered for phase.
func (s *TickScheduler) HookCount(phase Phase) int {
	return len(s.hooks[phase])
}

// Reset force-closes any open tick and resets the RandomSource. Hooks stay registered.
func (s *TickScheduler) Reset() {
	if s.open {
		s.EndTick()
	}
	s.hasTicked = false
	s.lastTick = 0
	s.rng.Reset()
}
