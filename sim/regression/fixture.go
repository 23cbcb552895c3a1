// Package regression replays recorded model runs and compares per-step snapshot
// digests against the hashes stored in a fixture file.
package regression

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tc-sim/tccore/sim"
	"github.com/tc-sim/tccore/sim/automaton"
	"github.com/tc-sim/tccore/sim/tape"
)

// ErrHashMismatch is returned by Verify when a replay diverges from the fixture.
var ErrHashMismatch = errors.New("snapshot hash mismatch")

// Fixture is one recorded run. Kind selects which fields apply.
type Fixture struct {
	Label string `yaml:"label"`
	Kind  string `yaml:"kind"` // sim.ModelAutomaton or sim.ModelTape

	// automaton
	Width       int     `yaml:"width,omitempty"`
	Initializer string  `yaml:"initializer,omitempty"`
	Index       int     `yaml:"index,omitempty"`
	Pattern     string  `yaml:"pattern,omitempty"`
	Repeat      bool    `yaml:"repeat,omitempty"`
	Density     float64 `yaml:"density,omitempty"`
	Rule        int     `yaml:"rule,omitempty"`

	// tape
	MachineID   string           `yaml:"machine_id,omitempty"`
	Machine     string           `yaml:"machine,omitempty"` // descriptor path, relative to the fixture file
	Descriptor  *tape.Descriptor `yaml:"descriptor,omitempty"`
	InitialTape string           `yaml:"initial_tape,omitempty"`
	Head        int64            `yaml:"head,omitempty"`
	ChunkSize   int              `yaml:"chunk_size,omitempty"`

	Offset int64    `yaml:"offset,omitempty"` // pattern offset or initial tape offset
	Seed   string   `yaml:"seed,omitempty"`   // seeds the random source before construction; decimal uint32 or any string
	Steps  int64    `yaml:"steps"`
	Hashes []string `yaml:"hashes"`
}

// LoadFixture reads a fixture and, for tape fixtures, the descriptor it references.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	if f.Kind == sim.ModelTape && f.Descriptor == nil && f.Machine != "" {
		mpath := f.Machine
		if !filepath.IsAbs(mpath) {
			mpath = filepath.Join(filepath.Dir(path), mpath)
		}
		d, err := tape.LoadDescriptor(mpath)
		if err != nil {
			return nil, err
		}
		f.Descriptor = &d
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return &f, nil
}

// Name returns the label, falling back to the machine id.
func (f *Fixture) Name() string {
	if f.Label != "" {
		return f.Label
	}
	return f.MachineID
}

// Validate checks that the fixture can be replayed.
func (f *Fixture) Validate() error {
	if f.Steps < 0 {
		return fmt.Errorf("%w: steps must not be negative, got %d", sim.ErrInvalidConfig, f.Steps)
	}
	switch f.Kind {
	case sim.ModelAutomaton:
		if f.Width <= 0 {
			return fmt.Errorf("%w: automaton fixture needs a positive width", sim.ErrInvalidConfig)
		}
	case sim.ModelTape:
		if f.Descriptor == nil {
			return fmt.Errorf("%w: tape fixture needs a machine descriptor", sim.ErrInvalidConfig)
		}
		if f.MachineID != "" && f.MachineID != f.Descriptor.ID {
			return fmt.Errorf("%w: fixture machine_id %q does not match descriptor id %q",
				sim.ErrInvalidConfig, f.MachineID, f.Descriptor.ID)
		}
	default:
		return fmt.Errorf("%w: unknown fixture kind %q", sim.ErrInvalidConfig, f.Kind)
	}
	if len(f.Hashes) != 0 && int64(len(f.Hashes)) != f.Steps {
		return fmt.Errorf("%w: %d hashes for %d steps", sim.ErrInvalidConfig, len(f.Hashes), f.Steps)
	}
	return nil
}

// ReplayOptions controls the environment a fixture is replayed in. None of these
// may change the resulting hashes.
type ReplayOptions struct {
	Enabled   bool
	BaseSeed  uint32
	TickSalt  uint32
	MaxChunks int // default 1024
}

// initSeed returns the seed the random source starts from: the fixture's own seed,
// else the replay base seed when seeding is enabled.
func (f *Fixture) initSeed(opts ReplayOptions) (uint32, bool) {
	if f.Seed != "" {
		return sim.ParseSeed(f.Seed), true
	}
	if opts.Enabled {
		return opts.BaseSeed, true
	}
	return 0, false
}

func (f *Fixture) usesRandom() bool {
	return f.Kind == sim.ModelAutomaton && f.Initializer == automaton.InitRandom
}

// Replay runs the fixture for Steps ticks and returns one digest per tick.
func Replay(f *Fixture, opts ReplayOptions) ([]string, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxChunks == 0 {
		opts.MaxChunks = 1024
	}
	rng := sim.NewRandomSource()
	if seed, ok := f.initSeed(opts); ok {
		rng.Seed(seed)
	} else if f.usesRandom() {
		return nil, fmt.Errorf("%w: %s uses the random initializer but has no seed and seeding is disabled",
			sim.ErrInvalidConfig, f.Name())
	}
	sched := sim.NewTickScheduler(f.Name(), rng)
	sched.Configure(sim.SchedulerConfig{Enabled: opts.Enabled, BaseSeed: opts.BaseSeed, TickSalt: opts.TickSalt})
	rec := &sim.Recorder{}

	var unsubscribe func()
	switch f.Kind {
	case sim.ModelAutomaton:
		backing := sim.NewMemoryBacking(sim.CloneSlice[uint8])
		store, err := sim.NewChunkStore(backing.StoreConfig(opts.MaxChunks))
		if err != nil {
			return nil, err
		}
		_, unsubscribe, err = automaton.New(sched, store, automaton.Options{
			Width:       f.Width,
			Initializer: f.Initializer,
			InitializerOptions: automaton.InitOptions{
				Index:   f.Index,
				Pattern: f.Pattern,
				Offset:  int(f.Offset),
				Repeat:  f.Repeat,
				Density: f.Density,
			},
			Rule: f.Rule,
			Sink: rec.Sink(),
			RNG:  sched.RNG(),
		})
		if err != nil {
			return nil, err
		}
	case sim.ModelTape:
		backing := sim.NewMemoryBacking(sim.CloneSlice[int])
		store, err := sim.NewChunkStore(backing.StoreConfig(opts.MaxChunks))
		if err != nil {
			return nil, err
		}
		m, err := tape.Normalize(*f.Descriptor)
		if err != nil {
			return nil, err
		}
		syms, err := tape.ParseTape(m, f.InitialTape)
		if err != nil {
			return nil, err
		}
		_, unsubscribe, err = tape.New(sched, store, tape.Options{
			Descriptor: *f.Descriptor,
			ChunkSize:  f.ChunkSize,
			Sink:       rec.Sink(),
			Initial:    tape.InitialTape{Symbols: syms, Offset: f.Offset, Head: f.Head},
		})
		if err != nil {
			return nil, err
		}
	}
	defer unsubscribe()

	for tick := int64(0); tick < f.Steps; tick++ {
		if err := sched.Step(tick, 1); err != nil {
			return nil, err
		}
	}
	return rec.Digests(), nil
}

// Verify replays f and compares every digest with the recorded hash.
func Verify(f *Fixture, opts ReplayOptions) error {
	got, err := Replay(f, opts)
	if err != nil {
		return err
	}
	if len(got) != len(f.Hashes) {
		return fmt.Errorf("%w: %s produced %d hashes, fixture has %d", ErrHashMismatch, f.Name(), len(got), len(f.Hashes))
	}
	for i := range got {
		if got[i] != f.Hashes[i] {
			return fmt.Errorf("%w: %s step %d: want %s, got %s", ErrHashMismatch, f.Name(), i, f.Hashes[i], got[i])
		}
	}
	return nil
}

// Record replays f and replaces its hashes. A random-initializer fixture without
// its own seed records the replay base seed, so later replays need no options.
func Record(f *Fixture, opts ReplayOptions) error {
	f.Hashes = nil
	if f.usesRandom() && f.Seed == "" && opts.Enabled {
		f.Seed = strconv.FormatUint(uint64(opts.BaseSeed), 10)
	}
	got, err := Replay(f, opts)
	if err != nil {
		return err
	}
	f.Hashes = got
	return nil
}

// Save writes f as YAML. A loaded descriptor is not written back when Machine names a file.
func (f *Fixture) Save(path string) error {
	out := *f
	if out.Machine != "" {
		out.Descriptor = nil
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("encoding fixture: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
