package automaton

import (
	"fmt"
	"sort"

	"github.com/tc-sim/tccore/sim"
)

// Initializer names.
const (
	InitSingle  = "single"
	InitPattern = "pattern"
	InitRandom  = "random"
	InitEmpty   = "empty"
)

// InitOptions parameterizes the initializers. Fields irrelevant to the chosen
// initializer are ignored.
type InitOptions struct {
	Index   int     `yaml:"index"`   // single: active cell, wrapped modulo width
	Pattern string  `yaml:"pattern"` // pattern: '0'/'1' characters
	Offset  int     `yaml:"offset"`  // pattern: first cell written, wrapped modulo width
	Repeat  bool    `yaml:"repeat"`  // pattern: tile across the full width
	Density float64 `yaml:"density"` // random: probability a cell is 1; 0 means 0.5
}

type initFunc func(width int, opts InitOptions, gen *sim.Generator) ([]uint8, error)

var initializers = map[string]initFunc{
	InitSingle:  initSingle,
	InitPattern: initPattern,
	InitRandom:  initRandom,
	InitEmpty:   initEmpty,
}

// Initializers returns the registered initializer names, sorted.
func Initializers() []string {
	names := make([]string, 0, len(initializers))
	for name := range initializers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Initial builds the first generation for the named initializer without a stepper.
func Initial(name string, width int, opts InitOptions, gen *sim.Generator) ([]uint8, error) {
	fn, ok := initializers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown automaton initializer %q", sim.ErrInvalidConfig, name)
	}
	return fn(width, opts, gen)
}

func wrap(i, width int) int {
	return ((i % width) + width) % width
}

func initEmpty(width int, _ InitOptions, _ *sim.Generator) ([]uint8, error) {
	return make([]uint8, width), nil
}

func initSingle(width int, opts InitOptions, _ *sim.Generator) ([]uint8, error) {
	cells := make([]uint8, width)
	cells[wrap(opts.Index, width)] = 1
	return cells, nil
}

func initPattern(width int, opts InitOptions, _ *sim.Generator) ([]uint8, error) {
	if opts.Pattern == "" {
		return nil, fmt.Errorf("%w: pattern initializer needs a non-empty pattern", sim.ErrInvalidConfig)
	}
	bits := make([]uint8, len(opts.Pattern))
	for i, ch := range opts.Pattern {
		switch ch {
		case '0':
		case '1':
			bits[i] = 1
		default:
			return nil, fmt.Errorf("%w: pattern %q contains %q; only '0' and '1' are allowed", sim.ErrInvalidConfig, opts.Pattern, ch)
		}
	}
	cells := make([]uint8, width)
	n := len(bits)
	if opts.Repeat {
		n = width
	} else if n > width {
		n = width
	}
	for i := 0; i < n; i++ {
		cells[wrap(opts.Offset+i, width)] = bits[i%len(bits)]
	}
	return cells, nil
}

func initRandom(width int, opts InitOptions, gen *sim.Generator) ([]uint8, error) {
	if gen == nil {
		gen = sim.NewRandomSource().Fork("automaton")
	}
	density := opts.Density
	if density == 0 {
		density = 0.5
	}
	if density < 0 || density > 1 {
		return nil, fmt.Errorf("%w: density must be in [0,1], got %v", sim.ErrInvalidConfig, density)
	}
	cells := make([]uint8, width)
	for i := range cells {
		if gen.Float64() < density {
			cells[i] = 1
		}
	}
	return cells, nil
}
