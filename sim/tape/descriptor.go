// Package tape implements a finite-state machine running over an unbounded,
// chunk-paged tape, one transition per tick.
package tape

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDescriptor is returned when a machine descriptor fails validation.
var ErrInvalidDescriptor = errors.New("invalid machine descriptor")

// Wildcard is the state-table key matching any symbol without its own entry.
const Wildcard = "*"

// Move is a head movement.
type Move string

const (
	MoveLeft  Move = "L"
	MoveRight Move = "R"
	MoveNone  Move = "N"
)

// Delta returns the head offset for m.
func (m Move) Delta() int64 {
	switch m {
	case MoveLeft:
		return -1
	case MoveRight:
		return 1
	}
	return 0
}

// RawTransition is one authorable transition. Omitted fields default to:
// write the symbol read, no move, stay in the same state, no halt.
type RawTransition struct {
	Write *string `yaml:"write,omitempty" json:"write,omitempty"`
	Move  string  `yaml:"move,omitempty" json:"move,omitempty"`
	Next  string  `yaml:"next,omitempty" json:"next,omitempty"`
	Halt  bool    `yaml:"halt,omitempty" json:"halt,omitempty"`
}

// Fixture is a named initial tape shipped with a descriptor.
type Fixture struct {
	Name   string `yaml:"name" json:"name"`
	Tape   string `yaml:"tape" json:"tape"`
	Offset int64  `yaml:"offset,omitempty" json:"offset,omitempty"`
	Head   int64  `yaml:"head,omitempty" json:"head,omitempty"`
}

// Descriptor is the authorable machine format (YAML or JSON).
type Descriptor struct {
	ID           string                              `yaml:"id" json:"id"`
	Alphabet     []string                            `yaml:"alphabet" json:"alphabet"`
	Blank        string                              `yaml:"blank" json:"blank"`
	InitialState string                              `yaml:"initialState" json:"initialState"`
	States       map[string]map[string]RawTransition `yaml:"states" json:"states"`
	HaltStates   []string                            `yaml:"haltStates,omitempty" json:"haltStates,omitempty"`
	Metadata     map[string]any                      `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Fixtures     []Fixture                           `yaml:"fixtures,omitempty" json:"fixtures,omitempty"`
}

// LoadDescriptor reads a YAML or JSON descriptor file. It does not validate; pass
// the result to Normalize.
func LoadDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("reading machine descriptor: %w", err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("parsing machine descriptor: %w", err)
	}
	return d, nil
}

// Transition is a validated transition with the written symbol resolved to a code.
type Transition struct {
	Write int  // symbol code to write; ignored when Keep is set
	Keep  bool // write back whatever was read
	Move  Move
	Next  string // empty means stay in the current state
	Halt  bool
}

// Machine is a normalized descriptor. Symbols are addressed by their index in Alphabet.
type Machine struct {
	ID           string
	Alphabet     []string
	Codes        map[string]int
	Blank        string
	BlankCode    int
	InitialState string
	// States maps state -> read symbol code -> transition.
	States     map[string]map[int]Transition
	Wildcards  map[string]Transition
	HaltStates map[string]bool
	Metadata   map[string]any
	Fixtures   []Fixture
}

// Normalize validates d and builds a Machine. Errors wrap ErrInvalidDescriptor.
func Normalize(d Descriptor) (*Machine, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidDescriptor)
	}
	if len(d.Alphabet) == 0 {
		return nil, fmt.Errorf("%w %q: alphabet must not be empty", ErrInvalidDescriptor, d.ID)
	}
	m := &Machine{
		ID:           d.ID,
		Alphabet:     append([]string(nil), d.Alphabet...),
		Codes:        make(map[string]int, len(d.Alphabet)),
		Blank:        d.Blank,
		InitialState: d.InitialState,
		States:       make(map[string]map[int]Transition, len(d.States)),
		Wildcards:    make(map[string]Transition),
		HaltStates:   make(map[string]bool, len(d.HaltStates)),
		Metadata:     d.Metadata,
		Fixtures:     append([]Fixture(nil), d.Fixtures...),
	}
	for i, sym := range d.Alphabet {
		if sym == "" || sym == Wildcard {
			return nil, fmt.Errorf("%w %q: alphabet symbol %d is %q", ErrInvalidDescriptor, d.ID, i, sym)
		}
		if _, dup := m.Codes[sym]; dup {
			return nil, fmt.Errorf("%w %q: duplicate alphabet symbol %q", ErrInvalidDescriptor, d.ID, sym)
		}
		m.Codes[sym] = i
	}
	blank, ok := m.Codes[d.Blank]
	if !ok {
		return nil, fmt.Errorf("%w %q: blank %q is not in the alphabet", ErrInvalidDescriptor, d.ID, d.Blank)
	}
	m.BlankCode = blank
	if d.InitialState == "" {
		return nil, fmt.Errorf("%w %q: missing initialState", ErrInvalidDescriptor, d.ID)
	}
	for _, h := range d.HaltStates {
		m.HaltStates[h] = true
	}

	for state, row := range d.States {
		codes := make(map[int]Transition, len(row))
		for read, raw := range row {
			tr, err := m.normalizeTransition(state, read, raw)
			if err != nil {
				return nil, err
			}
			if read == Wildcard {
				m.Wildcards[state] = tr
				continue
			}
			code, ok := m.Codes[read]
			if !ok {
				return nil, fmt.Errorf("%w %q: state %q reads %q, which is not in the alphabet", ErrInvalidDescriptor, d.ID, state, read)
			}
			codes[code] = tr
		}
		m.States[state] = codes
	}
	return m, nil
}

func (m *Machine) normalizeTransition(state, read string, raw RawTransition) (Transition, error) {
	tr := Transition{Keep: true, Move: MoveNone, Next: raw.Next, Halt: raw.Halt}
	if raw.Write != nil {
		code, ok := m.Codes[*raw.Write]
		if !ok {
			return Transition{}, fmt.Errorf("%w %q: state %q on %q writes %q, which is not in the alphabet",
				ErrInvalidDescriptor, m.ID, state, read, *raw.Write)
		}
		tr.Write, tr.Keep = code, false
	}
	switch Move(raw.Move) {
	case "", MoveNone:
	case MoveLeft, MoveRight:
		tr.Move = Move(raw.Move)
	default:
		return Transition{}, fmt.Errorf("%w %q: state %q on %q has move %q; want L, R or N",
			ErrInvalidDescriptor, m.ID, state, read, raw.Move)
	}
	return tr, nil
}

// Descriptor converts m back to the authorable form. Normalize(m.Descriptor())
// yields a machine equal to m.
func (m *Machine) Descriptor() Descriptor {
	d := Descriptor{
		ID:           m.ID,
		Alphabet:     append([]string(nil), m.Alphabet...),
		Blank:        m.Blank,
		InitialState: m.InitialState,
		States:       make(map[string]map[string]RawTransition, len(m.States)),
		Metadata:     m.Metadata,
		Fixtures:     append([]Fixture(nil), m.Fixtures...),
	}
	for h := range m.HaltStates {
		d.HaltStates = append(d.HaltStates, h)
	}
	sort.Strings(d.HaltStates)
	for state, row := range m.States {
		out := make(map[string]RawTransition, len(row)+1)
		for code, tr := range row {
			out[m.Alphabet[code]] = m.rawTransition(tr)
		}
		d.States[state] = out
	}
	for state, tr := range m.Wildcards {
		if d.States[state] == nil {
			d.States[state] = make(map[string]RawTransition, 1)
		}
		d.States[state][Wildcard] = m.rawTransition(tr)
	}
	return d
}

func (m *Machine) rawTransition(tr Transition) RawTransition {
	raw := RawTransition{Move: string(tr.Move), Next: tr.Next, Halt: tr.Halt}
	if !tr.Keep {
		sym := m.Alphabet[tr.Write]
		raw.Write = &sym
	}
	return raw
}

// Symbol returns the symbol for code, or the blank for an out-of-range code.
func (m *Machine) Symbol(code int) string {
	if code < 0 || code >= len(m.Alphabet) {
		return m.Blank
	}
	return m.Alphabet[code]
}

// ActionKind distinguishes a table transition from the implicit halt.
type ActionKind int

const (
	// ActionTransition comes from an explicit or wildcard table entry.
	ActionTransition ActionKind = iota
	// ActionImplicitHalt is synthesized when no entry matches: the machine
	// writes back what it read, does not move, and halts in place.
	ActionImplicitHalt
)

// Action is a resolved transition ready to be applied.
type Action struct {
	Kind  ActionKind
	Write int
	Move  Move
	Next  string
	Halt  bool
}

// Resolve looks up the action for reading code in state: the exact entry first,
// then the state's wildcard, then the implicit halt.
func (m *Machine) Resolve(state string, code int) Action {
	tr, ok := m.States[state][code]
	if !ok {
		tr, ok = m.Wildcards[state]
	}
	if !ok {
		return Action{Kind: ActionImplicitHalt, Write: code, Move: MoveNone, Next: state, Halt: true}
	}
	a := Action{Kind: ActionTransition, Write: tr.Write, Move: tr.Move, Next: tr.Next, Halt: tr.Halt}
	if tr.Keep {
		a.Write = code
	}
	if a.Next == "" {
		a.Next = state
	}
	return a
}

// IsHaltState reports whether state is declared as halting.
func (m *Machine) IsHaltState(state string) bool {
	return m.HaltStates[state]
}

// FixtureByName returns the named fixture.
func (m *Machine) FixtureByName(name string) (Fixture, bool) {
	for _, f := range m.Fixtures {
		if f.Name == name {
			return f, true
		}
	}
	return Fixture{}, false
}
