package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Model names accepted by RunConfig.Model.
const (
	ModelAutomaton = "automaton"
	ModelTape      = "tape"
)

// RunConfig holds a headless run configuration, loadable from a YAML file.
// Zero values mean "use the default"; see DefaultRunConfig.
type RunConfig struct {
	Model     string           `yaml:"model"`
	Ticks     int64            `yaml:"ticks"`
	DT        float64          `yaml:"dt"`
	OutputDir string           `yaml:"output_dir"`
	Scheduler SchedulerSection `yaml:"scheduler"`
	Store     StoreSection     `yaml:"store"`
	Automaton AutomatonSection `yaml:"automaton"`
	Tape      TapeSection      `yaml:"tape"`
}

// SchedulerSection configures per-tick seeding. BaseSeed is a decimal uint32 or any
// string, which is hashed.
type SchedulerSection struct {
	Enabled  bool   `yaml:"enabled"`
	BaseSeed string `yaml:"base_seed"`
	TickSalt uint32 `yaml:"tick_salt"`
}

// StoreSection configures the chunk stores. An empty SQLite path keeps evicted
// chunks in process memory.
type StoreSection struct {
	MaxChunks int    `yaml:"max_chunks"`
	SQLite    string `yaml:"sqlite"`
}

// AutomatonSection configures the cellular automaton model.
type AutomatonSection struct {
	Width       int     `yaml:"width"`
	Initializer string  `yaml:"initializer"`
	Index       int     `yaml:"index"`
	Pattern     string  `yaml:"pattern"`
	Offset      int     `yaml:"offset"`
	Repeat      bool    `yaml:"repeat"`
	Density     float64 `yaml:"density"`
	Rule        int     `yaml:"rule"`
}

// TapeSection configures the tape machine model. InitialTape takes precedence over Fixture.
type TapeSection struct {
	Machine      string `yaml:"machine"`
	Fixture      string `yaml:"fixture"`
	InitialTape  string `yaml:"initial_tape"`
	Offset       int64  `yaml:"offset"`
	Head         int64  `yaml:"head"`
	ChunkSize    int    `yaml:"chunk_size"`
	WindowRadius int64  `yaml:"window_radius"`
	FixedWindow  bool   `yaml:"fixed_window"`
}

// DefaultRunConfig returns the configuration used when no file is given.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Model:     ModelAutomaton,
		Ticks:     32,
		DT:        1,
		OutputDir: "tc-output",
		Scheduler: SchedulerSection{Enabled: true, BaseSeed: "0"},
		Store:     StoreSection{MaxChunks: 64},
		Automaton: AutomatonSection{Width: 64, Initializer: "single", Index: 63, Rule: 110},
		Tape:      TapeSection{ChunkSize: 64},
	}
}

// LoadRunConfig reads a YAML file on top of DefaultRunConfig.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run config: %w", err)
	}
	cfg := DefaultRunConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing run config: %w", err)
	}
	return &cfg, nil
}

// Validate checks model names and parameter ranges.
func (c *RunConfig) Validate() error {
	switch c.Model {
	case ModelAutomaton:
		if c.Automaton.Width <= 0 {
			return fmt.Errorf("%w: automaton width must be positive, got %d", ErrInvalidConfig, c.Automaton.Width)
		}
	case ModelTape:
		if c.Tape.Machine == "" {
			return fmt.Errorf("%w: tape model needs a machine descriptor path", ErrInvalidConfig)
		}
		if c.Tape.ChunkSize < 0 {
			return fmt.Errorf("%w: chunk size must not be negative, got %d", ErrInvalidConfig, c.Tape.ChunkSize)
		}
	default:
		return fmt.Errorf("%w: unknown model %q", ErrInvalidConfig, c.Model)
	}
	if c.Ticks < 0 {
		return fmt.Errorf("%w: ticks must not be negative, got %d", ErrInvalidConfig, c.Ticks)
	}
	if c.Store.MaxChunks <= 0 {
		return fmt.Errorf("%w: max chunks must be positive, got %d", ErrInvalidConfig, c.Store.MaxChunks)
	}
	return nil
}

// SchedulerConfig converts the scheduler section.
func (c *RunConfig) SchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:  c.Scheduler.Enabled,
		BaseSeed: ParseSeed(c.Scheduler.BaseSeed),
		TickSalt: c.Scheduler.TickSalt,
	}
}
