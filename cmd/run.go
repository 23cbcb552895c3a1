package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tc-sim/tccore/sim"
	"github.com/tc-sim/tccore/sim/automaton"
	"github.com/tc-sim/tccore/sim/persist"
	"github.com/tc-sim/tccore/sim/tape"
	"github.com/tc-sim/tccore/sim/trace"
)

var (
	runConfigPath string // YAML run configuration
	runModel      string // automaton or tape
	runTicks      int64  // Number of ticks to step
	runOutputDir  string // Directory for snapshots.jsonl and manifest.jsonl
	runSeed       string // Base seed (decimal uint32 or any string)
	runEnabled    bool   // Per-tick seeding on/off
	runTickSalt   uint32 // Salt mixed into every tick seed
	runMaxChunks  int    // Resident chunk limit per store
	runSQLite     string // SQLite file for evicted chunks
	runMachine    string // Tape machine descriptor path
	runTape       string // Initial tape contents
	runFixture    string // Named descriptor fixture
)

// runCmd steps one model headlessly and appends its snapshots to the output directory
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a model headlessly and emit snapshot and manifest streams",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := sim.DefaultRunConfig()
		if runConfigPath != "" {
			loaded, err := sim.LoadRunConfig(runConfigPath)
			if err != nil {
				return err
			}
			cfg = *loaded
		}
		applyRunFlags(cmd, &cfg)

		summary, err := runSimulation(&cfg)
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), summary)
	},
}

// applyRunFlags overrides file values with flags the user set explicitly.
func applyRunFlags(cmd *cobra.Command, cfg *sim.RunConfig) {
	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Model = runModel
	}
	if flags.Changed("ticks") {
		cfg.Ticks = runTicks
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = runOutputDir
	}
	if flags.Changed("seed") {
		cfg.Scheduler.BaseSeed = runSeed
	}
	if flags.Changed("deterministic") {
		cfg.Scheduler.Enabled = runEnabled
	}
	if flags.Changed("tick-salt") {
		cfg.Scheduler.TickSalt = runTickSalt
	}
	if flags.Changed("max-chunks") {
		cfg.Store.MaxChunks = runMaxChunks
	}
	if flags.Changed("sqlite") {
		cfg.Store.SQLite = runSQLite
	}
	if flags.Changed("machine") {
		cfg.Model = sim.ModelTape
		cfg.Tape.Machine = runMachine
	}
	if flags.Changed("tape") {
		cfg.Tape.InitialTape = runTape
	}
	if flags.Changed("fixture") {
		cfg.Tape.Fixture = runFixture
	}
}

// runResult is what the run command prints.
type runResult struct {
	RunID     string              `json:"run_id"`
	OutputDir string              `json:"output_dir"`
	Summary   *trace.TraceSummary `json:"summary"`
}

// runSimulation builds the scheduler, chunk store and stepper described by cfg,
// steps it cfg.Ticks times and appends every snapshot to cfg.OutputDir.
func runSimulation(cfg *sim.RunConfig) (*runResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	schedCfg := cfg.SchedulerConfig()
	rng := sim.NewRandomSource()
	if schedCfg.Enabled {
		rng.Seed(schedCfg.BaseSeed)
	}
	sched := sim.NewTickScheduler(cfg.Model, rng)
	sched.Configure(schedCfg)

	emitter := trace.NewEmitter(cfg.OutputDir)
	defer func() {
		if err := emitter.Close(); err != nil {
			logrus.Errorf("closing emitter: %v", err)
		}
	}()

	var db *persist.Store
	if cfg.Store.SQLite != "" {
		var err error
		if db, err = persist.Open(cfg.Store.SQLite); err != nil {
			return nil, err
		}
		defer db.Close()
	}
	namespace := "runs/" + emitter.RunID() + "/" + cfg.Model

	var (
		label  string
		params map[string]string
		flush  func() error
		err    error
	)
	switch cfg.Model {
	case sim.ModelAutomaton:
		label, params, flush, err = buildAutomaton(cfg, sched, db, namespace, emitter.Sink())
	case sim.ModelTape:
		label, params, flush, err = buildTape(cfg, sched, db, namespace, emitter.Sink())
	}
	if err != nil {
		return nil, err
	}

	if err := emitter.Start(trace.RunInfo{
		Model:      cfg.Model,
		Label:      label,
		Ticks:      cfg.Ticks,
		Enabled:    schedCfg.Enabled,
		BaseSeed:   schedCfg.BaseSeed,
		TickSalt:   schedCfg.TickSalt,
		MaxChunks:  cfg.Store.MaxChunks,
		Parameters: params,
	}); err != nil {
		return nil, err
	}
	logrus.Infof("Starting %s run %s: %d ticks, deterministic=%v, base seed %d",
		label, emitter.RunID(), cfg.Ticks, schedCfg.Enabled, schedCfg.BaseSeed)

	for tick := int64(0); tick < cfg.Ticks; tick++ {
		if err := sched.Step(tick, cfg.DT); err != nil {
			return nil, fmt.Errorf("tick %d: %w", tick, err)
		}
	}
	if err := flush(); err != nil {
		return nil, fmt.Errorf("flushing chunks: %w", err)
	}

	summary, err := emitter.Finish()
	if err != nil {
		return nil, err
	}
	logrus.Info("Run complete.")
	return &runResult{RunID: emitter.RunID(), OutputDir: cfg.OutputDir, Summary: summary}, nil
}

func buildAutomaton(cfg *sim.RunConfig, sched *sim.TickScheduler, db *persist.Store, namespace string, sink sim.SnapshotSink) (string, map[string]string, func() error, error) {
	var storeCfg sim.StoreConfig[[]uint8]
	if db != nil {
		storeCfg = persist.StoreConfig[[]uint8](db, namespace, cfg.Store.MaxChunks)
	} else {
		storeCfg = sim.NewMemoryBacking(sim.CloneSlice[uint8]).StoreConfig(cfg.Store.MaxChunks)
	}
	store, err := sim.NewChunkStore(storeCfg)
	if err != nil {
		return "", nil, nil, err
	}

	a := cfg.Automaton
	st, _, err := automaton.New(sched, store, automaton.Options{
		Width:       a.Width,
		Initializer: a.Initializer,
		InitializerOptions: automaton.InitOptions{
			Index:   a.Index,
			Pattern: a.Pattern,
			Offset:  a.Offset,
			Repeat:  a.Repeat,
			Density: a.Density,
		},
		Rule: a.Rule,
		Sink: sink,
		RNG:  sched.RNG(),
	})
	if err != nil {
		return "", nil, nil, err
	}
	params := map[string]string{
		"width":       fmt.Sprint(st.Width()),
		"initializer": a.Initializer,
	}
	return fmt.Sprintf("rule%d", a.Rule), params, func() error { return store.Flush() }, nil
}

func buildTape(cfg *sim.RunConfig, sched *sim.TickScheduler, db *persist.Store, namespace string, sink sim.SnapshotSink) (string, map[string]string, func() error, error) {
	d, err := tape.LoadDescriptor(cfg.Tape.Machine)
	if err != nil {
		return "", nil, nil, err
	}
	m, err := tape.Normalize(d)
	if err != nil {
		return "", nil, nil, err
	}
	initial, err := initialTape(m, cfg.Tape)
	if err != nil {
		return "", nil, nil, err
	}

	var storeCfg sim.StoreConfig[[]int]
	if db != nil {
		storeCfg = persist.StoreConfig[[]int](db, namespace, cfg.Store.MaxChunks)
	} else {
		storeCfg = sim.NewMemoryBacking(sim.CloneSlice[int]).StoreConfig(cfg.Store.MaxChunks)
	}
	store, err := sim.NewChunkStore(storeCfg)
	if err != nil {
		return "", nil, nil, err
	}

	_, _, err = tape.New(sched, store, tape.Options{
		Descriptor:   d,
		ChunkSize:    cfg.Tape.ChunkSize,
		WindowRadius: cfg.Tape.WindowRadius,
		FixedWindow:  cfg.Tape.FixedWindow,
		Sink:         sink,
		Initial:      initial,
	})
	if err != nil {
		return "", nil, nil, err
	}
	params := map[string]string{"machine": cfg.Tape.Machine}
	if cfg.Tape.Fixture != "" {
		params["fixture"] = cfg.Tape.Fixture
	}
	return m.ID, params, func() error { return store.Flush() }, nil
}

// initialTape picks the explicit tape, then the named fixture, then an empty tape.
func initialTape(m *tape.Machine, t sim.TapeSection) (tape.InitialTape, error) {
	switch {
	case t.InitialTape != "":
		syms, err := tape.ParseTape(m, t.InitialTape)
		if err != nil {
			return tape.InitialTape{}, err
		}
		return tape.InitialTape{Symbols: syms, Offset: t.Offset, Head: t.Head}, nil
	case t.Fixture != "":
		f, ok := m.FixtureByName(t.Fixture)
		if !ok {
			return tape.InitialTape{}, fmt.Errorf("%w: machine %q has no fixture %q", sim.ErrInvalidConfig, m.ID, t.Fixture)
		}
		return tape.FixtureTape(m, f)
	default:
		return tape.InitialTape{Offset: t.Offset, Head: t.Head}, nil
	}
}

func printSummary(w io.Writer, res *runResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "=== Run Summary ===\n%s\n", data)
	return err
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to a YAML run configuration")
	runCmd.Flags().StringVar(&runModel, "model", sim.ModelAutomaton, "Model to run (automaton, tape)")
	runCmd.Flags().Int64Var(&runTicks, "ticks", 32, "Number of ticks to run")
	runCmd.Flags().StringVar(&runOutputDir, "output-dir", "tc-output", "Directory for snapshots.jsonl and manifest.jsonl")
	runCmd.Flags().StringVar(&runSeed, "seed", "0", "Base seed: a decimal uint32 or any string")
	runCmd.Flags().BoolVar(&runEnabled, "deterministic", true, "Seed every tick from the base seed")
	runCmd.Flags().Uint32Var(&runTickSalt, "tick-salt", 0, "Salt mixed into every tick seed")
	runCmd.Flags().IntVar(&runMaxChunks, "max-chunks", 64, "Maximum resident chunks per store")
	runCmd.Flags().StringVar(&runSQLite, "sqlite", "", "SQLite file for evicted chunks (default: process memory)")
	runCmd.Flags().StringVar(&runMachine, "machine", "", "Tape machine descriptor (implies --model tape)")
	runCmd.Flags().StringVar(&runTape, "tape", "", "Initial tape contents")
	runCmd.Flags().StringVar(&runFixture, "fixture", "", "Named fixture from the machine descriptor")
}
