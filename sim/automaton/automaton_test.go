package automaton

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tc-sim/tccore/sim"
)

func newHarness(t *testing.T, maxChunks int, opts Options) (*sim.TickScheduler, *Stepper, func(), *sim.Recorder) {
	t.Helper()
	sched := sim.NewTickScheduler("automaton-test", nil)
	backing := sim.NewMemoryBacking(sim.CloneSlice[uint8])
	store, err := sim.NewChunkStore(backing.StoreConfig(maxChunks))
	require.NoError(t, err)
	rec := &sim.Recorder{}
	opts.Sink = rec.Sink()
	st, unsubscribe, err := New(sched, store, opts)
	require.NoError(t, err)
	return sched, st, unsubscribe, rec
}

func TestRule110_Table(t *testing.T) {
	// Canonical Rule 110: neighborhoods 111..000 -> 0 1 1 0 1 1 1 0
	want := map[[3]uint8]uint8{
		{1, 1, 1}: 0, {1, 1, 0}: 1, {1, 0, 1}: 1, {1, 0, 0}: 0,
		{0, 1, 1}: 1, {0, 1, 0}: 1, {0, 0, 1}: 1, {0, 0, 0}: 0,
	}
	for n, out := range want {
		// Put the neighborhood at indices 1..3 of a width-5 ring padded with zeros
		// that cannot influence cell 2.
		prev := []uint8{0, n[0], n[1], n[2], 0}
		if got := NextGeneration(prev, Rule110)[2]; got != out {
			t.Errorf("neighborhood %v: got %d, want %d", n, got, out)
		}
	}
}

func TestStepper_WrapAroundNeighbors(t *testing.T) {
	// GIVEN width 8 with only index 0 active
	sched, st, _, _ := newHarness(t, 8, Options{Width: 8, Initializer: InitSingle, InitializerOptions: InitOptions{Index: 0}})

	// WHEN one generation is committed
	require.NoError(t, sched.Step(0, 1))

	// THEN index W-1 sees index 0 as its right neighbor (001 -> 1),
	// index 0 sees W-1 and 1 (010 -> 1), and index 1 sees 100 -> 0.
	assert.Equal(t, "10000001", BitString(st.GetState()))
}

func TestStepper_GoldenRule110(t *testing.T) {
	sched, _, _, rec := newHarness(t, 16, Options{Width: 16, InitializerOptions: InitOptions{Index: 15}})
	for tick := int64(0); tick < 12; tick++ {
		require.NoError(t, sched.Step(tick, 1))
	}

	var sb strings.Builder
	for _, s := range rec.Snapshots {
		sb.WriteString(s.(Snapshot).BitString())
		sb.WriteByte('\n')
	}
	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "rule110_w16", []byte(sb.String()))
}

func TestStepper_EvictionDoesNotChangeGenerations(t *testing.T) {
	opts := Options{Width: 24, Initializer: InitPattern, InitializerOptions: InitOptions{Pattern: "10110", Repeat: true}}
	schedA, _, _, recA := newHarness(t, 1, opts)
	schedB, _, _, recB := newHarness(t, 64, opts)
	for tick := int64(0); tick < 20; tick++ {
		require.NoError(t, schedA.Step(tick, 1))
		require.NoError(t, schedB.Step(tick, 1))
	}
	assert.Equal(t, recB.Digests(), recA.Digests())
}

func TestStepper_CaptureEmitsPreviousGeneration(t *testing.T) {
	sched, st, _, rec := newHarness(t, 4, Options{Width: 8, EmitPhase: sim.PhaseCapture, InitializerOptions: InitOptions{Index: 0}})
	require.NoError(t, sched.Step(0, 1))

	require.Len(t, rec.Snapshots, 1)
	snap := rec.Snapshots[0].(Snapshot)
	assert.Equal(t, "10000000", snap.BitString(), "capture sees the generation before compute")
	assert.Equal(t, "10000001", BitString(st.GetState()))
	assert.Equal(t, int64(1), st.Generation())
}

func TestStepper_ComputeDoesNotPublish(t *testing.T) {
	sched, st, _, _ := newHarness(t, 4, Options{Width: 8})
	sched.BeginTick(sim.TickContext{Tick: 0})
	require.NoError(t, sched.RunPhase(sim.PhaseCapture))
	require.NoError(t, sched.RunPhase(sim.PhaseCompute))
	assert.Equal(t, "10000000", BitString(st.GetState()), "sibling hooks still read the current generation during compute")
	require.NoError(t, sched.RunPhase(sim.PhaseCommit))
	sched.EndTick()
	assert.Equal(t, "10000001", BitString(st.GetState()))
}

func TestStepper_UnsubscribeKeepsLastState(t *testing.T) {
	sched, st, unsubscribe, rec := newHarness(t, 4, Options{Width: 8})
	require.NoError(t, sched.Step(0, 1))
	unsubscribe()
	require.NoError(t, sched.Step(1, 1))

	assert.Len(t, rec.Snapshots, 1)
	assert.Equal(t, "10000001", BitString(st.GetState()))
	assert.Equal(t, int64(1), st.Generation())
}

func TestNew_RejectsBadOptions(t *testing.T) {
	sched := sim.NewTickScheduler("bad", nil)
	store, err := sim.NewChunkStore(sim.StoreConfig[[]uint8]{MaxChunks: 2})
	require.NoError(t, err)

	tests := []struct {
		name string
		opts Options
	}{
		{"zero width", Options{Width: 0}},
		{"same keys", Options{Width: 4, StateKey: "k", BufferKey: "k"}},
		{"rule out of range", Options{Width: 4, Rule: 300}},
		{"unknown initializer", Options{Width: 4, Initializer: "glider"}},
		{"bad pattern", Options{Width: 4, Initializer: InitPattern, InitializerOptions: InitOptions{Pattern: "10x"}}},
		{"emit on compute", Options{Width: 4, EmitPhase: sim.PhaseCompute}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := New(sched, store, tt.opts)
			assert.ErrorIs(t, err, sim.ErrInvalidConfig)
		})
	}
	assert.Equal(t, 0, sched.HookCount(sim.PhaseCompute))
}

func TestInitializers(t *testing.T) {
	cells, err := Initial(InitPattern, 6, InitOptions{Pattern: "11", Offset: 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, "100001", BitString(cells), "pattern wraps past the last cell")

	cells, err = Initial(InitPattern, 7, InitOptions{Pattern: "110", Repeat: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1101101", BitString(cells))

	cells, err = Initial(InitSingle, 4, InitOptions{Index: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "0001", BitString(cells))

	cells, err = Initial(InitEmpty, 3, InitOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "000", BitString(cells))

	assert.Equal(t, []string{InitEmpty, InitPattern, InitRandom, InitSingle}, Initializers())
}

func TestRandomInitializer_ReproducibleFromSeed(t *testing.T) {
	mk := func() string {
		rng := sim.NewRandomSource()
		rng.Seed(2024)
		cells, err := Initial(InitRandom, 32, InitOptions{Density: 0.3}, rng.Fork("automaton:automaton:state"))
		require.NoError(t, err)
		return BitString(cells)
	}
	assert.Equal(t, mk(), mk())

	_, err := Initial(InitRandom, 4, InitOptions{Density: 1.5}, sim.NewGenerator(1))
	assert.ErrorIs(t, err, sim.ErrInvalidConfig)
}

func TestStepper_RandomInitializerUsesForkedSeed(t *testing.T) {
	build := func() string {
		rng := sim.NewRandomSource()
		rng.Seed(7)
		sched := sim.NewTickScheduler("rand", rng)
		store, err := sim.NewChunkStore(sim.StoreConfig[[]uint8]{MaxChunks: 4})
		require.NoError(t, err)
		st, _, err := New(sched, store, Options{Width: 32, Initializer: InitRandom, RNG: rng})
		require.NoError(t, err)
		return BitString(st.GetState())
	}
	assert.Equal(t, build(), build())
}
