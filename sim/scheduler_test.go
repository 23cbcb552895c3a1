package sim

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_PhasesRunInOrderAcrossHooks(t *testing.T) {
	s := NewTickScheduler("order", nil)
	var calls []string
	for _, name := range []string{"a", "b"} {
		name := name
		s.RegisterHooks(name, HookSet{
			Capture: func(TickContext) error { calls = append(calls, "capture:"+name); return nil },
			Compute: func(TickContext) error { calls = append(calls, "compute:"+name); return nil },
			Commit:  func(TickContext) error { calls = append(calls, "commit:"+name); return nil },
		})
	}

	require.NoError(t, s.Step(0, 1))

	assert.Equal(t, []string{
		"capture:a", "capture:b",
		"compute:a", "compute:b",
		"commit:a", "commit:b",
	}, calls)
}

func TestScheduler_OutOfOrderPhasesAreHardErrors(t *testing.T) {
	tests := []struct {
		name     string
		sequence []Phase
	}{
		{"compute first", []Phase{PhaseCompute}},
		{"commit first", []Phase{PhaseCommit}},
		{"skip compute", []Phase{PhaseCapture, PhaseCommit}},
		{"repeat capture", []Phase{PhaseCapture, PhaseCapture}},
		{"backwards", []Phase{PhaseCapture, PhaseCompute, PhaseCapture}},
		{"commit twice", []Phase{PhaseCapture, PhaseCompute, PhaseCommit, PhaseCommit}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewTickScheduler("strict", nil)
			s.BeginTick(TickContext{Tick: 1})
			var err error
			for _, p := range tt.sequence {
				if err = s.RunPhase(p); err != nil {
					break
				}
			}
			assert.ErrorIs(t, err, ErrPhaseOrder)
		})
	}
}

func TestScheduler_FreshBeginThenCaptureNeverErrors(t *testing.T) {
	s := NewTickScheduler("fresh", nil)
	for tick := int64(0); tick < 3; tick++ {
		s.BeginTick(TickContext{Tick: tick})
		assert.NoError(t, s.RunPhase(PhaseCapture))
		// Leave the tick half-done; the next BeginTick heals it.
	}
}

func TestScheduler_DuplicateBeginTickWarnsAndForceCloses(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	rng := NewRandomSource()
	s := NewTickScheduler("heal", rng)
	s.Configure(SchedulerConfig{Enabled: true, BaseSeed: 1})

	s.BeginTick(TickContext{Tick: 1})
	s.BeginTick(TickContext{Tick: 2})

	assert.Equal(t, 1, rng.Depth(), "the first tick's seed must be popped")
	ctx, open := s.Context()
	assert.True(t, open)
	assert.Equal(t, int64(2), ctx.Tick)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned, "expected a warning for the force-closed tick")
}

func TestScheduler_CaptureWithoutBeginAutoStarts(t *testing.T) {
	s := NewTickScheduler("auto", nil)
	require.NoError(t, s.Step(4, 1))

	require.NoError(t, s.RunPhase(PhaseCapture))
	ctx, open := s.Context()
	require.True(t, open)
	assert.Equal(t, int64(5), ctx.Tick)
	assert.Equal(t, PhaseCapture, ctx.Phase)

	s.EndTick()
	assert.ErrorIs(t, s.RunPhase(PhaseCompute), ErrPhaseOrder)
}

func TestScheduler_SeedsTickWhenEnabled(t *testing.T) {
	rng := NewRandomSource()
	s := NewTickScheduler("seeded", rng)
	s.Configure(SchedulerConfig{Enabled: true, BaseSeed: 42, TickSalt: 7})

	var seen []uint32
	var draws []float64
	s.Register(PhaseCompute, "draw", func(ctx TickContext) error {
		seen = append(seen, ctx.Seed)
		draws = append(draws, rng.Float64())
		return nil
	})

	require.NoError(t, s.Step(3, 1))
	assert.Equal(t, []uint32{TickSeed(42, 7, 3)}, seen)
	assert.Equal(t, NewGenerator(TickSeed(42, 7, 3)).Float64(), draws[0])
	assert.Equal(t, 0, rng.Depth(), "EndTick pops the tick seed")

	// A context seed overrides the base seed.
	s.BeginTick(TickContext{Tick: 3, Seed: 9, Seeded: true})
	ctx, _ := s.Context()
	assert.Equal(t, TickSeed(9, 7, 3), ctx.Seed)
	s.EndTick()
}

func TestScheduler_DisabledLeavesRandomSourceAlone(t *testing.T) {
	rng := NewRandomSource()
	rng.Seed(11)
	s := NewTickScheduler("off", rng)
	s.Configure(SchedulerConfig{Enabled: false, BaseSeed: 42})

	ref := NewGenerator(11)
	var got float64
	s.Register(PhaseCompute, "draw", func(ctx TickContext) error {
		assert.False(t, ctx.Seeded)
		got = rng.Float64()
		return nil
	})
	require.NoError(t, s.Step(0, 1))
	assert.Equal(t, ref.Float64(), got)
}

func TestScheduler_FailingHookDoesNotAbortSiblings(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	s := NewTickScheduler("faults", nil)
	var ran []string
	s.Register(PhaseCompute, "errors", func(TickContext) error { return errors.New("boom") })
	s.Register(PhaseCompute, "panics", func(TickContext) error { panic("kaboom") })
	s.Register(PhaseCompute, "ok", func(TickContext) error { ran = append(ran, "ok"); return nil })
	s.Register(PhaseCommit, "commit", func(TickContext) error { ran = append(ran, "commit"); return nil })

	require.NoError(t, s.Step(0, 1))
	assert.Equal(t, []string{"ok", "commit"}, ran)

	var failed []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			failed = append(failed, e.Data["hook"].(string))
			assert.Equal(t, "compute", e.Data["phase"])
		}
	}
	assert.Equal(t, []string{"errors", "panics"}, failed)
}

func TestScheduler_UnregisterAndDispose(t *testing.T) {
	s := NewTickScheduler("reg", nil)
	count := 0
	inc := func(TickContext) error { count++; return nil }

	unregister, err := s.Register(PhaseCapture, "single", inc)
	require.NoError(t, err)
	dispose := s.RegisterHooks("bulk", HookSet{Capture: inc, Commit: inc})
	assert.Equal(t, 2, s.HookCount(PhaseCapture))

	require.NoError(t, s.Step(0, 1))
	assert.Equal(t, 3, count)

	unregister()
	unregister()
	dispose()
	require.NoError(t, s.Step(1, 1))
	assert.Equal(t, 3, count)
	assert.Equal(t, 0, s.HookCount(PhaseCapture))
	assert.Equal(t, 0, s.HookCount(PhaseCommit))

	_, err = s.Register(PhaseNone, "bad", inc)
	assert.ErrorIs(t, err, ErrUnknownPhase)
}

func TestScheduler_HookMayUnregisterItselfMidPhase(t *testing.T) {
	s := NewTickScheduler("self", nil)
	var calls int
	var unregister func()
	unregister, _ = s.Register(PhaseCapture, "once", func(TickContext) error {
		calls++
		unregister()
		return nil
	})
	s.Register(PhaseCapture, "after", func(TickContext) error { calls += 10; return nil })

	require.NoError(t, s.Step(0, 1))
	require.NoError(t, s.Step(1, 1))
	assert.Equal(t, 21, calls)
}

func TestScheduler_ContextOverridesAndReset(t *testing.T) {
	rng := NewRandomSource()
	s := NewTickScheduler("ctx", rng)
	s.Configure(SchedulerConfig{Enabled: true})

	var got TickContext
	s.Register(PhaseCommit, "inspect", func(ctx TickContext) error { got = ctx; return nil })

	s.BeginTick(TickContext{Tick: 8, DT: 0.5, Mode: "headless"})
	require.NoError(t, s.RunPhase(PhaseCapture))
	require.NoError(t, s.RunPhase(PhaseCompute, WithDT(0.25)))
	require.NoError(t, s.RunPhase(PhaseCommit, WithMode("replay")))

	assert.Equal(t, int64(8), got.Tick)
	assert.Equal(t, 0.25, got.DT)
	assert.Equal(t, "replay", got.Mode)
	assert.Equal(t, "ctx", got.Scheduler)
	assert.Equal(t, PhaseCommit, got.Phase)

	// Reset closes the open tick and clears the seed stack.
	s.Reset()
	_, open := s.Context()
	assert.False(t, open)
	assert.Equal(t, 0, rng.Depth())
}

func TestScheduler_IndependentInstances(t *testing.T) {
	a := NewTickScheduler("a", nil)
	b := NewTickScheduler("b", nil)
	a.Register(PhaseCapture, "only-a", func(TickContext) error { return nil })
	assert.Equal(t, 1, a.HookCount(PhaseCapture))
	assert.Equal(t, 0, b.HookCount(PhaseCapture))
}

func TestParsePhase(t *testing.T) {
	for _, p := range Phases {
		got, err := ParsePhase(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePhase("render")
	assert.ErrorIs(t, err, ErrUnknownPhase)
}
