package cmd

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tc-sim/tccore/sim"
	"github.com/tc-sim/tccore/sim/regression"
	"github.com/tc-sim/tccore/sim/trace"
)

const (
	binaryIncrement = "../sim/tape/testdata/binary_increment.yaml"
	rule110Fixture  = "../sim/regression/testdata/rule110_w16.yaml"
)

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestRunSimulation_AutomatonMatchesRegressionFixture(t *testing.T) {
	// GIVEN the run configuration equivalent to the rule110_w16 fixture
	fx, err := regression.LoadFixture(rule110Fixture)
	require.NoError(t, err)
	cfg := sim.DefaultRunConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Ticks = fx.Steps
	cfg.Automaton.Width = 16
	cfg.Automaton.Index = 15

	// WHEN the run completes
	res, err := runSimulation(&cfg)
	require.NoError(t, err)

	// THEN the final emitted snapshot hashes to the fixture's last hash
	assert.Equal(t, int(fx.Steps), res.Summary.Snapshots)
	assert.Equal(t, fx.Hashes[len(fx.Hashes)-1], res.Summary.FinalDigest)
	assert.Equal(t, int(fx.Steps), countLines(t, filepath.Join(cfg.OutputDir, trace.SnapshotFile)))
	assert.Equal(t, 2, countLines(t, filepath.Join(cfg.OutputDir, trace.ManifestFile)))
}

func TestRunSimulation_RepeatedRunsAppendWithDistinctIDs(t *testing.T) {
	dir := t.TempDir()
	cfg := sim.DefaultRunConfig()
	cfg.OutputDir = dir
	cfg.Ticks = 3

	first, err := runSimulation(&cfg)
	require.NoError(t, err)
	second, err := runSimulation(&cfg)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Summary.ChainDigest, second.Summary.ChainDigest)
	assert.Equal(t, 6, countLines(t, filepath.Join(dir, trace.SnapshotFile)))
	assert.Equal(t, 4, countLines(t, filepath.Join(dir, trace.ManifestFile)))
}

func TestRunSimulation_TapeSQLiteMatchesMemory(t *testing.T) {
	base := sim.DefaultRunConfig()
	base.Model = sim.ModelTape
	base.Ticks = 10
	base.Store.MaxChunks = 1
	base.Tape.Machine = binaryIncrement
	base.Tape.Fixture = "seven"
	base.Tape.ChunkSize = 2

	mem := base
	mem.OutputDir = t.TempDir()
	memRes, err := runSimulation(&mem)
	require.NoError(t, err)

	disk := base
	disk.OutputDir = t.TempDir()
	disk.Store.SQLite = filepath.Join(t.TempDir(), "chunks.db")
	diskRes, err := runSimulation(&disk)
	require.NoError(t, err)

	assert.Equal(t, memRes.Summary.ChainDigest, diskRes.Summary.ChainDigest)
	assert.Equal(t, map[string]int{"tape": 10}, diskRes.Summary.Kinds)
}

func TestRunSimulation_RejectsBadConfig(t *testing.T) {
	cfg := sim.DefaultRunConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Store.MaxChunks = 0
	_, err := runSimulation(&cfg)
	assert.ErrorIs(t, err, sim.ErrInvalidConfig)

	cfg = sim.DefaultRunConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Model = sim.ModelTape
	cfg.Tape.Machine = binaryIncrement
	cfg.Tape.Fixture = "nine"
	_, err = runSimulation(&cfg)
	assert.ErrorIs(t, err, sim.ErrInvalidConfig)
}

func TestVerifyFixtures_CheckAndUpdate(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, verifyFixtures(&out, []string{rule110Fixture}, regression.ReplayOptions{Enabled: true}, false))
	assert.Contains(t, out.String(), "ok rule110-w16-single-right (12 steps)")

	// A fixture with tampered hashes fails until it is re-recorded.
	fx, err := regression.LoadFixture(rule110Fixture)
	require.NoError(t, err)
	fx.Hashes[3] = "deadbeef"
	path := filepath.Join(t.TempDir(), "tampered.yaml")
	require.NoError(t, fx.Save(path))

	out.Reset()
	err = verifyFixtures(&out, []string{path}, regression.ReplayOptions{}, false)
	assert.ErrorIs(t, err, regression.ErrHashMismatch)
	assert.Contains(t, out.String(), "step 3")

	out.Reset()
	require.NoError(t, verifyFixtures(&out, []string{path}, regression.ReplayOptions{}, true))
	assert.Contains(t, out.String(), "recorded")
	require.NoError(t, verifyFixtures(&out, []string{path}, regression.ReplayOptions{}, false))
}

func TestDescribeCommand_PrintsNormalizedDescriptor(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"describe", binaryIncrement})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "# binary-increment: 3 symbols, 2 states, 6 transitions, 0 wildcards")
	assert.Contains(t, out.String(), "initialState: right")
}
