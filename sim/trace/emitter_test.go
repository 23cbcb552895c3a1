package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshot struct {
	Tick  int64  `json:"tick"`
	Value string `json:"value"`
}

func (f fakeSnapshot) Kind() string      { return "fake" }
func (f fakeSnapshot) TickNumber() int64 { return f.Tick }
func (f fakeSnapshot) Digest() string    { return "d-" + f.Value }

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestEmitter_CreatesDirectoryLazily(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	e := NewEmitter(dir)
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "nothing is created before the first write")

	require.NoError(t, e.Emit(fakeSnapshot{Tick: 0, Value: "a"}))
	require.NoError(t, e.Close())

	_, err = os.Stat(filepath.Join(dir, SnapshotFile))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, ManifestFile))
	assert.NoError(t, err)
}

func TestEmitter_WritesManifestAndSnapshots(t *testing.T) {
	dir := t.TempDir()
	e := NewEmitter(dir)
	e.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	_, err := uuid.Parse(e.RunID())
	require.NoError(t, err)

	require.NoError(t, e.Start(RunInfo{Model: "fake", Label: "unit", Ticks: 2}))
	sink := e.Sink()
	sink(fakeSnapshot{Tick: 0, Value: "a"})
	sink(fakeSnapshot{Tick: 1, Value: "b"})
	summary, err := e.Finish()
	require.NoError(t, err)
	require.NoError(t, e.Close())

	assert.Equal(t, 2, summary.Snapshots)
	assert.Equal(t, "d-b", summary.FinalDigest)
	assert.Equal(t, "unit", e.Trace().Label)

	snaps := readLines(t, filepath.Join(dir, SnapshotFile))
	require.Len(t, snaps, 2)
	assert.Equal(t, e.RunID(), snaps[0]["run_id"])
	assert.Equal(t, "d-a", snaps[0]["digest"])
	assert.Equal(t, "fake", snaps[1]["kind"])
	assert.Equal(t, map[string]any{"tick": float64(1), "value": "b"}, snaps[1]["snapshot"])

	manifest := readLines(t, filepath.Join(dir, ManifestFile))
	require.Len(t, manifest, 2)
	assert.Equal(t, EventRunStarted, manifest[0]["event"])
	assert.Equal(t, "2026-01-02T03:04:05Z", manifest[0]["time"])
	assert.Equal(t, EventRunFinished, manifest[1]["event"])
	assert.NotNil(t, manifest[1]["summary"])
}

func TestEmitter_AppendsAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	ids := make(map[string]bool)
	for i := 0; i < 2; i++ {
		e := NewEmitter(dir)
		ids[e.RunID()] = true
		require.NoError(t, e.Start(RunInfo{Model: "fake"}))
		require.NoError(t, e.Emit(fakeSnapshot{Tick: int64(i), Value: "x"}))
		_, err := e.Finish()
		require.NoError(t, err)
		require.NoError(t, e.Close())
	}
	assert.Len(t, ids, 2, "every emitter gets its own run id")
	assert.Len(t, readLines(t, filepath.Join(dir, SnapshotFile)), 2)
	assert.Len(t, readLines(t, filepath.Join(dir, ManifestFile)), 4)
}

func TestEmitter_CloseWithoutWritesIsNoop(t *testing.T) {
	assert.NoError(t, NewEmitter(filepath.Join(t.TempDir(), "never")).Close())
}
