package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tc-sim/tccore/sim"
)

// Stream file names inside the emitter directory.
const (
	SnapshotFile = "snapshots.jsonl"
	ManifestFile = "manifest.jsonl"
)

// Emitter appends snapshot and manifest lines to two files in one directory.
// The directory is created before the first write; files are opened in append
// mode and never truncated or rotated.
type Emitter struct {
	dir   string
	runID string
	now   func() time.Time

	snapshots *os.File
	manifest  *os.File
	trace     *RunTrace
}

// NewEmitter creates an emitter for dir. Nothing is touched on disk until the first write.
func NewEmitter(dir string) *Emitter {
	return &Emitter{
		dir:   dir,
		runID: uuid.Must(uuid.NewV7()).String(),
		now:   time.Now,
		trace: NewRunTrace(""),
	}
}

// RunID returns the UUIDv7 identifying this run in both streams.
func (e *Emitter) RunID() string {
	return e.runID
}

// Trace returns the in-memory digest trace of everything emitted so far.
func (e *Emitter) Trace() *RunTrace {
	return e.trace
}

func (e *Emitter) open() error {
	if e.snapshots != nil {
		return nil
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("creating emitter directory: %w", err)
	}
	snaps, err := os.OpenFile(filepath.Join(e.dir, SnapshotFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening snapshot stream: %w", err)
	}
	manifest, err := os.OpenFile(filepath.Join(e.dir, ManifestFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		snaps.Close()
		return fmt.Errorf("opening manifest stream: %w", err)
	}
	e.snapshots, e.manifest = snaps, manifest
	return nil
}

func writeLine(f *os.File, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = f.Write(data)
	return err
}

// Start writes the run_started manifest line.
func (e *Emitter) Start(info RunInfo) error {
	if err := e.open(); err != nil {
		return err
	}
	e.trace.Label = info.Label
	return writeLine(e.manifest, ManifestRecord{RunID: e.runID, Event: EventRunStarted, Time: e.now().UTC(), Run: &info})
}

// Emit appends one snapshot line.
func (e *Emitter) Emit(s sim.Snapshot) error {
	if err := e.open(); err != nil {
		return err
	}
	e.trace.Record(s)
	rec := SnapshotRecord{RunID: e.runID, Tick: s.TickNumber(), Kind: s.Kind(), Digest: s.Digest(), Snapshot: s}
	if err := writeLine(e.snapshots, rec); err != nil {
		return fmt.Errorf("writing snapshot line: %w", err)
	}
	return nil
}

// Sink adapts Emit to a sim.SnapshotSink. Write failures are logged.
func (e *Emitter) Sink() sim.SnapshotSink {
	return func(s sim.Snapshot) {
		if err := e.Emit(s); err != nil {
			logrus.WithField("run_id", e.runID).Errorf("emitter: %v", err)
		}
	}
}

// Finish writes the run_finished manifest line with a summary of the trace.
func (e *Emitter) Finish() (*TraceSummary, error) {
	if err := e.open(); err != nil {
		return nil, err
	}
	summary := Summarize(e.trace)
	err := writeLine(e.manifest, ManifestRecord{RunID: e.runID, Event: EventRunFinished, Time: e.now().UTC(), Summary: summary})
	return summary, err
}

// Close closes both streams.
func (e *Emitter) Close() error {
	if e.snapshots == nil {
		return nil
	}
	err1 := e.snapshots.Close()
	err2 := e.manifest.Close()
	e.snapshots, e.manifest = nil, nil
	if err1 != nil {
		return err1
	}
	return err2
}
