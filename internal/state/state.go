// Package state persists which source files have been ingested, keyed by
// content fingerprint, so an interrupted job can resume.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// FileName is the default state file name inside the cache directory.
const FileName = "ingest_state.msgpack"

// DefaultFlushEvery is the number of recorded files between periodic flushes.
const DefaultFlushEvery = 10

// Entry is the metadata kept for one ingested file.
type Entry struct {
	Path         string    `msgpack:"path"`
	InstrumentID string    `msgpack:"instrument_id"`
	IngestedAt   time.Time `msgpack:"ingested_at"`
	RecordCount  int       `msgpack:"record_count"`
}

// State is the persisted document.
type State struct {
	Files          map[string]Entry `msgpack:"files"`
	TotalFiles     int              `msgpack:"total_files"`
	ProcessedCount int              `msgpack:"processed_count"`
	StartTime      time.Time        `msgpack:"start_time"`
	EndTime        time.Time        `msgpack:"end_time,omitempty"`
}

func empty() State { return State{Files: make(map[string]Entry)} }

// Tracker owns a State for the lifetime of one process. All methods are
// safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	path       string
	st         State
	flushEvery int
	pending    int
	logger     *slog.Logger
}

// Load reads the state at path. A missing or unreadable file yields an empty
// state; it never fails the job.
func Load(path string, flushEvery int, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	t := &Tracker{path: path, st: empty(), flushEvery: flushEvery, logger: logger}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return t
	case err != nil:
		logger.Warn("state unreadable, starting empty", "path", path, "error", err)
		return t
	}
	var st State
	if err := msgpack.Unmarshal(data, &st); err != nil {
		logger.Warn("state corrupt, starting empty", "path", path, "error", err)
		return t
	}
	if st.Files == nil {
		st.Files = make(map[string]Entry)
	}
	t.st = st
	logger.Info("state loaded", "path", path, "files", len(st.Files))
	return t
}

// Path returns the backing file.
func (t *Tracker) Path() string { return t.path }

// Has reports whether fingerprint is already ingested.
func (t *Tracker) Has(fingerprint string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.st.Files[fingerprint]
	return ok
}

// Len is the number of ingested fingerprints.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.st.Files)
}

// BeginRun stamps the totals of a new run. The start time of an unfinished
// previous run is kept so elapsed time spans restarts.
func (t *Tracker) BeginRun(total int, start time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.st.TotalFiles = total
	if t.st.StartTime.IsZero() || !t.st.EndTime.IsZero() {
		t.st.StartTime = start
	}
	t.st.EndTime = time.Time{}
}

// StartTime returns the start of the current (possibly resumed) run.
func (t *Tracker) StartTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.StartTime
}

// Record adds or overwrites the entry for fingerprint and flushes every
// flushEvery calls.
func (t *Tracker) Record(fingerprint string, e Entry) {
	t.mu.Lock()
	t.st.Files[fingerprint] = e
	t.st.ProcessedCount = len(t.st.Files)
	t.pending++
	due := t.pending >= t.flushEvery
	if due {
		t.pending = 0
	}
	t.mu.Unlock()

	if due {
		if err := t.Flush(); err != nil {
			t.logger.Warn("state flush failed, continuing in memory", "path", t.path, "error", err)
		}
	}
}

// Finish stamps the end time and flushes.
func (t *Tracker) Finish(end time.Time) error {
	t.mu.Lock()
	t.st.EndTime = end
	t.mu.Unlock()
	return t.Flush()
}

// Reset drops every entry and removes the state file.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	t.st = empty()
	t.pending = 0
	t.mu.Unlock()
	if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state %s: %w", t.path, err)
	}
	return nil
}

// Snapshot returns a deep copy of the state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.st
	st.Files = maps.Clone(t.st.Files)
	return st
}

// Flush writes the state atomically: temp file, fsync, rename.
func (t *Tracker) Flush() error {
	st := t.Snapshot()
	data, err := msgpack.Marshal(&st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return writeAtomic(t.path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
