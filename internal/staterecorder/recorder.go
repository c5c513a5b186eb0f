// Package staterecorder keeps a durable snapshot of every job's state.
package staterecorder

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/joe/multisave/internal/backup"
	"github.com/joe/multisave/internal/config"
)

var logger = loggo.GetLogger("multisave.staterecorder")

// Entry is the persisted state of one job.
type Entry struct {
	Name               string
	SourcePath         string
	TargetPath         string
	Type               string
	State              string
	TotalFiles         int
	TotalSize          int64
	FilesRemaining     int
	SizeRemaining      int64
	Progression        int
	CurrentSourceFile  string `json:",omitempty"`
	CurrentTargetFile  string `json:",omitempty"`
	LastFileDurationMs int64
	RunID              string `json:",omitempty"`
	Seq                uint64 `json:",omitempty"`
	LastAction         string
	UpdatedAt          time.Time
}

// Recorder is a backup.Observer rewriting the state file on every event.
type Recorder struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
}

var _ backup.Observer = (*Recorder)(nil)

// New creates a recorder for path, seeded from an existing file when present.
func New(path string) *Recorder {
	r := &Recorder{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		logger.Warningf("reading state file %s: %v", path, err)
	default:
		var entries []Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			logger.Warningf("ignoring corrupt state file %s: %v", path, err)
			break
		}

		for _, entry := range entries {
			r.entries[entry.Name] = entry
		}
	}

	return r
}

// Update implements backup.Observer.
func (r *Recorder) Update(event backup.Event) {
	if event.Action == backup.ActionRemove {
		r.Forget(event.Job.Name)
		return
	}

	snap := event.Job

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[snap.Name]; ok {
		if stale(prev, snap) {
			return
		}

		// A restart re-creates every job; the last recorded run stays visible.
		if event.Action == backup.ActionCreate && sameJob(prev, snap) {
			return
		}
	}

	r.entries[snap.Name] = Entry{
		Name:               snap.Name,
		SourcePath:         snap.SourcePath,
		TargetPath:         snap.TargetPath,
		Type:               snap.Type,
		State:              snap.State.String(),
		TotalFiles:         snap.TotalFiles,
		TotalSize:          snap.TotalSize,
		FilesRemaining:     snap.FilesRemaining,
		SizeRemaining:      snap.SizeRemaining,
		Progression:        snap.Progress,
		CurrentSourceFile:  snap.CurrentSourceFile,
		CurrentTargetFile:  snap.CurrentTargetFile,
		LastFileDurationMs: snap.LastFileDurationMs,
		RunID:              snap.RunID,
		Seq:                snap.Seq,
		LastAction:         string(event.Action),
		UpdatedAt:          event.Time,
	}
	r.flushLocked()
}

// stale reports whether snap was taken before the recorded entry of the
// same run. A paused worker may deliver its last event after the pause.
func stale(entry Entry, snap backup.Snapshot) bool {
	return entry.RunID != "" && entry.RunID == snap.RunID && snap.Seq < entry.Seq
}

func sameJob(entry Entry, snap backup.Snapshot) bool {
	return entry.SourcePath == snap.SourcePath && entry.TargetPath == snap.TargetPath && entry.Type == snap.Type
}

// Forget drops a removed job from the state file.
func (r *Recorder) Forget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return
	}

	delete(r.entries, name)
	r.flushLocked()
}

// Entries returns the recorded entries sorted by name.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sortedLocked()
}

func (r *Recorder) sortedLocked() []Entry {
	entries := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return entries
}

// flushLocked writes the state file. Failures are logged, never returned:
// the job must not stop because its state could not be saved.
func (r *Recorder) flushLocked() {
	if err := config.WriteFileAtomic(r.path, r.sortedLocked()); err != nil {
		logger.Errorf("%v", errors.Annotate(err, "saving job state"))
	}
}
