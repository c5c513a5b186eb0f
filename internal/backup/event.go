package backup

import (
	"fmt"
	"time"
)

// Action identifies what happened to a job.
type Action string

const (
	ActionCreate        Action = "create"
	ActionStart         Action = "start"
	ActionFinish        Action = "finish"
	ActionError         Action = "error"
	ActionProcessing    Action = "processing"
	ActionDelete        Action = "delete"
	ActionDeleteDir     Action = "delete_dir"
	ActionCleanComplete Action = "clean_complete"
	ActionProgress      Action = "progress"
	ActionPause         Action = "pause"
	ActionResume        Action = "resume"
	ActionEnd           Action = "end"
	// ActionRemove is emitted once when a job leaves the registry.
	ActionRemove Action = "remove"
)

// Snapshot is an immutable copy of a job's fields.
type Snapshot struct {
	Name               string
	SourcePath         string
	TargetPath         string
	Type               string
	State              State
	TotalFiles         int
	TotalSize          int64
	FilesRemaining     int
	SizeRemaining      int64
	Progress           int
	CurrentSourceFile  string
	CurrentTargetFile  string
	LastFileDurationMs int64
	RunID              string

	// Seq increases with every event of the job within one process.
	Seq uint64
}

// FileRecord describes one unit of work: a transfer, a skip or a deletion.
type FileRecord struct {
	SourcePath   string
	TargetPath   string
	RelativePath string
	Size         int64

	// TransferTimeMs is -1 when the copy failed.
	TransferTimeMs int64

	// EncryptionTimeMs is 0 when not encrypted and -1 when encryption failed.
	EncryptionTimeMs int64
}

// Event is delivered to every observer of a job.
type Event struct {
	Action Action
	Job    Snapshot
	File   *FileRecord
	Err    error
	Reason string
	Time   time.Time
}

// String renders the event for debug logging.
func (e Event) String() string {
	s := fmt.Sprintf("%s %s [%s %d%%]", e.Job.Name, e.Action, e.Job.State, e.Job.Progress)

	if e.File != nil {
		s += " " + e.File.RelativePath
	}

	if e.Reason != "" {
		s += " (" + e.Reason + ")"
	}

	if e.Err != nil {
		s += ": " + e.Err.Error()
	}

	return s
}
