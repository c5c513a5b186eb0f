package backup

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/joe/multisave/internal/config"
)

// ErrKilled is the checkpoint error of a job whose run was cancelled.
const ErrKilled = errors.ConstError("job killed")

// Job is one registered backup: a name, a source, a target and the strategy
// fixed at creation. Counters are guarded by mu; observers only ever see
// Snapshots.
type Job struct {
	name     string
	source   string
	target   string
	jobType  config.JobType
	strategy Strategy
	clock    clock.Clock

	observers observerList

	mu                 sync.Mutex
	state              State
	totalFiles         int
	totalSize          int64
	filesRemaining     int
	sizeRemaining      int64
	currentSource      string
	currentTarget      string
	lastFileDurationMs int64
	runID              string
	runErr             error

	// seq numbers the snapshots handed to observers.
	seq uint64

	// resume is non-nil while paused and closed on resume.
	resume chan struct{}
}

// NewJob creates an Inactive job.
func NewJob(name, source, target string, jobType config.JobType, strategy Strategy, clk clock.Clock) *Job {
	if clk == nil {
		clk = clock.WallClock
	}

	return &Job{
		name:     name,
		source:   source,
		target:   target,
		jobType:  jobType,
		strategy: strategy,
		clock:    clk,
		state:    Inactive,
	}
}

// Name returns the unique job name.
func (j *Job) Name() string { return j.name }

// SourcePath returns the source location.
func (j *Job) SourcePath() string { return j.source }

// TargetPath returns the target location.
func (j *Job) TargetPath() string { return j.target }

// Type returns the strategy type.
func (j *Job) Type() config.JobType { return j.jobType }

// Attach subscribes obs and returns a function that detaches it.
func (j *Job) Attach(obs Observer) func() {
	id := j.observers.attach(obs)

	return func() {
		j.observers.detach(id)
	}
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.state
}

// IsPaused reports whether the job is paused.
func (j *Job) IsPaused() bool {
	return j.State() == Paused
}

// Snapshot copies the job's fields.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() Snapshot {
	return Snapshot{
		Name:               j.name,
		SourcePath:         j.source,
		TargetPath:         j.target,
		Type:               j.jobType.String(),
		State:              j.state,
		TotalFiles:         j.totalFiles,
		TotalSize:          j.totalSize,
		FilesRemaining:     j.filesRemaining,
		SizeRemaining:      j.sizeRemaining,
		Progress:           progressPercent(j.totalFiles, j.filesRemaining),
		CurrentSourceFile:  j.currentSource,
		CurrentTargetFile:  j.currentTarget,
		LastFileDurationMs: j.lastFileDurationMs,
		RunID:              j.runID,
		Seq:                j.seq,
	}
}

// eventSnapshotLocked advances the sequence and snapshots the job for an
// event. Observers can be reached from several goroutines, so they order
// a job's events by Seq rather than by arrival.
func (j *Job) eventSnapshotLocked() Snapshot {
	j.seq++

	return j.snapshotLocked()
}

// Execute runs the strategy once. It returns true when the run completed
// successfully. Cancelling ctx kills the run at the next checkpoint and
// leaves the job Inactive.
func (j *Job) Execute(ctx context.Context) bool {
	j.begin()

	ok := j.strategy.Execute(ctx, j)

	switch {
	case ctx.Err() != nil:
		j.transition(Inactive, ActionEnd, nil, "killed")
		return false
	case ok:
		j.transition(Completed, ActionFinish, nil, "")
	default:
		j.transition(Error, ActionError, j.takeRunError(), "")
	}

	j.emit(ActionEnd, nil, nil, "")

	return ok
}

// Fail moves the job to Error outside the strategy, e.g. after a recovered
// panic, and ends the run.
func (j *Job) Fail(err error) {
	j.transition(Error, ActionError, err, "")
	j.emit(ActionEnd, nil, nil, "")
}

// Pause requests a cooperative pause. The worker blocks at its next
// checkpoint. Returns false when the job is not Active.
func (j *Job) Pause(reason string) bool {
	j.mu.Lock()

	if j.state != Active {
		j.mu.Unlock()
		return false
	}

	j.state = Paused
	j.resume = make(chan struct{})
	snap := j.eventSnapshotLocked()
	j.mu.Unlock()

	j.publish(Event{Action: ActionPause, Job: snap, Reason: reason})

	return true
}

// Resume releases a paused job. Returns false when the job is not Paused.
func (j *Job) Resume() bool {
	j.mu.Lock()

	if j.state != Paused {
		j.mu.Unlock()
		return false
	}

	j.state = Active
	close(j.resume)
	j.resume = nil
	snap := j.eventSnapshotLocked()
	j.mu.Unlock()

	j.publish(Event{Action: ActionResume, Job: snap})

	return true
}

// Checkpoint is called by strategies between files. It blocks while the
// job is paused and returns ErrKilled once ctx is cancelled.
func (j *Job) Checkpoint(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return errors.Trace(ErrKilled)
		}

		j.mu.Lock()
		resume := j.resume
		j.mu.Unlock()

		if resume == nil {
			return nil
		}

		select {
		case <-resume:
		case <-ctx.Done():
			return errors.Trace(ErrKilled)
		}
	}
}

func (j *Job) begin() {
	j.mu.Lock()
	j.state = Active
	j.resume = nil
	j.totalFiles = 0
	j.totalSize = 0
	j.filesRemaining = 0
	j.sizeRemaining = 0
	j.currentSource = ""
	j.currentTarget = ""
	j.lastFileDurationMs = 0
	j.runID = uuid.NewString()
	j.runErr = nil
	snap := j.eventSnapshotLocked()
	j.mu.Unlock()

	j.publish(Event{Action: ActionStart, Job: snap})
}

// setRunError records why the run cannot proceed.
func (j *Job) setRunError(err error) {
	logger.Errorf("%s: %v", j.name, err)

	j.mu.Lock()
	defer j.mu.Unlock()

	j.runErr = err
}

func (j *Job) takeRunError() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.runErr
	j.runErr = nil

	return err
}

// setTotals records the size of the work for this run.
func (j *Job) setTotals(files int, size int64) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.totalFiles = files
	j.totalSize = size
	j.filesRemaining = files
	j.sizeRemaining = size
}

// setCurrent records the file being worked on.
func (j *Job) setCurrent(source, target string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.currentSource = source
	j.currentTarget = target
}

// fileDone consumes one file of the progress budget and emits action.
func (j *Job) fileDone(action Action, record *FileRecord, err error) {
	j.mu.Lock()

	if j.filesRemaining > 0 {
		j.filesRemaining--
	}

	j.sizeRemaining = max(j.sizeRemaining-record.Size, 0)

	if action == ActionProcessing {
		j.lastFileDurationMs = record.TransferTimeMs
	}

	snap := j.eventSnapshotLocked()
	j.mu.Unlock()

	j.publish(Event{Action: action, Job: snap, File: record, Err: err})
}

// emit publishes an event carrying the current snapshot.
func (j *Job) emit(action Action, record *FileRecord, err error, reason string) {
	j.mu.Lock()
	snap := j.eventSnapshotLocked()
	j.mu.Unlock()

	j.publish(Event{Action: action, Job: snap, File: record, Err: err, Reason: reason})
}

func (j *Job) transition(state State, action Action, err error, reason string) {
	j.mu.Lock()

	// A pause request racing with the end of the run is dropped.
	if j.resume != nil {
		close(j.resume)
		j.resume = nil
	}

	j.state = state
	j.currentSource = ""
	j.currentTarget = ""
	snap := j.eventSnapshotLocked()
	j.mu.Unlock()

	j.publish(Event{Action: action, Job: snap, Err: err, Reason: reason})
}

func (j *Job) publish(event Event) {
	event.Time = j.clock.Now()
	logger.Tracef("%s", event)
	j.observers.notify(event)
}

func progressPercent(total, remaining int) int {
	if total <= 0 {
		return 0
	}

	return 100 * (total - remaining) / total //nolint:mnd // percent
}
